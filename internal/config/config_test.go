package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("server.port = %d, want 3001", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("server.host = %s, want localhost", cfg.Server.Host)
	}
	if cfg.Server.MaxClients != 10 {
		t.Errorf("server.max_clients = %d, want 10", cfg.Server.MaxClients)
	}
	if cfg.Auth.Enabled {
		t.Error("auth.enabled should default to false")
	}
	if cfg.Terminal.MaxBufferSize != 1000 {
		t.Errorf("terminal.max_buffer_size = %d, want 1000", cfg.Terminal.MaxBufferSize)
	}
	if cfg.Editor.MaxHistorySize != 100 {
		t.Errorf("editor.max_history_size = %d, want 100", cfg.Editor.MaxHistorySize)
	}
	if cfg.Extension.MaxHistorySize != 20 {
		t.Errorf("extension.max_history_size = %d, want 20", cfg.Extension.MaxHistorySize)
	}
	if cfg.Session.InactivityTimeoutMs != 86400000 {
		t.Errorf("session.inactivity_timeout_ms = %d, want 86400000", cfg.Session.InactivityTimeoutMs)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MCP_SERVER_PORT", "4500")
	t.Setenv("MCP_SERVER_MAX_CLIENTS", "25")
	t.Setenv("MCP_AUTH_ENABLED", "true")
	t.Setenv("MCP_TERMINAL_MAX_BUFFER_SIZE", "500")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 4500 {
		t.Errorf("server.port = %d, want 4500 from MCP_SERVER_PORT", cfg.Server.Port)
	}
	if cfg.Server.MaxClients != 25 {
		t.Errorf("server.max_clients = %d, want 25", cfg.Server.MaxClients)
	}
	if !cfg.Auth.Enabled {
		t.Error("auth.enabled should be true from MCP_AUTH_ENABLED")
	}
	if cfg.Terminal.MaxBufferSize != 500 {
		t.Errorf("terminal.max_buffer_size = %d, want 500", cfg.Terminal.MaxBufferSize)
	}
}

func TestLoadShortEnvAliases(t *testing.T) {
	t.Setenv("MCP_PORT", "4001")
	t.Setenv("MCP_HOST", "0.0.0.0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 4001 {
		t.Errorf("server.port = %d, want 4001 from MCP_PORT", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("server.host = %s, want 0.0.0.0 from MCP_HOST", cfg.Server.Host)
	}
}

func TestLoadLongEnvNamesWinOverAliases(t *testing.T) {
	t.Setenv("MCP_SERVER_PORT", "4500")
	t.Setenv("MCP_PORT", "4001")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 4500 {
		t.Errorf("server.port = %d, want MCP_SERVER_PORT to take precedence", cfg.Server.Port)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("server:\n  port: 9000\n  host: 0.0.0.0\neditor:\n  max_history_size: 50\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("server.port = %d, want 9000 from file", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("server.host = %s, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Editor.MaxHistorySize != 50 {
		t.Errorf("editor.max_history_size = %d, want 50", cfg.Editor.MaxHistorySize)
	}
	// Untouched keys keep defaults.
	if cfg.Server.MaxClients != 10 {
		t.Errorf("server.max_clients = %d, want default 10", cfg.Server.MaxClients)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MCP_SERVER_PORT", "99999")
	if _, err := Load(""); err == nil {
		t.Error("Load() should reject out-of-range port")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() should fail for a missing config file")
	}
}
