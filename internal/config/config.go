// Package config loads server configuration from an optional config file
// and MCP_* environment variables, with defaults for every key.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig controls the listener and connection admission.
type ServerConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	MaxClients        int    `mapstructure:"max_clients"`
	ShutdownTimeoutMs int    `mapstructure:"shutdown_timeout_ms"`
	LogDir            string `mapstructure:"log_dir"`
}

// AuthConfig controls token authentication. DBPath is the data
// directory holding the sqlite token database.
type AuthConfig struct {
	Enabled                    bool   `mapstructure:"enabled"`
	TokenExpirationSeconds     int    `mapstructure:"token_expiration_seconds"`
	RefreshTokenExpirationSecs int    `mapstructure:"refresh_token_expiration_seconds"`
	DBPath                     string `mapstructure:"db_path"`
	RateLimitPerSecond         int    `mapstructure:"rate_limit_per_second"`
	RateLimitBurst             int    `mapstructure:"rate_limit_burst"`
}

// SessionConfig controls session lifecycle sweeps.
type SessionConfig struct {
	InactivityTimeoutMs int `mapstructure:"inactivity_timeout_ms"`
	CleanupIntervalMs   int `mapstructure:"cleanup_interval_ms"`
}

// TerminalConfig controls shared terminal buffers.
type TerminalConfig struct {
	MaxBufferSize       int `mapstructure:"max_buffer_size"`
	InactivityTimeoutMs int `mapstructure:"inactivity_timeout_ms"`
}

// EditorConfig controls shared editor history.
type EditorConfig struct {
	MaxHistorySize      int `mapstructure:"max_history_size"`
	InactivityTimeoutMs int `mapstructure:"inactivity_timeout_ms"`
}

// ExtensionConfig controls extension state history.
type ExtensionConfig struct {
	MaxHistorySize      int `mapstructure:"max_history_size"`
	InactivityTimeoutMs int `mapstructure:"inactivity_timeout_ms"`
}

// AdminConfig controls the HTTP admin surface.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Token   string `mapstructure:"token"`
}

// Config is the root configuration tree.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Session   SessionConfig   `mapstructure:"session"`
	Terminal  TerminalConfig  `mapstructure:"terminal"`
	Editor    EditorConfig    `mapstructure:"editor"`
	Extension ExtensionConfig `mapstructure:"extension"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.max_clients", 10)
	v.SetDefault("server.shutdown_timeout_ms", 5000)
	v.SetDefault("server.log_dir", "logs")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token_expiration_seconds", 3600)
	v.SetDefault("auth.refresh_token_expiration_seconds", 86400)
	v.SetDefault("auth.db_path", "data")
	v.SetDefault("auth.rate_limit_per_second", 50)
	v.SetDefault("auth.rate_limit_burst", 100)

	v.SetDefault("session.inactivity_timeout_ms", 86400000)
	v.SetDefault("session.cleanup_interval_ms", 3600000)

	v.SetDefault("terminal.max_buffer_size", 1000)
	v.SetDefault("terminal.inactivity_timeout_ms", 3600000)

	v.SetDefault("editor.max_history_size", 100)
	v.SetDefault("editor.inactivity_timeout_ms", 3600000)

	v.SetDefault("extension.max_history_size", 20)
	v.SetDefault("extension.inactivity_timeout_ms", 86400000)

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.host", "localhost")
	v.SetDefault("admin.port", 3002)
	v.SetDefault("admin.token", "")
}

// Load reads configuration. Precedence: MCP_* environment variables, then
// the config file at path (if non-empty), then built-in defaults.
// MCP_SERVER_PORT overrides server.port, MCP_AUTH_ENABLED overrides
// auth.enabled, and so on. MCP_PORT and MCP_HOST are accepted as short
// aliases for the listener address.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases for the two most common overrides.
	_ = v.BindEnv("server.port", "MCP_SERVER_PORT", "MCP_PORT")
	_ = v.BindEnv("server.host", "MCP_SERVER_HOST", "MCP_HOST")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxClients < 1 {
		return fmt.Errorf("server.max_clients must be at least 1, got %d", c.Server.MaxClients)
	}
	if c.Terminal.MaxBufferSize < 1 {
		return fmt.Errorf("terminal.max_buffer_size must be at least 1, got %d", c.Terminal.MaxBufferSize)
	}
	if c.Editor.MaxHistorySize < 1 {
		return fmt.Errorf("editor.max_history_size must be at least 1, got %d", c.Editor.MaxHistorySize)
	}
	if c.Extension.MaxHistorySize < 1 {
		return fmt.Errorf("extension.max_history_size must be at least 1, got %d", c.Extension.MaxHistorySize)
	}
	if c.Auth.Enabled && c.Auth.TokenExpirationSeconds < 1 {
		return fmt.Errorf("auth.token_expiration_seconds must be positive, got %d", c.Auth.TokenExpirationSeconds)
	}
	return nil
}

// ShutdownTimeout returns the drain deadline as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutMs) * time.Millisecond
}

// SessionInactivity returns the session idle cutoff as a duration.
func (c *Config) SessionInactivity() time.Duration {
	return time.Duration(c.Session.InactivityTimeoutMs) * time.Millisecond
}

// CleanupInterval returns the sweep cadence as a duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Session.CleanupIntervalMs) * time.Millisecond
}

// TokenTTL returns the access token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenExpirationSeconds) * time.Second
}

// RefreshTokenTTL returns the refresh token lifetime.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.Auth.RefreshTokenExpirationSecs) * time.Second
}

// ListenAddr returns the host:port pair for the client listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AdminAddr returns the host:port pair for the admin HTTP surface.
func (c *Config) AdminAddr() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}
