package session

import (
	"testing"

	"github.com/ConclaveHQ/conclave/internal/protocol"
)

func setupExtension(t *testing.T) (*Manager, *recorder, string) {
	t.Helper()
	m, rec := newTestManager(t)
	info, perr := m.Create("", "alice", "ws-1", "")
	if perr != nil {
		t.Fatalf("Create() error: %v", perr)
	}
	if _, perr := m.Join(info.ID, "bob", "ws-1"); perr != nil {
		t.Fatalf("Join() error: %v", perr)
	}
	return m, rec, info.ID
}

func TestExtensionRegisterAndShare(t *testing.T) {
	m, _, sessionID := setupExtension(t)

	first, perr := m.RegisterExtension(sessionID, "alice", "linter", map[string]any{"enabled": true})
	if perr != nil {
		t.Fatalf("RegisterExtension() error: %v", perr)
	}
	if first.Version != 1 || first.Clients != 1 {
		t.Errorf("first register: version=%d clients=%d, want 1/1", first.Version, first.Clients)
	}

	// Second registration joins; its state is ignored.
	second, perr := m.RegisterExtension(sessionID, "bob", "linter", map[string]any{"enabled": false})
	if perr != nil {
		t.Fatalf("second register error: %v", perr)
	}
	if second.Clients != 2 {
		t.Errorf("clients = %d, want 2", second.Clients)
	}
	if second.State["enabled"] != true {
		t.Error("second register must not overwrite server state")
	}
}

func TestExtensionUpdateMergesShallow(t *testing.T) {
	m, rec, sessionID := setupExtension(t)

	m.RegisterExtension(sessionID, "alice", "linter", map[string]any{"enabled": true, "level": "warn"})
	m.RegisterExtension(sessionID, "bob", "linter", nil)

	info, perr := m.UpdateExtension(sessionID, "alice", "linter", map[string]any{"level": "error"}, 1)
	if perr != nil {
		t.Fatalf("UpdateExtension() error: %v", perr)
	}
	if info.Version != 2 {
		t.Errorf("version = %d, want 2", info.Version)
	}
	if info.State["level"] != "error" || info.State["enabled"] != true {
		t.Errorf("state = %v, want shallow merge keeping enabled", info.State)
	}

	events := rec.byEvent(protocol.EventExtensionStateChanged)
	if len(events) != 1 || events[0].Exclude != "alice" {
		t.Errorf("state change notifications = %v, want one excluding alice", events)
	}
}

func TestExtensionStaleUpdateRejected(t *testing.T) {
	m, _, sessionID := setupExtension(t)

	m.RegisterExtension(sessionID, "alice", "linter", nil)
	m.RegisterExtension(sessionID, "bob", "linter", nil)
	if _, perr := m.UpdateExtension(sessionID, "alice", "linter", map[string]any{"a": 1}, 1); perr != nil {
		t.Fatalf("UpdateExtension() error: %v", perr)
	}

	_, perr := m.UpdateExtension(sessionID, "bob", "linter", map[string]any{"b": 2}, 1)
	if perr == nil || perr.Code != protocol.CodeResourceConflict {
		t.Fatalf("stale update: err = %v, want RESOURCE_CONFLICT", perr)
	}
	if perr.Details["version"] != 2 {
		t.Errorf("details = %v, should carry the current version", perr.Details)
	}

	// Rebase and resend.
	info, perr := m.UpdateExtension(sessionID, "bob", "linter", map[string]any{"b": 2}, 2)
	if perr != nil {
		t.Fatalf("rebased update error: %v", perr)
	}
	if info.Version != 3 {
		t.Errorf("version = %d, want 3", info.Version)
	}
}

func TestExtensionReset(t *testing.T) {
	m, _, sessionID := setupExtension(t)

	m.RegisterExtension(sessionID, "alice", "linter", map[string]any{"a": 1, "b": 2})
	info, perr := m.ResetExtension(sessionID, "alice", "linter", map[string]any{"c": 3})
	if perr != nil {
		t.Fatalf("ResetExtension() error: %v", perr)
	}
	if len(info.State) != 1 || info.State["c"] != 3 {
		t.Errorf("state = %v, reset must replace wholesale", info.State)
	}

	s, _ := m.get(sessionID)
	s.mu.RLock()
	history := s.extensions["linter"].History
	s.mu.RUnlock()
	if len(history) != 1 || history[0].Kind != "reset" {
		t.Errorf("history = %v, want one reset entry", history)
	}
}

func TestExtensionUnregisterLastClientRemoves(t *testing.T) {
	m, _, sessionID := setupExtension(t)

	m.RegisterExtension(sessionID, "alice", "linter", nil)
	m.RegisterExtension(sessionID, "bob", "linter", nil)

	if perr := m.UnregisterExtension(sessionID, "alice", "linter"); perr != nil {
		t.Fatalf("UnregisterExtension(alice) error: %v", perr)
	}
	if _, perr := m.GetExtension(sessionID, "bob", "linter"); perr != nil {
		t.Error("record should survive while bob remains")
	}

	if perr := m.UnregisterExtension(sessionID, "bob", "linter"); perr != nil {
		t.Fatalf("UnregisterExtension(bob) error: %v", perr)
	}
	if _, perr := m.GetExtension(sessionID, "bob", "linter"); perr == nil ||
		perr.Code != protocol.CodeResourceNotFound {
		t.Errorf("after last unregister: err = %v, want RESOURCE_NOT_FOUND", perr)
	}
}

func TestExtensionRequiresRegistration(t *testing.T) {
	m, _, sessionID := setupExtension(t)

	m.RegisterExtension(sessionID, "alice", "linter", nil)
	if _, perr := m.UpdateExtension(sessionID, "bob", "linter", map[string]any{"x": 1}, 1); perr == nil ||
		perr.Code != protocol.CodePermissionDenied {
		t.Errorf("unregistered client update: err = %v, want PERMISSION_DENIED", perr)
	}
}
