package session

import (
	"time"

	"github.com/ConclaveHQ/conclave/internal/metrics"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// ExtensionInfo is a read-only snapshot of an extension state record.
type ExtensionInfo struct {
	ID        string         `json:"extensionId"`
	SessionID string         `json:"sessionId"`
	Version   int            `json:"version"`
	State     map[string]any `json:"state"`
	Clients   int            `json:"clients"`
}

func extensionSnapshot(x *Extension) *ExtensionInfo {
	state := make(map[string]any, len(x.State))
	for k, v := range x.State {
		state[k] = v
	}
	return &ExtensionInfo{
		ID:        x.ID,
		SessionID: x.SessionID,
		Version:   x.Version,
		State:     state,
		Clients:   len(x.Clients),
	}
}

// RegisterExtension creates the extension record on first registration
// and adds the caller to an existing one afterwards. State passed on a
// later registration is ignored; the server's copy wins.
func (m *Manager) RegisterExtension(sessionID, clientID, extensionID string, state map[string]any) (*ExtensionInfo, *protocol.Error) {
	s, perr := m.get(sessionID)
	if perr != nil {
		return nil, perr
	}

	s.mu.Lock()
	if !s.hasParticipantLocked(clientID) {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of session %s", clientID, sessionID)
	}

	if x, ok := s.extensions[extensionID]; ok {
		x.Clients[clientID] = struct{}{}
		x.LastActivity = time.Now()
		s.touchLocked()
		info := extensionSnapshot(x)
		s.mu.Unlock()
		return info, nil
	}

	if state == nil {
		state = make(map[string]any)
	}
	x := &Extension{
		ID:           extensionID,
		SessionID:    sessionID,
		RegisteredBy: clientID,
		State:        state,
		Version:      1,
		Clients:      map[string]struct{}{clientID: {}},
		ResState:     ResourceActive,
		LastActivity: time.Now(),
	}
	s.extensions[extensionID] = x
	s.touchLocked()
	info := extensionSnapshot(x)
	s.mu.Unlock()

	metrics.SharedResources.WithLabelValues("extension").Inc()
	return info, nil
}

func (m *Manager) extension(s *Session, extensionID, clientID string) (*Extension, *protocol.Error) {
	x, ok := s.extensions[extensionID]
	if !ok {
		return nil, protocol.Errorf(protocol.CodeResourceNotFound,
			"no such extension: %s", extensionID)
	}
	if _, ok := x.Clients[clientID]; !ok {
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not registered for extension %s", clientID, extensionID)
	}
	return x, nil
}

// UpdateExtension shallow-merges a state patch. The caller's version
// must have caught up with the server's (version >= current) or the
// update is rejected with RESOURCE_CONFLICT carrying the current
// version.
func (m *Manager) UpdateExtension(sessionID, clientID, extensionID string, patch map[string]any, version int) (*ExtensionInfo, *protocol.Error) {
	s, perr := m.get(sessionID)
	if perr != nil {
		return nil, perr
	}

	s.mu.Lock()
	x, perr := m.extension(s, extensionID, clientID)
	if perr != nil {
		s.mu.Unlock()
		return nil, perr
	}
	if version < x.Version {
		current := x.Version
		s.mu.Unlock()
		e := protocol.Errorf(protocol.CodeResourceConflict,
			"stale extension update: server version is %d", current)
		e.Details = map[string]any{"version": current}
		return nil, e
	}

	for k, v := range patch {
		x.State[k] = v
	}
	x.Version++
	x.History = append(x.History, ExtensionChange{
		ClientID:  clientID,
		Timestamp: time.Now(),
		Version:   x.Version,
		Kind:      "update",
	})
	if len(x.History) > m.limits.ExtensionHistory {
		x.History = x.History[len(x.History)-m.limits.ExtensionHistory:]
	}
	x.LastActivity = time.Now()
	s.touchLocked()
	info := extensionSnapshot(x)
	recipients := extensionRecipientsLocked(x)
	s.mu.Unlock()

	m.notifier.Dispatch(recipients, clientID,
		protocol.EventExtensionStateChanged, sessionID,
		map[string]any{
			"extensionId": extensionID,
			"clientId":    clientID,
			"state":       info.State,
			"version":     info.Version,
		})
	return info, nil
}

// ResetExtension replaces the state wholesale and records a reset entry.
func (m *Manager) ResetExtension(sessionID, clientID, extensionID string, state map[string]any) (*ExtensionInfo, *protocol.Error) {
	s, perr := m.get(sessionID)
	if perr != nil {
		return nil, perr
	}

	s.mu.Lock()
	x, perr := m.extension(s, extensionID, clientID)
	if perr != nil {
		s.mu.Unlock()
		return nil, perr
	}
	if state == nil {
		state = make(map[string]any)
	}
	x.State = state
	x.Version++
	x.History = append(x.History, ExtensionChange{
		ClientID:  clientID,
		Timestamp: time.Now(),
		Version:   x.Version,
		Kind:      "reset",
	})
	if len(x.History) > m.limits.ExtensionHistory {
		x.History = x.History[len(x.History)-m.limits.ExtensionHistory:]
	}
	x.LastActivity = time.Now()
	s.touchLocked()
	info := extensionSnapshot(x)
	recipients := extensionRecipientsLocked(x)
	s.mu.Unlock()

	m.notifier.Dispatch(recipients, clientID,
		protocol.EventExtensionStateChanged, sessionID,
		map[string]any{
			"extensionId": extensionID,
			"clientId":    clientID,
			"state":       info.State,
			"version":     info.Version,
			"reset":       true,
		})
	return info, nil
}

// UnregisterExtension removes the caller. The last client leaving
// removes the record entirely.
func (m *Manager) UnregisterExtension(sessionID, clientID, extensionID string) *protocol.Error {
	s, perr := m.get(sessionID)
	if perr != nil {
		return perr
	}

	s.mu.Lock()
	x, perr := m.extension(s, extensionID, clientID)
	if perr != nil {
		s.mu.Unlock()
		return perr
	}
	delete(x.Clients, clientID)
	removed := len(x.Clients) == 0
	if removed {
		delete(s.extensions, extensionID)
	}
	s.touchLocked()
	s.mu.Unlock()

	if removed {
		metrics.SharedResources.WithLabelValues("extension").Dec()
	}
	return nil
}

// GetExtension returns a snapshot of the extension state.
func (m *Manager) GetExtension(sessionID, clientID, extensionID string) (*ExtensionInfo, *protocol.Error) {
	s, perr := m.get(sessionID)
	if perr != nil {
		return nil, perr
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	x, perr := m.extension(s, extensionID, clientID)
	if perr != nil {
		return nil, perr
	}
	return extensionSnapshot(x), nil
}

func extensionRecipientsLocked(x *Extension) []string {
	out := make([]string, 0, len(x.Clients))
	for p := range x.Clients {
		out = append(out, p)
	}
	return out
}
