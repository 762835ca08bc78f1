package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/ConclaveHQ/conclave/internal/metrics"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// DefaultBufferFetch is the buffer slice size when the caller omits a limit.
const DefaultBufferFetch = 100

// TerminalInfo is a read-only snapshot of a shared terminal.
type TerminalInfo struct {
	ID           string        `json:"terminalId"`
	SessionID    string        `json:"sessionId"`
	Name         string        `json:"name,omitempty"`
	Shell        string        `json:"shell,omitempty"`
	Cwd          string        `json:"cwd,omitempty"`
	Cols         int           `json:"cols"`
	Rows         int           `json:"rows"`
	State        ResourceState `json:"state"`
	Participants int           `json:"participants"`
	BufferSize   int           `json:"bufferSize"`
}

func terminalSnapshot(t *Terminal) *TerminalInfo {
	return &TerminalInfo{
		ID:           t.ID,
		SessionID:    t.SessionID,
		Name:         t.Name,
		Shell:        t.Shell,
		Cwd:          t.Cwd,
		Cols:         t.Cols,
		Rows:         t.Rows,
		State:        t.State,
		Participants: len(t.Participants),
		BufferSize:   t.Buffer.len(),
	}
}

// TerminalOpts carries creation parameters.
type TerminalOpts struct {
	Name  string
	Shell string
	Cwd   string
	Cols  int
	Rows  int
}

// CreateTerminal makes a shared terminal in an active session. The
// terminal's participant set is a snapshot of the session's current
// participants.
func (m *Manager) CreateTerminal(sessionID, createdBy string, opts TerminalOpts) (*TerminalInfo, *protocol.Error) {
	s, perr := m.get(sessionID)
	if perr != nil {
		return nil, perr
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeResourceConflict,
			"session is %s, terminals require an active session", s.state)
	}
	if !s.hasParticipantLocked(createdBy) {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of session %s", createdBy, sessionID)
	}

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	shell := opts.Shell
	if shell == "" {
		shell = "/bin/bash"
	}

	t := &Terminal{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		CreatedBy:    createdBy,
		Name:         opts.Name,
		Shell:        shell,
		Cwd:          opts.Cwd,
		Cols:         cols,
		Rows:         rows,
		Participants: make(map[string]struct{}, len(s.participants)),
		Buffer:       newRingBuffer(m.limits.TerminalBufferSize),
		State:        ResourceActive,
		LastActivity: time.Now(),
	}
	for _, p := range s.participants {
		t.Participants[p] = struct{}{}
	}
	s.terminals[t.ID] = t
	s.touchLocked()
	info := terminalSnapshot(t)
	s.mu.Unlock()

	// The session lock is released before the index write, so the
	// session may have been destroyed in between. Indexing then would
	// leak a stale entry.
	m.mu.Lock()
	_, live := m.sessions[sessionID]
	if live {
		m.terminalIndex[t.ID] = sessionID
	}
	m.mu.Unlock()
	if !live {
		return nil, protocol.Errorf(protocol.CodeSessionNotFound,
			"no such session: %s", sessionID)
	}
	metrics.SharedResources.WithLabelValues("terminal").Inc()

	return info, nil
}

func (m *Manager) terminalSession(terminalID string) (*Session, *protocol.Error) {
	m.mu.RLock()
	sessionID, ok := m.terminalIndex[terminalID]
	m.mu.RUnlock()
	if !ok {
		return nil, protocol.Errorf(protocol.CodeResourceNotFound,
			"no such terminal: %s", terminalID)
	}
	return m.get(sessionID)
}

// ProcessInput appends a participant's keystrokes to the buffer and fans
// them out to the other participants. The origin already rendered its
// own input locally.
func (m *Manager) ProcessInput(terminalID, clientID, data string) (*TerminalInfo, *protocol.Error) {
	s, perr := m.terminalSession(terminalID)
	if perr != nil {
		return nil, perr
	}

	s.mu.Lock()
	t, ok := s.terminals[terminalID]
	if !ok {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeResourceNotFound,
			"no such terminal: %s", terminalID)
	}
	if t.State == ResourceClosed {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeResourceConflict,
			"terminal is closed: %s", terminalID)
	}
	if _, ok := t.Participants[clientID]; !ok {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of terminal %s", clientID, terminalID)
	}

	before := t.Buffer.droppedCount()
	t.Buffer.append(BufferEntry{
		Kind:      EntryKindInput,
		ClientID:  clientID,
		Data:      data,
		Timestamp: time.Now(),
	})
	if t.Buffer.droppedCount() > before {
		metrics.TerminalBufferDrops.WithLabelValues(terminalID).Inc()
	}
	t.State = ResourceActive
	t.LastActivity = time.Now()
	s.touchLocked()
	info := terminalSnapshot(t)
	recipients := terminalRecipientsLocked(t)
	s.mu.Unlock()

	m.notifier.Dispatch(recipients, clientID,
		protocol.EventTerminalInput, s.ID,
		map[string]any{"terminalId": terminalID, "clientId": clientID, "data": data})
	return info, nil
}

// ProcessOutput appends terminal output to the buffer and fans it out to
// every participant.
func (m *Manager) ProcessOutput(terminalID, data string) (*TerminalInfo, *protocol.Error) {
	s, perr := m.terminalSession(terminalID)
	if perr != nil {
		return nil, perr
	}

	s.mu.Lock()
	t, ok := s.terminals[terminalID]
	if !ok {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeResourceNotFound,
			"no such terminal: %s", terminalID)
	}
	if t.State == ResourceClosed {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeResourceConflict,
			"terminal is closed: %s", terminalID)
	}

	before := t.Buffer.droppedCount()
	t.Buffer.append(BufferEntry{
		Kind:      EntryKindOutput,
		Data:      data,
		Timestamp: time.Now(),
	})
	if t.Buffer.droppedCount() > before {
		metrics.TerminalBufferDrops.WithLabelValues(terminalID).Inc()
	}
	t.State = ResourceActive
	t.LastActivity = time.Now()
	s.touchLocked()
	info := terminalSnapshot(t)
	recipients := terminalRecipientsLocked(t)
	s.mu.Unlock()

	m.notifier.Dispatch(recipients, "",
		protocol.EventTerminalOutput, s.ID,
		map[string]any{"terminalId": terminalID, "data": data})
	return info, nil
}

// ResizeTerminal updates dimensions and broadcasts them to the other
// participants.
func (m *Manager) ResizeTerminal(terminalID, clientID string, cols, rows int) (*TerminalInfo, *protocol.Error) {
	s, perr := m.terminalSession(terminalID)
	if perr != nil {
		return nil, perr
	}

	s.mu.Lock()
	t, ok := s.terminals[terminalID]
	if !ok {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeResourceNotFound,
			"no such terminal: %s", terminalID)
	}
	if t.State == ResourceClosed {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeResourceConflict,
			"terminal is closed: %s", terminalID)
	}
	if _, ok := t.Participants[clientID]; !ok {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of terminal %s", clientID, terminalID)
	}
	t.Cols = cols
	t.Rows = rows
	t.LastActivity = time.Now()
	s.touchLocked()
	info := terminalSnapshot(t)
	recipients := terminalRecipientsLocked(t)
	s.mu.Unlock()

	m.notifier.Dispatch(recipients, clientID,
		protocol.EventTerminalResized, s.ID,
		map[string]any{"terminalId": terminalID, "cols": cols, "rows": rows})
	return info, nil
}

// TerminalBuffer returns the newest limit entries (default 100).
func (m *Manager) TerminalBuffer(terminalID, clientID string, limit int) ([]BufferEntry, *protocol.Error) {
	s, perr := m.terminalSession(terminalID)
	if perr != nil {
		return nil, perr
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.terminals[terminalID]
	if !ok {
		return nil, protocol.Errorf(protocol.CodeResourceNotFound,
			"no such terminal: %s", terminalID)
	}
	if _, ok := t.Participants[clientID]; !ok {
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of terminal %s", clientID, terminalID)
	}
	if limit <= 0 {
		limit = DefaultBufferFetch
	}
	return t.Buffer.last(limit), nil
}

// CloseTerminal marks the terminal closed and notifies participants. The
// record stays listable until the sweep deletes it.
func (m *Manager) CloseTerminal(terminalID, clientID string) *protocol.Error {
	s, perr := m.terminalSession(terminalID)
	if perr != nil {
		return perr
	}

	s.mu.Lock()
	t, ok := s.terminals[terminalID]
	if !ok {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeResourceNotFound,
			"no such terminal: %s", terminalID)
	}
	if _, ok := t.Participants[clientID]; !ok {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of terminal %s", clientID, terminalID)
	}
	if t.State == ResourceClosed {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeResourceConflict,
			"terminal already closed: %s", terminalID)
	}
	t.State = ResourceClosed
	t.ClosedAt = time.Now()
	recipients := terminalRecipientsLocked(t)
	s.touchLocked()
	s.mu.Unlock()

	metrics.SharedResources.WithLabelValues("terminal").Dec()
	m.notifier.Dispatch(recipients, clientID,
		protocol.EventTerminalClosed, s.ID,
		map[string]any{"terminalId": terminalID})
	return nil
}

// ListTerminals returns snapshots of a session's terminals.
func (m *Manager) ListTerminals(sessionID string) ([]*TerminalInfo, *protocol.Error) {
	s, perr := m.get(sessionID)
	if perr != nil {
		return nil, perr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TerminalInfo, 0, len(s.terminals))
	for _, t := range s.terminals {
		out = append(out, terminalSnapshot(t))
	}
	return out, nil
}

func terminalRecipientsLocked(t *Terminal) []string {
	out := make([]string, 0, len(t.Participants))
	for p := range t.Participants {
		out = append(out, p)
	}
	return out
}
