package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ConclaveHQ/conclave/internal/logger"
	"github.com/ConclaveHQ/conclave/internal/metrics"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// Session is one collaboration session. Its lock guards the participant
// list and all three resource registries.
type Session struct {
	mu sync.RWMutex

	ID          string
	CreatedBy   string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time

	lastActivity  time.Time
	state         State
	participants  []string
	terminals     map[string]*Terminal
	editors       map[string]*Editor
	editorsByPath map[string]string
	extensions    map[string]*Extension
}

// Info is a read-only snapshot of a session for acks and listings.
type Info struct {
	ID           string    `json:"sessionId"`
	Name         string    `json:"name,omitempty"`
	CreatedBy    string    `json:"createdBy"`
	WorkspaceID  string    `json:"workspaceId"`
	State        State     `json:"state"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
	Terminals    int       `json:"terminals"`
	Editors      int       `json:"editors"`
	Extensions   int       `json:"extensions"`
}

func (s *Session) snapshotLocked() *Info {
	parts := make([]string, len(s.participants))
	copy(parts, s.participants)
	return &Info{
		ID:           s.ID,
		Name:         s.Name,
		CreatedBy:    s.CreatedBy,
		WorkspaceID:  s.WorkspaceID,
		State:        s.state,
		Participants: parts,
		CreatedAt:    s.CreatedAt,
		Terminals:    len(s.terminals),
		Editors:      len(s.editors),
		Extensions:   len(s.extensions),
	}
}

func (s *Session) hasParticipantLocked(clientID string) bool {
	for _, p := range s.participants {
		if p == clientID {
			return true
		}
	}
	return false
}

func (s *Session) participantsLocked() []string {
	out := make([]string, len(s.participants))
	copy(out, s.participants)
	return out
}

func (s *Session) touchLocked() {
	s.lastActivity = time.Now()
}

// Manager owns the session registry. terminalIndex and editorIndex map
// resource IDs to their owning session so requests that carry only a
// resource ID can find the right session lock.
type Manager struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	terminalIndex map[string]string
	editorIndex   map[string]string
	limits        Limits
	notifier      Notifier
}

// NewManager creates a session manager.
func NewManager(limits Limits, notifier Notifier) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		terminalIndex: make(map[string]string),
		editorIndex:   make(map[string]string),
		limits:        limits,
		notifier:      notifier,
	}
}

// Create makes a new session with the creator as first participant.
// An empty sessionID asks the server to generate one; an asserted ID
// fails with SESSION_ALREADY_EXISTS when taken.
func (m *Manager) Create(sessionID, createdBy, workspaceID, name string) (*Info, *protocol.Error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		return nil, protocol.Errorf(protocol.CodeSessionAlreadyExists,
			"session already exists: %s", sessionID)
	}

	now := time.Now()
	s := &Session{
		ID:            sessionID,
		CreatedBy:     createdBy,
		WorkspaceID:   workspaceID,
		Name:          name,
		CreatedAt:     now,
		lastActivity:  now,
		state:         StateActive,
		participants:  []string{createdBy},
		terminals:     make(map[string]*Terminal),
		editors:       make(map[string]*Editor),
		editorsByPath: make(map[string]string),
		extensions:    make(map[string]*Extension),
	}
	m.sessions[sessionID] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	logger.Info("session created: %s by %s", sessionID, createdBy)

	return s.snapshotLocked(), nil
}

func (m *Manager) get(sessionID string) (*Session, *protocol.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, protocol.Errorf(protocol.CodeSessionNotFound,
			"no such session: %s", sessionID)
	}
	return s, nil
}

// Get returns a snapshot of a session.
func (m *Manager) Get(sessionID string) (*Info, *protocol.Error) {
	s, perr := m.get(sessionID)
	if perr != nil {
		return nil, perr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

// Join adds a client to a session and notifies the other participants.
// Joining twice is a no-op. Ended sessions reject joins.
func (m *Manager) Join(sessionID, clientID, workspaceID string) (*Info, *protocol.Error) {
	s, perr := m.get(sessionID)
	if perr != nil {
		return nil, perr
	}

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeSessionJoinRejected,
			"session has ended: %s", sessionID)
	}
	if s.WorkspaceID != workspaceID {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeSessionJoinRejected,
			"session belongs to a different workspace")
	}
	already := s.hasParticipantLocked(clientID)
	if !already {
		s.participants = append(s.participants, clientID)
	}
	s.touchLocked()
	info := s.snapshotLocked()
	recipients := s.participantsLocked()
	s.mu.Unlock()

	if !already {
		m.notifier.Dispatch(recipients, clientID,
			protocol.EventSessionParticipantJoined, sessionID,
			map[string]any{"participantId": clientID})
	}
	return info, nil
}

// Leave removes a client from a session. Removing the last participant
// destroys the session atomically.
func (m *Manager) Leave(sessionID, clientID string) *protocol.Error {
	s, perr := m.get(sessionID)
	if perr != nil {
		return perr
	}

	s.mu.Lock()
	if !s.hasParticipantLocked(clientID) {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of session %s", clientID, sessionID)
	}
	s.removeParticipantLocked(clientID)
	empty := len(s.participants) == 0
	recipients := s.participantsLocked()
	s.touchLocked()
	s.mu.Unlock()

	if empty {
		m.destroy(sessionID)
		return nil
	}
	m.notifier.Dispatch(recipients, "",
		protocol.EventSessionParticipantLeft, sessionID,
		map[string]any{"participantId": clientID})
	return nil
}

// removeParticipantLocked drops the client from the participant list and
// from every resource in the session's registries. Resources losing
// their last participant close.
func (s *Session) removeParticipantLocked(clientID string) {
	for i, p := range s.participants {
		if p == clientID {
			s.participants = append(s.participants[:i], s.participants[i+1:]...)
			break
		}
	}
	now := time.Now()
	for _, t := range s.terminals {
		if _, ok := t.Participants[clientID]; ok {
			delete(t.Participants, clientID)
			if len(t.Participants) == 0 && t.State != ResourceClosed {
				t.State = ResourceClosed
				t.ClosedAt = now
			}
		}
	}
	for _, e := range s.editors {
		if _, ok := e.Participants[clientID]; ok {
			delete(e.Participants, clientID)
			delete(e.Cursors, clientID)
			delete(e.Selections, clientID)
			if len(e.Participants) == 0 && e.State != ResourceClosed {
				e.State = ResourceClosed
				e.ClosedAt = now
				delete(s.editorsByPath, e.FilePath)
			}
		}
	}
	for id, x := range s.extensions {
		if _, ok := x.Clients[clientID]; ok {
			delete(x.Clients, clientID)
			if len(x.Clients) == 0 {
				delete(s.extensions, id)
			}
		}
	}
}

// setState transitions a session and notifies participants. Only the
// creator may pause, resume, or end a session.
func (m *Manager) setState(sessionID, clientID string, next State) (*Info, *protocol.Error) {
	s, perr := m.get(sessionID)
	if perr != nil {
		return nil, perr
	}

	s.mu.Lock()
	if clientID != "" && clientID != s.CreatedBy {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"only the session creator may change session state")
	}
	if s.state == StateEnded {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeResourceConflict,
			"session has already ended: %s", sessionID)
	}
	s.state = next
	s.touchLocked()
	info := s.snapshotLocked()
	recipients := s.participantsLocked()
	s.mu.Unlock()

	m.notifier.Dispatch(recipients, clientID,
		protocol.EventSessionStateChanged, sessionID,
		map[string]any{"state": string(next)})

	if next == StateEnded {
		m.destroy(sessionID)
	}
	return info, nil
}

// Pause suspends a session.
func (m *Manager) Pause(sessionID, clientID string) (*Info, *protocol.Error) {
	return m.setState(sessionID, clientID, StatePaused)
}

// Resume reactivates a paused session.
func (m *Manager) Resume(sessionID, clientID string) (*Info, *protocol.Error) {
	return m.setState(sessionID, clientID, StateActive)
}

// End terminates a session and destroys it.
func (m *Manager) End(sessionID, clientID string) (*Info, *protocol.Error) {
	return m.setState(sessionID, clientID, StateEnded)
}

func (m *Manager) destroy(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.RLock()
	terminalIDs := make([]string, 0, len(s.terminals))
	for id := range s.terminals {
		terminalIDs = append(terminalIDs, id)
	}
	editorIDs := make([]string, 0, len(s.editors))
	for id := range s.editors {
		editorIDs = append(editorIDs, id)
	}
	s.mu.RUnlock()

	m.mu.Lock()
	for _, id := range terminalIDs {
		delete(m.terminalIndex, id)
	}
	for _, id := range editorIDs {
		delete(m.editorIndex, id)
	}
	m.mu.Unlock()

	metrics.SessionDuration.Observe(time.Since(s.CreatedAt).Seconds())
	logger.Info("session destroyed: %s", sessionID)
}

// RemoveClient drops a disconnected client from every session it joined
// and notifies the remaining participants. Sessions left empty are
// destroyed. Returns the IDs of the sessions that were affected.
func (m *Manager) RemoveClient(clientID string) []string {
	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	var affected []string
	for _, s := range candidates {
		s.mu.Lock()
		if !s.hasParticipantLocked(clientID) {
			s.mu.Unlock()
			continue
		}
		s.removeParticipantLocked(clientID)
		empty := len(s.participants) == 0
		recipients := s.participantsLocked()
		s.touchLocked()
		id := s.ID
		s.mu.Unlock()

		affected = append(affected, id)
		if empty {
			m.destroy(id)
			continue
		}
		m.notifier.Dispatch(recipients, "",
			protocol.EventSessionParticipantLeft, id,
			map[string]any{"participantId": clientID, "reason": "disconnected"})
	}
	return affected
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns snapshots of all live sessions.
func (m *Manager) List() []*Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]*Info, 0, len(sessions))
	for _, s := range sessions {
		s.mu.RLock()
		out = append(out, s.snapshotLocked())
		s.mu.RUnlock()
	}
	return out
}

// SweepInactive destroys sessions idle beyond the inactivity cutoff and
// returns how many were removed.
func (m *Manager) SweepInactive(now time.Time) int {
	m.mu.RLock()
	var stale []*Session
	for _, s := range m.sessions {
		s.mu.RLock()
		idle := now.Sub(s.lastActivity) > m.limits.SessionInactivity
		s.mu.RUnlock()
		if idle {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range stale {
		s.mu.Lock()
		recipients := s.participantsLocked()
		s.state = StateEnded
		id := s.ID
		s.mu.Unlock()

		m.notifier.Dispatch(recipients, "",
			protocol.EventSessionStateChanged, id,
			map[string]any{"state": string(StateEnded), "reason": "inactivity"})
		m.destroy(id)
	}
	return len(stale)
}
