package session

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ConclaveHQ/conclave/internal/metrics"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// EditorInfo is a read-only snapshot of a shared editor.
type EditorInfo struct {
	ID           string        `json:"editorId"`
	SessionID    string        `json:"sessionId"`
	FilePath     string        `json:"filePath"`
	Language     string        `json:"language"`
	Version      int           `json:"version"`
	State        ResourceState `json:"state"`
	Participants int           `json:"participants"`
	Content      string        `json:"content,omitempty"`
}

func editorSnapshot(e *Editor, withContent bool) *EditorInfo {
	info := &EditorInfo{
		ID:           e.ID,
		SessionID:    e.SessionID,
		FilePath:     e.FilePath,
		Language:     e.Language,
		Version:      e.Version,
		State:        e.State,
		Participants: len(e.Participants),
	}
	if withContent {
		info.Content = e.Content
	}
	return info
}

var languageByExt = map[string]string{
	".go":   "go",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".py":   "python",
	".rs":   "rust",
	".java": "java",
	".rb":   "ruby",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cs":   "csharp",
	".sh":   "shellscript",
	".md":   "markdown",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".html": "html",
	".css":  "css",
	".sql":  "sql",
}

// inferLanguage maps a file extension to an editor language identifier.
func inferLanguage(path string) string {
	if lang, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "plaintext"
}

// RegisterEditor creates or joins the shared editor for a file path.
// Idempotent on (sessionId, filePath): a second registration adds the
// client to the existing editor's participants and returns it.
func (m *Manager) RegisterEditor(sessionID, clientID, filePath, language string) (*EditorInfo, *protocol.Error) {
	s, perr := m.get(sessionID)
	if perr != nil {
		return nil, perr
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeResourceConflict,
			"session is %s, editors require an active session", s.state)
	}
	if !s.hasParticipantLocked(clientID) {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of session %s", clientID, sessionID)
	}

	if existingID, ok := s.editorsByPath[filePath]; ok {
		e := s.editors[existingID]
		e.Participants[clientID] = struct{}{}
		e.LastActivity = time.Now()
		s.touchLocked()
		info := editorSnapshot(e, true)
		s.mu.Unlock()
		return info, nil
	}

	if language == "" {
		language = inferLanguage(filePath)
	}
	e := &Editor{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		FilePath:     filePath,
		RegisteredBy: clientID,
		Language:     language,
		Participants: map[string]struct{}{clientID: {}},
		Version:      1,
		Cursors:      make(map[string]protocol.CursorPosition),
		Selections:   make(map[string][]protocol.Range),
		State:        ResourceActive,
		LastActivity: time.Now(),
	}
	s.editors[e.ID] = e
	s.editorsByPath[filePath] = e.ID
	s.touchLocked()
	info := editorSnapshot(e, true)
	s.mu.Unlock()

	// Same liveness re-check as terminal create: the session may have
	// been destroyed between the two locks.
	m.mu.Lock()
	_, live := m.sessions[sessionID]
	if live {
		m.editorIndex[e.ID] = sessionID
	}
	m.mu.Unlock()
	if !live {
		return nil, protocol.Errorf(protocol.CodeSessionNotFound,
			"no such session: %s", sessionID)
	}
	metrics.SharedResources.WithLabelValues("editor").Inc()

	return info, nil
}

func (m *Manager) editorSession(editorID string) (*Session, *protocol.Error) {
	m.mu.RLock()
	sessionID, ok := m.editorIndex[editorID]
	m.mu.RUnlock()
	if !ok {
		return nil, protocol.Errorf(protocol.CodeResourceNotFound,
			"no such editor: %s", editorID)
	}
	return m.get(sessionID)
}

// UpdateResult reports the outcome of a content update. A stale write is
// not an error: Accepted is false and Version echoes the server's
// current version so the client can reconcile and resend.
type UpdateResult struct {
	Accepted bool `json:"accepted"`
	Version  int  `json:"version"`
}

// UpdateContent applies a content mutation when the caller's version has
// caught up with the server's (version >= current). Accepted updates bump
// the version by exactly one and notify the other participants.
func (m *Manager) UpdateContent(editorID, clientID, content string, version int) (*UpdateResult, *protocol.Error) {
	s, perr := m.editorSession(editorID)
	if perr != nil {
		return nil, perr
	}

	s.mu.Lock()
	e, ok := s.editors[editorID]
	if !ok {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeResourceNotFound,
			"no such editor: %s", editorID)
	}
	if e.State == ResourceClosed {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodeResourceConflict,
			"editor is closed: %s", editorID)
	}
	if _, ok := e.Participants[clientID]; !ok {
		s.mu.Unlock()
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of editor %s", clientID, editorID)
	}

	if version < e.Version {
		// Stale write. Echo the current version so the client can rebase.
		current := e.Version
		s.mu.Unlock()
		return &UpdateResult{Accepted: false, Version: current}, nil
	}

	old := e.Content
	e.Version++
	e.Content = content
	e.ChangeHistory = append(e.ChangeHistory, Change{
		ClientID:   clientID,
		Timestamp:  time.Now(),
		Version:    e.Version,
		OldContent: old,
		NewContent: content,
	})
	if len(e.ChangeHistory) > m.limits.EditorHistorySize {
		e.ChangeHistory = e.ChangeHistory[len(e.ChangeHistory)-m.limits.EditorHistorySize:]
	}
	e.State = ResourceActive
	e.LastActivity = time.Now()
	s.touchLocked()
	newVersion := e.Version
	recipients := editorRecipientsLocked(e)
	s.mu.Unlock()

	m.notifier.Dispatch(recipients, clientID,
		protocol.EventEditorChanged, s.ID,
		map[string]any{
			"editorId": editorID,
			"clientId": clientID,
			"content":  content,
			"version":  newVersion,
		})
	return &UpdateResult{Accepted: true, Version: newVersion}, nil
}

// UpdateCursor records a caret move and fans it out. Never bumps the
// version.
func (m *Manager) UpdateCursor(editorID, clientID string, cursor protocol.CursorPosition) *protocol.Error {
	s, perr := m.editorSession(editorID)
	if perr != nil {
		return perr
	}

	s.mu.Lock()
	e, ok := s.editors[editorID]
	if !ok {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeResourceNotFound,
			"no such editor: %s", editorID)
	}
	if e.State == ResourceClosed {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeResourceConflict,
			"editor is closed: %s", editorID)
	}
	if _, ok := e.Participants[clientID]; !ok {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of editor %s", clientID, editorID)
	}
	e.Cursors[clientID] = cursor
	e.LastActivity = time.Now()
	s.touchLocked()
	recipients := editorRecipientsLocked(e)
	s.mu.Unlock()

	m.notifier.Dispatch(recipients, clientID,
		protocol.EventCursorMoved, s.ID,
		map[string]any{
			"editorId": editorID,
			"clientId": clientID,
			"cursor":   cursor,
		})
	return nil
}

// UpdateSelections records a client's selection ranges and fans them
// out. Never bumps the version.
func (m *Manager) UpdateSelections(editorID, clientID string, selections []protocol.Range) *protocol.Error {
	s, perr := m.editorSession(editorID)
	if perr != nil {
		return perr
	}

	s.mu.Lock()
	e, ok := s.editors[editorID]
	if !ok {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeResourceNotFound,
			"no such editor: %s", editorID)
	}
	if e.State == ResourceClosed {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeResourceConflict,
			"editor is closed: %s", editorID)
	}
	if _, ok := e.Participants[clientID]; !ok {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of editor %s", clientID, editorID)
	}
	e.Selections[clientID] = selections
	e.LastActivity = time.Now()
	s.touchLocked()
	recipients := editorRecipientsLocked(e)
	s.mu.Unlock()

	m.notifier.Dispatch(recipients, clientID,
		protocol.EventSelectionChanged, s.ID,
		map[string]any{
			"editorId":   editorID,
			"clientId":   clientID,
			"selections": selections,
		})
	return nil
}

// GetEditor returns a snapshot with content for reconciliation.
func (m *Manager) GetEditor(editorID, clientID string) (*EditorInfo, *protocol.Error) {
	s, perr := m.editorSession(editorID)
	if perr != nil {
		return nil, perr
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.editors[editorID]
	if !ok {
		return nil, protocol.Errorf(protocol.CodeResourceNotFound,
			"no such editor: %s", editorID)
	}
	if _, ok := e.Participants[clientID]; !ok {
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of editor %s", clientID, editorID)
	}
	return editorSnapshot(e, true), nil
}

// CloseEditor marks the editor closed, frees its file path for
// re-registration, clears participants, and notifies.
func (m *Manager) CloseEditor(editorID, clientID string) *protocol.Error {
	s, perr := m.editorSession(editorID)
	if perr != nil {
		return perr
	}

	s.mu.Lock()
	e, ok := s.editors[editorID]
	if !ok {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeResourceNotFound,
			"no such editor: %s", editorID)
	}
	if _, ok := e.Participants[clientID]; !ok {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodePermissionDenied,
			"client %s is not a participant of editor %s", clientID, editorID)
	}
	if e.State == ResourceClosed {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeResourceConflict,
			"editor already closed: %s", editorID)
	}
	recipients := editorRecipientsLocked(e)
	e.State = ResourceClosed
	e.ClosedAt = time.Now()
	e.Participants = make(map[string]struct{})
	delete(s.editorsByPath, e.FilePath)
	s.touchLocked()
	s.mu.Unlock()

	metrics.SharedResources.WithLabelValues("editor").Dec()
	m.notifier.Dispatch(recipients, clientID,
		protocol.EventEditorClosed, s.ID,
		map[string]any{"editorId": editorID})
	return nil
}

// ListEditors returns snapshots of a session's editors, without content.
func (m *Manager) ListEditors(sessionID string) ([]*EditorInfo, *protocol.Error) {
	s, perr := m.get(sessionID)
	if perr != nil {
		return nil, perr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*EditorInfo, 0, len(s.editors))
	for _, e := range s.editors {
		out = append(out, editorSnapshot(e, false))
	}
	return out, nil
}

func editorRecipientsLocked(e *Editor) []string {
	out := make([]string, 0, len(e.Participants))
	for p := range e.Participants {
		out = append(out, p)
	}
	return out
}
