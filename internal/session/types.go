// Package session owns collaboration sessions and their shared
// resources. A single lock per session guards the participant list and
// the terminal, editor, and extension registries; resources never take
// independent locks.
package session

import (
	"time"

	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// State is the lifecycle state of a session.
type State string

const (
	StateActive State = "active"
	StatePaused State = "paused"
	StateEnded  State = "ended"
)

// ResourceState is the lifecycle state of a shared resource.
type ResourceState string

const (
	ResourceActive   ResourceState = "active"
	ResourceInactive ResourceState = "inactive"
	ResourceClosed   ResourceState = "closed"
)

// Buffer entry kinds.
const (
	EntryKindInput  = "input"
	EntryKindOutput = "output"
)

// BufferEntry is one line of shared terminal traffic.
type BufferEntry struct {
	Kind      string    `json:"kind"`
	ClientID  string    `json:"clientId,omitempty"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal is a shared terminal. All fields are guarded by the owning
// session's lock.
type Terminal struct {
	ID           string
	SessionID    string
	CreatedBy    string
	Name         string
	Shell        string
	Cwd          string
	Cols         int
	Rows         int
	Participants map[string]struct{}
	Buffer       *ringBuffer
	State        ResourceState
	LastActivity time.Time
	ClosedAt     time.Time
}

// Change is one accepted editor content mutation.
type Change struct {
	ClientID   string    `json:"clientId"`
	Timestamp  time.Time `json:"timestamp"`
	Version    int       `json:"version"`
	OldContent string    `json:"-"`
	NewContent string    `json:"-"`
}

// Editor is a shared document. All fields are guarded by the owning
// session's lock. Version starts at 1 and strictly increases on each
// accepted content update.
type Editor struct {
	ID            string
	SessionID     string
	FilePath      string
	RegisteredBy  string
	Language      string
	Participants  map[string]struct{}
	Content       string
	Version       int
	Cursors       map[string]protocol.CursorPosition
	Selections    map[string][]protocol.Range
	ChangeHistory []Change
	State         ResourceState
	LastActivity  time.Time
	ClosedAt      time.Time
}

// ExtensionChange is one entry in an extension's state history.
type ExtensionChange struct {
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
	Kind      string    `json:"kind"` // update or reset
}

// Extension is a named state blob synchronized across a session's
// participants. Guarded by the owning session's lock.
type Extension struct {
	ID           string
	SessionID    string
	RegisteredBy string
	State        map[string]any
	Version      int
	History      []ExtensionChange
	Clients      map[string]struct{}
	ResState     ResourceState
	LastActivity time.Time
	ClosedAt     time.Time
}

// Limits carries the tunables the managers enforce.
type Limits struct {
	TerminalBufferSize  int
	TerminalInactivity  time.Duration
	EditorHistorySize   int
	EditorInactivity    time.Duration
	ExtensionHistory    int
	ExtensionInactivity time.Duration
	SessionInactivity   time.Duration
	ResourceMaxAge      time.Duration
}

// DefaultLimits mirrors the documented configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		TerminalBufferSize:  1000,
		TerminalInactivity:  time.Hour,
		EditorHistorySize:   100,
		EditorInactivity:    time.Hour,
		ExtensionHistory:    20,
		ExtensionInactivity: 24 * time.Hour,
		SessionInactivity:   24 * time.Hour,
		ResourceMaxAge:      24 * time.Hour,
	}
}

// Notifier fans an event out to session participants. The recipient
// list is snapshotted under the session lock before dispatch, so the
// implementation must not call back into the session package.
type Notifier interface {
	Dispatch(recipients []string, exclude, event, sessionID string, data map[string]any)
}

// NopNotifier discards all events. Useful in tests.
type NopNotifier struct{}

func (NopNotifier) Dispatch([]string, string, string, string, map[string]any) {}

// ringBuffer keeps the newest entries up to a fixed capacity. Index
// arithmetic over a start offset avoids shifting on eviction.
type ringBuffer struct {
	entries []BufferEntry
	start   int
	size    int
	dropped int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{entries: make([]BufferEntry, capacity)}
}

func (r *ringBuffer) append(e BufferEntry) {
	if r.size < len(r.entries) {
		r.entries[(r.start+r.size)%len(r.entries)] = e
		r.size++
		return
	}
	// Full: overwrite the oldest entry.
	r.entries[r.start] = e
	r.start = (r.start + 1) % len(r.entries)
	r.dropped++
}

// last returns up to n newest entries in arrival order.
func (r *ringBuffer) last(n int) []BufferEntry {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]BufferEntry, n)
	first := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.entries[(r.start+first+i)%len(r.entries)]
	}
	return out
}

func (r *ringBuffer) len() int { return r.size }

func (r *ringBuffer) droppedCount() int { return r.dropped }
