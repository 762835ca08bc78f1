package conn

import (
	"sync"
	"time"
)

// State tracks a client's position in the connection lifecycle.
type State int

const (
	StateConnected State = iota
	StateAuthenticated
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Client is one connected participant. Identity fields are set during
// the connection handshake and are read-only afterwards; mutable state
// is guarded by mu.
type Client struct {
	ID          string
	WorkspaceID string
	Endpoint    *Endpoint
	ConnectedAt time.Time

	mu           sync.RWMutex
	state        State
	capabilities []string
	metadata     map[string]any
	clientInfo   map[string]string
	tokenID      string
	tokenExpiry  time.Time
	lastActivity time.Time
	sessions     map[string]struct{}
}

// NewClient records a freshly admitted connection.
func NewClient(id, workspaceID string, ep *Endpoint) *Client {
	now := time.Now()
	return &Client{
		ID:           id,
		WorkspaceID:  workspaceID,
		Endpoint:     ep,
		ConnectedAt:  now,
		state:        StateConnected,
		lastActivity: now,
		sessions:     make(map[string]struct{}),
	}
}

// Touch records inbound activity.
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the last inbound message.
func (c *Client) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState advances the lifecycle state.
func (c *Client) SetState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Authenticated reports whether the client passed authentication.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateAuthenticated
}

// SetAuthenticated marks the client authenticated under the given token.
// A zero validUntil means the credential does not expire.
func (c *Client) SetAuthenticated(tokenID string, validUntil time.Time) {
	c.mu.Lock()
	c.state = StateAuthenticated
	c.tokenID = tokenID
	c.tokenExpiry = validUntil
	c.mu.Unlock()
}

// AuthExpired reports whether the client's credential has lapsed since
// authentication. Clients that never authenticated are not expired.
func (c *Client) AuthExpired(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateAuthenticated && !c.tokenExpiry.IsZero() && now.After(c.tokenExpiry)
}

// TokenID returns the token the client authenticated with, if any.
func (c *Client) TokenID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenID
}

// SetProfile replaces the client's self-description.
func (c *Client) SetProfile(capabilities []string, metadata map[string]any, info map[string]string) {
	c.mu.Lock()
	c.capabilities = capabilities
	c.metadata = metadata
	c.clientInfo = info
	c.mu.Unlock()
}

// UpdateProfile merges a client_update into the existing profile.
// Nil fields leave the current values untouched.
func (c *Client) UpdateProfile(capabilities []string, metadata map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if capabilities != nil {
		c.capabilities = capabilities
	}
	if metadata != nil {
		if c.metadata == nil {
			c.metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			c.metadata[k] = v
		}
	}
}

// Capabilities returns a copy of the advertised capabilities.
func (c *Client) Capabilities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.capabilities))
	copy(out, c.capabilities)
	return out
}

// JoinSession records membership in a session.
func (c *Client) JoinSession(sessionID string) {
	c.mu.Lock()
	c.sessions[sessionID] = struct{}{}
	c.mu.Unlock()
}

// LeaveSession drops membership in a session.
func (c *Client) LeaveSession(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// Sessions returns the IDs of the sessions the client belongs to.
func (c *Client) Sessions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, id)
	}
	return out
}

// InSession reports membership in one session.
func (c *Client) InSession(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[sessionID]
	return ok
}
