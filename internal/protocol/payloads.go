package protocol

import "encoding/json"

// ConnectionPayload establishes client identity.
type ConnectionPayload struct {
	ClientID     string            `json:"clientId"`
	WorkspaceID  string            `json:"workspaceId"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	ClientInfo   map[string]string `json:"clientInfo,omitempty"`
}

// ConnectionAckPayload is the server's reply to a connection request.
type ConnectionAckPayload struct {
	Status             string   `json:"status"`
	ServerTime         string   `json:"serverTime"`
	ConnectedClients   int      `json:"connectedClients"`
	AuthRequired       bool     `json:"authRequired"`
	ServerCapabilities []string `json:"serverCapabilities"`
	SessionCount       int      `json:"sessionCount"`
}

// DisconnectPayload optionally names the departing client.
type DisconnectPayload struct {
	ClientID string `json:"clientId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// PingPayload carries the client clock for skew measurement.
type PingPayload struct {
	ClientTime string `json:"clientTime,omitempty"`
}

// PongPayload answers a ping.
type PongPayload struct {
	ServerTime       string `json:"serverTime"`
	ClientTime       string `json:"clientTime,omitempty"`
	ConnectedClients int    `json:"connectedClients"`
}

// AuthenticatePayload presents a credential.
type AuthenticatePayload struct {
	Token      string `json:"token"`
	AuthMethod string `json:"authMethod"`
}

// AuthenticateAckPayload reports the outcome of authentication.
// RefreshRecommended signals that the presented token is close to
// expiry and the client should refresh soon.
type AuthenticateAckPayload struct {
	Status             string   `json:"status"`
	Permissions        []string `json:"permissions,omitempty"`
	TokenValidUntil    string   `json:"tokenValidUntil,omitempty"`
	RefreshRecommended bool     `json:"refreshRecommended,omitempty"`
}

// TokenRefreshPayload swaps an expiring token.
type TokenRefreshPayload struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenRefreshAckPayload reports the refresh outcome. Token is the
// replacement access token; the presented refresh token is consumed.
type TokenRefreshAckPayload struct {
	Status          string `json:"status"`
	Token           string `json:"token,omitempty"`
	TokenValidUntil string `json:"tokenValidUntil,omitempty"`
	RefreshToken    string `json:"refreshToken,omitempty"`
}

// TokenValidatePayload checks a token without side effects.
type TokenValidatePayload struct {
	Token string `json:"token"`
}

// TokenValidateAckPayload reports validity.
type TokenValidateAckPayload struct {
	Valid           bool   `json:"valid"`
	TokenValidUntil string `json:"tokenValidUntil,omitempty"`
}

// SessionCreatePayload creates a shared session.
type SessionCreatePayload struct {
	SessionID   string `json:"sessionId,omitempty"`
	CreatedBy   string `json:"createdBy"`
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name,omitempty"`
}

// SessionJoinPayload joins an existing session.
type SessionJoinPayload struct {
	SessionID   string `json:"sessionId"`
	ClientID    string `json:"clientId"`
	WorkspaceID string `json:"workspaceId"`
}

// SessionRefPayload names a session for leave/end/pause/resume.
type SessionRefPayload struct {
	SessionID string `json:"sessionId"`
	ClientID  string `json:"clientId,omitempty"`
}

// Terminal actions.
const (
	TerminalActionCreate = "create"
	TerminalActionInput  = "input"
	TerminalActionOutput = "output"
	TerminalActionResize = "resize"
	TerminalActionBuffer = "buffer"
	TerminalActionClose  = "close"
)

// TerminalPayload is the action-dispatched payload of a terminal message.
type TerminalPayload struct {
	Action     string `json:"action"`
	SessionID  string `json:"sessionId,omitempty"`
	TerminalID string `json:"terminalId,omitempty"`
	Name       string `json:"name,omitempty"`
	Shell      string `json:"shell,omitempty"`
	Cwd        string `json:"cwd,omitempty"`
	Data       string `json:"data,omitempty"`
	Cols       int    `json:"cols,omitempty"`
	Rows       int    `json:"rows,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// Editor actions.
const (
	EditorActionRegister  = "register"
	EditorActionUpdate    = "update"
	EditorActionCursor    = "cursor"
	EditorActionSelection = "selection"
	EditorActionClose     = "close"
	EditorActionGet       = "get"
)

// Range is a contiguous span within a document.
type Range struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

// CursorPosition is a single caret location.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// EditorPayload is the action-dispatched payload of an editor message.
type EditorPayload struct {
	Action     string          `json:"action"`
	SessionID  string          `json:"sessionId,omitempty"`
	EditorID   string          `json:"editorId,omitempty"`
	FilePath   string          `json:"filePath,omitempty"`
	Language   string          `json:"language,omitempty"`
	Content    *string         `json:"content,omitempty"`
	Version    int             `json:"version,omitempty"`
	Cursor     *CursorPosition `json:"cursor,omitempty"`
	Selections []Range         `json:"selections,omitempty"`
}

// Extension actions.
const (
	ExtensionActionRegister   = "register"
	ExtensionActionUpdate     = "update"
	ExtensionActionReset      = "reset"
	ExtensionActionUnregister = "unregister"
	ExtensionActionGet        = "get"
)

// ExtensionPayload is the action-dispatched payload of an extension message.
type ExtensionPayload struct {
	Action      string         `json:"action"`
	SessionID   string         `json:"sessionId"`
	ExtensionID string         `json:"extensionId"`
	State       map[string]any `json:"state,omitempty"`
	Version     int            `json:"version,omitempty"`
}

// ClientUpdatePayload patches a connected client's self-description.
type ClientUpdatePayload struct {
	Metadata     map[string]any `json:"metadata,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
}

// ToolInvokePayload dispatches an opaque tool through the router.
type ToolInvokePayload struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResponsePayload resolves a pending server-originated request.
type ToolResponsePayload struct {
	RequestID string          `json:"requestId"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NotificationPayload wraps a fanned-out event.
type NotificationPayload struct {
	Event     string         `json:"event"`
	SessionID string         `json:"sessionId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ServerShutdownPayload announces a drain.
type ServerShutdownPayload struct {
	Reason            string `json:"reason"`
	Time              string `json:"time"`
	PlannedRestart    bool   `json:"plannedRestart"`
	EstimatedDowntime int    `json:"estimatedDowntime"`
}
