// Package protocol defines the framed message envelope exchanged between
// the server and its clients, the closed set of message types, and the
// two-phase validation applied to every inbound frame.
package protocol

import (
	"encoding/json"
	"time"
)

// Message type constants. The inbound set is closed; unknown types are
// rejected during envelope validation.
const (
	TypeConnection       = "connection"
	TypeConnectionAck    = "connection_ack"
	TypeDisconnect       = "disconnect"
	TypeDisconnectAck    = "disconnect_ack"
	TypePing             = "ping"
	TypePong             = "pong"
	TypeAuthenticate     = "authenticate"
	TypeAuthenticateAck  = "authenticate_ack"
	TypeTokenRefresh     = "token_refresh"
	TypeTokenRefreshAck  = "token_refresh_ack"
	TypeTokenValidate    = "token_validate"
	TypeTokenValidateAck = "token_validate_ack"
	TypeSessionCreate    = "session_create"
	TypeSessionCreateAck = "session_create_ack"
	TypeSessionJoin      = "session_join"
	TypeSessionJoinAck   = "session_join_ack"
	TypeSessionLeave     = "session_leave"
	TypeSessionLeaveAck  = "session_leave_ack"
	TypeSessionEnd       = "session_end"
	TypeSessionEndAck    = "session_end_ack"
	TypeSessionPause     = "session_pause"
	TypeSessionPauseAck  = "session_pause_ack"
	TypeSessionResume    = "session_resume"
	TypeSessionResumeAck = "session_resume_ack"
	TypeTerminal         = "terminal"
	TypeEditor           = "editor"
	TypeExtension        = "extension"
	TypeNotification     = "notification"
	TypeServerShutdown   = "server_shutdown"
	TypeError            = "error"
	TypeClientInfo       = "client_info"
	TypeClientUpdate     = "client_update"
	TypeToolInvoke       = "tool_invoke"
	TypeToolResponse     = "tool_response"
)

// Notification event types delivered inside a notification payload.
const (
	EventSessionParticipantJoined = "session_participant_joined"
	EventSessionParticipantLeft   = "session_participant_left"
	EventSessionStateChanged      = "session_state_changed"
	EventTerminalOutput           = "terminal_output"
	EventTerminalInput            = "terminal_input"
	EventTerminalResized          = "terminal_resized"
	EventTerminalClosed           = "terminal_closed"
	EventEditorChanged            = "editor_changed"
	EventEditorClosed             = "editor_closed"
	EventCursorMoved              = "cursor_moved"
	EventSelectionChanged         = "selection_changed"
	EventExtensionStateChanged    = "extension_state_changed"
	EventServerShutdown           = "server_shutdown"
	EventServerError              = "server_error"
)

// Status values returned in acks.
const (
	StatusConnected = "connected"
	StatusRejected  = "rejected"
	StatusPending   = "pending"
	StatusCreated   = "created"
	StatusJoined    = "joined"
	StatusAccepted  = "accepted"
)

// knownTypes is the closed set accepted on ingress.
var knownTypes = map[string]struct{}{
	TypeConnection: {}, TypeConnectionAck: {},
	TypeDisconnect: {}, TypeDisconnectAck: {},
	TypePing: {}, TypePong: {},
	TypeAuthenticate: {}, TypeAuthenticateAck: {},
	TypeTokenRefresh: {}, TypeTokenRefreshAck: {},
	TypeTokenValidate: {}, TypeTokenValidateAck: {},
	TypeSessionCreate: {}, TypeSessionCreateAck: {},
	TypeSessionJoin: {}, TypeSessionJoinAck: {},
	TypeSessionLeave: {}, TypeSessionLeaveAck: {},
	TypeSessionEnd: {}, TypeSessionEndAck: {},
	TypeSessionPause: {}, TypeSessionPauseAck: {},
	TypeSessionResume: {}, TypeSessionResumeAck: {},
	TypeTerminal: {}, TypeEditor: {}, TypeExtension: {},
	TypeNotification: {}, TypeServerShutdown: {}, TypeError: {},
	TypeClientInfo: {}, TypeClientUpdate: {},
	TypeToolInvoke: {}, TypeToolResponse: {},
}

// IsKnownType reports whether t belongs to the closed message type set.
func IsKnownType(t string) bool {
	_, ok := knownTypes[t]
	return ok
}

// Message is the wire envelope: one JSON object per frame.
type Message struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Timestamp  string          `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
	ResponseTo string          `json:"responseTo,omitempty"`
}

// Now formats the current time as the wire timestamp (UTC, trailing Z).
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// AckType returns the response type for a request type.
func AckType(requestType string) string {
	return requestType + "_ack"
}

// NewMessage builds an envelope with a freshly stamped timestamp. The
// payload must marshal cleanly; marshal failures degrade to an empty
// object rather than dropping the frame.
func NewMessage(msgType, id string, payload any) *Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	return &Message{
		Type:      msgType,
		ID:        id,
		Timestamp: Now(),
		Payload:   raw,
	}
}

// NewResponse builds the ack for a request, correlating via responseTo.
func NewResponse(req *Message, payload any) *Message {
	resp := NewMessage(AckType(req.Type), req.ID, payload)
	resp.ResponseTo = req.ID
	return resp
}

// ErrorPayload is the payload of a type="error" message.
type ErrorPayload struct {
	Code           Code           `json:"code"`
	Message        string         `json:"message"`
	RelatedTo      string         `json:"relatedTo,omitempty"`
	Fatal          bool           `json:"fatal,omitempty"`
	Category       Category       `json:"category,omitempty"`
	Retryable      bool           `json:"retryable"`
	RecoveryAction string         `json:"recoveryAction,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// NewErrorMessage builds a type="error" response for a failed request.
// relatedTo carries the offending request's id when known.
func NewErrorMessage(relatedTo string, perr *Error) *Message {
	payload := ErrorPayload{
		Code:           perr.Code,
		Message:        perr.Message,
		RelatedTo:      relatedTo,
		Fatal:          perr.Fatal,
		Category:       CategoryOf(perr.Code),
		Retryable:      IsRetryable(perr.Code),
		RecoveryAction: RecoveryAction(perr.Code),
		Details:        perr.Details,
	}
	msg := NewMessage(TypeError, relatedTo, payload)
	msg.ResponseTo = relatedTo
	return msg
}

// DecodePayload unmarshals the message payload into dst.
func (m *Message) DecodePayload(dst any) error {
	if len(m.Payload) == 0 {
		return Errorf(CodeInvalidMessageFormat, "payload is required")
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return Errorf(CodeInvalidMessageFormat, "malformed payload: %v", err)
	}
	return nil
}
