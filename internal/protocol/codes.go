package protocol

import "fmt"

// Category classifies an error code for propagation policy decisions.
type Category string

const (
	CategoryProtocol Category = "PROTOCOL"
	CategoryAuth     Category = "AUTH"
	CategorySession  Category = "SESSION"
	CategoryResource Category = "RESOURCE"
	CategoryServer   Category = "SERVER"
	CategoryClient   Category = "CLIENT"
)

// Code identifies a protocol error condition.
type Code string

const (
	CodeInvalidMessageFormat Code = "INVALID_MESSAGE_FORMAT"
	CodeUnknownMessageType   Code = "UNKNOWN_MESSAGE_TYPE"
	CodeMissingRequiredField Code = "MISSING_REQUIRED_FIELD"
	CodeInvalidFieldValue    Code = "INVALID_FIELD_VALUE"

	CodeAuthFailed             Code = "AUTH_FAILED"
	CodeAuthExpired            Code = "AUTH_EXPIRED"
	CodeAuthRequired           Code = "AUTH_REQUIRED"
	CodeClientNotAuthenticated Code = "CLIENT_NOT_AUTHENTICATED"

	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeSessionAlreadyExists Code = "SESSION_ALREADY_EXISTS"
	CodeSessionJoinRejected  Code = "SESSION_JOIN_REJECTED"
	CodeSessionFull          Code = "SESSION_FULL"

	CodeResourceNotFound      Code = "RESOURCE_NOT_FOUND"
	CodeResourceLocked        Code = "RESOURCE_LOCKED"
	CodeResourceLimitExceeded Code = "RESOURCE_LIMIT_EXCEEDED"
	CodeResourceConflict      Code = "RESOURCE_CONFLICT"

	CodeServerError        Code = "SERVER_ERROR"
	CodeServerOverloaded   Code = "SERVER_OVERLOADED"
	CodeServerMaintenance  Code = "SERVER_MAINTENANCE"
	CodeServerShuttingDown Code = "SERVER_SHUTTING_DOWN"

	CodeClientTimeout            Code = "CLIENT_TIMEOUT"
	CodeClientRateLimited        Code = "CLIENT_RATE_LIMITED"
	CodeClientVersionUnsupported Code = "CLIENT_VERSION_UNSUPPORTED"
	CodeMaxClientsReached        Code = "MAX_CLIENTS_REACHED"
	CodeClientIDInUse            Code = "CLIENT_ID_IN_USE"
	CodePermissionDenied         Code = "PERMISSION_DENIED"
)

// codeInfo holds the static classification for a code.
type codeInfo struct {
	category  Category
	retryable bool
	recovery  string
}

var codeTable = map[Code]codeInfo{
	CodeInvalidMessageFormat: {CategoryProtocol, true, "fix the message envelope and resend"},
	CodeUnknownMessageType:   {CategoryProtocol, true, "use a supported message type"},
	CodeMissingRequiredField: {CategoryProtocol, true, "include the missing field and resend"},
	CodeInvalidFieldValue:    {CategoryProtocol, true, "correct the field value and resend"},

	CodeAuthFailed:             {CategoryAuth, false, "verify credentials and authenticate again"},
	CodeAuthExpired:            {CategoryAuth, false, "refresh the token or authenticate again"},
	CodeAuthRequired:           {CategoryAuth, false, "authenticate before sending this request"},
	CodeClientNotAuthenticated: {CategoryAuth, false, "authenticate before sending this request"},

	CodeSessionNotFound:      {CategorySession, true, "verify the session ID or create a new session"},
	CodeSessionAlreadyExists: {CategorySession, false, "join the existing session or choose another ID"},
	CodeSessionJoinRejected:  {CategorySession, false, "request access from the session owner"},
	CodeSessionFull:          {CategorySession, false, "wait for a participant to leave"},

	CodeResourceNotFound:      {CategoryResource, true, "verify the resource ID"},
	CodeResourceLocked:        {CategoryResource, true, "retry after a short delay"},
	CodeResourceLimitExceeded: {CategoryResource, false, "close unused resources before creating more"},
	CodeResourceConflict:      {CategoryResource, false, "refresh resource state and reconcile"},

	CodeServerError:        {CategoryServer, true, "retry; contact the operator if it persists"},
	CodeServerOverloaded:   {CategoryServer, true, "back off and retry"},
	CodeServerMaintenance:  {CategoryServer, false, "reconnect after the maintenance window"},
	CodeServerShuttingDown: {CategoryServer, false, "reconnect once the server is back"},

	CodeClientTimeout:            {CategoryClient, true, "resend the request"},
	CodeClientRateLimited:        {CategoryClient, true, "slow down and retry"},
	CodeClientVersionUnsupported: {CategoryClient, false, "upgrade the client"},
	CodeMaxClientsReached:        {CategoryClient, false, "wait for a connection slot to free up"},
	CodeClientIDInUse:            {CategoryClient, false, "choose a different client ID"},
	CodePermissionDenied:         {CategoryClient, false, "join the session before mutating its resources"},
}

// CategoryOf returns the category for a code, defaulting to SERVER for
// unrecognized codes.
func CategoryOf(code Code) Category {
	if info, ok := codeTable[code]; ok {
		return info.category
	}
	return CategoryServer
}

// IsRetryable reports whether a client may usefully retry after this code.
func IsRetryable(code Code) bool {
	if info, ok := codeTable[code]; ok {
		return info.retryable
	}
	return false
}

// RecoveryAction returns the advisory recovery string for a code.
func RecoveryAction(code Code) string {
	if info, ok := codeTable[code]; ok {
		return info.recovery
	}
	return ""
}

// Error is a protocol-level error carrying its code classification.
// It satisfies the error interface so handlers can return it directly.
type Error struct {
	Code    Code
	Message string
	Fatal   bool
	Details map[string]any
}

// Errorf builds a protocol error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Fatalf builds a fatal protocol error. Fatal errors take the
// synchronous delivery path so a full queue cannot drop them.
func Fatalf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Fatal: true}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsError coerces any error into a protocol error. Non-protocol errors
// become SERVER_ERROR so internal details never pick the wrong category.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*Error); ok {
		return pe
	}
	return &Error{Code: CodeServerError, Message: err.Error()}
}
