package protocol

import (
	"encoding/json"
	"regexp"
)

// timestampRegex matches ISO-8601 UTC timestamps with optional fractional
// seconds and a mandatory trailing Z.
var timestampRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z$`)

// ValidTimestamp reports whether ts matches the wire timestamp format.
func ValidTimestamp(ts string) bool {
	return timestampRegex.MatchString(ts)
}

// Validate performs two-phase validation: envelope first, then the
// payload validator registered for the message type. A nil return means
// the message may be dispatched.
func Validate(m *Message) *Error {
	if err := validateEnvelope(m); err != nil {
		return err
	}
	if v, ok := payloadValidators[m.Type]; ok {
		return v(m)
	}
	return nil
}

func validateEnvelope(m *Message) *Error {
	if m.Type == "" {
		return Errorf(CodeMissingRequiredField, "type is required")
	}
	if !IsKnownType(m.Type) {
		return Errorf(CodeUnknownMessageType, "unknown message type: %s", m.Type)
	}
	if m.ID == "" {
		return Errorf(CodeMissingRequiredField, "id is required")
	}
	if m.Timestamp == "" {
		return Errorf(CodeMissingRequiredField, "timestamp is required")
	}
	if !ValidTimestamp(m.Timestamp) {
		return Errorf(CodeInvalidFieldValue, "timestamp must be ISO-8601 UTC: %s", m.Timestamp)
	}
	if len(m.Payload) == 0 {
		return Errorf(CodeMissingRequiredField, "payload is required")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(m.Payload, &obj); err != nil {
		return Errorf(CodeInvalidMessageFormat, "payload must be an object")
	}
	return nil
}

type payloadValidator func(*Message) *Error

var payloadValidators = map[string]payloadValidator{
	TypeConnection:    validateConnection,
	TypeAuthenticate:  validateAuthenticate,
	TypeTokenRefresh:  validateTokenRefresh,
	TypeTokenValidate: validateTokenValidate,
	TypeSessionCreate: validateSessionCreate,
	TypeSessionJoin:   validateSessionJoin,
	TypeSessionLeave:  validateSessionRef,
	TypeSessionEnd:    validateSessionRef,
	TypeSessionPause:  validateSessionRef,
	TypeSessionResume: validateSessionRef,
	TypeTerminal:      validateTerminal,
	TypeEditor:        validateEditor,
	TypeExtension:     validateExtension,
	TypeToolInvoke:    validateToolInvoke,
	TypeToolResponse:  validateToolResponse,
}

func validateConnection(m *Message) *Error {
	var p ConnectionPayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	if p.ClientID == "" {
		return Errorf(CodeMissingRequiredField, "clientId is required")
	}
	if p.WorkspaceID == "" {
		return Errorf(CodeMissingRequiredField, "workspaceId is required")
	}
	return nil
}

func validateAuthenticate(m *Message) *Error {
	var p AuthenticatePayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	if p.Token == "" {
		return Errorf(CodeMissingRequiredField, "token is required")
	}
	switch p.AuthMethod {
	case "token", "oauth":
	case "":
		return Errorf(CodeMissingRequiredField, "authMethod is required")
	default:
		return Errorf(CodeInvalidFieldValue, "unsupported authMethod: %s", p.AuthMethod)
	}
	return nil
}

func validateTokenRefresh(m *Message) *Error {
	var p TokenRefreshPayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	if p.RefreshToken == "" {
		return Errorf(CodeMissingRequiredField, "refreshToken is required")
	}
	return nil
}

func validateTokenValidate(m *Message) *Error {
	var p TokenValidatePayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	if p.Token == "" {
		return Errorf(CodeMissingRequiredField, "token is required")
	}
	return nil
}

func validateSessionCreate(m *Message) *Error {
	var p SessionCreatePayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	if p.CreatedBy == "" {
		return Errorf(CodeMissingRequiredField, "createdBy is required")
	}
	if p.WorkspaceID == "" {
		return Errorf(CodeMissingRequiredField, "workspaceId is required")
	}
	return nil
}

func validateSessionJoin(m *Message) *Error {
	var p SessionJoinPayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	if p.SessionID == "" {
		return Errorf(CodeMissingRequiredField, "sessionId is required")
	}
	if p.ClientID == "" {
		return Errorf(CodeMissingRequiredField, "clientId is required")
	}
	if p.WorkspaceID == "" {
		return Errorf(CodeMissingRequiredField, "workspaceId is required")
	}
	return nil
}

func validateSessionRef(m *Message) *Error {
	var p SessionRefPayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	if p.SessionID == "" {
		return Errorf(CodeMissingRequiredField, "sessionId is required")
	}
	return nil
}

func validateTerminal(m *Message) *Error {
	var p TerminalPayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	switch p.Action {
	case TerminalActionCreate:
		if p.SessionID == "" {
			return Errorf(CodeMissingRequiredField, "sessionId is required for terminal create")
		}
	case TerminalActionInput, TerminalActionOutput:
		if p.TerminalID == "" {
			return Errorf(CodeMissingRequiredField, "terminalId is required")
		}
		if p.Data == "" {
			return Errorf(CodeMissingRequiredField, "data is required")
		}
	case TerminalActionResize:
		if p.TerminalID == "" {
			return Errorf(CodeMissingRequiredField, "terminalId is required")
		}
		if p.Cols <= 0 || p.Rows <= 0 {
			return Errorf(CodeInvalidFieldValue, "cols and rows must be positive")
		}
	case TerminalActionBuffer, TerminalActionClose:
		if p.TerminalID == "" {
			return Errorf(CodeMissingRequiredField, "terminalId is required")
		}
	case "":
		return Errorf(CodeMissingRequiredField, "action is required")
	default:
		return Errorf(CodeInvalidFieldValue, "unknown terminal action: %s", p.Action)
	}
	return nil
}

func validateEditor(m *Message) *Error {
	var p EditorPayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	switch p.Action {
	case EditorActionRegister:
		if p.SessionID == "" {
			return Errorf(CodeMissingRequiredField, "sessionId is required for editor register")
		}
		if p.FilePath == "" {
			return Errorf(CodeMissingRequiredField, "filePath is required")
		}
	case EditorActionUpdate:
		if p.EditorID == "" {
			return Errorf(CodeMissingRequiredField, "editorId is required")
		}
		if p.Content == nil {
			return Errorf(CodeMissingRequiredField, "content is required")
		}
		if p.Version < 1 {
			return Errorf(CodeInvalidFieldValue, "version must be >= 1")
		}
	case EditorActionCursor:
		if p.EditorID == "" {
			return Errorf(CodeMissingRequiredField, "editorId is required")
		}
		if p.Cursor == nil {
			return Errorf(CodeMissingRequiredField, "cursor is required")
		}
	case EditorActionSelection:
		if p.EditorID == "" {
			return Errorf(CodeMissingRequiredField, "editorId is required")
		}
	case EditorActionClose, EditorActionGet:
		if p.EditorID == "" {
			return Errorf(CodeMissingRequiredField, "editorId is required")
		}
	case "":
		return Errorf(CodeMissingRequiredField, "action is required")
	default:
		return Errorf(CodeInvalidFieldValue, "unknown editor action: %s", p.Action)
	}
	return nil
}

func validateExtension(m *Message) *Error {
	var p ExtensionPayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	switch p.Action {
	case ExtensionActionRegister, ExtensionActionUpdate, ExtensionActionReset,
		ExtensionActionUnregister, ExtensionActionGet:
	case "":
		return Errorf(CodeMissingRequiredField, "action is required")
	default:
		return Errorf(CodeInvalidFieldValue, "unknown extension action: %s", p.Action)
	}
	if p.SessionID == "" {
		return Errorf(CodeMissingRequiredField, "sessionId is required")
	}
	if p.ExtensionID == "" {
		return Errorf(CodeMissingRequiredField, "extensionId is required")
	}
	switch p.Action {
	case ExtensionActionUpdate, ExtensionActionReset:
		if p.State == nil {
			return Errorf(CodeMissingRequiredField, "state is required")
		}
	}
	return nil
}

func validateToolInvoke(m *Message) *Error {
	var p ToolInvokePayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	if p.Tool == "" {
		return Errorf(CodeMissingRequiredField, "tool is required")
	}
	return nil
}

func validateToolResponse(m *Message) *Error {
	var p ToolResponsePayload
	if err := m.DecodePayload(&p); err != nil {
		return AsError(err)
	}
	if p.RequestID == "" {
		return Errorf(CodeMissingRequiredField, "requestId is required")
	}
	return nil
}
