package server

import (
	"github.com/ConclaveHQ/conclave/internal/conn"
	"github.com/ConclaveHQ/conclave/internal/protocol"
	"github.com/ConclaveHQ/conclave/internal/session"
)

// handleEditor dispatches on the payload action. A stale update is not
// an error: the reply carries accepted=false and the current version so
// the writer can rebase and resend.
func (s *Server) handleEditor(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.EditorPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}

	switch p.Action {
	case protocol.EditorActionRegister:
		info, perr := s.sessions.RegisterEditor(p.SessionID, client.ID, p.FilePath, p.Language)
		if perr != nil {
			return nil, perr
		}
		return reply(msg, editorAck(p.Action, info)), nil

	case protocol.EditorActionUpdate:
		res, perr := s.sessions.UpdateContent(p.EditorID, client.ID, *p.Content, p.Version)
		if perr != nil {
			return nil, perr
		}
		return reply(msg, map[string]any{
			"action":   p.Action,
			"editorId": p.EditorID,
			"accepted": res.Accepted,
			"version":  res.Version,
		}), nil

	case protocol.EditorActionCursor:
		if perr := s.sessions.UpdateCursor(p.EditorID, client.ID, *p.Cursor); perr != nil {
			return nil, perr
		}
		return reply(msg, editorActionAck(p.Action, p.EditorID)), nil

	case protocol.EditorActionSelection:
		if perr := s.sessions.UpdateSelections(p.EditorID, client.ID, p.Selections); perr != nil {
			return nil, perr
		}
		return reply(msg, editorActionAck(p.Action, p.EditorID)), nil

	case protocol.EditorActionGet:
		info, perr := s.sessions.GetEditor(p.EditorID, client.ID)
		if perr != nil {
			return nil, perr
		}
		return reply(msg, editorAck(p.Action, info)), nil

	case protocol.EditorActionClose:
		if perr := s.sessions.CloseEditor(p.EditorID, client.ID); perr != nil {
			return nil, perr
		}
		return reply(msg, editorActionAck(p.Action, p.EditorID)), nil

	default:
		return nil, protocol.Errorf(protocol.CodeInvalidFieldValue,
			"unknown editor action: %s", p.Action)
	}
}

func editorAck(action string, info *session.EditorInfo) map[string]any {
	return map[string]any{
		"action": action,
		"status": protocol.StatusAccepted,
		"editor": info,
	}
}

func editorActionAck(action, editorID string) map[string]any {
	return map[string]any{
		"action":   action,
		"status":   protocol.StatusAccepted,
		"editorId": editorID,
	}
}
