package server

import (
	"github.com/ConclaveHQ/conclave/internal/conn"
	"github.com/ConclaveHQ/conclave/internal/protocol"
	"github.com/ConclaveHQ/conclave/internal/session"
)

// handleExtension dispatches on the payload action. Unlike editors, a
// stale extension update is rejected outright; the error details carry
// the current version.
func (s *Server) handleExtension(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.ExtensionPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}

	switch p.Action {
	case protocol.ExtensionActionRegister:
		info, perr := s.sessions.RegisterExtension(p.SessionID, client.ID, p.ExtensionID, p.State)
		if perr != nil {
			return nil, perr
		}
		return reply(msg, extensionAck(p.Action, info)), nil

	case protocol.ExtensionActionUpdate:
		info, perr := s.sessions.UpdateExtension(p.SessionID, client.ID, p.ExtensionID, p.State, p.Version)
		if perr != nil {
			return nil, perr
		}
		return reply(msg, extensionAck(p.Action, info)), nil

	case protocol.ExtensionActionReset:
		info, perr := s.sessions.ResetExtension(p.SessionID, client.ID, p.ExtensionID, p.State)
		if perr != nil {
			return nil, perr
		}
		return reply(msg, extensionAck(p.Action, info)), nil

	case protocol.ExtensionActionGet:
		info, perr := s.sessions.GetExtension(p.SessionID, client.ID, p.ExtensionID)
		if perr != nil {
			return nil, perr
		}
		return reply(msg, extensionAck(p.Action, info)), nil

	case protocol.ExtensionActionUnregister:
		if perr := s.sessions.UnregisterExtension(p.SessionID, client.ID, p.ExtensionID); perr != nil {
			return nil, perr
		}
		return reply(msg, map[string]any{
			"action":      p.Action,
			"status":      protocol.StatusAccepted,
			"extensionId": p.ExtensionID,
		}), nil

	default:
		return nil, protocol.Errorf(protocol.CodeInvalidFieldValue,
			"unknown extension action: %s", p.Action)
	}
}

func extensionAck(action string, info *session.ExtensionInfo) map[string]any {
	return map[string]any{
		"action":    action,
		"status":    protocol.StatusAccepted,
		"extension": info,
	}
}
