package server

import (
	"github.com/ConclaveHQ/conclave/internal/conn"
	"github.com/ConclaveHQ/conclave/internal/protocol"
	"github.com/ConclaveHQ/conclave/internal/session"
)

// handleTerminal dispatches on the payload action. Replies reuse the
// terminal message type with responseTo set.
func (s *Server) handleTerminal(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.TerminalPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}

	switch p.Action {
	case protocol.TerminalActionCreate:
		info, perr := s.sessions.CreateTerminal(p.SessionID, client.ID, session.TerminalOpts{
			Name:  p.Name,
			Shell: p.Shell,
			Cwd:   p.Cwd,
			Cols:  p.Cols,
			Rows:  p.Rows,
		})
		if perr != nil {
			return nil, perr
		}
		return reply(msg, terminalAck(p.Action, info)), nil

	case protocol.TerminalActionInput:
		info, perr := s.sessions.ProcessInput(p.TerminalID, client.ID, p.Data)
		if perr != nil {
			return nil, perr
		}
		return reply(msg, terminalAck(p.Action, info)), nil

	case protocol.TerminalActionOutput:
		info, perr := s.sessions.ProcessOutput(p.TerminalID, p.Data)
		if perr != nil {
			return nil, perr
		}
		return reply(msg, terminalAck(p.Action, info)), nil

	case protocol.TerminalActionResize:
		info, perr := s.sessions.ResizeTerminal(p.TerminalID, client.ID, p.Cols, p.Rows)
		if perr != nil {
			return nil, perr
		}
		return reply(msg, terminalAck(p.Action, info)), nil

	case protocol.TerminalActionBuffer:
		entries, perr := s.sessions.TerminalBuffer(p.TerminalID, client.ID, p.Limit)
		if perr != nil {
			return nil, perr
		}
		return reply(msg, map[string]any{
			"action":     p.Action,
			"status":     protocol.StatusAccepted,
			"terminalId": p.TerminalID,
			"entries":    entries,
		}), nil

	case protocol.TerminalActionClose:
		if perr := s.sessions.CloseTerminal(p.TerminalID, client.ID); perr != nil {
			return nil, perr
		}
		return reply(msg, map[string]any{
			"action":     p.Action,
			"status":     protocol.StatusAccepted,
			"terminalId": p.TerminalID,
		}), nil

	default:
		return nil, protocol.Errorf(protocol.CodeInvalidFieldValue,
			"unknown terminal action: %s", p.Action)
	}
}

func terminalAck(action string, info *session.TerminalInfo) map[string]any {
	return map[string]any{
		"action":   action,
		"status":   protocol.StatusAccepted,
		"terminal": info,
	}
}
