package server

import (
	"github.com/ConclaveHQ/conclave/internal/conn"
	"github.com/ConclaveHQ/conclave/internal/protocol"
	"github.com/ConclaveHQ/conclave/internal/session"
)

func (s *Server) handleSessionCreate(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.SessionCreatePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	if p.CreatedBy != client.ID {
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"createdBy must be the requesting client")
	}
	if p.WorkspaceID != client.WorkspaceID {
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"client is connected to workspace %s", client.WorkspaceID)
	}

	info, perr := s.sessions.Create(p.SessionID, p.CreatedBy, p.WorkspaceID, p.Name)
	if perr != nil {
		return nil, perr
	}
	client.JoinSession(info.ID)
	return protocol.NewResponse(msg, sessionAck(protocol.StatusCreated, info)), nil
}

func (s *Server) handleSessionJoin(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.SessionJoinPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	if p.ClientID != client.ID {
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"clientId must be the requesting client")
	}

	info, perr := s.sessions.Join(p.SessionID, client.ID, p.WorkspaceID)
	if perr != nil {
		return nil, perr
	}
	client.JoinSession(info.ID)
	return protocol.NewResponse(msg, sessionAck(protocol.StatusJoined, info)), nil
}

func (s *Server) handleSessionLeave(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.SessionRefPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	if perr := s.sessions.Leave(p.SessionID, client.ID); perr != nil {
		return nil, perr
	}
	client.LeaveSession(p.SessionID)
	return protocol.NewResponse(msg, map[string]any{
		"status":    protocol.StatusAccepted,
		"sessionId": p.SessionID,
	}), nil
}

func (s *Server) handleSessionEnd(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.SessionRefPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	info, perr := s.sessions.End(p.SessionID, client.ID)
	if perr != nil {
		return nil, perr
	}
	// The session is gone; clear it from every participant's record.
	for _, participantID := range info.Participants {
		if c, ok := s.conns.Get(participantID); ok {
			c.LeaveSession(info.ID)
		}
	}
	return protocol.NewResponse(msg, sessionAck(protocol.StatusAccepted, info)), nil
}

func (s *Server) handleSessionPause(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	return s.handleSessionState(client, msg, s.sessions.Pause)
}

func (s *Server) handleSessionResume(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	return s.handleSessionState(client, msg, s.sessions.Resume)
}

func (s *Server) handleSessionState(client *conn.Client, msg *protocol.Message,
	transition func(sessionID, clientID string) (*session.Info, *protocol.Error)) (*protocol.Message, *protocol.Error) {

	var p protocol.SessionRefPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	info, perr := transition(p.SessionID, client.ID)
	if perr != nil {
		return nil, perr
	}
	return protocol.NewResponse(msg, sessionAck(protocol.StatusAccepted, info)), nil
}

func sessionAck(status string, info *session.Info) map[string]any {
	return map[string]any{
		"status":       status,
		"sessionId":    info.ID,
		"name":         info.Name,
		"createdBy":    info.CreatedBy,
		"workspaceId":  info.WorkspaceID,
		"state":        info.State,
		"participants": info.Participants,
	}
}
