package server

import (
	"errors"
	"time"

	"github.com/ConclaveHQ/conclave/internal/auth"
	"github.com/ConclaveHQ/conclave/internal/conn"
	"github.com/ConclaveHQ/conclave/internal/logger"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// tokenRefreshWindow is how close to expiry a token may get before the
// authenticate ack recommends a refresh.
const tokenRefreshWindow = 5 * time.Minute

// expiryOf returns the token's expiry as a plain time, zero for
// non-expiring tokens.
func expiryOf(token *auth.Token) time.Time {
	if token.ExpiresAt == nil {
		return time.Time{}
	}
	return *token.ExpiresAt
}

// registerHandlers binds every client-originated message type to its
// handler. Acks, notifications, and server_shutdown stay unroutable.
func (s *Server) registerHandlers() {
	s.router.Handle(protocol.TypeConnection, s.handleConnection)
	s.router.Handle(protocol.TypeDisconnect, s.handleDisconnect)
	s.router.Handle(protocol.TypePing, s.handlePing)
	s.router.Handle(protocol.TypePong, s.handlePong)
	s.router.Handle(protocol.TypeError, s.handleClientError)
	s.router.Handle(protocol.TypeAuthenticate, s.handleAuthenticate)
	s.router.Handle(protocol.TypeTokenRefresh, s.handleTokenRefresh)
	s.router.Handle(protocol.TypeTokenValidate, s.handleTokenValidate)
	s.router.Handle(protocol.TypeClientInfo, s.handleClientInfo)
	s.router.Handle(protocol.TypeClientUpdate, s.handleClientUpdate)

	s.router.Handle(protocol.TypeSessionCreate, s.handleSessionCreate)
	s.router.Handle(protocol.TypeSessionJoin, s.handleSessionJoin)
	s.router.Handle(protocol.TypeSessionLeave, s.handleSessionLeave)
	s.router.Handle(protocol.TypeSessionEnd, s.handleSessionEnd)
	s.router.Handle(protocol.TypeSessionPause, s.handleSessionPause)
	s.router.Handle(protocol.TypeSessionResume, s.handleSessionResume)

	s.router.Handle(protocol.TypeTerminal, s.handleTerminal)
	s.router.Handle(protocol.TypeEditor, s.handleEditor)
	s.router.Handle(protocol.TypeExtension, s.handleExtension)

	s.router.Handle(protocol.TypeToolInvoke, s.handleToolInvoke)
}

// handleConnection answers connection frames sent after the handshake.
// The record already exists; the ack is a fresh status snapshot.
func (s *Server) handleConnection(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.ConnectionPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	if p.ClientID != client.ID {
		return nil, protocol.Errorf(protocol.CodeClientIDInUse,
			"connection is bound to client %s", client.ID)
	}
	return protocol.NewResponse(msg, s.connectionAck()), nil
}

// handleDisconnect acks first, then removes the client after a brief
// grace so the ack flushes. A repeated disconnect inside the grace is
// acked again and changes nothing.
func (s *Server) handleDisconnect(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.DisconnectPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}

	if client.State() != conn.StateClosing {
		client.SetState(conn.StateClosing)
		reason := p.Reason
		if reason == "" {
			reason = "client disconnect"
		}
		time.AfterFunc(disconnectGrace, func() {
			s.teardown(client, reason)
		})
	}
	return protocol.NewResponse(msg, map[string]any{"status": protocol.StatusAccepted}), nil
}

func (s *Server) handlePing(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.PingPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	pong := protocol.NewMessage(protocol.TypePong, msg.ID, protocol.PongPayload{
		ServerTime:       protocol.Now(),
		ClientTime:       p.ClientTime,
		ConnectedClients: s.conns.Count(),
	})
	pong.ResponseTo = msg.ID
	return pong, nil
}

// handlePong absorbs replies to server-originated pings. The dispatch
// pipeline already refreshed the client's activity clock.
func (s *Server) handlePong(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	return nil, nil
}

// handleClientError logs client-reported errors; no reply is owed.
func (s *Server) handleClientError(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.ErrorPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	logger.Error("client %s reported error %s: %s", client.ID, p.Code, p.Message)
	return nil, nil
}

func (s *Server) handleAuthenticate(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.AuthenticatePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}

	if !s.cfg.Auth.Enabled || s.tokens == nil {
		client.SetAuthenticated("", time.Time{})
		return protocol.NewResponse(msg, protocol.AuthenticateAckPayload{
			Status: protocol.StatusAccepted,
		}), nil
	}

	token, err := s.tokens.ValidateToken(p.Token)
	if err != nil {
		// A failed attempt downgrades whatever standing the client had.
		client.SetState(conn.StateConnected)
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			return nil, protocol.Errorf(protocol.CodeAuthExpired, "token has expired")
		default:
			return nil, protocol.Errorf(protocol.CodeAuthFailed, "invalid token")
		}
	}
	if !token.CanAccessWorkspace(client.WorkspaceID) {
		return nil, protocol.Errorf(protocol.CodePermissionDenied,
			"token scope %s does not cover workspace %s", token.Scope, client.WorkspaceID)
	}

	client.SetAuthenticated(token.Hash, expiryOf(token))
	ack := protocol.AuthenticateAckPayload{
		Status:             protocol.StatusAccepted,
		Permissions:        []string{token.Scope},
		RefreshRecommended: token.AboutToExpire(time.Now(), tokenRefreshWindow),
	}
	if token.ExpiresAt != nil {
		ack.TokenValidUntil = token.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return protocol.NewResponse(msg, ack), nil
}

func (s *Server) handleTokenRefresh(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.TokenRefreshPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	if !s.cfg.Auth.Enabled || s.tokens == nil {
		return nil, protocol.Errorf(protocol.CodeAuthRequired, "authentication is disabled")
	}

	accessTTL := s.cfg.TokenTTL()
	refreshTTL := s.cfg.RefreshTokenTTL()
	token, err := s.tokens.RefreshToken(p.RefreshToken, &accessTTL, &refreshTTL)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRefreshExpired):
			return nil, protocol.Errorf(protocol.CodeAuthExpired, "refresh token has expired")
		default:
			return nil, protocol.Errorf(protocol.CodeAuthFailed, "refresh token rejected")
		}
	}

	client.SetAuthenticated(token.Hash, expiryOf(token))
	ack := protocol.TokenRefreshAckPayload{
		Status:       protocol.StatusAccepted,
		Token:        token.ID,
		RefreshToken: token.RefreshToken,
	}
	if token.ExpiresAt != nil {
		ack.TokenValidUntil = token.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return protocol.NewResponse(msg, ack), nil
}

// handleTokenValidate checks a token without changing the client's
// standing. Invalid tokens ack with valid=false rather than erroring.
func (s *Server) handleTokenValidate(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.TokenValidatePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	if !s.cfg.Auth.Enabled || s.tokens == nil {
		return protocol.NewResponse(msg, protocol.TokenValidateAckPayload{Valid: true}), nil
	}

	token, err := s.tokens.ValidateToken(p.Token)
	if err != nil {
		return protocol.NewResponse(msg, protocol.TokenValidateAckPayload{Valid: false}), nil
	}
	ack := protocol.TokenValidateAckPayload{Valid: true}
	if token.ExpiresAt != nil {
		ack.TokenValidUntil = token.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return protocol.NewResponse(msg, ack), nil
}

func (s *Server) handleClientInfo(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	return protocol.NewResponse(msg, clientSnapshot(client)), nil
}

func (s *Server) handleClientUpdate(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.ClientUpdatePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	client.UpdateProfile(p.Capabilities, p.Metadata)
	return protocol.NewResponse(msg, clientSnapshot(client)), nil
}

func clientSnapshot(client *conn.Client) map[string]any {
	return map[string]any{
		"clientId":      client.ID,
		"workspaceId":   client.WorkspaceID,
		"state":         client.State().String(),
		"authenticated": client.Authenticated(),
		"capabilities":  client.Capabilities(),
		"connectedAt":   client.ConnectedAt.UTC().Format(time.RFC3339),
		"lastActivity":  client.LastActivity().UTC().Format(time.RFC3339),
		"sessions":      client.Sessions(),
	}
}
