// Package router validates inbound messages, enforces authentication
// and rate limits, and dispatches to per-type handlers.
package router

import (
	"time"

	"github.com/ConclaveHQ/conclave/internal/auth"
	"github.com/ConclaveHQ/conclave/internal/conn"
	"github.com/ConclaveHQ/conclave/internal/metrics"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// HandlerFunc processes one request and returns the response to send.
// A nil response with a nil error means the handler replied through
// another path (or no reply is owed).
type HandlerFunc func(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error)

// Router is the single entry point for inbound client messages.
type Router struct {
	handlers    map[string]HandlerFunc
	authExempt  map[string]struct{}
	authEnabled bool
	limiter     *auth.RateLimiter
	pending     *Pending
}

// New creates a router. limiter may be nil to disable rate limiting.
func New(authEnabled bool, limiter *auth.RateLimiter, pending *Pending) *Router {
	return &Router{
		handlers:    make(map[string]HandlerFunc),
		authEnabled: authEnabled,
		limiter:     limiter,
		pending:     pending,
		authExempt: map[string]struct{}{
			protocol.TypeConnection:    {},
			protocol.TypePing:          {},
			protocol.TypePong:          {},
			protocol.TypeAuthenticate:  {},
			protocol.TypeTokenRefresh:  {},
			protocol.TypeTokenValidate: {},
			protocol.TypeDisconnect:    {},
			protocol.TypeError:         {},
			protocol.TypeToolResponse:  {},
		},
	}
}

// Handle registers the handler for a message type.
func (r *Router) Handle(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Pending exposes the pending-request table for handlers that originate
// server-to-client requests.
func (r *Router) Pending() *Pending {
	return r.pending
}

// Dispatch runs the full pipeline for one inbound message and returns
// the response to write back, which may be nil.
func (r *Router) Dispatch(client *conn.Client, msg *protocol.Message) *protocol.Message {
	start := time.Now()

	if perr := protocol.Validate(msg); perr != nil {
		metrics.ObserveMessage(msg.Type, "invalid", time.Since(start))
		return protocol.NewErrorMessage(msg.ID, perr)
	}

	client.Touch()

	if r.limiter != nil && !r.limiter.Allow(client.ID) {
		metrics.ObserveMessage(msg.Type, "rate_limited", time.Since(start))
		return protocol.NewErrorMessage(msg.ID, protocol.Errorf(
			protocol.CodeClientRateLimited, "too many requests"))
	}

	// Responses to server-originated requests resolve the pending table
	// instead of dispatching to a handler.
	if msg.Type == protocol.TypeToolResponse {
		return r.resolveToolResponse(msg)
	}

	if r.authEnabled {
		if _, exempt := r.authExempt[msg.Type]; !exempt {
			if !client.Authenticated() {
				metrics.ObserveMessage(msg.Type, "unauthenticated", time.Since(start))
				return protocol.NewErrorMessage(msg.ID, protocol.Errorf(
					protocol.CodeClientNotAuthenticated,
					"authenticate before sending %s", msg.Type))
			}
			// Expiry is enforced per request, not only at authenticate
			// time. An expired credential demotes the client until it
			// refreshes or re-authenticates.
			if client.AuthExpired(time.Now()) {
				client.SetState(conn.StateConnected)
				metrics.ObserveMessage(msg.Type, "auth_expired", time.Since(start))
				return protocol.NewErrorMessage(msg.ID, protocol.Errorf(
					protocol.CodeAuthExpired,
					"access token expired, refresh or re-authenticate"))
			}
		}
	}

	handler, ok := r.handlers[msg.Type]
	if !ok {
		// Known type with no handler: acks and notifications a client
		// should not be sending.
		metrics.ObserveMessage(msg.Type, "unroutable", time.Since(start))
		return protocol.NewErrorMessage(msg.ID, protocol.Errorf(
			protocol.CodeInvalidMessageFormat,
			"message type %s is not accepted from clients", msg.Type))
	}

	resp, perr := handler(client, msg)
	if perr != nil {
		metrics.ObserveMessage(msg.Type, "error", time.Since(start))
		return protocol.NewErrorMessage(msg.ID, perr)
	}
	metrics.ObserveMessage(msg.Type, "ok", time.Since(start))
	return resp
}

func (r *Router) resolveToolResponse(msg *protocol.Message) *protocol.Message {
	var p protocol.ToolResponsePayload
	if err := msg.DecodePayload(&p); err != nil {
		return protocol.NewErrorMessage(msg.ID, protocol.AsError(err))
	}
	if r.pending == nil || !r.pending.Resolve(p.RequestID, msg) {
		// Late response after timeout; nothing is owed.
		return nil
	}
	return nil
}
