// Package server ties the transport, router, and managers into the
// collaboration server: a TCP listener speaking newline-delimited JSON,
// an HTTP admin surface, and the periodic sweeps that keep state bounded.
package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ConclaveHQ/conclave/internal/auth"
	"github.com/ConclaveHQ/conclave/internal/config"
	"github.com/ConclaveHQ/conclave/internal/conn"
	"github.com/ConclaveHQ/conclave/internal/instance"
	"github.com/ConclaveHQ/conclave/internal/logger"
	"github.com/ConclaveHQ/conclave/internal/notify"
	"github.com/ConclaveHQ/conclave/internal/protocol"
	"github.com/ConclaveHQ/conclave/internal/router"
	"github.com/ConclaveHQ/conclave/internal/session"
)

// disconnectGrace is how long an acknowledged disconnect stays live so
// the ack can flush before the client record is torn down.
const disconnectGrace = 100 * time.Millisecond

// Server is the collaboration server.
type Server struct {
	cfg         *config.Config
	conns       *conn.Manager
	sessions    *session.Manager
	tokens      *auth.Store
	limiter     *auth.RateLimiter
	router      *router.Router
	dispatcher  *notify.Dispatcher
	provisioner instance.Provisioner
	tracker     *ErrorTracker
	tools       map[string]ToolFunc
	sweeper     *Sweeper

	mu       sync.Mutex
	ln       net.Listener
	wg       sync.WaitGroup
	draining atomic.Bool
	downOnce sync.Once
	cleanup  func()
}

// New wires a server from its configuration. tokens may be nil when
// authentication is disabled; provisioner may be nil when no container
// runtime is available (instance tools then report an error).
func New(cfg *config.Config, tokens *auth.Store, provisioner instance.Provisioner) *Server {
	conns := conn.NewManager(cfg.Server.MaxClients)
	dispatcher := notify.NewDispatcher(conns)
	sessions := session.NewManager(limitsFromConfig(cfg), dispatcher)
	limiter := auth.NewRateLimiter(float64(cfg.Auth.RateLimitPerSecond), cfg.Auth.RateLimitBurst)

	s := &Server{
		cfg:         cfg,
		conns:       conns,
		sessions:    sessions,
		tokens:      tokens,
		limiter:     limiter,
		router:      router.New(cfg.Auth.Enabled, limiter, router.NewPending(router.DefaultRequestTimeout)),
		dispatcher:  dispatcher,
		provisioner: provisioner,
		tracker:     NewErrorTracker(DefaultTrackerWindow, DefaultTrackerThreshold),
		tools:       make(map[string]ToolFunc),
	}
	s.sweeper = NewSweeper(s)
	s.registerHandlers()
	s.registerTools()
	return s
}

func limitsFromConfig(cfg *config.Config) session.Limits {
	l := session.DefaultLimits()
	l.TerminalBufferSize = cfg.Terminal.MaxBufferSize
	l.TerminalInactivity = time.Duration(cfg.Terminal.InactivityTimeoutMs) * time.Millisecond
	l.EditorHistorySize = cfg.Editor.MaxHistorySize
	l.EditorInactivity = time.Duration(cfg.Editor.InactivityTimeoutMs) * time.Millisecond
	l.ExtensionHistory = cfg.Extension.MaxHistorySize
	l.ExtensionInactivity = time.Duration(cfg.Extension.InactivityTimeoutMs) * time.Millisecond
	l.SessionInactivity = cfg.SessionInactivity()
	return l
}

// OnCleanup registers a hook invoked once during shutdown, after clients
// have drained.
func (s *Server) OnCleanup(fn func()) {
	s.mu.Lock()
	s.cleanup = fn
	s.mu.Unlock()
}

// Serve listens on the configured address and accepts connections until
// Shutdown. It blocks for the lifetime of the listener.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr(), err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.sweeper.Start()
	logger.Info("conclave server listening on %s (auth=%v, maxClients=%d)",
		s.cfg.ListenAddr(), s.cfg.Auth.Enabled, s.cfg.Server.MaxClients)

	for {
		c, err := ln.Accept()
		if err != nil {
			if s.draining.Load() {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		if s.draining.Load() {
			_ = c.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(c)
		}()
	}
}

// serveConn owns one client connection end to end: handshake, read
// loop, teardown.
func (s *Server) serveConn(c net.Conn) {
	ep := conn.NewEndpoint(c, conn.DefaultQueueSize)
	go func() {
		if err := ep.WriteLoop(); err != nil {
			logger.Error("write loop for %s ended: %v", ep.RemoteAddr(), err)
		}
	}()

	client, ok := s.handshake(ep)
	if !ok {
		ep.Close()
		return
	}
	logger.Info("client %s connected from %s (workspace %s)", client.ID, ep.RemoteAddr(), client.WorkspaceID)

	for {
		msg, err := ep.Read()
		if err != nil {
			break
		}
		if resp := s.dispatch(client, msg); resp != nil {
			if serr := ep.Send(resp); serr != nil {
				logger.Error("failed to send %s to client %s: %v", resp.Type, client.ID, serr)
			}
		}
	}
	s.teardown(client, "connection closed")
}

// handshake requires the first frame to be a connection request and
// performs admission. A failed handshake writes one error frame and
// reports false.
func (s *Server) handshake(ep *conn.Endpoint) (*conn.Client, bool) {
	msg, err := ep.Read()
	if err != nil {
		return nil, false
	}
	if perr := protocol.Validate(msg); perr != nil {
		_ = ep.Send(protocol.NewErrorMessage(msg.ID, perr))
		return nil, false
	}
	if msg.Type != protocol.TypeConnection {
		_ = ep.Send(protocol.NewErrorMessage(msg.ID, protocol.Errorf(
			protocol.CodeInvalidMessageFormat,
			"expected connection, got %s", msg.Type)))
		return nil, false
	}
	if s.draining.Load() {
		_ = ep.Send(protocol.NewErrorMessage(msg.ID, protocol.Fatalf(
			protocol.CodeServerShuttingDown, "server is shutting down")))
		return nil, false
	}

	var p protocol.ConnectionPayload
	if derr := msg.DecodePayload(&p); derr != nil {
		_ = ep.Send(protocol.NewErrorMessage(msg.ID, protocol.AsError(derr)))
		return nil, false
	}

	client := conn.NewClient(p.ClientID, p.WorkspaceID, ep)
	client.SetProfile(p.Capabilities, p.Metadata, p.ClientInfo)
	if perr := s.conns.Add(client); perr != nil {
		_ = ep.Send(protocol.NewErrorMessage(msg.ID, perr))
		return nil, false
	}

	ack := protocol.NewResponse(msg, s.connectionAck())
	if serr := ep.Send(ack); serr != nil {
		s.conns.Remove(client.ID)
		return nil, false
	}
	return client, true
}

func (s *Server) connectionAck() protocol.ConnectionAckPayload {
	return protocol.ConnectionAckPayload{
		Status:             protocol.StatusConnected,
		ServerTime:         protocol.Now(),
		ConnectedClients:   s.conns.Count(),
		AuthRequired:       s.cfg.Auth.Enabled,
		ServerCapabilities: serverCapabilities(),
		SessionCount:       s.sessions.Count(),
	}
}

func serverCapabilities() []string {
	return []string{"sessions", "terminals", "editors", "extensions", "tools"}
}

// dispatch runs the router and feeds the error tracker from error
// responses.
func (s *Server) dispatch(client *conn.Client, msg *protocol.Message) *protocol.Message {
	resp := s.router.Dispatch(client, msg)
	if resp != nil && resp.Type == protocol.TypeError {
		var p protocol.ErrorPayload
		if err := resp.DecodePayload(&p); err == nil {
			s.tracker.Record(p.Code)
		}
	}
	return resp
}

// teardown removes a client and everything keyed to it. Idempotent: the
// registered record must still be this client, otherwise the work was
// already done.
func (s *Server) teardown(client *conn.Client, reason string) {
	registered, ok := s.conns.Get(client.ID)
	if !ok || registered != client {
		return
	}
	affected := s.sessions.RemoveClient(client.ID)
	s.conns.Remove(client.ID)
	s.limiter.Forget(client.ID)
	client.Endpoint.Close()
	logger.Info("client %s disconnected (%s), left %d session(s)", client.ID, reason, len(affected))
}

// reply builds a same-type response for the resource message families
// (terminal, editor, extension), which ack on their own type rather
// than a dedicated ack type.
func reply(req *protocol.Message, payload any) *protocol.Message {
	msg := protocol.NewMessage(req.Type, req.ID, payload)
	msg.ResponseTo = req.ID
	return msg
}
