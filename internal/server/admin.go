package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ConclaveHQ/conclave/internal/auth"
	"github.com/ConclaveHQ/conclave/internal/logger"
	"github.com/ConclaveHQ/conclave/internal/metrics"
)

// ServeAdmin starts the HTTP admin surface: health and metrics
// endpoints plus an MCP endpoint exposing the admin tools. It blocks
// for the lifetime of the listener.
func (s *Server) ServeAdmin() error {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "conclave",
		Version: "0.1.0",
	}, nil)
	s.registerAdminTools(mcpServer)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return mcpServer
	}, &mcp.StreamableHTTPOptions{
		EventStore: mcp.NewMemoryEventStore(nil),
	})

	loggingHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("HTTP %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mcpHandler.ServeHTTP(w, r)
	})

	authed := s.adminAuthMiddleware()(loggingHandler)
	rateLimited := auth.RateLimitMiddleware(auth.DefaultRateLimiter())(authed)

	mainMux := http.NewServeMux()
	mainMux.HandleFunc("/health", s.handleHealthCheck)
	mainMux.HandleFunc("/ready", s.handleReadinessCheck)
	mainMux.Handle("/metrics", metrics.Handler())
	mainMux.Handle("/mcp", metrics.Middleware(rateLimited))
	mainMux.Handle("/mcp/", metrics.Middleware(rateLimited))

	addr := s.cfg.AdminAddr()
	logger.Info("admin surface listening on %s", addr)
	return http.ListenAndServe(addr, mainMux)
}

// adminAuthMiddleware prefers token-store authentication, restricted to
// admin-scoped tokens; with auth disabled it falls back to the static
// admin token from configuration.
func (s *Server) adminAuthMiddleware() func(http.Handler) http.Handler {
	if s.tokens != nil {
		return auth.AdminMiddleware(s.tokens)
	}
	staticToken := s.cfg.Admin.Token
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if staticToken == "" {
				logger.Error("admin MCP request rejected: no admin token configured")
				http.Error(w, "admin surface not configured", http.StatusForbidden)
				return
			}
			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if presented != staticToken {
				http.Error(w, "invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReadinessCheck verifies the server can serve requests. A
// provisioner that cannot reach its runtime makes the server not ready.
func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready","reason":"shutting down"}`))
		return
	}
	if pinger, ok := s.provisioner.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready","reason":"container runtime unavailable"}`))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
