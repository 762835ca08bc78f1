package server

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ConclaveHQ/conclave/internal/logger"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// shutdownNoticeTimeout bounds the synchronous delivery of the
// server_shutdown notice to each client.
const shutdownNoticeTimeout = 5 * time.Second

// Shutdown drains the server: reject new connections, notify every
// client in parallel, wait for disconnects up to the configured
// timeout, then tear down whatever remains. Idempotent; a second call
// while shutting down is a no-op.
func (s *Server) Shutdown(reason string, plannedRestart bool, estimatedDowntime int) {
	s.downOnce.Do(func() {
		s.shutdown(reason, plannedRestart, estimatedDowntime)
	})
}

func (s *Server) shutdown(reason string, plannedRestart bool, estimatedDowntime int) {
	s.draining.Store(true)
	logger.Info("shutting down: %s (planned restart: %v)", reason, plannedRestart)

	notice := protocol.NewMessage(protocol.TypeServerShutdown, "shutdown",
		protocol.ServerShutdownPayload{
			Reason:            reason,
			Time:              protocol.Now(),
			PlannedRestart:    plannedRestart,
			EstimatedDowntime: estimatedDowntime,
		})

	// Notify everyone in parallel; a stuck client cannot delay the rest.
	var g errgroup.Group
	for _, client := range s.conns.List() {
		client := client
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownNoticeTimeout)
			defer cancel()
			if err := client.Endpoint.SendSync(ctx, notice); err != nil {
				logger.Error("shutdown notice to client %s failed: %v", client.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.awaitDrain(s.cfg.ShutdownTimeout())

	if p := s.router.Pending(); p != nil {
		p.CancelAll(protocol.Errorf(protocol.CodeServerShuttingDown, "server is shutting down"))
	}
	s.sweeper.Stop()

	s.mu.Lock()
	ln := s.ln
	cleanup := s.cleanup
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	// Whoever did not disconnect in time gets torn down now.
	for _, client := range s.conns.List() {
		s.teardown(client, reason)
		client.Endpoint.Abort()
	}

	if cleanup != nil {
		cleanup()
	}
	logger.Info("shutdown complete")
}

// awaitDrain waits for client-initiated disconnects, racing the timeout.
func (s *Server) awaitDrain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.conns.Count() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if n := s.conns.Count(); n > 0 {
		logger.Info("shutdown timeout reached with %d client(s) still connected", n)
	}
}
