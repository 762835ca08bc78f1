package server

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ConclaveHQ/conclave/internal/logger"
)

// resourceSweepInterval paces the terminal/editor/extension sweeps,
// which are cheaper than full session eviction.
const resourceSweepInterval = 15 * time.Minute

// Sweeper runs the periodic maintenance jobs: idle session eviction,
// idle resource closure, and expired token pruning.
type Sweeper struct {
	srv  *Server
	cron *cron.Cron
}

// NewSweeper creates the sweeper without starting it.
func NewSweeper(srv *Server) *Sweeper {
	return &Sweeper{srv: srv, cron: cron.New()}
}

// Start schedules the sweep jobs. Session eviction runs on the
// configured cleanup interval; resource sweeps every 15 minutes; token
// pruning hourly when a token store is present.
func (s *Sweeper) Start() {
	sessionSpec := fmt.Sprintf("@every %s", s.srv.cfg.CleanupInterval())
	if _, err := s.cron.AddFunc(sessionSpec, s.sweepSessions); err != nil {
		logger.Error("failed to schedule session sweep: %v", err)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", resourceSweepInterval), s.sweepResources); err != nil {
		logger.Error("failed to schedule resource sweep: %v", err)
	}
	if s.srv.tokens != nil {
		if _, err := s.cron.AddFunc("@hourly", s.pruneTokens); err != nil {
			logger.Error("failed to schedule token pruning: %v", err)
		}
	}
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweepSessions() {
	if n := s.srv.sessions.SweepInactive(time.Now()); n > 0 {
		logger.Info("evicted %d inactive session(s)", n)
	}
}

func (s *Sweeper) sweepResources() {
	s.srv.sessions.SweepResources(time.Now())
}

func (s *Sweeper) pruneTokens() {
	n, err := s.srv.tokens.PruneExpired()
	if err != nil {
		logger.Error("token pruning failed: %v", err)
		return
	}
	if n > 0 {
		logger.Info("pruned %d expired token(s)", n)
	}
}
