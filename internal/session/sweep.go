package session

import (
	"time"

	"github.com/ConclaveHQ/conclave/internal/logger"
	"github.com/ConclaveHQ/conclave/internal/metrics"
)

// SweepStats reports what one resource sweep did.
type SweepStats struct {
	TerminalsClosed   int
	TerminalsDeleted  int
	EditorsClosed     int
	EditorsDeleted    int
	ExtensionsRemoved int
}

// SweepResources closes shared resources idle beyond their inactivity
// cutoffs and deletes closed ones older than the retention window.
func (m *Manager) SweepResources(now time.Time) SweepStats {
	var stats SweepStats

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		var deadTerminals, deadEditors []string

		s.mu.Lock()
		for id, t := range s.terminals {
			switch {
			case t.State == ResourceClosed && now.Sub(t.ClosedAt) > m.limits.ResourceMaxAge:
				delete(s.terminals, id)
				deadTerminals = append(deadTerminals, id)
				stats.TerminalsDeleted++
			case t.State != ResourceClosed && now.Sub(t.LastActivity) > m.limits.TerminalInactivity:
				t.State = ResourceClosed
				t.ClosedAt = now
				metrics.SharedResources.WithLabelValues("terminal").Dec()
				stats.TerminalsClosed++
			}
		}
		for id, e := range s.editors {
			switch {
			case e.State == ResourceClosed && now.Sub(e.ClosedAt) > m.limits.ResourceMaxAge:
				delete(s.editors, id)
				deadEditors = append(deadEditors, id)
				stats.EditorsDeleted++
			case e.State != ResourceClosed && now.Sub(e.LastActivity) > m.limits.EditorInactivity:
				e.State = ResourceClosed
				e.ClosedAt = now
				delete(s.editorsByPath, e.FilePath)
				metrics.SharedResources.WithLabelValues("editor").Dec()
				stats.EditorsClosed++
			}
		}
		for id, x := range s.extensions {
			if now.Sub(x.LastActivity) > m.limits.ExtensionInactivity {
				delete(s.extensions, id)
				metrics.SharedResources.WithLabelValues("extension").Dec()
				stats.ExtensionsRemoved++
			}
		}
		s.mu.Unlock()

		if len(deadTerminals) > 0 || len(deadEditors) > 0 {
			m.mu.Lock()
			for _, id := range deadTerminals {
				delete(m.terminalIndex, id)
			}
			for _, id := range deadEditors {
				delete(m.editorIndex, id)
			}
			m.mu.Unlock()
		}
	}

	if stats != (SweepStats{}) {
		logger.Info("resource sweep: closed %d terminals, %d editors; deleted %d terminals, %d editors; removed %d extensions",
			stats.TerminalsClosed, stats.EditorsClosed,
			stats.TerminalsDeleted, stats.EditorsDeleted, stats.ExtensionsRemoved)
	}
	return stats
}
