package server

import (
	"sync"
	"time"

	"github.com/ConclaveHQ/conclave/internal/logger"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// Error tracker defaults: flag a code recurring 25 times inside a
// minute.
const (
	DefaultTrackerWindow    = time.Minute
	DefaultTrackerThreshold = 25
)

// ErrorTracker counts errors per code over a sliding window and logs a
// pattern warning when a code crosses the threshold. At most one
// warning per code per window.
type ErrorTracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	events    map[protocol.Code][]time.Time
	flagged   map[protocol.Code]time.Time
	now       func() time.Time
}

// NewErrorTracker creates a tracker with the given window and threshold.
func NewErrorTracker(window time.Duration, threshold int) *ErrorTracker {
	if window <= 0 {
		window = DefaultTrackerWindow
	}
	if threshold <= 0 {
		threshold = DefaultTrackerThreshold
	}
	return &ErrorTracker{
		window:    window,
		threshold: threshold,
		events:    make(map[protocol.Code][]time.Time),
		flagged:   make(map[protocol.Code]time.Time),
		now:       time.Now,
	}
}

// Record counts one occurrence of code and reports whether the code is
// currently flagged as a pattern.
func (t *ErrorTracker) Record(code protocol.Code) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.window)

	events := t.events[code]
	kept := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	t.events[code] = kept

	if len(kept) < t.threshold {
		return false
	}
	if last, ok := t.flagged[code]; !ok || now.Sub(last) >= t.window {
		t.flagged[code] = now
		logger.Error("error pattern: %s occurred %d times in the last %s",
			code, len(kept), t.window)
	}
	return true
}

// Count returns how many occurrences of code fall inside the window.
func (t *ErrorTracker) Count(code protocol.Code) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.window)
	n := 0
	for _, ts := range t.events[code] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
