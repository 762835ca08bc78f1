package server

import (
	"testing"
	"time"

	"github.com/ConclaveHQ/conclave/internal/protocol"
)

func TestErrorTrackerFlagsAtThreshold(t *testing.T) {
	tr := NewErrorTracker(time.Minute, 3)
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }

	if tr.Record(protocol.CodeSessionNotFound) {
		t.Error("first occurrence should not flag")
	}
	if tr.Record(protocol.CodeSessionNotFound) {
		t.Error("second occurrence should not flag")
	}
	if !tr.Record(protocol.CodeSessionNotFound) {
		t.Error("third occurrence should flag")
	}
	if got := tr.Count(protocol.CodeSessionNotFound); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
}

func TestErrorTrackerWindowSlides(t *testing.T) {
	tr := NewErrorTracker(time.Minute, 3)
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }

	tr.Record(protocol.CodeAuthFailed)
	tr.Record(protocol.CodeAuthFailed)

	// Old occurrences age out of the window.
	now = now.Add(2 * time.Minute)
	if tr.Record(protocol.CodeAuthFailed) {
		t.Error("aged-out occurrences should not count toward the threshold")
	}
	if got := tr.Count(protocol.CodeAuthFailed); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
}

func TestErrorTrackerCodesAreIndependent(t *testing.T) {
	tr := NewErrorTracker(time.Minute, 2)
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }

	tr.Record(protocol.CodeAuthFailed)
	if tr.Record(protocol.CodeSessionNotFound) {
		t.Error("counts must not bleed across codes")
	}
}
