package router

import (
	"sync"
	"time"

	"github.com/ConclaveHQ/conclave/internal/metrics"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// DefaultRequestTimeout bounds server-originated requests to clients.
const DefaultRequestTimeout = 30 * time.Second

// Result resolves a pending request: either the client's response or an
// error (timeout, cancellation).
type Result struct {
	Msg *protocol.Message
	Err *protocol.Error
}

type pendingEntry struct {
	requestType string
	ch          chan Result
	timer       *time.Timer
}

// Pending tracks server-originated requests awaiting a client response.
// Resolution is first-write-wins; unresolved entries fail with
// CLIENT_TIMEOUT at their deadline. Entries never outlive resolution or
// timeout.
type Pending struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	timeout time.Duration
}

// NewPending creates a pending-request table with the given timeout.
func NewPending(timeout time.Duration) *Pending {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Pending{
		entries: make(map[string]*pendingEntry),
		timeout: timeout,
	}
}

// Register adds an entry for requestID and returns the channel its
// Result will arrive on. At most one entry may exist per requestID.
func (p *Pending) Register(requestID, requestType string) (<-chan Result, *protocol.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[requestID]; exists {
		return nil, protocol.Errorf(protocol.CodeInvalidFieldValue,
			"request ID already pending: %s", requestID)
	}

	e := &pendingEntry{
		requestType: requestType,
		ch:          make(chan Result, 1),
	}
	e.timer = time.AfterFunc(p.timeout, func() {
		p.fail(requestID, protocol.Errorf(protocol.CodeClientTimeout,
			"no response to %s request %s within %s", requestType, requestID, p.timeout))
	})
	p.entries[requestID] = e
	metrics.PendingRequests.Set(float64(len(p.entries)))
	return e.ch, nil
}

// Resolve delivers a client response to the matching pending entry.
// Returns false when no entry exists (already resolved, timed out, or
// never registered).
func (p *Pending) Resolve(requestID string, msg *protocol.Message) bool {
	e := p.take(requestID)
	if e == nil {
		return false
	}
	e.timer.Stop()
	e.ch <- Result{Msg: msg}
	return true
}

// Cancel fails a pending entry, typically because its client
// disconnected.
func (p *Pending) Cancel(requestID string, reason *protocol.Error) bool {
	e := p.take(requestID)
	if e == nil {
		return false
	}
	e.timer.Stop()
	e.ch <- Result{Err: reason}
	return true
}

func (p *Pending) fail(requestID string, perr *protocol.Error) {
	e := p.take(requestID)
	if e == nil {
		return
	}
	e.ch <- Result{Err: perr}
}

// take removes and returns the entry, or nil.
func (p *Pending) take(requestID string) *pendingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[requestID]
	if !ok {
		return nil
	}
	delete(p.entries, requestID)
	metrics.PendingRequests.Set(float64(len(p.entries)))
	return e
}

// Len returns the number of in-flight entries.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// CancelAll fails every in-flight entry. Used at shutdown.
func (p *Pending) CancelAll(reason *protocol.Error) {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*pendingEntry)
	metrics.PendingRequests.Set(0)
	p.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		e.ch <- Result{Err: reason}
	}
}
