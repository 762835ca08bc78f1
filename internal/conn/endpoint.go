// Package conn manages client connections: newline-delimited JSON
// framing, bounded outbound queues, and connection admission.
package conn

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// DefaultQueueSize bounds the per-client outbound queue.
const DefaultQueueSize = 256

var ErrQueueFull = errors.New("outbound queue full")
var ErrEndpointClosed = errors.New("endpoint closed")

// Endpoint frames messages over a single client connection. One reader
// and one writer goroutine own the two directions; Send may be called
// from any goroutine.
type Endpoint struct {
	conn     net.Conn
	dec      *json.Decoder
	out      chan *protocol.Message
	done     chan struct{}
	closeOne sync.Once
	connOne  sync.Once
}

// NewEndpoint wraps a connection with framing and a bounded outbound
// queue of the given size.
func NewEndpoint(c net.Conn, queueSize int) *Endpoint {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Endpoint{
		conn: c,
		dec:  json.NewDecoder(bufio.NewReader(c)),
		out:  make(chan *protocol.Message, queueSize),
		done: make(chan struct{}),
	}
}

// Read blocks for the next inbound frame. Frames arrive strictly in
// connection order.
func (e *Endpoint) Read() (*protocol.Message, error) {
	var msg protocol.Message
	if err := e.dec.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Send enqueues a message without blocking. A full queue returns
// ErrQueueFull and the message is dropped; callers decide whether the
// drop is tolerable.
func (e *Endpoint) Send(msg *protocol.Message) error {
	select {
	case <-e.done:
		return ErrEndpointClosed
	default:
	}
	select {
	case e.out <- msg:
		return nil
	case <-e.done:
		return ErrEndpointClosed
	default:
		return ErrQueueFull
	}
}

// SendSync enqueues a message, waiting for queue space until the context
// expires. Fatal errors and shutdown notices use this path so they are
// never dropped.
func (e *Endpoint) SendSync(ctx context.Context, msg *protocol.Message) error {
	select {
	case <-e.done:
		return ErrEndpointClosed
	default:
	}
	select {
	case e.out <- msg:
		return nil
	case <-e.done:
		return ErrEndpointClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteLoop drains the outbound queue onto the wire. It returns when the
// endpoint closes or a write fails, closing the underlying connection on
// the way out so a blocked reader unblocks. Run it in its own goroutine.
func (e *Endpoint) WriteLoop() error {
	defer e.closeConn()

	w := bufio.NewWriter(e.conn)
	enc := json.NewEncoder(w)
	for {
		select {
		case msg := <-e.out:
			if err := enc.Encode(msg); err != nil {
				return err
			}
			// Flush per frame so small messages are not stuck in the buffer.
			if err := w.Flush(); err != nil {
				return err
			}
		case <-e.done:
			// Drain whatever is already queued before closing the wire.
			for {
				select {
				case msg := <-e.out:
					if err := enc.Encode(msg); err != nil {
						return err
					}
				default:
					return w.Flush()
				}
			}
		}
	}
}

func (e *Endpoint) closeConn() {
	e.connOne.Do(func() { _ = e.conn.Close() })
}

// Close shuts the endpoint down. Idempotent. The write loop drains the
// remaining queue, then the underlying connection closes.
func (e *Endpoint) Close() error {
	e.closeOne.Do(func() { close(e.done) })
	return nil
}

// Abort closes immediately, discarding queued frames.
func (e *Endpoint) Abort() {
	e.closeOne.Do(func() { close(e.done) })
	e.closeConn()
}

// Closed reports whether Close has been called.
func (e *Endpoint) Closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// RemoteAddr exposes the peer address for logging.
func (e *Endpoint) RemoteAddr() string {
	if addr := e.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
