package conn

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ConclaveHQ/conclave/internal/protocol"
)

func pipeEndpoints(t *testing.T, queueSize int) (*Endpoint, *Endpoint) {
	t.Helper()
	a, b := net.Pipe()
	ea := NewEndpoint(a, queueSize)
	eb := NewEndpoint(b, queueSize)
	t.Cleanup(func() {
		ea.Abort()
		eb.Abort()
	})
	return ea, eb
}

func TestEndpointRoundTrip(t *testing.T) {
	server, client := pipeEndpoints(t, 8)

	go func() { _ = server.WriteLoop() }()

	msg := protocol.NewMessage(protocol.TypePing, "p-1", protocol.PingPayload{})
	if err := server.Send(msg); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	got, err := client.Read()
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if got.Type != protocol.TypePing || got.ID != "p-1" {
		t.Errorf("Read() = %+v, want ping p-1", got)
	}
}

func TestEndpointPreservesOrder(t *testing.T) {
	server, client := pipeEndpoints(t, 16)

	go func() { _ = server.WriteLoop() }()

	for i := 0; i < 10; i++ {
		msg := protocol.NewMessage(protocol.TypePing, string(rune('a'+i)), protocol.PingPayload{})
		if err := server.Send(msg); err != nil {
			t.Fatalf("Send(%d) error: %v", i, err)
		}
	}
	for i := 0; i < 10; i++ {
		got, err := client.Read()
		if err != nil {
			t.Fatalf("Read(%d) error: %v", i, err)
		}
		if want := string(rune('a' + i)); got.ID != want {
			t.Errorf("frame %d: id = %s, want %s", i, got.ID, want)
		}
	}
}

func TestEndpointQueueFull(t *testing.T) {
	server, _ := pipeEndpoints(t, 2)

	// No write loop running, so the queue fills.
	msg := protocol.NewMessage(protocol.TypeNotification, "n", protocol.NotificationPayload{Event: protocol.EventTerminalOutput})
	if err := server.Send(msg); err != nil {
		t.Fatalf("Send(1) error: %v", err)
	}
	if err := server.Send(msg); err != nil {
		t.Fatalf("Send(2) error: %v", err)
	}
	if err := server.Send(msg); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Send(3) error = %v, want ErrQueueFull", err)
	}
}

func TestEndpointSendSyncTimesOut(t *testing.T) {
	server, _ := pipeEndpoints(t, 1)

	msg := protocol.NewMessage(protocol.TypeError, "e", protocol.ErrorPayload{Code: protocol.CodeServerError})
	if err := server.Send(msg); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := server.SendSync(ctx, msg); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("SendSync() error = %v, want deadline exceeded", err)
	}
}

func TestEndpointSendAfterClose(t *testing.T) {
	server, _ := pipeEndpoints(t, 4)
	_ = server.Close()

	msg := protocol.NewMessage(protocol.TypePing, "p", protocol.PingPayload{})
	if err := server.Send(msg); !errors.Is(err, ErrEndpointClosed) {
		t.Errorf("Send() after close = %v, want ErrEndpointClosed", err)
	}
}

func TestManagerAdmission(t *testing.T) {
	m := NewManager(2)

	a, _ := net.Pipe()
	b, _ := net.Pipe()
	c, _ := net.Pipe()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	if err := m.Add(NewClient("c1", "ws", NewEndpoint(a, 4))); err != nil {
		t.Fatalf("Add(c1) error: %v", err)
	}
	if err := m.Add(NewClient("c1", "ws", NewEndpoint(b, 4))); err == nil ||
		err.Code != protocol.CodeClientIDInUse {
		t.Errorf("duplicate ID: err = %v, want CLIENT_ID_IN_USE", err)
	}
	if err := m.Add(NewClient("c2", "ws", NewEndpoint(b, 4))); err != nil {
		t.Fatalf("Add(c2) error: %v", err)
	}
	if err := m.Add(NewClient("c3", "ws", NewEndpoint(c, 4))); err == nil ||
		err.Code != protocol.CodeMaxClientsReached {
		t.Errorf("over capacity: err = %v, want MAX_CLIENTS_REACHED", err)
	}

	m.Remove("c1")
	if m.Count() != 1 {
		t.Errorf("Count() = %d after remove, want 1", m.Count())
	}
	// Freed slot admits again.
	if err := m.Add(NewClient("c3", "ws", NewEndpoint(c, 4))); err != nil {
		t.Errorf("Add(c3) after free: err = %v", err)
	}
	// Idempotent remove.
	m.Remove("c1")
	m.Remove("nope")
}

func TestClientProfileUpdate(t *testing.T) {
	a, _ := net.Pipe()
	defer a.Close()
	c := NewClient("c1", "ws", NewEndpoint(a, 4))

	c.SetProfile([]string{"terminal"}, map[string]any{"os": "linux"}, nil)
	c.UpdateProfile(nil, map[string]any{"editor": "vim"})

	caps := c.Capabilities()
	if len(caps) != 1 || caps[0] != "terminal" {
		t.Errorf("capabilities = %v, nil update should keep them", caps)
	}

	c.UpdateProfile([]string{"terminal", "editor"}, nil)
	if len(c.Capabilities()) != 2 {
		t.Errorf("capabilities = %v, want 2 entries", c.Capabilities())
	}
}

func TestClientSessionMembership(t *testing.T) {
	a, _ := net.Pipe()
	defer a.Close()
	c := NewClient("c1", "ws", NewEndpoint(a, 4))

	c.JoinSession("s1")
	c.JoinSession("s2")
	if !c.InSession("s1") || !c.InSession("s2") {
		t.Error("client should be in s1 and s2")
	}
	c.LeaveSession("s1")
	if c.InSession("s1") {
		t.Error("client should have left s1")
	}
	if got := c.Sessions(); len(got) != 1 || got[0] != "s2" {
		t.Errorf("Sessions() = %v, want [s2]", got)
	}
}

func TestClientAuthExpiry(t *testing.T) {
	a, _ := net.Pipe()
	defer a.Close()
	c := NewClient("c1", "ws", NewEndpoint(a, 4))

	now := time.Now()
	if c.AuthExpired(now) {
		t.Error("unauthenticated client should not report expiry")
	}

	c.SetAuthenticated("hash-1", now.Add(time.Minute))
	if c.AuthExpired(now) {
		t.Error("credential inside its validity window reported expired")
	}
	if !c.AuthExpired(now.Add(2 * time.Minute)) {
		t.Error("credential past validity should report expired")
	}

	// Demotion clears authenticated standing; expiry no longer applies.
	c.SetState(StateConnected)
	if c.AuthExpired(now.Add(2 * time.Minute)) {
		t.Error("demoted client should not report expiry")
	}

	// Non-expiring credential.
	c.SetAuthenticated("hash-2", time.Time{})
	if c.AuthExpired(now.Add(24 * time.Hour)) {
		t.Error("non-expiring credential reported expired")
	}
}
