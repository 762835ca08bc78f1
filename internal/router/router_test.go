package router

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/ConclaveHQ/conclave/internal/auth"
	"github.com/ConclaveHQ/conclave/internal/conn"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

func testClient(t *testing.T) *conn.Client {
	t.Helper()
	a, _ := net.Pipe()
	t.Cleanup(func() { _ = a.Close() })
	return conn.NewClient("c1", "ws-1", conn.NewEndpoint(a, 8))
}

func request(t *testing.T, msgType string, payload any) *protocol.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &protocol.Message{
		Type:      msgType,
		ID:        "req-1",
		Timestamp: protocol.Now(),
		Payload:   raw,
	}
}

func errorCode(t *testing.T, msg *protocol.Message) protocol.Code {
	t.Helper()
	if msg == nil || msg.Type != protocol.TypeError {
		t.Fatalf("expected error response, got %+v", msg)
	}
	var p protocol.ErrorPayload
	if err := msg.DecodePayload(&p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return p.Code
}

func TestDispatchRoutesToHandler(t *testing.T) {
	r := New(false, nil, NewPending(time.Second))
	called := false
	r.Handle(protocol.TypePing, func(c *conn.Client, m *protocol.Message) (*protocol.Message, *protocol.Error) {
		called = true
		return protocol.NewResponse(m, protocol.PongPayload{ServerTime: protocol.Now()}), nil
	})

	resp := r.Dispatch(testClient(t), request(t, protocol.TypePing, protocol.PingPayload{}))
	if !called {
		t.Fatal("handler not invoked")
	}
	if resp.Type != protocol.AckType(protocol.TypePing) {
		t.Errorf("resp.Type = %s, want ping_ack", resp.Type)
	}
	if resp.ResponseTo != "req-1" {
		t.Errorf("responseTo = %s, want req-1", resp.ResponseTo)
	}
}

func TestDispatchRejectsInvalid(t *testing.T) {
	r := New(false, nil, nil)
	msg := request(t, "warp_drive", map[string]any{})
	if code := errorCode(t, r.Dispatch(testClient(t), msg)); code != protocol.CodeUnknownMessageType {
		t.Errorf("code = %s, want UNKNOWN_MESSAGE_TYPE", code)
	}
}

func TestDispatchEnforcesAuth(t *testing.T) {
	r := New(true, nil, nil)
	r.Handle(protocol.TypeSessionCreate, func(c *conn.Client, m *protocol.Message) (*protocol.Message, *protocol.Error) {
		return protocol.NewResponse(m, map[string]any{"status": protocol.StatusCreated}), nil
	})
	r.Handle(protocol.TypePing, func(c *conn.Client, m *protocol.Message) (*protocol.Message, *protocol.Error) {
		return protocol.NewResponse(m, protocol.PongPayload{}), nil
	})

	client := testClient(t)
	msg := request(t, protocol.TypeSessionCreate,
		protocol.SessionCreatePayload{CreatedBy: "c1", WorkspaceID: "ws-1"})
	if code := errorCode(t, r.Dispatch(client, msg)); code != protocol.CodeClientNotAuthenticated {
		t.Errorf("code = %s, want CLIENT_NOT_AUTHENTICATED", code)
	}

	// Exempt types pass without auth.
	if resp := r.Dispatch(client, request(t, protocol.TypePing, protocol.PingPayload{})); resp.Type == protocol.TypeError {
		t.Error("ping should be auth-exempt")
	}

	// Authenticated clients pass.
	client.SetAuthenticated("tok", time.Time{})
	if resp := r.Dispatch(client, msg); resp.Type == protocol.TypeError {
		t.Errorf("authenticated dispatch failed: %+v", resp)
	}
}

func TestDispatchRejectsExpiredCredential(t *testing.T) {
	r := New(true, nil, nil)
	r.Handle(protocol.TypeSessionCreate, func(c *conn.Client, m *protocol.Message) (*protocol.Message, *protocol.Error) {
		return protocol.NewResponse(m, map[string]any{"status": protocol.StatusCreated}), nil
	})

	client := testClient(t)
	client.SetAuthenticated("tok", time.Now().Add(-time.Second))

	msg := request(t, protocol.TypeSessionCreate,
		protocol.SessionCreatePayload{CreatedBy: "c1", WorkspaceID: "ws-1"})
	if code := errorCode(t, r.Dispatch(client, msg)); code != protocol.CodeAuthExpired {
		t.Errorf("code = %s, want AUTH_EXPIRED", code)
	}
	if client.State() != conn.StateConnected {
		t.Errorf("state = %s, expiry must demote the client to connected", client.State())
	}

	// Demoted clients are plain unauthenticated on the next request.
	if code := errorCode(t, r.Dispatch(client, msg)); code != protocol.CodeClientNotAuthenticated {
		t.Errorf("code = %s, want CLIENT_NOT_AUTHENTICATED after demotion", code)
	}

	// Re-authenticating with a live credential restores access.
	client.SetAuthenticated("tok2", time.Now().Add(time.Hour))
	if resp := r.Dispatch(client, msg); resp.Type == protocol.TypeError {
		t.Errorf("re-authenticated dispatch failed: %+v", resp)
	}
}

func TestDispatchRateLimits(t *testing.T) {
	limiter := auth.NewRateLimiter(1, 2)
	r := New(false, limiter, nil)
	r.Handle(protocol.TypePing, func(c *conn.Client, m *protocol.Message) (*protocol.Message, *protocol.Error) {
		return protocol.NewResponse(m, protocol.PongPayload{}), nil
	})

	client := testClient(t)
	msg := request(t, protocol.TypePing, protocol.PingPayload{})
	r.Dispatch(client, msg)
	r.Dispatch(client, msg)
	if code := errorCode(t, r.Dispatch(client, msg)); code != protocol.CodeClientRateLimited {
		t.Errorf("code = %s, want CLIENT_RATE_LIMITED", code)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	r := New(false, nil, nil)
	r.Handle(protocol.TypeSessionJoin, func(c *conn.Client, m *protocol.Message) (*protocol.Message, *protocol.Error) {
		return nil, protocol.Errorf(protocol.CodeSessionNotFound, "nope")
	})

	msg := request(t, protocol.TypeSessionJoin,
		protocol.SessionJoinPayload{SessionID: "s", ClientID: "c1", WorkspaceID: "ws-1"})
	resp := r.Dispatch(testClient(t), msg)
	if code := errorCode(t, resp); code != protocol.CodeSessionNotFound {
		t.Errorf("code = %s, want SESSION_NOT_FOUND", code)
	}
	var p protocol.ErrorPayload
	_ = resp.DecodePayload(&p)
	if !p.Retryable || p.Category != protocol.CategorySession {
		t.Errorf("payload = %+v, want retryable SESSION category", p)
	}
}

func TestPendingResolveFirstWriteWins(t *testing.T) {
	p := NewPending(time.Second)

	ch, perr := p.Register("r1", "tool_invoke")
	if perr != nil {
		t.Fatalf("Register() error: %v", perr)
	}
	if _, perr := p.Register("r1", "tool_invoke"); perr == nil {
		t.Error("duplicate Register should fail")
	}

	msg := &protocol.Message{Type: protocol.TypeToolResponse, ID: "m1"}
	if !p.Resolve("r1", msg) {
		t.Fatal("Resolve() = false, want true")
	}
	if p.Resolve("r1", msg) {
		t.Error("second Resolve should find nothing")
	}

	res := <-ch
	if res.Err != nil || res.Msg.ID != "m1" {
		t.Errorf("result = %+v, want message m1", res)
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d, entry must not outlive resolution", p.Len())
	}
}

func TestPendingTimeout(t *testing.T) {
	p := NewPending(30 * time.Millisecond)

	ch, _ := p.Register("r1", "tool_invoke")
	select {
	case res := <-ch:
		if res.Err == nil || res.Err.Code != protocol.CodeClientTimeout {
			t.Errorf("result = %+v, want CLIENT_TIMEOUT", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d, entry must be garbage-collected on timeout", p.Len())
	}
}

func TestPendingCancelAll(t *testing.T) {
	p := NewPending(time.Minute)
	ch1, _ := p.Register("r1", "tool_invoke")
	ch2, _ := p.Register("r2", "tool_invoke")

	p.CancelAll(protocol.Errorf(protocol.CodeServerShuttingDown, "drain"))

	for _, ch := range []<-chan Result{ch1, ch2} {
		res := <-ch
		if res.Err == nil || res.Err.Code != protocol.CodeServerShuttingDown {
			t.Errorf("result = %+v, want SERVER_SHUTTING_DOWN", res)
		}
	}
}

func TestToolResponseResolvesPending(t *testing.T) {
	p := NewPending(time.Second)
	r := New(false, nil, p)
	client := testClient(t)

	ch, _ := p.Register("r9", "tool_invoke")
	msg := request(t, protocol.TypeToolResponse,
		protocol.ToolResponsePayload{RequestID: "r9", Result: json.RawMessage(`{"ok":true}`)})
	if resp := r.Dispatch(client, msg); resp != nil {
		t.Errorf("tool_response should not get a reply, got %+v", resp)
	}

	res := <-ch
	if res.Msg == nil {
		t.Fatal("pending not resolved")
	}

	// A late duplicate is silently ignored.
	if resp := r.Dispatch(client, msg); resp != nil {
		t.Errorf("late tool_response should be ignored, got %+v", resp)
	}
}
