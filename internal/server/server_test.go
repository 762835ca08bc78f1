package server

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/ConclaveHQ/conclave/internal/config"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:              "localhost",
			Port:              0,
			MaxClients:        10,
			ShutdownTimeoutMs: 500,
		},
		Auth: config.AuthConfig{
			Enabled:                    false,
			TokenExpirationSeconds:     3600,
			RefreshTokenExpirationSecs: 86400,
			RateLimitPerSecond:         50,
			RateLimitBurst:             100,
		},
		Session:   config.SessionConfig{InactivityTimeoutMs: 86400000, CleanupIntervalMs: 3600000},
		Terminal:  config.TerminalConfig{MaxBufferSize: 1000, InactivityTimeoutMs: 3600000},
		Editor:    config.EditorConfig{MaxHistorySize: 100, InactivityTimeoutMs: 3600000},
		Extension: config.ExtensionConfig{MaxHistorySize: 20, InactivityTimeoutMs: 86400000},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(testConfig(), nil, nil)
}

// wire drives one client connection against serveConn directly, without
// a TCP listener.
type wire struct {
	t   *testing.T
	c   net.Conn
	enc *json.Encoder
	dec *json.Decoder
}

func dial(t *testing.T, s *Server) *wire {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	go s.serveConn(serverSide)
	t.Cleanup(func() { _ = clientSide.Close() })
	return &wire{
		t:   t,
		c:   clientSide,
		enc: json.NewEncoder(clientSide),
		dec: json.NewDecoder(bufio.NewReader(clientSide)),
	}
}

func (w *wire) send(msgType, id string, payload any) {
	w.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		w.t.Fatalf("marshal payload: %v", err)
	}
	msg := &protocol.Message{Type: msgType, ID: id, Timestamp: protocol.Now(), Payload: raw}
	if err := w.enc.Encode(msg); err != nil {
		w.t.Fatalf("send %s: %v", msgType, err)
	}
}

func (w *wire) recv() *protocol.Message {
	w.t.Helper()
	_ = w.c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	if err := w.dec.Decode(&msg); err != nil {
		w.t.Fatalf("recv: %v", err)
	}
	return &msg
}

// recvType skips interleaved frames (notifications, mostly) until one
// of the wanted type arrives.
func (w *wire) recvType(msgType string) *protocol.Message {
	w.t.Helper()
	for i := 0; i < 10; i++ {
		msg := w.recv()
		if msg.Type == msgType {
			return msg
		}
	}
	w.t.Fatalf("no %s frame within 10 reads", msgType)
	return nil
}

func (w *wire) connect(clientID, workspaceID string) protocol.ConnectionAckPayload {
	w.t.Helper()
	w.send(protocol.TypeConnection, "conn-1", protocol.ConnectionPayload{
		ClientID:    clientID,
		WorkspaceID: workspaceID,
	})
	ack := w.recvType(protocol.TypeConnectionAck)
	var p protocol.ConnectionAckPayload
	if err := ack.DecodePayload(&p); err != nil {
		w.t.Fatalf("decode connection_ack: %v", err)
	}
	return p
}

func decodeMap(t *testing.T, msg *protocol.Message) map[string]any {
	t.Helper()
	var m map[string]any
	if err := msg.DecodePayload(&m); err != nil {
		t.Fatalf("decode %s payload: %v", msg.Type, err)
	}
	return m
}

func TestHandshakeAndPing(t *testing.T) {
	s := newTestServer(t)
	w := dial(t, s)

	ack := w.connect("A", "W1")
	if ack.Status != protocol.StatusConnected || ack.ConnectedClients != 1 {
		t.Errorf("ack = %+v, want connected with 1 client", ack)
	}
	if ack.AuthRequired {
		t.Error("auth should be disabled in test config")
	}

	w.send(protocol.TypePing, "p1", protocol.PingPayload{ClientTime: protocol.Now()})
	pong := w.recvType(protocol.TypePong)
	if pong.ResponseTo != "p1" {
		t.Errorf("pong responseTo = %s, want p1", pong.ResponseTo)
	}
}

func TestHandshakeRequiresConnectionFirst(t *testing.T) {
	s := newTestServer(t)
	w := dial(t, s)

	w.send(protocol.TypePing, "p1", protocol.PingPayload{})
	errMsg := w.recvType(protocol.TypeError)
	var p protocol.ErrorPayload
	if err := errMsg.DecodePayload(&p); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if p.Code != protocol.CodeInvalidMessageFormat {
		t.Errorf("code = %s, want INVALID_MESSAGE_FORMAT", p.Code)
	}
}

func TestDuplicateClientIDRejected(t *testing.T) {
	s := newTestServer(t)
	w1 := dial(t, s)
	w1.connect("A", "W1")

	w2 := dial(t, s)
	w2.send(protocol.TypeConnection, "conn-dup", protocol.ConnectionPayload{
		ClientID:    "A",
		WorkspaceID: "W1",
	})
	errMsg := w2.recvType(protocol.TypeError)
	var p protocol.ErrorPayload
	_ = errMsg.DecodePayload(&p)
	if p.Code != protocol.CodeClientIDInUse {
		t.Errorf("code = %s, want CLIENT_ID_IN_USE", p.Code)
	}
}

func TestSessionJoinNotifiesExistingParticipants(t *testing.T) {
	s := newTestServer(t)
	wa := dial(t, s)
	wa.connect("A", "W1")
	wb := dial(t, s)
	if ack := wb.connect("B", "W1"); ack.ConnectedClients != 2 {
		t.Errorf("connectedClients = %d, want 2", ack.ConnectedClients)
	}

	wa.send(protocol.TypeSessionCreate, "c1", protocol.SessionCreatePayload{
		SessionID: "S1", CreatedBy: "A", WorkspaceID: "W1",
	})
	created := decodeMap(t, wa.recvType(protocol.TypeSessionCreateAck))
	if created["status"] != protocol.StatusCreated {
		t.Fatalf("create status = %v, want created", created["status"])
	}

	wb.send(protocol.TypeSessionJoin, "j1", protocol.SessionJoinPayload{
		SessionID: "S1", ClientID: "B", WorkspaceID: "W1",
	})
	joined := decodeMap(t, wb.recvType(protocol.TypeSessionJoinAck))
	if joined["status"] != protocol.StatusJoined {
		t.Fatalf("join status = %v, want joined", joined["status"])
	}

	note := wa.recvType(protocol.TypeNotification)
	var np protocol.NotificationPayload
	if err := note.DecodePayload(&np); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if np.Event != protocol.EventSessionParticipantJoined || np.SessionID != "S1" {
		t.Errorf("notification = %+v, want participant_joined for S1", np)
	}
	if np.Data["participantId"] != "B" {
		t.Errorf("participantId = %v, want B", np.Data["participantId"])
	}
}

func TestDisconnectAcksThenCleansUp(t *testing.T) {
	s := newTestServer(t)
	w := dial(t, s)
	w.connect("A", "W1")

	w.send(protocol.TypeSessionCreate, "c1", protocol.SessionCreatePayload{
		SessionID: "S1", CreatedBy: "A", WorkspaceID: "W1",
	})
	w.recvType(protocol.TypeSessionCreateAck)

	w.send(protocol.TypeDisconnect, "d1", protocol.DisconnectPayload{ClientID: "A"})
	ack := w.recvType(protocol.TypeDisconnectAck)
	if ack.ResponseTo != "d1" {
		t.Errorf("responseTo = %s, want d1", ack.ResponseTo)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.conns.Count() == 0 && s.sessions.Count() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("cleanup incomplete: %d clients, %d sessions", s.conns.Count(), s.sessions.Count())
}

func TestShutdownNotifiesAndDrains(t *testing.T) {
	s := newTestServer(t)
	wa := dial(t, s)
	wa.connect("A", "W1")
	wb := dial(t, s)
	wb.connect("B", "W1")

	done := make(chan struct{})
	go func() {
		s.Shutdown("restart", true, 300)
		close(done)
	}()

	for _, w := range []*wire{wa, wb} {
		notice := w.recvType(protocol.TypeServerShutdown)
		var p protocol.ServerShutdownPayload
		if err := notice.DecodePayload(&p); err != nil {
			t.Fatalf("decode shutdown notice: %v", err)
		}
		if p.Reason != "restart" || !p.PlannedRestart || p.EstimatedDowntime != 300 {
			t.Errorf("notice = %+v, want restart/planned/300", p)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	if s.conns.Count() != 0 {
		t.Errorf("clients remaining after shutdown: %d", s.conns.Count())
	}

	// A second call is a no-op and returns immediately.
	s.Shutdown("again", false, 0)
}

func TestToolInvokeEcho(t *testing.T) {
	s := newTestServer(t)
	w := dial(t, s)
	w.connect("A", "W1")

	w.send(protocol.TypeToolInvoke, "t1", protocol.ToolInvokePayload{
		Tool:      "echo",
		Arguments: json.RawMessage(`{"hello":"world"}`),
	})
	resp := w.recvType(protocol.TypeToolResponse)
	var p protocol.ToolResponsePayload
	if err := resp.DecodePayload(&p); err != nil {
		t.Fatalf("decode tool_response: %v", err)
	}
	if p.RequestID != "t1" || p.Error != "" {
		t.Fatalf("tool_response = %+v, want requestId t1 with no error", p)
	}
	var echoed map[string]string
	if err := json.Unmarshal(p.Result, &echoed); err != nil || echoed["hello"] != "world" {
		t.Errorf("result = %s, want echoed arguments", p.Result)
	}
}

func TestToolInvokeUnknownTool(t *testing.T) {
	s := newTestServer(t)
	w := dial(t, s)
	w.connect("A", "W1")

	w.send(protocol.TypeToolInvoke, "t1", protocol.ToolInvokePayload{Tool: "warp_drive"})
	errMsg := w.recvType(protocol.TypeError)
	var p protocol.ErrorPayload
	_ = errMsg.DecodePayload(&p)
	if p.Code != protocol.CodeResourceNotFound {
		t.Errorf("code = %s, want RESOURCE_NOT_FOUND", p.Code)
	}
}
