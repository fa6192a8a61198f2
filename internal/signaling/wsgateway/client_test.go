package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peercall/peercall/internal/signaling"
)

// captureHandler records every inbound dispatch.
type captureHandler struct {
	mu      sync.Mutex
	acks    []string
	errs    []string
	notices []signaling.CallNotice
	choices []signaling.ChoiceMessage
	texts   []string
}

func (h *captureHandler) HandleTransportAck(sessionID, channel, credential string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acks = append(h.acks, sessionID+"/"+channel)
}

func (h *captureHandler) HandleTransportError(sessionID, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, reason)
}

func (h *captureHandler) HandleCallNotice(n signaling.CallNotice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notices = append(h.notices, n)
}

func (h *captureHandler) HandleChoice(m signaling.ChoiceMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.choices = append(h.choices, m)
}

func (h *captureHandler) HandleCustomText(sessionID, from, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.texts = append(h.texts, from+":"+text)
}

func (h *captureHandler) HandleRecordingHandshake(sessionID string, payload json.RawMessage) {}

// testServer is a minimal signaling endpoint: it confirms registration
// and hands the connection to the test.
type testServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received []envelope
	gotConn  chan struct{}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{gotConn: make(chan struct{})}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ts.mu.Lock()
		ts.conn = conn
		ts.mu.Unlock()
		close(ts.gotConn)

		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			ts.mu.Lock()
			ts.received = append(ts.received, env)
			ts.mu.Unlock()
			if env.Type == typeRegister {
				_ = conn.WriteJSON(envelope{Type: typeRegisterOK})
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) send(t *testing.T, env envelope) {
	t.Helper()
	ts.mu.Lock()
	conn := ts.conn
	ts.mu.Unlock()
	if conn == nil {
		t.Fatal("no server-side connection")
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

func (ts *testServer) envelopes(msgType string) []envelope {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var out []envelope
	for _, env := range ts.received {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func waitUntil(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func connectedClient(t *testing.T) (*Client, *testServer, *captureHandler) {
	t.Helper()
	ts := newTestServer(t)
	h := &captureHandler{}
	c := New(Config{URL: ts.url(), Identity: "alice", UID: 7})
	c.SetHandler(h)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	waitUntil(t, "registration", c.Registered)
	return c, ts, h
}

func TestConnectRegisters(t *testing.T) {
	c, ts, _ := connectedClient(t)

	regs := ts.envelopes(typeRegister)
	if len(regs) != 1 {
		t.Fatalf("register envelopes = %d, want 1", len(regs))
	}
	if regs[0].From != "alice" || regs[0].UID != 7 {
		t.Errorf("register = %+v, want from alice uid 7", regs[0])
	}
	if !c.Registered() {
		t.Error("Registered() = false after register_ok")
	}
}

func TestConnectRequiresHandler(t *testing.T) {
	c := New(Config{URL: "ws://localhost:1/ws"})
	if err := c.Connect(context.Background()); err == nil {
		t.Error("Connect() without handler error = nil, want error")
	}
}

func TestSendNewCallEnvelope(t *testing.T) {
	c, ts, _ := connectedClient(t)

	err := c.SendNewCall(context.Background(), "sess-1", []string{"bob", "carol"}, "meta")
	if err != nil {
		t.Fatalf("SendNewCall() error = %v", err)
	}
	waitUntil(t, "new_call received", func() bool { return len(ts.envelopes(typeNewCall)) == 1 })

	env := ts.envelopes(typeNewCall)[0]
	if env.SessionID != "sess-1" || env.From != "alice" || env.Attachment != "meta" {
		t.Errorf("new_call = %+v", env)
	}
	if len(env.To) != 2 || env.To[0] != "bob" || env.To[1] != "carol" {
		t.Errorf("To = %v, want [bob carol]", env.To)
	}
	if env.MsgID == "" {
		t.Error("MsgID is empty")
	}
}

func TestSendChoiceEnvelope(t *testing.T) {
	c, ts, _ := connectedClient(t)

	if err := c.SendChoice(context.Background(), "sess-1", "bob", signaling.ChoiceHangup); err != nil {
		t.Fatalf("SendChoice() error = %v", err)
	}
	waitUntil(t, "choice received", func() bool { return len(ts.envelopes(typeChoice)) == 1 })

	env := ts.envelopes(typeChoice)[0]
	if env.Target != "bob" || env.Choice == nil || *env.Choice != signaling.ChoiceHangup {
		t.Errorf("choice = %+v, want hangup to bob", env)
	}
}

func TestInboundDispatch(t *testing.T) {
	_, ts, h := connectedClient(t)

	ts.send(t, envelope{Type: typeCallAck, SessionID: "s1", Channel: "ch", Credential: "cr"})
	answer := signaling.ChoiceAnswer
	ts.send(t, envelope{Type: typeChoice, SessionID: "s1", From: "bob", FromUID: 3, Choice: &answer})
	ts.send(t, envelope{Type: typeCallNotice, SessionID: "s2", From: "carol", FromUID: 9, Target: "alice", Channel: "ch2"})
	ts.send(t, envelope{Type: typeText, SessionID: "s1", From: "bob", Text: "hi"})
	ts.send(t, envelope{Type: typeCallError, SessionID: "s1", Reason: "denied"})

	waitUntil(t, "all dispatched", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.acks) == 1 && len(h.choices) == 1 && len(h.notices) == 1 &&
			len(h.texts) == 1 && len(h.errs) == 1
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.acks[0] != "s1/ch" {
		t.Errorf("ack = %q, want s1/ch", h.acks[0])
	}
	if got := h.choices[0]; got.PeerID != "bob" || got.PeerUID != 3 || got.Choice != signaling.ChoiceAnswer {
		t.Errorf("choice = %+v", got)
	}
	if got := h.notices[0]; got.CallerID != "carol" || got.CalleeID != "alice" || got.Channel != "ch2" {
		t.Errorf("notice = %+v", got)
	}
	if h.texts[0] != "bob:hi" {
		t.Errorf("text = %q, want bob:hi", h.texts[0])
	}
	if h.errs[0] != "denied" {
		t.Errorf("error reason = %q, want denied", h.errs[0])
	}
}

func TestChoiceWithoutFieldIgnored(t *testing.T) {
	_, ts, h := connectedClient(t)

	ts.send(t, envelope{Type: typeChoice, SessionID: "s1", From: "bob"})
	ts.send(t, envelope{Type: typeText, SessionID: "s1", From: "bob", Text: "after"})

	waitUntil(t, "text after malformed choice", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.texts) == 1
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.choices) != 0 {
		t.Errorf("choices = %v, want none", h.choices)
	}
}

func TestCloseUnregisters(t *testing.T) {
	c, _, _ := connectedClient(t)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.Registered() {
		t.Error("Registered() = true after Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	c := New(Config{URL: "ws://localhost:1/ws", Identity: "alice"})
	if err := c.SendCustomText(context.Background(), "s1", "hi"); err == nil {
		t.Error("SendCustomText() without connection error = nil, want error")
	}
}
