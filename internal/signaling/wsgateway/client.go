// Package wsgateway is the websocket signaling-gateway adapter: a
// persistent connection to the coordinating server carrying
// JSON-enveloped control messages.
package wsgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/peercall/peercall/internal/signaling"
)

// Message types on the wire.
const (
	typeRegister   = "register"
	typeRegisterOK = "register_ok"
	typeNewCall    = "new_call"
	typeCallAck    = "call_ack"
	typeCallError  = "call_error"
	typeCallNotice = "call_notice"
	typeChoice     = "choice"
	typeText       = "text"
	typeRecording  = "recording"
	typePing       = "ping"
)

// envelope is the wire format shared by every control message. Fields
// not relevant to a given type are omitted.
type envelope struct {
	Type       string            `json:"type"`
	MsgID      string            `json:"msg_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	From       string            `json:"from,omitempty"`
	FromUID    uint32            `json:"from_uid,omitempty"`
	To         []string          `json:"to,omitempty"`
	Target     string            `json:"target,omitempty"`
	Channel    string            `json:"channel,omitempty"`
	Credential string            `json:"credential,omitempty"`
	Attachment string            `json:"attachment,omitempty"`
	Choice     *signaling.Choice `json:"choice,omitempty"`
	Text       string            `json:"text,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	UID        uint32            `json:"uid,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
}

// Config holds gateway configuration.
type Config struct {
	// URL is the websocket endpoint of the coordinating server.
	URL string

	// Identity and UID register the local party.
	Identity string
	UID      uint32

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
}

// Client is a signaling.Gateway over one websocket connection.
type Client struct {
	cfg     Config
	handler signaling.Handler

	mu   sync.Mutex // serializes writes
	conn *websocket.Conn

	registered atomic.Bool
	closed     atomic.Bool
	done       chan struct{}
	wg         sync.WaitGroup
}

// New creates a disconnected client. Set a handler, then Connect.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// SetHandler installs the receiver for inbound messages. Must be called
// before Connect.
func (c *Client) SetHandler(h signaling.Handler) {
	c.handler = h
}

// Connect dials the server, registers the local identity and starts the
// read and keepalive loops.
func (c *Client) Connect(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("no handler set")
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial signaling server %s: %w", c.cfg.URL, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.write(envelope{
		Type:  typeRegister,
		MsgID: uuid.NewString(),
		From:  c.cfg.Identity,
		UID:   c.cfg.UID,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("register: %w", err)
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.keepalive()

	slog.Info("[Gateway] Connected to signaling server",
		"url", c.cfg.URL,
		"identity", c.cfg.Identity,
	)
	return nil
}

// Registered reports whether the server confirmed the local identity.
func (c *Client) Registered() bool {
	return c.registered.Load()
}

// Close tears the connection down and stops the loops.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	c.registered.Store(false)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	var err error
	if conn != nil {
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

// --- Outbound (signaling.Gateway) ---

// SendNewCall announces a call attempt to every callee in one fan-out message.
func (c *Client) SendNewCall(ctx context.Context, sessionID string, callees []string, attachment string) error {
	return c.writeCtx(ctx, envelope{
		Type:       typeNewCall,
		MsgID:      uuid.NewString(),
		SessionID:  sessionID,
		From:       c.cfg.Identity,
		FromUID:    c.cfg.UID,
		To:         callees,
		Attachment: attachment,
	})
}

// SendChoice sends a busy/answer/hangup/timeout reply to one peer.
func (c *Client) SendChoice(ctx context.Context, sessionID, target string, choice signaling.Choice) error {
	return c.writeCtx(ctx, envelope{
		Type:      typeChoice,
		MsgID:     uuid.NewString(),
		SessionID: sessionID,
		From:      c.cfg.Identity,
		FromUID:   c.cfg.UID,
		Target:    target,
		Choice:    &choice,
	})
}

// SendCustomText sends an out-of-band application message.
func (c *Client) SendCustomText(ctx context.Context, sessionID, text string) error {
	return c.writeCtx(ctx, envelope{
		Type:      typeText,
		MsgID:     uuid.NewString(),
		SessionID: sessionID,
		From:      c.cfg.Identity,
		Text:      text,
	})
}

// SendRecordingHandshake forwards a recording control payload.
func (c *Client) SendRecordingHandshake(ctx context.Context, sessionID string, payload json.RawMessage) error {
	return c.writeCtx(ctx, envelope{
		Type:      typeRecording,
		MsgID:     uuid.NewString(),
		SessionID: sessionID,
		From:      c.cfg.Identity,
		Payload:   payload,
	})
}

func (c *Client) writeCtx(ctx context.Context, env envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(env)
}

func (c *Client) write(env envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(env)
}

// --- Inbound ---

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !c.closed.Load() {
				slog.Warn("[Gateway] Read failed, connection lost", "error", err)
				c.registered.Store(false)
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env envelope) {
	switch env.Type {
	case typeRegisterOK:
		c.registered.Store(true)
		slog.Info("[Gateway] Identity registered", "identity", c.cfg.Identity)

	case typeCallAck:
		c.handler.HandleTransportAck(env.SessionID, env.Channel, env.Credential)

	case typeCallError:
		c.handler.HandleTransportError(env.SessionID, env.Reason)

	case typeCallNotice:
		c.handler.HandleCallNotice(signaling.CallNotice{
			SessionID:  env.SessionID,
			CallerID:   env.From,
			CallerUID:  env.FromUID,
			CalleeID:   env.Target,
			Channel:    env.Channel,
			Credential: env.Credential,
			Attachment: env.Attachment,
		})

	case typeChoice:
		if env.Choice == nil {
			slog.Warn("[Gateway] Choice message without choice field", "session_id", env.SessionID)
			return
		}
		c.handler.HandleChoice(signaling.ChoiceMessage{
			SessionID: env.SessionID,
			PeerID:    env.From,
			PeerUID:   env.FromUID,
			Choice:    *env.Choice,
		})

	case typeText:
		c.handler.HandleCustomText(env.SessionID, env.From, env.Text)

	case typeRecording:
		c.handler.HandleRecordingHandshake(env.SessionID, env.Payload)

	case typePing:
		// Server-level liveness probe, nothing to do.

	default:
		slog.Debug("[Gateway] Unknown message type ignored", "type", env.Type)
	}
}

func (c *Client) keepalive() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				slog.Debug("[Gateway] Keepalive ping failed", "error", err)
			}
		}
	}
}

var _ signaling.Gateway = (*Client)(nil)
