package call

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/peercall/peercall/internal/media"
	"github.com/peercall/peercall/internal/signaling"
)

// Config holds engine configuration. Zero values fall back to defaults.
type Config struct {
	// Local is the identity and media handle this engine registers as.
	Local Party

	// DialTimeout bounds the whole multi-callee ringing window.
	DialTimeout time.Duration

	// IncomingTimeout bounds the unanswered-incoming window.
	IncomingTimeout time.Duration

	// RequestTimeout bounds the wait for a transport acknowledgement.
	RequestTimeout time.Duration

	// FacadeWait bounds how long Hangup and Answer block for their
	// transition. Expiry is not an error: the transition still completes
	// and is reported through the fan-out.
	FacadeWait time.Duration

	// ShutdownWait bounds the drain on Shutdown.
	ShutdownWait time.Duration

	// CollaboratorTimeout bounds each gateway/media call made by the loop.
	CollaboratorTimeout time.Duration

	// MailboxSize caps the command queue. Local requests beyond it fail
	// with ErrMailboxFull; remote-origin commands are never dropped.
	MailboxSize int

	// AutoPublishAudio / AutoPublishVideo control what gets published
	// when a call reaches Talking.
	AutoPublishAudio bool
	AutoPublishVideo bool
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 45 * time.Second
	}
	if c.IncomingTimeout <= 0 {
		c.IncomingTimeout = 45 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.FacadeWait <= 0 {
		c.FacadeWait = 2 * time.Second
	}
	if c.ShutdownWait <= 0 {
		c.ShutdownWait = 5 * time.Second
	}
	if c.CollaboratorTimeout <= 0 {
		c.CollaboratorTimeout = 5 * time.Second
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = 256
	}
}

// Stats are cumulative engine counters.
type Stats struct {
	DialsPlaced      uint64 `json:"dials_placed"`
	DialsAnswered    uint64 `json:"dials_answered"`
	DialsFailed      uint64 `json:"dials_failed"`
	IncomingAdmitted uint64 `json:"incoming_admitted"`
	IncomingRejected uint64 `json:"incoming_rejected"`
	Commands         uint64 `json:"commands_processed"`
	Dropped          uint64 `json:"commands_dropped"`
}

// Engine owns the call session and processes every local request and
// remote notification on a single loop, in arrival order. All public
// methods only enqueue commands or read snapshots.
type Engine struct {
	cfg      Config
	gateway  signaling.Gateway
	media    media.Engine
	store    *Store
	timers   *timerSupervisor
	notifier *notifier

	mailbox chan command
	done    chan struct{}
	stopped atomic.Bool

	// answerWaiter holds the reply channel of a blocked Answer call until
	// the transition chain reaches Talking or tears down.
	answerWaiter chan error

	dialsPlaced      atomic.Uint64
	dialsAnswered    atomic.Uint64
	dialsFailed      atomic.Uint64
	incomingAdmitted atomic.Uint64
	incomingRejected atomic.Uint64
	commands         atomic.Uint64
	dropped          atomic.Uint64
}

// New creates an engine. Call Start before use.
func New(cfg Config, gw signaling.Gateway, me media.Engine) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:      cfg,
		gateway:  gw,
		media:    me,
		store:    NewStore(),
		notifier: newNotifier(),
		mailbox:  make(chan command, cfg.MailboxSize),
		done:     make(chan struct{}),
	}
	e.timers = newTimerSupervisor(e.enqueueRemote)
	return e
}

// Start launches the command loop.
func (e *Engine) Start() {
	go e.run()
}

// Shutdown stops the loop after draining every queued command. The wait
// is bounded: exceeding it is logged and shutdown proceeds anyway.
func (e *Engine) Shutdown() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}
	reply := make(chan error, 1)
	select {
	case e.mailbox <- command{kind: cmdStop, reply: reply}:
	case <-e.done:
		return
	}
	select {
	case <-reply:
	case <-time.After(e.cfg.ShutdownWait):
		slog.Warn("[Engine] Shutdown drain exceeded bound, proceeding", "wait", e.cfg.ShutdownWait)
	}
	e.timers.Stop()
}

// run consumes the mailbox strictly sequentially. No command is ever
// processed concurrently with another.
func (e *Engine) run() {
	for cmd := range e.mailbox {
		if cmd.kind == cmdStop {
			e.drain()
			close(e.done)
			cmd.respond(nil)
			return
		}
		e.dispatch(cmd)
	}
}

// drain finishes all currently queued commands before the loop exits.
func (e *Engine) drain() {
	for {
		select {
		case cmd := <-e.mailbox:
			if cmd.kind == cmdStop {
				cmd.respond(nil)
				continue
			}
			e.dispatch(cmd)
		default:
			return
		}
	}
}

func (e *Engine) dispatch(cmd command) {
	e.commands.Add(1)
	switch cmd.kind {
	case cmdDial:
		e.handleDial(cmd)
	case cmdHangup:
		e.handleHangup(cmd)
	case cmdAnswer:
		e.handleAnswer(cmd)
	case cmdSendText:
		e.handleSendText(cmd)
	case cmdMuteAudio, cmdMuteVideo:
		e.handleMute(cmd)
	case cmdTransportAck:
		e.handleTransportAck(cmd)
	case cmdTransportErr:
		e.handleTransportErr(cmd)
	case cmdCallNotice:
		e.handleCallNotice(cmd)
	case cmdChoice:
		e.handleChoice(cmd)
	case cmdCustomText:
		e.handleCustomText(cmd)
	case cmdRecording:
		e.handleRecording(cmd)
	case cmdMediaEvent:
		e.handleMediaEvent(cmd)
	case cmdDeadline:
		e.handleDeadline(cmd)
	default:
		slog.Warn("[Engine] Unknown command", "kind", cmd.kind.String())
	}
}

// enqueueLocal submits a caller-originated command. It never blocks:
// overflow rejects the newest local request rather than wedging callers.
func (e *Engine) enqueueLocal(cmd command) error {
	if e.stopped.Load() {
		return ErrShutdown
	}
	select {
	case e.mailbox <- cmd:
		return nil
	case <-e.done:
		return ErrShutdown
	default:
		e.dropped.Add(1)
		slog.Warn("[Engine] Mailbox full, local request rejected", "kind", cmd.kind.String())
		return ErrMailboxFull
	}
}

// enqueueRemote submits a gateway/media/timer-originated command. These
// block on a full mailbox: dropping remote-origin commands would
// desynchronize state against the outside world.
func (e *Engine) enqueueRemote(cmd command) {
	select {
	case e.mailbox <- cmd:
	case <-e.done:
		e.dropped.Add(1)
		slog.Debug("[Engine] Command after shutdown discarded", "kind", cmd.kind.String())
	}
}

// --- Public operations ---

// Dial places a call to one or more candidate peers. Exactly one of them
// ends up confirmed; the outcome arrives through the fan-out. The call
// blocks until the new-call request is on the wire, bounded by
// FacadeWait, so an unreachable transport surfaces as ErrPeerUnreachable
// instead of a silent teardown.
func (e *Engine) Dial(peerIDs []string, attachment string) error {
	if len(peerIDs) == 0 {
		return ErrNoPeers
	}
	if !e.gateway.Registered() {
		return ErrNotRegistered
	}
	if e.store.State() != StateIdle {
		return ErrBadState
	}
	reply := make(chan error, 1)
	if err := e.enqueueLocal(command{
		kind:       cmdDial,
		peers:      append([]string(nil), peerIDs...),
		attachment: attachment,
		reply:      reply,
	}); err != nil {
		return err
	}
	return e.awaitReply(reply)
}

// Hangup ends the current call. It blocks until the teardown has taken
// effect on the loop, bounded by FacadeWait; a nil return after the bound
// expires means "request accepted", with the transition still reported
// through the fan-out.
func (e *Engine) Hangup() error {
	reply := make(chan error, 1)
	if err := e.enqueueLocal(command{kind: cmdHangup, reply: reply}); err != nil {
		return err
	}
	return e.awaitReply(reply)
}

// Answer accepts the current incoming call. Blocking semantics match Hangup.
func (e *Engine) Answer() error {
	reply := make(chan error, 1)
	if err := e.enqueueLocal(command{kind: cmdAnswer, reply: reply}); err != nil {
		return err
	}
	return e.awaitReply(reply)
}

// SendCustomMessage sends an out-of-band text on the current session.
func (e *Engine) SendCustomMessage(text string) error {
	sess, ok := e.store.Snapshot()
	if !ok {
		return ErrBadState
	}
	reply := make(chan error, 1)
	if err := e.enqueueLocal(command{kind: cmdSendText, sessionID: sess.ID, text: text, reply: reply}); err != nil {
		return err
	}
	return e.awaitReply(reply)
}

// MuteLocalAudio toggles the local audio track. Valid only while Talking.
func (e *Engine) MuteLocalAudio(muted bool) error {
	reply := make(chan error, 1)
	if err := e.enqueueLocal(command{kind: cmdMuteAudio, mute: muted, reply: reply}); err != nil {
		return err
	}
	return e.awaitReply(reply)
}

// MuteLocalVideo toggles the local video track. Valid only while Talking.
func (e *Engine) MuteLocalVideo(muted bool) error {
	reply := make(chan error, 1)
	if err := e.enqueueLocal(command{kind: cmdMuteVideo, mute: muted, reply: reply}); err != nil {
		return err
	}
	return e.awaitReply(reply)
}

func (e *Engine) awaitReply(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-time.After(e.cfg.FacadeWait):
		slog.Debug("[Engine] Facade wait elapsed, transition reported via fan-out")
		return nil
	}
}

// State returns the current machine state.
func (e *Engine) State() State {
	return e.store.State()
}

// Snapshot returns a copy of the current session, if one exists.
func (e *Engine) Snapshot() (Session, bool) {
	return e.store.Snapshot()
}

// Stats returns cumulative counters.
func (e *Engine) Stats() Stats {
	return Stats{
		DialsPlaced:      e.dialsPlaced.Load(),
		DialsAnswered:    e.dialsAnswered.Load(),
		DialsFailed:      e.dialsFailed.Load(),
		IncomingAdmitted: e.incomingAdmitted.Load(),
		IncomingRejected: e.incomingRejected.Load(),
		Commands:         e.commands.Load(),
		Dropped:          e.dropped.Load(),
	}
}

// RegisterObserver adds a notification observer; the returned id
// unregisters it.
func (e *Engine) RegisterObserver(o Observer) uint64 {
	return e.notifier.Register(o)
}

// UnregisterObserver removes a previously registered observer.
func (e *Engine) UnregisterObserver(id uint64) {
	e.notifier.Unregister(id)
}

// --- signaling.Handler ---

// HandleTransportAck converts a server acknowledgement to a command.
func (e *Engine) HandleTransportAck(sessionID, channel, credential string) {
	e.enqueueRemote(command{kind: cmdTransportAck, sessionID: sessionID, channel: channel, credential: credential})
}

// HandleTransportError converts a server rejection to a command.
func (e *Engine) HandleTransportError(sessionID, reason string) {
	e.enqueueRemote(command{kind: cmdTransportErr, sessionID: sessionID, reason: reason})
}

// HandleCallNotice converts an incoming call announcement to a command.
func (e *Engine) HandleCallNotice(n signaling.CallNotice) {
	e.enqueueRemote(command{kind: cmdCallNotice, sessionID: n.SessionID, notice: n})
}

// HandleChoice converts a peer decision to a command.
func (e *Engine) HandleChoice(m signaling.ChoiceMessage) {
	e.enqueueRemote(command{kind: cmdChoice, sessionID: m.SessionID, choice: m})
}

// HandleCustomText converts an inbound text to a command.
func (e *Engine) HandleCustomText(sessionID, from, text string) {
	e.enqueueRemote(command{kind: cmdCustomText, sessionID: sessionID, from: from, text: text})
}

// HandleRecordingHandshake converts a recording payload to a command.
func (e *Engine) HandleRecordingHandshake(sessionID string, payload json.RawMessage) {
	e.enqueueRemote(command{kind: cmdRecording, sessionID: sessionID, payload: payload})
}

// --- media.EventHandler ---

// HandleMediaEvent converts a media transport event to a command.
func (e *Engine) HandleMediaEvent(ev media.Event) {
	e.enqueueRemote(command{kind: cmdMediaEvent, mediaEvent: ev})
}

// collabCtx bounds one gateway or media call made from the loop.
func (e *Engine) collabCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.cfg.CollaboratorTimeout)
}

var (
	_ signaling.Handler  = (*Engine)(nil)
	_ media.EventHandler = (*Engine)(nil)
)
