package call

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/peercall/peercall/internal/media"
	"github.com/peercall/peercall/internal/signaling"
)

// setState applies a validated transition and reports it.
func (e *Engine) setState(sessionID string, to State) {
	from := e.store.State()
	if !from.CanTransitionTo(to) {
		slog.Error("[Engine] Invalid state transition",
			"session_id", sessionID,
			"from", from.String(),
			"to", to.String(),
		)
		return
	}
	e.store.SetState(to)
	slog.Debug("[Engine] State changed",
		"session_id", sessionID,
		"from", from.String(),
		"to", to.String(),
	)
	e.notifier.publish(Notification{
		Kind:      NotifyStateChanged,
		SessionID: sessionID,
		From:      from,
		To:        to,
	})
}

// teardown forces the session back to Idle: timers cancelled, media
// channel left, store cleared. Every teardown path ends in the same
// place so repeated failures never accumulate leaked resources.
func (e *Engine) teardown(cause EndCause) {
	sess := e.store.Current()
	if sess == nil {
		return
	}
	e.timers.CancelSession(sess.ID)
	if sess.Joined {
		ctx, cancel := e.collabCtx()
		if err := e.media.Leave(ctx); err != nil {
			slog.Warn("[Engine] Media leave failed during teardown",
				"session_id", sess.ID,
				"error", err,
			)
		}
		cancel()
	}
	from := sess.State
	e.store.Clear()
	e.completeAnswer(fmt.Errorf("call ended: %s", cause))

	slog.Info("[Engine] Session ended",
		"session_id", sess.ID,
		"cause", cause.String(),
		"last_state", from.String(),
	)
	e.notifier.publish(Notification{
		Kind:      NotifyStateChanged,
		SessionID: sess.ID,
		From:      from,
		To:        StateIdle,
	})
	e.notifier.publish(Notification{
		Kind:      NotifyEnded,
		SessionID: sess.ID,
		Cause:     cause,
	})
}

// completeAnswer releases a blocked Answer caller, if one is waiting.
func (e *Engine) completeAnswer(err error) {
	if e.answerWaiter == nil {
		return
	}
	select {
	case e.answerWaiter <- err:
	default:
	}
	e.answerWaiter = nil
}

// beginTalking confirms the remote party, starts publish per policy and
// moves to Talking. Returns false when the publish fails and the session
// was torn down instead.
func (e *Engine) beginTalking(remote Party) bool {
	sess := e.store.Current()
	if sess == nil {
		return false
	}
	e.store.ConfirmRemote(remote)
	if remote.UID != 0 {
		ctx, cancel := e.collabCtx()
		if err := e.media.SetPeerHandle(ctx, remote.UID); err != nil {
			slog.Warn("[Engine] Pinning peer handle failed",
				"session_id", sess.ID,
				"uid", remote.UID,
				"error", err,
			)
		}
		cancel()
	}
	if e.cfg.AutoPublishAudio || e.cfg.AutoPublishVideo {
		ctx, cancel := e.collabCtx()
		err := e.media.PublishLocal(ctx, e.cfg.AutoPublishAudio, e.cfg.AutoPublishVideo)
		cancel()
		if err != nil {
			slog.Error("[Engine] Local publish failed",
				"session_id", sess.ID,
				"error", err,
			)
			e.teardown(CauseTransportFailure)
			return false
		}
	}
	e.setState(sess.ID, StateTalking)
	e.completeAnswer(nil)
	return true
}

// --- Local operations ---

func (e *Engine) handleDial(cmd command) {
	if e.store.State() != StateIdle {
		cmd.respond(ErrBadState)
		return
	}
	sess := &Session{
		ID:           uuid.NewString(),
		Local:        e.cfg.Local,
		PendingPeers: cmd.peers,
		Attachment:   cmd.attachment,
		State:        StateDialRequesting,
	}
	if err := e.store.Begin(sess); err != nil {
		cmd.respond(err)
		return
	}
	e.dialsPlaced.Add(1)
	slog.Info("[Engine] Dialing",
		"session_id", sess.ID,
		"peers", cmd.peers,
	)
	e.notifier.publish(Notification{
		Kind:      NotifyStateChanged,
		SessionID: sess.ID,
		From:      StateIdle,
		To:        StateDialRequesting,
	})

	ctx, cancel := e.collabCtx()
	err := e.gateway.SendNewCall(ctx, sess.ID, cmd.peers, cmd.attachment)
	cancel()
	if err != nil {
		slog.Error("[Engine] New-call request failed", "session_id", sess.ID, "error", err)
		e.dialsFailed.Add(1)
		e.teardown(CauseTransportFailure)
		cmd.respond(fmt.Errorf("%w: %v", ErrPeerUnreachable, err))
		return
	}
	e.timers.Schedule(sess.ID, deadlineDialRequest, e.cfg.RequestTimeout)
	cmd.respond(nil)
}

func (e *Engine) handleHangup(cmd command) {
	sess := e.store.Current()
	if sess == nil {
		cmd.respond(ErrBadState)
		return
	}
	prev := sess.State
	if prev != StateDialing && prev != StateIncoming && prev != StateTalking {
		cmd.respond(ErrBadState)
		return
	}
	e.setState(sess.ID, StateHangupRequesting)

	// The hangup choice goes to the confirmed peer, or to every
	// still-pending candidate if none is confirmed yet.
	var targets []string
	switch {
	case sess.Remote.ID != "":
		targets = []string{sess.Remote.ID}
	case prev == StateIncoming:
		targets = []string{sess.Caller.ID}
	default:
		targets = e.store.DrainPending()
	}
	for _, t := range targets {
		ctx, cancel := e.collabCtx()
		if err := e.gateway.SendChoice(ctx, sess.ID, t, signaling.ChoiceHangup); err != nil {
			slog.Warn("[Engine] Hangup choice failed",
				"session_id", sess.ID,
				"target", t,
				"error", err,
			)
		}
		cancel()
	}
	e.teardown(CauseLocalHangup)
	cmd.respond(nil)
}

func (e *Engine) handleAnswer(cmd command) {
	sess := e.store.Current()
	if sess == nil || sess.State != StateIncoming {
		cmd.respond(ErrBadState)
		return
	}
	e.timers.Cancel(sess.ID, deadlineIncoming)

	ctx, cancel := e.collabCtx()
	err := e.gateway.SendChoice(ctx, sess.ID, sess.Caller.ID, signaling.ChoiceAnswer)
	cancel()
	if err != nil {
		slog.Error("[Engine] Answer choice failed", "session_id", sess.ID, "error", err)
		e.teardown(CauseTransportFailure)
		cmd.respond(fmt.Errorf("%w: %v", ErrPeerUnreachable, err))
		return
	}
	e.setState(sess.ID, StateAnswerRequesting)
	e.timers.Schedule(sess.ID, deadlineAnswerRequest, e.cfg.RequestTimeout)

	// The caller stays blocked until the chain reaches Talking.
	e.answerWaiter = cmd.reply
	cmd.reply = nil
}

func (e *Engine) handleSendText(cmd command) {
	if !e.store.Matches(cmd.sessionID) {
		cmd.respond(ErrBadState)
		return
	}
	ctx, cancel := e.collabCtx()
	err := e.gateway.SendCustomText(ctx, cmd.sessionID, cmd.text)
	cancel()
	cmd.respond(err)
}

func (e *Engine) handleMute(cmd command) {
	sess := e.store.Current()
	if sess == nil || sess.State != StateTalking {
		cmd.respond(ErrBadState)
		return
	}
	ctx, cancel := e.collabCtx()
	defer cancel()
	var err error
	if cmd.kind == cmdMuteAudio {
		err = e.media.MuteLocalAudio(ctx, cmd.mute)
	} else {
		err = e.media.MuteLocalVideo(ctx, cmd.mute)
	}
	cmd.respond(err)
}

// --- Gateway events ---

func (e *Engine) handleTransportAck(cmd command) {
	if !e.store.Matches(cmd.sessionID) {
		slog.Debug("[Engine] Stale transport ack discarded", "session_id", cmd.sessionID)
		return
	}
	sess := e.store.Current()
	switch sess.State {
	case StateDialRequesting:
		e.timers.Cancel(sess.ID, deadlineDialRequest)
		e.store.SetChannel(cmd.channel, cmd.credential)
		e.setState(sess.ID, StateDialResponsePending)

		ctx, cancel := e.collabCtx()
		err := e.media.Join(ctx, cmd.channel, cmd.credential, e.cfg.Local.UID)
		cancel()
		if err != nil {
			slog.Error("[Engine] Media join failed", "session_id", sess.ID, "error", err)
			e.dialsFailed.Add(1)
			e.teardown(CauseTransportFailure)
			return
		}
		e.store.SetJoined(true)
		e.timers.Schedule(sess.ID, deadlineAnswerWait, e.cfg.DialTimeout)

	case StateAnswerRequesting:
		e.timers.Cancel(sess.ID, deadlineAnswerRequest)
		caller := sess.Caller
		e.setState(sess.ID, StateAnswerResponsePending)
		e.beginTalking(caller)

	default:
		slog.Debug("[Engine] Transport ack in unexpected state ignored",
			"session_id", sess.ID,
			"state", sess.State.String(),
		)
	}
}

func (e *Engine) handleTransportErr(cmd command) {
	if !e.store.Matches(cmd.sessionID) {
		slog.Debug("[Engine] Stale transport error discarded", "session_id", cmd.sessionID)
		return
	}
	sess := e.store.Current()
	slog.Warn("[Engine] Transport rejected request",
		"session_id", sess.ID,
		"state", sess.State.String(),
		"reason", cmd.reason,
	)
	switch sess.State {
	case StateDialRequesting, StateDialResponsePending, StateDialing:
		e.dialsFailed.Add(1)
		e.teardown(CauseTransportFailure)
	case StateAnswerRequesting:
		e.teardown(CauseTransportFailure)
	default:
	}
}

func (e *Engine) handleCallNotice(cmd command) {
	n := cmd.notice
	if e.store.State() != StateIdle {
		// Someone is calling while a session is active: answer with a
		// synthetic busy and drop the notice without touching state.
		ctx, cancel := e.collabCtx()
		if err := e.gateway.SendChoice(ctx, n.SessionID, n.CallerID, signaling.ChoiceBusy); err != nil {
			slog.Warn("[Engine] Synthetic busy reply failed",
				"session_id", n.SessionID,
				"caller", n.CallerID,
				"error", err,
			)
		}
		cancel()
		e.incomingRejected.Add(1)
		e.notifier.publish(Notification{
			Kind:      NotifyIncomingRejected,
			SessionID: n.SessionID,
			Peer:      n.CallerID,
		})
		return
	}

	sess := &Session{
		ID:         n.SessionID,
		Local:      e.cfg.Local,
		Caller:     Party{ID: n.CallerID, UID: n.CallerUID},
		Channel:    n.Channel,
		Credential: n.Credential,
		Attachment: n.Attachment,
		State:      StateIncoming,
	}
	if err := e.store.Begin(sess); err != nil {
		slog.Error("[Engine] Admitting call notice failed", "session_id", n.SessionID, "error", err)
		return
	}
	e.incomingAdmitted.Add(1)
	slog.Info("[Engine] Incoming call",
		"session_id", n.SessionID,
		"caller", n.CallerID,
		"channel", n.Channel,
	)
	e.notifier.publish(Notification{
		Kind:      NotifyStateChanged,
		SessionID: sess.ID,
		From:      StateIdle,
		To:        StateIncoming,
	})

	ctx, cancel := e.collabCtx()
	err := e.media.Join(ctx, n.Channel, n.Credential, e.cfg.Local.UID)
	cancel()
	if err != nil {
		slog.Error("[Engine] Media join failed for incoming call", "session_id", sess.ID, "error", err)
		ctx, cancel := e.collabCtx()
		_ = e.gateway.SendChoice(ctx, sess.ID, n.CallerID, signaling.ChoiceHangup)
		cancel()
		e.teardown(CauseTransportFailure)
		return
	}
	e.store.SetJoined(true)
	e.timers.Schedule(sess.ID, deadlineIncoming, e.cfg.IncomingTimeout)
	e.notifier.publish(Notification{
		Kind:      NotifyIncomingCall,
		SessionID: sess.ID,
		Peer:      n.CallerID,
		Text:      n.Attachment,
	})
}

func (e *Engine) handleChoice(cmd command) {
	m := cmd.choice
	if !e.store.Matches(m.SessionID) {
		slog.Debug("[Engine] Stale peer choice discarded",
			"session_id", m.SessionID,
			"peer", m.PeerID,
			"choice", m.Choice.String(),
		)
		return
	}
	if m.Choice == signaling.ChoiceAnswer {
		e.handlePeerAnswer(m)
		return
	}
	e.handlePeerDecline(m)
}

func (e *Engine) handlePeerAnswer(m signaling.ChoiceMessage) {
	sess := e.store.Current()
	switch sess.State {
	case StateDialResponsePending, StateDialing:
		if !sess.HasPending(m.PeerID) {
			// Duplicate or late signaling; not an error.
			slog.Warn("[Engine] Answer from unknown candidate ignored",
				"session_id", sess.ID,
				"peer", m.PeerID,
			)
			return
		}
		e.timers.Cancel(sess.ID, deadlineAnswerWait)
		e.store.RemovePending(m.PeerID)

		// First answer wins: cancel everyone still ringing. Best effort,
		// no acknowledgement is awaited.
		losers := e.store.DrainPending()
		for _, p := range losers {
			ctx, cancel := e.collabCtx()
			if err := e.gateway.SendChoice(ctx, sess.ID, p, signaling.ChoiceHangup); err != nil {
				slog.Warn("[Engine] Cancel to losing candidate failed",
					"session_id", sess.ID,
					"peer", p,
					"error", err,
				)
			}
			cancel()
		}
		if e.beginTalking(Party{ID: m.PeerID, UID: m.PeerUID}) {
			e.dialsAnswered.Add(1)
			slog.Info("[Engine] Call answered",
				"session_id", sess.ID,
				"peer", m.PeerID,
				"cancelled", len(losers),
			)
			e.notifier.publish(Notification{
				Kind:      NotifyDialDone,
				SessionID: sess.ID,
				Peer:      m.PeerID,
			})
			e.notifier.publish(Notification{
				Kind:      NotifyPeerAnswer,
				SessionID: sess.ID,
				Peer:      m.PeerID,
			})
		} else {
			e.dialsFailed.Add(1)
		}

	case StateTalking:
		slog.Warn("[Engine] Answer while already talking rejected",
			"session_id", sess.ID,
			"peer", m.PeerID,
			"remote", sess.Remote.ID,
		)

	default:
		slog.Debug("[Engine] Answer in unexpected state ignored",
			"session_id", sess.ID,
			"state", sess.State.String(),
			"peer", m.PeerID,
		)
	}
}

// handlePeerDecline applies the consistent roster-reduction rule: a
// busy, hangup or timeout from a still-pending candidate only shrinks
// the roster, and the session tears down once it empties. The same
// choice from the confirmed peer (or the incoming caller) always tears
// the whole session down.
func (e *Engine) handlePeerDecline(m signaling.ChoiceMessage) {
	sess := e.store.Current()

	cause := CausePeerHangup
	peerKind := NotifyPeerHangup
	switch m.Choice {
	case signaling.ChoiceBusy:
		cause = CausePeerBusy
		peerKind = NotifyPeerBusy
	case signaling.ChoiceTimeout:
		cause = CausePeerTimeout
	}

	confirmed := sess.Remote.ID != "" && sess.Remote.ID == m.PeerID
	incomingCaller := (sess.State == StateIncoming || sess.State == StateAnswerRequesting) &&
		sess.Caller.ID == m.PeerID

	if confirmed || incomingCaller {
		slog.Info("[Engine] Peer ended call",
			"session_id", sess.ID,
			"peer", m.PeerID,
			"choice", m.Choice.String(),
		)
		e.notifier.publish(Notification{
			Kind:      peerKind,
			SessionID: sess.ID,
			Peer:      m.PeerID,
		})
		e.teardown(cause)
		return
	}

	if sess.State.Ringing() && sess.HasPending(m.PeerID) {
		e.store.RemovePending(m.PeerID)
		slog.Info("[Engine] Candidate declined",
			"session_id", sess.ID,
			"peer", m.PeerID,
			"choice", m.Choice.String(),
		)
		e.notifier.publish(Notification{
			Kind:      peerKind,
			SessionID: sess.ID,
			Peer:      m.PeerID,
		})
		if cur := e.store.Current(); cur != nil && len(cur.PendingPeers) == 0 {
			// Last candidate gone without a winner: the whole attempt failed.
			e.dialsFailed.Add(1)
			e.teardown(cause)
		}
		return
	}

	slog.Debug("[Engine] Choice from unknown peer ignored",
		"session_id", sess.ID,
		"peer", m.PeerID,
		"choice", m.Choice.String(),
	)
}

func (e *Engine) handleCustomText(cmd command) {
	if !e.store.Matches(cmd.sessionID) {
		slog.Debug("[Engine] Custom text for unknown session", "session_id", cmd.sessionID)
	}
	// Out-of-band: delivered regardless of call state, never mutates it.
	e.notifier.publish(Notification{
		Kind:      NotifyCustomText,
		SessionID: cmd.sessionID,
		Peer:      cmd.from,
		Text:      cmd.text,
	})
}

func (e *Engine) handleRecording(cmd command) {
	e.notifier.publish(Notification{
		Kind:      NotifyRecording,
		SessionID: cmd.sessionID,
		Payload:   cmd.payload,
	})
}

// --- Media events ---

func (e *Engine) handleMediaEvent(cmd command) {
	ev := cmd.mediaEvent
	sess := e.store.Current()
	if sess == nil {
		slog.Debug("[Engine] Media event without session ignored", "kind", ev.Kind.String())
		return
	}

	switch ev.Kind {
	case media.EventJoined:
		if sess.State == StateDialResponsePending {
			e.setState(sess.ID, StateDialing)
		}

	case media.EventPeerJoined:
		if sess.Remote.ID != "" && sess.Remote.UID == 0 {
			e.store.SetRemoteUID(ev.PeerUID)
		}

	case media.EventPeerLeft:
		// A vanished transport handle is a dropped connection, not a
		// graceful exchange: forced hangup whatever the sub-state.
		var remoteUID uint32
		switch sess.State {
		case StateTalking, StateAnswerResponsePending, StateDialing, StateDialResponsePending:
			remoteUID = sess.Remote.UID
		case StateIncoming, StateAnswerRequesting:
			remoteUID = sess.Caller.UID
		}
		if remoteUID == 0 || ev.PeerUID != remoteUID {
			slog.Debug("[Engine] Unrelated peer left media channel",
				"session_id", sess.ID,
				"uid", ev.PeerUID,
			)
			return
		}
		slog.Info("[Engine] Remote transport handle lost",
			"session_id", sess.ID,
			"uid", ev.PeerUID,
			"state", sess.State.String(),
		)
		e.teardown(CausePeerLost)
	}
}

// --- Deadlines ---

func (e *Engine) handleDeadline(cmd command) {
	if !e.store.Matches(cmd.sessionID) {
		// The scheduling session is gone; the timer is inert.
		slog.Debug("[Engine] Stale deadline discarded",
			"session_id", cmd.sessionID,
			"kind", cmd.deadline.String(),
		)
		return
	}
	sess := e.store.Current()
	slog.Info("[Engine] Deadline fired",
		"session_id", sess.ID,
		"kind", cmd.deadline.String(),
		"state", sess.State.String(),
	)

	switch cmd.deadline {
	case deadlineDialRequest:
		if sess.State == StateDialRequesting {
			e.dialsFailed.Add(1)
			e.teardown(CauseTimeout)
		}

	case deadlineAnswerWait:
		if sess.State == StateDialResponsePending || sess.State == StateDialing {
			// The global dial window closed: cancel every remaining candidate.
			for _, p := range e.store.DrainPending() {
				ctx, cancel := e.collabCtx()
				if err := e.gateway.SendChoice(ctx, sess.ID, p, signaling.ChoiceTimeout); err != nil {
					slog.Warn("[Engine] Timeout choice failed",
						"session_id", sess.ID,
						"peer", p,
						"error", err,
					)
				}
				cancel()
			}
			e.dialsFailed.Add(1)
			e.teardown(CausePeerTimeout)
		}

	case deadlineIncoming:
		if sess.State == StateIncoming {
			ctx, cancel := e.collabCtx()
			_ = e.gateway.SendChoice(ctx, sess.ID, sess.Caller.ID, signaling.ChoiceTimeout)
			cancel()
			e.teardown(CauseTimeout)
		}

	case deadlineAnswerRequest:
		if sess.State == StateAnswerRequesting {
			e.completeAnswer(ErrAckTimeout)
			e.teardown(CauseTimeout)
		}
	}
}
