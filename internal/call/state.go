// Package call implements the call-session core: a single-owner state
// machine driven by one command loop, the session store, deadline
// supervision, and the notification fan-out.
package call

import "fmt"

// State represents the lifecycle state of the call session.
type State int

const (
	// StateIdle means no call session exists.
	StateIdle State = iota
	// StateDialRequesting means a local dial was submitted, awaiting the transport ack.
	StateDialRequesting
	// StateDialResponsePending means the transport ack arrived and the media join is in progress.
	StateDialResponsePending
	// StateDialing means the candidate peers are ringing and local media is prepared.
	StateDialing
	// StateIncoming means a remote call notice was admitted and the media join is in progress.
	StateIncoming
	// StateAnswerRequesting means a local answer was submitted, awaiting the transport ack.
	StateAnswerRequesting
	// StateAnswerResponsePending means the answer was acknowledged and publish is starting.
	StateAnswerResponsePending
	// StateTalking means exactly one remote peer is confirmed and media is flowing.
	StateTalking
	// StateHangupRequesting means a local hangup is in flight.
	StateHangupRequesting
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateDialRequesting:
		return "DialRequesting"
	case StateDialResponsePending:
		return "DialResponsePending"
	case StateDialing:
		return "Dialing"
	case StateIncoming:
		return "Incoming"
	case StateAnswerRequesting:
		return "AnswerRequesting"
	case StateAnswerResponsePending:
		return "AnswerResponsePending"
	case StateTalking:
		return "Talking"
	case StateHangupRequesting:
		return "HangupRequesting"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines which state transitions are allowed.
// Every state may fall back to Idle: all teardown paths end there.
var validTransitions = map[State][]State{
	StateIdle:                  {StateDialRequesting, StateIncoming},
	StateDialRequesting:        {StateDialResponsePending, StateIdle},
	StateDialResponsePending:   {StateDialing, StateTalking, StateIdle},
	StateDialing:               {StateTalking, StateHangupRequesting, StateIdle},
	StateIncoming:              {StateAnswerRequesting, StateHangupRequesting, StateIdle},
	StateAnswerRequesting:      {StateAnswerResponsePending, StateTalking, StateIdle},
	StateAnswerResponsePending: {StateTalking, StateIdle},
	StateTalking:               {StateHangupRequesting, StateIdle},
	StateHangupRequesting:      {StateIdle},
}

// CanTransitionTo checks if a transition from the current state to next is valid.
func (s State) CanTransitionTo(next State) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == next {
			return true
		}
	}
	return false
}

// IsActive returns true for every state except Idle.
func (s State) IsActive() bool {
	return s != StateIdle
}

// Ringing returns true while an outgoing dial is awaiting a peer decision.
func (s State) Ringing() bool {
	return s == StateDialRequesting || s == StateDialResponsePending || s == StateDialing
}

// EndCause indicates why a session was torn down.
type EndCause int

const (
	// CauseNone indicates no teardown has occurred.
	CauseNone EndCause = iota
	// CauseLocalHangup indicates the local side hung up or refused.
	CauseLocalHangup
	// CausePeerHangup indicates the remote party hung up or cancelled.
	CausePeerHangup
	// CausePeerBusy indicates every candidate peer refused with busy.
	CausePeerBusy
	// CausePeerTimeout indicates no candidate answered before the dial deadline.
	CausePeerTimeout
	// CauseTimeout indicates a local deadline fired (incoming window, ack wait).
	CauseTimeout
	// CauseTransportFailure indicates the gateway or media engine failed mid-flow.
	CauseTransportFailure
	// CausePeerLost indicates the media transport reported the remote gone.
	CausePeerLost
)

// String returns the string representation of the cause.
func (c EndCause) String() string {
	switch c {
	case CauseNone:
		return "None"
	case CauseLocalHangup:
		return "LocalHangup"
	case CausePeerHangup:
		return "PeerHangup"
	case CausePeerBusy:
		return "PeerBusy"
	case CausePeerTimeout:
		return "PeerTimeout"
	case CauseTimeout:
		return "Timeout"
	case CauseTransportFailure:
		return "TransportFailure"
	case CausePeerLost:
		return "PeerLost"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}
