// Package signaling defines the logical control-plane messages exchanged
// with peers through the coordinating server, and the gateway contract
// the call engine drives.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
)

// Choice is a peer-to-peer signaling reply about a ringing or active call.
type Choice int

const (
	// ChoiceBusy means the callee is refusing because a session is active.
	ChoiceBusy Choice = iota
	// ChoiceAnswer means the callee accepted the call.
	ChoiceAnswer
	// ChoiceHangup means the sender is ending or cancelling the call.
	ChoiceHangup
	// ChoiceTimeout means the sender gave up waiting for a decision.
	ChoiceTimeout
)

// String returns the wire name of the choice.
func (c Choice) String() string {
	switch c {
	case ChoiceBusy:
		return "busy"
	case ChoiceAnswer:
		return "answer"
	case ChoiceHangup:
		return "hangup"
	case ChoiceTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// MarshalJSON encodes the choice by its wire name.
func (c Choice) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a choice from its wire name.
func (c *Choice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseChoice(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseChoice maps a wire name back to a Choice.
func ParseChoice(s string) (Choice, error) {
	switch s {
	case "busy":
		return ChoiceBusy, nil
	case "answer":
		return ChoiceAnswer, nil
	case "hangup":
		return ChoiceHangup, nil
	case "timeout":
		return ChoiceTimeout, nil
	default:
		return 0, fmt.Errorf("unknown choice %q", s)
	}
}

// CallNotice announces an incoming call to a callee.
type CallNotice struct {
	SessionID  string
	CallerID   string
	CallerUID  uint32
	CalleeID   string
	Channel    string
	Credential string
	Attachment string
}

// ChoiceMessage carries a peer's decision about a session.
type ChoiceMessage struct {
	SessionID string
	PeerID    string
	PeerUID   uint32
	Choice    Choice
}

// Handler receives inbound control messages. The call engine implements
// it; every method converts the message into a mailbox command, so
// implementations must tolerate being called from gateway goroutines.
type Handler interface {
	// HandleTransportAck reports that the server accepted a new-call or
	// answer request and, for dials, assigned the media channel.
	HandleTransportAck(sessionID, channel, credential string)

	// HandleTransportError reports that the server rejected a pending request.
	HandleTransportError(sessionID, reason string)

	// HandleCallNotice delivers an incoming call announcement.
	HandleCallNotice(n CallNotice)

	// HandleChoice delivers a peer decision.
	HandleChoice(m ChoiceMessage)

	// HandleCustomText delivers an out-of-band application message.
	// It never affects call state.
	HandleCustomText(sessionID, from, text string)

	// HandleRecordingHandshake delivers a cloud-recording control payload.
	// The recording flow itself is owned by the application.
	HandleRecordingHandshake(sessionID string, payload json.RawMessage)
}

// Gateway sends control messages to peers through the coordinating
// server. Implementations run their own concurrency; all methods must be
// safe for concurrent use.
type Gateway interface {
	// SendNewCall announces a call attempt to every callee.
	SendNewCall(ctx context.Context, sessionID string, callees []string, attachment string) error

	// SendChoice sends a busy/answer/hangup/timeout reply to one peer.
	SendChoice(ctx context.Context, sessionID, target string, choice Choice) error

	// SendCustomText sends an out-of-band application message.
	SendCustomText(ctx context.Context, sessionID, text string) error

	// SendRecordingHandshake forwards a recording control payload.
	SendRecordingHandshake(ctx context.Context, sessionID string, payload json.RawMessage) error

	// Registered reports whether the local identity is registered with
	// the server and messages can be delivered.
	Registered() bool

	// Close tears the gateway connection down.
	Close() error
}
