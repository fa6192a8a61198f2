package call

import (
	"encoding/json"
	"fmt"

	"github.com/peercall/peercall/internal/media"
	"github.com/peercall/peercall/internal/signaling"
)

// cmdKind tags a mailbox command.
type cmdKind int

const (
	cmdDial cmdKind = iota
	cmdHangup
	cmdAnswer
	cmdSendText
	cmdMuteAudio
	cmdMuteVideo
	cmdTransportAck
	cmdTransportErr
	cmdCallNotice
	cmdChoice
	cmdCustomText
	cmdRecording
	cmdMediaEvent
	cmdDeadline
	cmdStop
)

// String returns the string representation of the command kind.
func (k cmdKind) String() string {
	switch k {
	case cmdDial:
		return "dial"
	case cmdHangup:
		return "hangup"
	case cmdAnswer:
		return "answer"
	case cmdSendText:
		return "sendText"
	case cmdMuteAudio:
		return "muteAudio"
	case cmdMuteVideo:
		return "muteVideo"
	case cmdTransportAck:
		return "transportAck"
	case cmdTransportErr:
		return "transportErr"
	case cmdCallNotice:
		return "callNotice"
	case cmdChoice:
		return "choice"
	case cmdCustomText:
		return "customText"
	case cmdRecording:
		return "recording"
	case cmdMediaEvent:
		return "mediaEvent"
	case cmdDeadline:
		return "deadline"
	case cmdStop:
		return "stop"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// command is one mailbox entry. Commands carrying a sessionID are checked
// against the live session before being applied; a mismatch means the
// command arrived for a session that is already gone and it is discarded.
type command struct {
	kind      cmdKind
	sessionID string

	// dial
	peers      []string
	attachment string

	// transport ack / call notice
	channel    string
	credential string
	reason     string
	notice     signaling.CallNotice

	// peer choice
	choice signaling.ChoiceMessage

	// custom text / recording
	from    string
	text    string
	payload json.RawMessage

	// media
	mediaEvent media.Event
	mute       bool

	// deadline
	deadline deadlineKind

	// reply, when a caller blocks on completion. Always buffered with
	// capacity 1 so the loop never blocks on an abandoned waiter.
	reply chan error
}

// respond completes the command's reply channel, if any.
func (c *command) respond(err error) {
	if c.reply == nil {
		return
	}
	select {
	case c.reply <- err:
	default:
	}
	c.reply = nil
}
