// Package media defines the contract with the real-time media transport.
// The call engine drives it through Engine and receives presence events
// back through EventHandler.
package media

import (
	"context"
	"fmt"
)

// EventKind classifies a media transport event.
type EventKind int

const (
	// EventJoined means the local side finished joining the channel.
	EventJoined EventKind = iota
	// EventPeerJoined means a remote handle appeared on the channel.
	EventPeerJoined
	// EventPeerLeft means a remote handle disappeared from the channel.
	EventPeerLeft
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventJoined:
		return "Joined"
	case EventPeerJoined:
		return "PeerJoined"
	case EventPeerLeft:
		return "PeerLeft"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Event is a media transport notification. Events are produced on the
// transport's own goroutines and must be converted to engine commands,
// never applied to shared state directly.
type Event struct {
	Kind     EventKind
	Channel  string
	LocalUID uint32
	PeerUID  uint32
}

// EventHandler receives media transport events. The call engine implements it.
type EventHandler interface {
	HandleMediaEvent(ev Event)
}

// Engine abstracts the media transport: channel membership, publishing
// and mute controls. Implementations run their own concurrency; all
// methods must be safe for concurrent use.
type Engine interface {
	// Join enters the media channel with the given credential and local handle.
	Join(ctx context.Context, channel, credential string, uid uint32) error

	// Leave exits the current channel. Safe to call when not joined.
	Leave(ctx context.Context) error

	// PublishLocal starts publishing the local tracks.
	PublishLocal(ctx context.Context, audio, video bool) error

	// MuteLocalAudio toggles the local audio track.
	MuteLocalAudio(ctx context.Context, muted bool) error

	// MuteLocalVideo toggles the local video track.
	MuteLocalVideo(ctx context.Context, muted bool) error

	// MutePeerAudio toggles playback of a remote handle's audio.
	MutePeerAudio(ctx context.Context, uid uint32, muted bool) error

	// MutePeerVideo toggles rendering of a remote handle's video.
	MutePeerVideo(ctx context.Context, uid uint32, muted bool) error

	// SetPeerHandle pins the confirmed remote handle for subscription.
	SetPeerHandle(ctx context.Context, uid uint32) error

	// Close releases transport resources.
	Close() error
}
