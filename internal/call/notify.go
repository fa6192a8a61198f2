package call

import (
	"fmt"
	"sync"
)

// NotificationKind classifies an outward call event.
type NotificationKind int

const (
	// NotifyStateChanged reports every state transition.
	NotifyStateChanged NotificationKind = iota
	// NotifyDialDone reports that an outgoing call reached Talking.
	NotifyDialDone
	// NotifyPeerAnswer reports which candidate won the dial.
	NotifyPeerAnswer
	// NotifyPeerBusy reports a candidate refusing with busy.
	NotifyPeerBusy
	// NotifyPeerHangup reports a candidate or the confirmed peer hanging up.
	NotifyPeerHangup
	// NotifyIncomingCall reports an admitted incoming call.
	NotifyIncomingCall
	// NotifyIncomingRejected reports a call notice answered with a
	// synthetic busy because a session was already active.
	NotifyIncomingRejected
	// NotifyEnded reports the terminal teardown of a session. Emitted
	// exactly once per admitted session, whatever the teardown path.
	NotifyEnded
	// NotifyCustomText reports an inbound out-of-band message.
	NotifyCustomText
	// NotifyRecording reports an inbound recording-handshake payload.
	NotifyRecording
)

// String returns the string representation of the notification kind.
func (k NotificationKind) String() string {
	switch k {
	case NotifyStateChanged:
		return "StateChanged"
	case NotifyDialDone:
		return "DialDone"
	case NotifyPeerAnswer:
		return "PeerAnswer"
	case NotifyPeerBusy:
		return "PeerBusy"
	case NotifyPeerHangup:
		return "PeerHangup"
	case NotifyIncomingCall:
		return "IncomingCall"
	case NotifyIncomingRejected:
		return "IncomingRejected"
	case NotifyEnded:
		return "Ended"
	case NotifyCustomText:
		return "CustomText"
	case NotifyRecording:
		return "Recording"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Notification is one outward call event. Which fields are meaningful
// depends on Kind; SessionID is always set.
type Notification struct {
	Kind      NotificationKind
	SessionID string

	// Peer names the counterparty for peer-scoped kinds.
	Peer string

	// From/To carry the transition for NotifyStateChanged.
	From State
	To   State

	// Cause is set for NotifyEnded.
	Cause EndCause

	// Text carries the payload for NotifyCustomText and the attachment
	// for NotifyIncomingCall.
	Text string

	// Payload carries the raw body for NotifyRecording.
	Payload []byte
}

// Observer receives call notifications. Callbacks run on the engine loop
// in delivery order; observers that need to block must hand off to their
// own goroutine.
type Observer interface {
	OnCallEvent(n Notification)
}

// notifier fans notifications out to registered observers.
type notifier struct {
	mu     sync.RWMutex
	nextID uint64
	order  []uint64
	byID   map[uint64]Observer
}

func newNotifier() *notifier {
	return &notifier{byID: make(map[uint64]Observer)}
}

// Register adds an observer and returns the id to unregister it with.
func (nf *notifier) Register(o Observer) uint64 {
	nf.mu.Lock()
	defer nf.mu.Unlock()
	nf.nextID++
	id := nf.nextID
	nf.order = append(nf.order, id)
	nf.byID[id] = o
	return id
}

// Unregister removes an observer. Unknown ids are ignored.
func (nf *notifier) Unregister(id uint64) {
	nf.mu.Lock()
	defer nf.mu.Unlock()
	if _, ok := nf.byID[id]; !ok {
		return
	}
	delete(nf.byID, id)
	for i, oid := range nf.order {
		if oid == id {
			nf.order = append(nf.order[:i], nf.order[i+1:]...)
			break
		}
	}
}

// publish delivers one notification to every observer in registration order.
func (nf *notifier) publish(n Notification) {
	nf.mu.RLock()
	observers := make([]Observer, 0, len(nf.order))
	for _, id := range nf.order {
		if o, ok := nf.byID[id]; ok {
			observers = append(observers, o)
		}
	}
	nf.mu.RUnlock()

	for _, o := range observers {
		o.OnCallEvent(n)
	}
}
