package call

import (
	"fmt"
	"sync"
	"time"
)

// deadlineKind names the pending operation a deadline supervises.
type deadlineKind int

const (
	// deadlineDialRequest covers the wait for the new-call transport ack.
	deadlineDialRequest deadlineKind = iota
	// deadlineAnswerWait covers the whole multi-callee ringing window.
	deadlineAnswerWait
	// deadlineIncoming covers the unanswered-incoming window.
	deadlineIncoming
	// deadlineAnswerRequest covers the wait for the answer transport ack.
	deadlineAnswerRequest
)

// String returns the string representation of the deadline kind.
func (k deadlineKind) String() string {
	switch k {
	case deadlineDialRequest:
		return "dialRequest"
	case deadlineAnswerWait:
		return "answerWait"
	case deadlineIncoming:
		return "incoming"
	case deadlineAnswerRequest:
		return "answerRequest"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// timerKey scopes a deadline to one (session, operation) pair. A deadline
// is inert once its session is gone: the stale-session check in the
// engine loop drops whatever a late timer delivers.
type timerKey struct {
	sessionID string
	kind      deadlineKind
}

// timerSupervisor schedules single-shot deadlines and delivers expiries
// into the engine mailbox as commands.
type timerSupervisor struct {
	mu     sync.Mutex
	timers map[timerKey]*time.Timer
	fire   func(cmd command)
}

func newTimerSupervisor(fire func(cmd command)) *timerSupervisor {
	return &timerSupervisor{
		timers: make(map[timerKey]*time.Timer),
		fire:   fire,
	}
}

// Schedule arms one deadline for the (session, kind) pair, replacing any
// existing one. Expiry enqueues a deadline command tagged with both.
func (ts *timerSupervisor) Schedule(sessionID string, kind deadlineKind, d time.Duration) {
	key := timerKey{sessionID: sessionID, kind: kind}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t, ok := ts.timers[key]; ok {
		t.Stop()
	}
	ts.timers[key] = time.AfterFunc(d, func() {
		ts.mu.Lock()
		delete(ts.timers, key)
		ts.mu.Unlock()
		ts.fire(command{kind: cmdDeadline, sessionID: sessionID, deadline: kind})
	})
}

// Cancel disarms the deadline for the (session, kind) pair. Cancelling an
// unknown pair is a no-op.
func (ts *timerSupervisor) Cancel(sessionID string, kind deadlineKind) {
	key := timerKey{sessionID: sessionID, kind: kind}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t, ok := ts.timers[key]; ok {
		t.Stop()
		delete(ts.timers, key)
	}
}

// CancelSession disarms every deadline scoped to the session. Called on
// teardown so repeated failures never accumulate leaked timers.
func (ts *timerSupervisor) CancelSession(sessionID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for key, t := range ts.timers {
		if key.sessionID == sessionID {
			t.Stop()
			delete(ts.timers, key)
		}
	}
}

// Stop disarms everything.
func (ts *timerSupervisor) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for key, t := range ts.timers {
		t.Stop()
		delete(ts.timers, key)
	}
}

// pending reports how many deadlines are armed.
func (ts *timerSupervisor) pending() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.timers)
}
