package call

import (
	"sync"
	"time"
)

// Party identifies one side of a call: a signaling identity plus the
// numeric handle the media transport knows it by.
type Party struct {
	ID  string
	UID uint32
}

// Session is the single unit of call state. It is created when a dial or
// an admitted call notice begins, mutated only by the engine loop, and
// replaced atomically on every terminal transition.
type Session struct {
	// ID is unique per call attempt: generated locally when dialing,
	// assigned by the remote notifier when receiving a call.
	ID string

	Local Party

	// Remote is unset until exactly one peer is confirmed.
	Remote Party

	// Caller is the originating party of an incoming call. It becomes
	// Remote once the call is answered.
	Caller Party

	// PendingPeers is the ordered roster of candidate peers that have not
	// responded yet. Non-empty only while dialing multiple candidates.
	PendingPeers []string

	Channel    string
	Credential string
	Attachment string

	State State

	// Joined records whether the media channel has been joined, so
	// teardown knows whether a leave is owed.
	Joined bool

	CreatedAt      time.Time
	StateChangedAt time.Time
}

// HasPending reports whether the peer is still in the candidate roster.
func (s *Session) HasPending(peer string) bool {
	for _, p := range s.PendingPeers {
		if p == peer {
			return true
		}
	}
	return false
}

// Store holds at most one session. Mutation happens only on the engine
// loop; the lock exists so outside readers can take consistent snapshots
// while the loop is writing.
type Store struct {
	mu  sync.RWMutex
	cur *Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{}
}

// Begin installs a new session. Fails with ErrSessionActive if one exists.
func (st *Store) Begin(sess *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cur != nil {
		return ErrSessionActive
	}
	now := time.Now()
	sess.CreatedAt = now
	sess.StateChangedAt = now
	st.cur = sess
	return nil
}

// Current returns the live session for the engine loop, or nil.
func (st *Store) Current() *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur
}

// Matches reports whether the given session id identifies the live session.
// Commands carrying a stale id are discarded by the engine loop.
func (st *Store) Matches(sessionID string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur != nil && st.cur.ID == sessionID
}

// SetState moves the session to a new state and stamps the change.
func (st *Store) SetState(next State) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cur == nil {
		return
	}
	st.cur.State = next
	st.cur.StateChangedAt = time.Now()
}

// SetChannel records the media-join parameters assigned by the server.
func (st *Store) SetChannel(channel, credential string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cur == nil {
		return
	}
	st.cur.Channel = channel
	st.cur.Credential = credential
}

// SetJoined marks the media channel joined or left.
func (st *Store) SetJoined(joined bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cur != nil {
		st.cur.Joined = joined
	}
}

// ConfirmRemote sets the winning peer and empties the candidate roster.
func (st *Store) ConfirmRemote(p Party) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cur == nil {
		return
	}
	st.cur.Remote = p
	st.cur.PendingPeers = nil
}

// SetRemoteUID records the peer's media handle once the transport reports it.
func (st *Store) SetRemoteUID(uid uint32) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cur != nil {
		st.cur.Remote.UID = uid
	}
}

// RemovePending drops one candidate from the roster. It returns whether
// the peer was present and how many candidates remain.
func (st *Store) RemovePending(peer string) (removed bool, remaining int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cur == nil {
		return false, 0
	}
	kept := st.cur.PendingPeers[:0]
	for _, p := range st.cur.PendingPeers {
		if p == peer {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	st.cur.PendingPeers = kept
	return removed, len(kept)
}

// DrainPending empties the roster and returns the peers it held.
func (st *Store) DrainPending() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cur == nil {
		return nil
	}
	peers := st.cur.PendingPeers
	st.cur.PendingPeers = nil
	return peers
}

// Clear resets the store to empty and returns the session it held.
func (st *Store) Clear() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess := st.cur
	st.cur = nil
	return sess
}

// Snapshot returns a copy of the session for outside readers.
func (st *Store) Snapshot() (Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.cur == nil {
		return Session{}, false
	}
	out := *st.cur
	out.PendingPeers = append([]string(nil), st.cur.PendingPeers...)
	return out, true
}

// State returns the current state, or StateIdle when no session exists.
func (st *Store) State() State {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.cur == nil {
		return StateIdle
	}
	return st.cur.State
}
