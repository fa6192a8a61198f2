package call

import (
	"errors"
	"testing"
)

func TestStoreBeginRejectsSecondSession(t *testing.T) {
	st := NewStore()
	if err := st.Begin(&Session{ID: "s1", State: StateDialRequesting}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	err := st.Begin(&Session{ID: "s2"})
	if !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Begin() error = %v, want ErrSessionActive", err)
	}
}

func TestStoreMatches(t *testing.T) {
	st := NewStore()
	if st.Matches("s1") {
		t.Error("Matches() on empty store = true, want false")
	}
	if err := st.Begin(&Session{ID: "s1"}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if !st.Matches("s1") {
		t.Error("Matches(s1) = false, want true")
	}
	if st.Matches("s2") {
		t.Error("Matches(s2) = true, want false")
	}
	st.Clear()
	if st.Matches("s1") {
		t.Error("Matches() after Clear = true, want false")
	}
}

func TestStoreRemovePending(t *testing.T) {
	st := NewStore()
	if err := st.Begin(&Session{ID: "s1", PendingPeers: []string{"a", "b", "c"}}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	removed, remaining := st.RemovePending("b")
	if !removed || remaining != 2 {
		t.Errorf("RemovePending(b) = (%v, %d), want (true, 2)", removed, remaining)
	}
	removed, remaining = st.RemovePending("b")
	if removed || remaining != 2 {
		t.Errorf("RemovePending(b) again = (%v, %d), want (false, 2)", removed, remaining)
	}
	removed, remaining = st.RemovePending("x")
	if removed {
		t.Errorf("RemovePending(x) removed = true, want false")
	}
	_ = remaining
}

func TestStoreDrainPending(t *testing.T) {
	st := NewStore()
	if err := st.Begin(&Session{ID: "s1", PendingPeers: []string{"a", "b"}}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	got := st.DrainPending()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("DrainPending() = %v, want [a b]", got)
	}
	if got := st.DrainPending(); len(got) != 0 {
		t.Errorf("second DrainPending() = %v, want empty", got)
	}
}

func TestStoreConfirmRemoteEmptiesRoster(t *testing.T) {
	st := NewStore()
	if err := st.Begin(&Session{ID: "s1", PendingPeers: []string{"a", "b"}}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	st.ConfirmRemote(Party{ID: "a", UID: 7})

	snap, ok := st.Snapshot()
	if !ok {
		t.Fatal("Snapshot() ok = false")
	}
	if snap.Remote.ID != "a" || snap.Remote.UID != 7 {
		t.Errorf("Remote = %+v, want {a 7}", snap.Remote)
	}
	if len(snap.PendingPeers) != 0 {
		t.Errorf("PendingPeers = %v, want empty", snap.PendingPeers)
	}
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	st := NewStore()
	if err := st.Begin(&Session{ID: "s1", PendingPeers: []string{"a", "b"}}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	snap, _ := st.Snapshot()
	snap.PendingPeers[0] = "mutated"

	cur, _ := st.Snapshot()
	if cur.PendingPeers[0] != "a" {
		t.Errorf("store roster mutated through snapshot: %v", cur.PendingPeers)
	}
}

func TestStoreStateWithoutSession(t *testing.T) {
	st := NewStore()
	if got := st.State(); got != StateIdle {
		t.Errorf("State() = %v, want Idle", got)
	}
}

func TestSessionHasPending(t *testing.T) {
	sess := &Session{PendingPeers: []string{"a", "b"}}
	if !sess.HasPending("a") {
		t.Error("HasPending(a) = false, want true")
	}
	if sess.HasPending("c") {
		t.Error("HasPending(c) = true, want false")
	}
}
