package call

import "errors"

// Sentinel errors for use with errors.Is.
var (
	// ErrBadState indicates the operation is invalid for the current state.
	ErrBadState = errors.New("operation invalid in current call state")

	// ErrSessionActive indicates a call session already exists.
	ErrSessionActive = errors.New("call session already active")

	// ErrNotRegistered indicates no local identity is registered with the gateway.
	ErrNotRegistered = errors.New("local identity not registered")

	// ErrNoPeers indicates a dial was attempted with an empty callee list.
	ErrNoPeers = errors.New("no callee peers given")

	// ErrPeerUnreachable indicates the signaling gateway cannot reach peers.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrMailboxFull indicates the engine mailbox rejected a local request.
	ErrMailboxFull = errors.New("engine mailbox full")

	// ErrAckTimeout indicates a request acknowledgement deadline fired.
	ErrAckTimeout = errors.New("acknowledgement timeout")

	// ErrShutdown indicates the engine has been stopped.
	ErrShutdown = errors.New("engine is shut down")
)
