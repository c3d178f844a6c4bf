package gateway

import "time"

// State is the recorded lifecycle state of a session.
type State string

const (
	// StateInitializing is the state between Create and the first event.
	StateInitializing State = "initializing"
	// StatePairingPending means a pairing code is rendered and waiting.
	StatePairingPending State = "pairing_pending"
	// StateConnected means the session is authenticated and usable.
	StateConnected State = "connected"
	// StateAuthFailed means the platform rejected authentication.
	StateAuthFailed State = "auth_failed"
	// StateDisconnected means the connection dropped.
	StateDisconnected State = "disconnected"
)

// record is one session entry. All fields are guarded by the registry lock;
// conn is set once during Create and never replaced.
type record struct {
	sessionID string
	ownerID   string

	state State
	conn  Conn

	// pairingCode is the rendered artifact, non-empty only in
	// pairing_pending. pairingAt is its creation time, kept until the
	// sweeper discards it.
	pairingCode string
	pairingAt   time.Time

	// phoneNumber is the linked account number, resolved on ready.
	phoneNumber string

	createdAt        time.Time
	lastTransitionAt time.Time
}

// Status is the caller-visible snapshot of one session.
type Status struct {
	SessionID   string
	State       State
	PairingCode string
	PhoneNumber string
	IsReady     bool
}

// SessionInfo is one List entry.
type SessionInfo struct {
	SessionID string
	State     State
}
