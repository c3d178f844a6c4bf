package gateway

import (
	"context"
	"time"
)

// EventKind identifies a lifecycle event emitted by a connection.
type EventKind string

const (
	// EventPairingCode is emitted when a fresh pairing code is available.
	EventPairingCode EventKind = "pairing_code"
	// EventAuthenticated is an intermediate event; it does not change state.
	EventAuthenticated EventKind = "authenticated"
	// EventReady is emitted when the connection is fully established.
	EventReady EventKind = "ready"
	// EventAuthFailure is emitted when the platform rejects authentication.
	EventAuthFailure EventKind = "auth_failure"
	// EventDisconnected is emitted when the connection drops.
	EventDisconnected EventKind = "disconnected"
)

// Event is one lifecycle event. Events for a given session are delivered in
// emission order; no ordering is guaranteed across sessions.
type Event struct {
	Kind EventKind

	// Code is the raw pairing code (EventPairingCode only).
	Code string

	// Reason carries the failure or disconnect reason, when known.
	Reason string
}

// LiveState is the connection's self-reported state.
type LiveState string

// LiveConnected is the only live state in which sends are allowed.
// Any other value is treated as not connected.
const LiveConnected LiveState = "CONNECTED"

// Media is an outbound media attachment.
type Media struct {
	MimeType string
	Data     []byte
	Caption  string
	Kind     string
}

// Payload is an outbound message: text, or media with optional caption.
type Payload struct {
	Text  string
	Media *Media
}

// Receipt acknowledges a delivered payload.
type Receipt struct {
	MessageID string
	Timestamp time.Time
}

// Conn is the opaque connection handle obtained from a Factory.
//
// The registry exclusively owns each Conn; no other component retains a
// reference. Implementations must deliver events for one session in order
// and must tolerate Destroy being called at any time, more than once.
type Conn interface {
	// On registers the event callback. It must be called before Connect.
	On(fn func(Event))

	// Connect initiates the connection and starts event delivery.
	Connect(ctx context.Context) error

	// QueryLiveState reports the connection's actual state.
	QueryLiveState(ctx context.Context) (LiveState, error)

	// Send delivers a payload to the given platform address.
	Send(ctx context.Context, address string, p Payload) (Receipt, error)

	// OwnerNumber returns the linked account number. Valid once connected.
	OwnerNumber(ctx context.Context) (string, error)

	// Destroy tears the connection down (idempotent).
	Destroy(ctx context.Context) error
}

// Factory constructs connection handles for new sessions.
type Factory interface {
	New(ctx context.Context, sessionID string) (Conn, error)
}
