// Package bridge implements the gateway's connection contract over a
// websocket to the browser-automation sidecar that speaks the platform's
// wire protocol. One socket per session: the sidecar streams lifecycle
// events down it and answers send/state commands on the same socket,
// correlated by command id.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/oklog/ulid/v2"

	"wagate/internal/gateway"
)

const (
	subprotocol = "wagate.bridge.v1"

	// Event and command envelope types.
	typeEvent = "event"
	typeReply = "reply"
	typeSend  = "send"
	typeState = "state"
	typeOwner = "owner"
)

// envelope is the bridge wire frame, shared by events, commands, and
// replies. Unused fields are omitted on the wire.
type envelope struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// Event fields.
	Event  string `json:"event,omitempty"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Command fields.
	Address  string `json:"address,omitempty"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Kind     string `json:"kind,omitempty"`

	// Reply fields.
	Error       string `json:"error,omitempty"`
	State       string `json:"state,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Factory dials one bridge socket per session.
type Factory struct {
	log     *slog.Logger
	baseURL string
}

// NewFactory constructs a Factory for the given bridge base URL
// (e.g. ws://localhost:3001).
func NewFactory(log *slog.Logger, baseURL string) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{log: log, baseURL: baseURL}
}

// New returns an undailed connection handle for the session. The caller
// registers its event callback and then calls Connect.
func (f *Factory) New(_ context.Context, sessionID string) (gateway.Conn, error) {
	if f.baseURL == "" {
		return nil, errors.New("bridge: endpoint not configured")
	}
	return &Conn{
		log:     f.log.With("session_id", sessionID),
		url:     f.baseURL + "/session/" + url.PathEscape(sessionID),
		pending: make(map[string]chan envelope),
		done:    make(chan struct{}),
	}, nil
}

// Conn is one session's bridge socket.
//
// Design notes:
//   - The read loop is the only reader; it delivers events synchronously in
//     arrival order and routes replies to waiting commands.
//   - done signals the read loop and in-flight commands to stop.
//   - Destroy is idempotent.
type Conn struct {
	log *slog.Logger
	url string

	handler func(gateway.Event)

	mu      sync.Mutex
	ws      *websocket.Conn
	pending map[string]chan envelope

	done      chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
}

// On registers the event callback. Must be called before Connect.
func (c *Conn) On(fn func(gateway.Event)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// Connect dials the bridge and starts the read loop.
func (c *Conn) Connect(ctx context.Context) error {
	ws, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		return fmt.Errorf("bridge: dial: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	go c.readLoop(ws)
	c.log.Info("bridge.connected")
	return nil
}

// QueryLiveState asks the sidecar for the connection's actual state.
func (c *Conn) QueryLiveState(ctx context.Context) (gateway.LiveState, error) {
	reply, err := c.command(ctx, envelope{Type: typeState})
	if err != nil {
		return "", err
	}
	return gateway.LiveState(reply.State), nil
}

// Send delivers a payload and waits for the sidecar's acknowledgment.
func (c *Conn) Send(ctx context.Context, address string, p gateway.Payload) (gateway.Receipt, error) {
	env := envelope{Type: typeSend, Address: address, Text: p.Text}
	if p.Media != nil {
		env.MimeType = p.Media.MimeType
		env.Data = p.Media.Data
		env.Caption = p.Media.Caption
		env.Kind = p.Media.Kind
	}

	reply, err := c.command(ctx, env)
	if err != nil {
		return gateway.Receipt{}, err
	}
	return gateway.Receipt{
		MessageID: reply.MessageID,
		Timestamp: time.Unix(reply.Timestamp, 0).UTC(),
	}, nil
}

// OwnerNumber returns the linked account number.
func (c *Conn) OwnerNumber(ctx context.Context) (string, error) {
	reply, err := c.command(ctx, envelope{Type: typeOwner})
	if err != nil {
		return "", err
	}
	return reply.PhoneNumber, nil
}

// Destroy closes the socket and releases in-flight commands (idempotent).
func (c *Conn) Destroy(_ context.Context) error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			_ = ws.Close(websocket.StatusNormalClosure, "session destroyed")
		}
		c.log.Info("bridge.closed")
	})
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.done
		cancel()
	}()

	for {
		var env envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			c.dropped(err)
			return
		}

		switch env.Type {
		case typeEvent:
			c.dispatchEvent(env)
		case typeReply:
			c.mu.Lock()
			ch := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- env
			}
		default:
			c.log.Debug("bridge.frame.ignored", "type", env.Type)
		}
	}
}

// dispatchEvent maps a sidecar event to the gateway contract and delivers
// it synchronously, preserving arrival order.
func (c *Conn) dispatchEvent(env envelope) {
	c.mu.Lock()
	fn := c.handler
	c.mu.Unlock()
	if fn == nil {
		return
	}

	switch env.Event {
	case "qr":
		fn(gateway.Event{Kind: gateway.EventPairingCode, Code: env.Code})
	case "authenticated":
		fn(gateway.Event{Kind: gateway.EventAuthenticated})
	case "ready":
		fn(gateway.Event{Kind: gateway.EventReady})
	case "auth_failure":
		fn(gateway.Event{Kind: gateway.EventAuthFailure, Reason: env.Reason})
	case "disconnected":
		fn(gateway.Event{Kind: gateway.EventDisconnected, Reason: env.Reason})
	default:
		c.log.Debug("bridge.event.ignored", "event", env.Event)
	}
}

// dropped reports an unexpected socket loss as a disconnect event, once.
// A loss caused by Destroy is not an event; the registry already removed
// the record.
func (c *Conn) dropped(err error) {
	select {
	case <-c.done:
		return
	default:
	}

	c.dropOnce.Do(func() {
		c.log.Warn("bridge.read.fail", "err", err)
		c.dispatchEvent(envelope{
			Type:   typeEvent,
			Event:  "disconnected",
			Reason: "bridge socket lost",
		})
	})
}

// command writes one command frame and waits for its correlated reply.
func (c *Conn) command(ctx context.Context, env envelope) (envelope, error) {
	env.ID = ulid.Make().String()
	ch := make(chan envelope, 1)

	c.mu.Lock()
	ws := c.ws
	if ws == nil {
		c.mu.Unlock()
		return envelope{}, errors.New("bridge: not connected")
	}
	c.pending[env.ID] = ch
	c.mu.Unlock()

	if err := wsjson.Write(ctx, ws, env); err != nil {
		c.forget(env.ID)
		return envelope{}, fmt.Errorf("bridge: write: %w", err)
	}

	select {
	case <-ctx.Done():
		c.forget(env.ID)
		return envelope{}, ctx.Err()
	case <-c.done:
		return envelope{}, errors.New("bridge: session closed")
	case reply := <-ch:
		if reply.Error != "" {
			return envelope{}, errors.New(reply.Error)
		}
		return reply, nil
	}
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
