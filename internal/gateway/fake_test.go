package gateway

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// fakeConn is an injectable connection handle. Tests drive lifecycle
// events through emit, which delivers synchronously and in call order.
type fakeConn struct {
	mu      sync.Mutex
	handler func(Event)

	connectErr error
	live       LiveState
	liveErr    error
	owner      string
	ownerErr   error
	sendErr    error
	receipt    Receipt

	sentTo   []string
	sent     []Payload
	destroys int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		live:    LiveConnected,
		owner:   "15551234567",
		receipt: Receipt{MessageID: "msg-1", Timestamp: time.Unix(1700000000, 0).UTC()},
	}
}

func (c *fakeConn) On(fn func(Event)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *fakeConn) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectErr
}

func (c *fakeConn) QueryLiveState(_ context.Context) (LiveState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live, c.liveErr
}

func (c *fakeConn) Send(_ context.Context, address string, p Payload) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return Receipt{}, c.sendErr
	}
	c.sentTo = append(c.sentTo, address)
	c.sent = append(c.sent, p)
	return c.receipt, nil
}

func (c *fakeConn) OwnerNumber(_ context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner, c.ownerErr
}

func (c *fakeConn) Destroy(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroys++
	return nil
}

func (c *fakeConn) emit(ev Event) {
	c.mu.Lock()
	fn := c.handler
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *fakeConn) setLive(live LiveState, err error) {
	c.mu.Lock()
	c.live = live
	c.liveErr = err
	c.mu.Unlock()
}

func (c *fakeConn) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeConn) destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroys > 0
}

// fakeFactory hands out fakeConns and remembers them per session id.
type fakeFactory struct {
	mu      sync.Mutex
	newErr  error
	prepare func(*fakeConn)
	conns   map[string]*fakeConn
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[string]*fakeConn)}
}

func (f *fakeFactory) New(_ context.Context, sessionID string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	c := newFakeConn()
	if f.prepare != nil {
		f.prepare(c)
	}
	f.conns[sessionID] = c
	return c, nil
}

func (f *fakeFactory) conn(sessionID string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[sessionID]
}

// fakeNotifier records notifications in delivery order.
type fakeNotifier struct {
	mu  sync.Mutex
	got []StatusNotification
}

func (n *fakeNotifier) Notify(sn StatusNotification) {
	n.mu.Lock()
	n.got = append(n.got, sn)
	n.mu.Unlock()
}

func (n *fakeNotifier) calls() []StatusNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]StatusNotification(nil), n.got...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(maxSessions int) (*Registry, *fakeFactory, *fakeNotifier) {
	cfg := DefaultConfig()
	cfg.MaxSessions = maxSessions
	f := newFakeFactory()
	n := &fakeNotifier{}
	return NewRegistry(discardLogger(), cfg, f, n), f, n
}

// connect creates a session and drives it to connected.
func connect(reg *Registry, f *fakeFactory, sessionID, ownerID string) *fakeConn {
	_ = reg.Create(context.Background(), sessionID, ownerID, false)
	c := f.conn(sessionID)
	c.emit(Event{Kind: EventReady})
	return c
}
