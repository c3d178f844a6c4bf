package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const teardownTimeout = 10 * time.Second

// Registry owns the mapping from session id to session record and is the
// single source of truth for session state.
//
// Concurrency model: one lock guards the whole map. Every record mutation
// (create, transition, destroy, sweep) happens under it, which serializes
// racing operations on the same id. Blocking work — connection initiation,
// teardown, live-state queries — runs outside the lock with bounded
// timeouts so sweeps and reads are never blocked indefinitely.
type Registry struct {
	log      *slog.Logger
	cfg      Config
	factory  Factory
	notifier Notifier

	// now is the clock; overridable in tests.
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*record
}

// NewRegistry constructs a Registry. notifier may be nil to disable
// status propagation.
func NewRegistry(log *slog.Logger, cfg Config, factory Factory, notifier Notifier) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log,
		cfg:      cfg,
		factory:  factory,
		notifier: notifier,
		now:      time.Now,
		sessions: make(map[string]*record),
	}
}

// Create registers a new session and initiates its connection.
//
// The ceiling check and map insertion are atomic, so the live count never
// overshoots under concurrent creates. Initiation runs outside the lock;
// on failure the record is rolled back and the partially-built connection
// torn down, so callers never observe a half-created session.
//
// restore only lowers the severity of the duplicate-id log line; the
// semantics are identical to a normal create.
func (r *Registry) Create(ctx context.Context, sessionID, ownerID string, restore bool) error {
	now := r.now().UTC()

	r.mu.Lock()
	if _, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		if restore {
			r.log.Info("session.create.exists", "session_id", sessionID)
		} else {
			r.log.Warn("session.create.exists", "session_id", sessionID)
		}
		return ErrAlreadyExists
	}
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		r.log.Error("session.create.capacity", "session_id", sessionID, "ceiling", r.cfg.MaxSessions)
		return ErrCapacityExceeded
	}
	rec := &record{
		sessionID:        sessionID,
		ownerID:          ownerID,
		state:            StateInitializing,
		createdAt:        now,
		lastTransitionAt: now,
	}
	r.sessions[sessionID] = rec
	metricActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	conn, err := r.factory.New(ctx, sessionID)
	if err != nil {
		r.rollback(rec)
		r.log.Error("session.create.fail", "session_id", sessionID, "err", err)
		return fmt.Errorf("create connection: %w", err)
	}
	conn.On(func(ev Event) { r.handleEvent(sessionID, ev) })

	r.mu.Lock()
	if cur, ok := r.sessions[sessionID]; !ok || cur != rec {
		// Destroyed while the handle was being built.
		r.mu.Unlock()
		r.teardown(sessionID, conn)
		return ErrSessionClosed
	}
	rec.conn = conn
	r.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()
	if err := conn.Connect(initCtx); err != nil {
		r.rollback(rec)
		r.teardown(sessionID, conn)
		r.log.Error("session.create.fail", "session_id", sessionID, "err", err)
		return fmt.Errorf("initiate connection: %w", err)
	}

	r.log.Info("session.created", "session_id", sessionID, "owner_id", ownerID, "restore", restore)
	return nil
}

// Status returns a snapshot of one session.
//
// When the recorded state is connected it first reconciles against the
// connection's live state and downgrades the record to disconnected on any
// mismatch or query failure, so a handle that silently dropped is never
// reported as connected.
func (r *Registry) Status(ctx context.Context, sessionID string) (Status, error) {
	r.mu.Lock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return Status{}, ErrNotFound
	}
	st := Status{
		SessionID:   sessionID,
		State:       rec.state,
		PairingCode: rec.pairingCode,
		PhoneNumber: rec.phoneNumber,
	}
	conn := rec.conn
	r.mu.Unlock()

	if st.State == StateConnected {
		live, err := r.queryLive(ctx, conn)
		if err != nil || live != LiveConnected {
			r.log.Warn("session.state.mismatch",
				"session_id", sessionID, "recorded", string(StateConnected), "live", string(live), "err", err)
			r.transition(sessionID, StateDisconnected, nil)
			st.State = StateDisconnected
		}
	}
	if st.State != StateConnected {
		st.PhoneNumber = ""
	}
	st.IsReady = st.State == StateConnected
	return st, nil
}

// Destroy tears down the connection and removes the record and any pairing
// artifact unconditionally. Removal is atomic from the caller's
// perspective: once the record is gone, late events for the id are no-ops.
// Teardown errors are logged, never propagated.
func (r *Registry) Destroy(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.sessions, sessionID)
	metricActiveSessions.Set(float64(len(r.sessions)))
	conn := rec.conn
	r.mu.Unlock()

	if conn != nil {
		r.teardown(sessionID, conn)
	}
	r.log.Info("session.destroyed", "session_id", sessionID)
	return nil
}

// DestroyAll destroys every live session. Used during graceful shutdown.
func (r *Registry) DestroyAll(ctx context.Context) {
	for _, s := range r.List() {
		_ = r.Destroy(ctx, s.SessionID)
	}
}

// List returns a snapshot of all sessions, sorted by id. No reconciliation.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for id, rec := range r.sessions {
		out = append(out, SessionInfo{SessionID: id, State: rec.state})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len returns the current number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// transition is the only mutator used by event callbacks and reconciliation.
// It no-ops when the session no longer exists, which makes a destroy racing
// a late event safe. A transition to the current state refreshes
// lastTransitionAt only; changed reports whether the state actually moved.
func (r *Registry) transition(sessionID string, next State, apply func(*record)) (ownerID string, changed, ok bool) {
	r.mu.Lock()
	rec, present := r.sessions[sessionID]
	if !present {
		r.mu.Unlock()
		r.log.Debug("session.transition.unknown", "session_id", sessionID, "state", string(next))
		return "", false, false
	}
	prev := rec.state
	rec.state = next
	rec.lastTransitionAt = r.now().UTC()
	if next != StatePairingPending {
		rec.pairingCode = ""
	}
	if next == StateConnected {
		rec.pairingAt = time.Time{}
	}
	if apply != nil {
		apply(rec)
	}
	ownerID = rec.ownerID
	r.mu.Unlock()

	metricTransitions.WithLabelValues(string(next)).Inc()
	if prev != next {
		r.log.Info("session.state", "session_id", sessionID, "from", string(prev), "to", string(next))
	} else {
		r.log.Debug("session.state.refresh", "session_id", sessionID, "state", string(next))
	}
	return ownerID, prev != next, true
}

// handleEvent applies one connection event. Events for a session arrive in
// emission order; each runs to completion before the next is delivered.
func (r *Registry) handleEvent(sessionID string, ev Event) {
	switch ev.Kind {
	case EventPairingCode:
		rendered, err := renderPairingCode(ev.Code)
		if err != nil {
			r.log.Error("session.pairing.render_fail", "session_id", sessionID, "err", err)
			return
		}
		// A fresh code replaces the previous one and is re-announced even
		// if the session is already pairing_pending.
		owner, _, ok := r.transition(sessionID, StatePairingPending, func(rec *record) {
			rec.pairingCode = rendered
			rec.pairingAt = r.now().UTC()
		})
		if ok {
			r.notify(StatusNotification{
				SessionID: sessionID, OwnerID: owner,
				Status: StatePairingPending, QRCode: rendered,
			})
		}

	case EventAuthenticated:
		r.log.Info("session.authenticated", "session_id", sessionID)

	case EventReady:
		phone := r.resolveOwnerNumber(sessionID)
		owner, changed, ok := r.transition(sessionID, StateConnected, func(rec *record) {
			rec.phoneNumber = phone
		})
		if ok && changed {
			r.notify(StatusNotification{
				SessionID: sessionID, OwnerID: owner,
				Status: StateConnected, PhoneNumber: phone,
			})
		}

	case EventAuthFailure:
		owner, changed, ok := r.transition(sessionID, StateAuthFailed, nil)
		if ok && changed {
			r.notify(StatusNotification{
				SessionID: sessionID, OwnerID: owner,
				Status: StateAuthFailed, Error: ev.Reason,
			})
		}

	case EventDisconnected:
		owner, changed, ok := r.transition(sessionID, StateDisconnected, nil)
		if ok && changed {
			r.notify(StatusNotification{
				SessionID: sessionID, OwnerID: owner,
				Status: StateDisconnected, Reason: ev.Reason,
			})
		}

	default:
		r.log.Debug("session.event.ignored", "session_id", sessionID, "kind", string(ev.Kind))
	}
}

// lookup returns the connection and recorded state for a session.
func (r *Registry) lookup(sessionID string) (Conn, State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		return nil, "", false
	}
	return rec.conn, rec.state, true
}

func (r *Registry) queryLive(ctx context.Context, conn Conn) (LiveState, error) {
	if conn == nil {
		return "", ErrSessionClosed
	}
	qctx, cancel := context.WithTimeout(ctx, r.cfg.StateQueryTimeout)
	defer cancel()
	return conn.QueryLiveState(qctx)
}

func (r *Registry) resolveOwnerNumber(sessionID string) string {
	r.mu.Lock()
	var conn Conn
	if rec, ok := r.sessions[sessionID]; ok {
		conn = rec.conn
	}
	r.mu.Unlock()
	if conn == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StateQueryTimeout)
	defer cancel()
	num, err := conn.OwnerNumber(ctx)
	if err != nil {
		r.log.Error("session.owner_number.fail", "session_id", sessionID, "err", err)
		return ""
	}
	return num
}

func (r *Registry) notify(n StatusNotification) {
	if r.notifier == nil {
		return
	}
	n.Timestamp = r.now().UTC()
	r.notifier.Notify(n)
}

// rollback removes a record inserted by Create, but only if it is still the
// same record (a concurrent destroy-and-recreate must not be clobbered).
func (r *Registry) rollback(rec *record) {
	r.mu.Lock()
	if cur, ok := r.sessions[rec.sessionID]; ok && cur == rec {
		delete(r.sessions, rec.sessionID)
		metricActiveSessions.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()
}

// teardown destroys a connection best-effort with a bounded timeout.
func (r *Registry) teardown(sessionID string, conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := conn.Destroy(ctx); err != nil {
		r.log.Error("session.teardown.fail", "session_id", sessionID, "err", err)
	}
}
