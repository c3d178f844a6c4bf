package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// checkArtifactInvariant asserts pairingCode is present iff the session is
// pairing_pending.
func checkArtifactInvariant(t *testing.T, reg *Registry, sessionID string) {
	t.Helper()
	reg.mu.Lock()
	rec, ok := reg.sessions[sessionID]
	if !ok {
		reg.mu.Unlock()
		return
	}
	hasCode := rec.pairingCode != ""
	state := rec.state
	reg.mu.Unlock()

	if hasCode != (state == StatePairingPending) {
		t.Fatalf("artifact invariant violated: code=%v state=%s", hasCode, state)
	}
}

func TestCreateAndPairingFlow(t *testing.T) {
	reg, f, n := newTestRegistry(10)
	ctx := context.Background()

	if err := reg.Create(ctx, "s1", "u1", false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	st, err := reg.Status(ctx, "s1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != StateInitializing || st.IsReady {
		t.Fatalf("unexpected status %+v", st)
	}

	f.conn("s1").emit(Event{Kind: EventPairingCode, Code: "2@abcdef"})
	checkArtifactInvariant(t, reg, "s1")

	st, err = reg.Status(ctx, "s1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != StatePairingPending {
		t.Fatalf("state = %s, want pairing_pending", st.State)
	}
	if !strings.HasPrefix(st.PairingCode, "data:image/png;base64,") {
		t.Fatalf("pairing code not rendered: %q", st.PairingCode[:min(len(st.PairingCode), 40)])
	}

	calls := n.calls()
	if len(calls) != 1 || calls[0].Status != StatePairingPending || calls[0].QRCode == "" {
		t.Fatalf("unexpected notifications: %+v", calls)
	}
	if calls[0].OwnerID != "u1" {
		t.Fatalf("owner = %q, want u1", calls[0].OwnerID)
	}
}

func TestReadyClearsArtifactAndResolvesNumber(t *testing.T) {
	reg, f, n := newTestRegistry(10)
	ctx := context.Background()

	if err := reg.Create(ctx, "s1", "u1", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	c := f.conn("s1")
	c.emit(Event{Kind: EventPairingCode, Code: "2@abcdef"})
	c.emit(Event{Kind: EventAuthenticated})
	c.emit(Event{Kind: EventReady})
	checkArtifactInvariant(t, reg, "s1")

	st, err := reg.Status(ctx, "s1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != StateConnected || !st.IsReady {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.PairingCode != "" {
		t.Fatalf("pairing code not cleared on connect")
	}
	if st.PhoneNumber != "15551234567" {
		t.Fatalf("phone = %q", st.PhoneNumber)
	}

	calls := n.calls()
	if len(calls) != 2 {
		t.Fatalf("got %d notifications, want 2 (authenticated is log-only)", len(calls))
	}
	if calls[1].Status != StateConnected || calls[1].PhoneNumber != "15551234567" {
		t.Fatalf("unexpected connected notification: %+v", calls[1])
	}
}

func TestDuplicateCreateRejected(t *testing.T) {
	reg, f, _ := newTestRegistry(10)
	ctx := context.Background()

	connect(reg, f, "s1", "u1")

	if err := reg.Create(ctx, "s1", "u2", false); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}

	// The existing record is untouched.
	st, err := reg.Status(ctx, "s1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != StateConnected {
		t.Fatalf("state = %s, want connected", st.State)
	}
}

func TestCeilingScenario(t *testing.T) {
	reg, _, _ := newTestRegistry(1)
	ctx := context.Background()

	if err := reg.Create(ctx, "s1", "u1", false); err != nil {
		t.Fatalf("Create s1: %v", err)
	}
	if err := reg.Create(ctx, "s2", "u2", false); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	if err := reg.Destroy(ctx, "s1"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := reg.Create(ctx, "s2", "u2", false); err != nil {
		t.Fatalf("Create s2 after destroy: %v", err)
	}
}

func TestConcurrentCreatesNeverExceedCeiling(t *testing.T) {
	const ceiling = 5
	reg, _, _ := newTestRegistry(ceiling)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "s" + string(rune('a'+i))
			if err := reg.Create(ctx, id, "u1", false); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !errors.Is(err, ErrCapacityExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if accepted != ceiling {
		t.Fatalf("accepted = %d, want %d", accepted, ceiling)
	}
	if got := reg.Len(); got != ceiling {
		t.Fatalf("live count = %d, want %d", got, ceiling)
	}
}

func TestCreateRollsBackOnInitiationFailure(t *testing.T) {
	reg, f, _ := newTestRegistry(10)
	f.prepare = func(c *fakeConn) { c.connectErr = errors.New("browser launch failed") }

	err := reg.Create(context.Background(), "s1", "u1", false)
	if err == nil {
		t.Fatal("expected initiation error")
	}
	if reg.Len() != 0 {
		t.Fatalf("record not rolled back, len = %d", reg.Len())
	}
	if !f.conn("s1").destroyed() {
		t.Fatal("partially-built connection not torn down")
	}
	if _, serr := reg.Status(context.Background(), "s1"); !errors.Is(serr, ErrNotFound) {
		t.Fatalf("Status after rollback = %v, want ErrNotFound", serr)
	}
}

func TestDestroyThenLateEventIsNoop(t *testing.T) {
	reg, f, n := newTestRegistry(10)
	ctx := context.Background()

	c := connect(reg, f, "s1", "u1")
	before := len(n.calls())

	if err := reg.Destroy(ctx, "s1"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !c.destroyed() {
		t.Fatal("connection not torn down on destroy")
	}

	// A stale in-flight event must not resurrect the record.
	c.emit(Event{Kind: EventDisconnected, Reason: "NAVIGATION"})
	c.emit(Event{Kind: EventReady})

	if reg.Len() != 0 {
		t.Fatalf("record resurrected, len = %d", reg.Len())
	}
	if _, err := reg.Status(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Status = %v, want ErrNotFound", err)
	}
	if got := len(n.calls()); got != before {
		t.Fatalf("late events produced %d notifications", got-before)
	}
}

func TestDestroyUnknownSession(t *testing.T) {
	reg, _, _ := newTestRegistry(10)
	if err := reg.Destroy(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDuplicateReadyEventNotifiesOnce(t *testing.T) {
	reg, f, n := newTestRegistry(10)

	c := connect(reg, f, "s1", "u1")
	first := len(n.calls())

	reg.mu.Lock()
	firstTransition := reg.sessions["s1"].lastTransitionAt
	reg.mu.Unlock()

	reg.now = func() time.Time { return time.Now().Add(time.Minute) }
	c.emit(Event{Kind: EventReady})

	if got := len(n.calls()); got != first {
		t.Fatalf("duplicate ready produced %d extra notifications", got-first)
	}

	reg.mu.Lock()
	rec := reg.sessions["s1"]
	if rec.state != StateConnected {
		t.Fatalf("state = %s", rec.state)
	}
	refreshed := rec.lastTransitionAt.After(firstTransition)
	reg.mu.Unlock()
	if !refreshed {
		t.Fatal("duplicate event did not refresh lastTransitionAt")
	}
}

func TestAuthFailureAfterConnected(t *testing.T) {
	reg, f, n := newTestRegistry(10)

	c := connect(reg, f, "s1", "u1")
	c.emit(Event{Kind: EventAuthFailure, Reason: "logged out elsewhere"})
	checkArtifactInvariant(t, reg, "s1")

	st, err := reg.Status(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != StateAuthFailed || st.IsReady || st.PhoneNumber != "" {
		t.Fatalf("unexpected status %+v", st)
	}

	calls := n.calls()
	last := calls[len(calls)-1]
	if last.Status != StateAuthFailed || last.Error != "logged out elsewhere" {
		t.Fatalf("unexpected notification %+v", last)
	}
}

func TestStatusReconciliationDowngradesStaleConnected(t *testing.T) {
	reg, f, _ := newTestRegistry(10)
	ctx := context.Background()

	c := connect(reg, f, "s1", "u1")
	c.setLive("UNPAIRED", nil)

	st, err := reg.Status(ctx, "s1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != StateDisconnected || st.IsReady {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.PhoneNumber != "" {
		t.Fatalf("phone reported for non-connected session")
	}

	// The downgrade is persisted, not just reported.
	if _, state, _ := reg.lookup("s1"); state != StateDisconnected {
		t.Fatalf("recorded state = %s, want disconnected", state)
	}
}

func TestStatusReconciliationTreatsQueryErrorAsDisconnected(t *testing.T) {
	reg, f, _ := newTestRegistry(10)

	c := connect(reg, f, "s1", "u1")
	c.setLive("", errors.New("page crashed"))

	st, err := reg.Status(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", st.State)
	}
}

func TestListSnapshot(t *testing.T) {
	reg, f, _ := newTestRegistry(10)
	ctx := context.Background()

	connect(reg, f, "s2", "u1")
	if err := reg.Create(ctx, "s1", "u1", false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].SessionID != "s1" || list[1].SessionID != "s2" {
		t.Fatalf("list not sorted: %+v", list)
	}
	if list[0].State != StateInitializing || list[1].State != StateConnected {
		t.Fatalf("unexpected states: %+v", list)
	}
}

func TestDestroyAll(t *testing.T) {
	reg, f, _ := newTestRegistry(10)

	connect(reg, f, "s1", "u1")
	connect(reg, f, "s2", "u2")

	reg.DestroyAll(context.Background())
	if reg.Len() != 0 {
		t.Fatalf("len = %d, want 0", reg.Len())
	}
}
