package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SweepDeadSessions destroys every session in disconnected or auth_failed,
// via the normal Destroy path. Safe to run concurrently with any other
// operation; a session destroyed by a racing caller is simply skipped.
func (r *Registry) SweepDeadSessions(ctx context.Context) int {
	destroyed := 0
	for _, s := range r.List() {
		if s.State != StateDisconnected && s.State != StateAuthFailed {
			continue
		}
		r.log.Info("session.sweep.dead", "session_id", s.SessionID, "state", string(s.State))
		if err := r.Destroy(ctx, s.SessionID); err != nil {
			if !errors.Is(err, ErrNotFound) {
				r.log.Error("session.sweep.fail", "session_id", s.SessionID, "err", err)
			}
			continue
		}
		destroyed++
	}
	return destroyed
}

// Sweeper runs the two periodic cleanup passes: a short-interval purge of
// expired pairing codes and a long-interval destruction of dead sessions.
type Sweeper struct {
	log *slog.Logger
	reg *Registry

	pairingInterval time.Duration
	sessionInterval time.Duration
}

// NewSweeper constructs a Sweeper from the registry's configuration.
func NewSweeper(log *slog.Logger, cfg Config, reg *Registry) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		log:             log,
		reg:             reg,
		pairingInterval: cfg.PairingSweepInterval,
		sessionInterval: cfg.SessionSweepInterval,
	}
}

// Run blocks until ctx is canceled, firing both sweeps on their intervals.
func (s *Sweeper) Run(ctx context.Context) {
	pairing := time.NewTicker(s.pairingInterval)
	defer pairing.Stop()
	sessions := time.NewTicker(s.sessionInterval)
	defer sessions.Stop()

	s.log.Info("sweeper.start",
		"pairing_interval", s.pairingInterval.String(),
		"session_interval", s.sessionInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper.stop")
			return
		case <-pairing.C:
			s.reg.SweepExpiredPairings()
		case <-sessions.C:
			s.log.Info("sweeper.session_pass")
			s.reg.SweepDeadSessions(ctx)
		}
	}
}
