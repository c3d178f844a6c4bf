package gateway

import (
	"context"
	"log/slog"
)

// DirectoryEntry is one session the external directory expects to be live.
type DirectoryEntry struct {
	SessionID string
	OwnerID   string
}

// Directory lists the sessions that should exist after a restart. It is
// read-only from the gateway's perspective.
type Directory interface {
	ActiveSessions(ctx context.Context) ([]DirectoryEntry, error)
}

// RestoreResult aggregates one restoration pass for observability.
type RestoreResult struct {
	Restored int `json:"restored"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// Restorer reconciles the registry against the external directory once at
// startup.
type Restorer struct {
	log *slog.Logger
	reg *Registry
	dir Directory
}

// NewRestorer constructs a Restorer. dir may be nil to disable restoration.
func NewRestorer(log *slog.Logger, reg *Registry, dir Directory) *Restorer {
	if log == nil {
		log = slog.Default()
	}
	return &Restorer{log: log, reg: reg, dir: dir}
}

// Run creates one session per directory entry. Failures are tallied, not
// fatal: each failed entry triggers a disconnected notification so the
// system of record does not keep a stale "expected live" row.
func (r *Restorer) Run(ctx context.Context) RestoreResult {
	if r.dir == nil {
		r.log.Info("restore.disabled")
		return RestoreResult{}
	}
	r.log.Info("restore.start")

	entries, err := r.dir.ActiveSessions(ctx)
	if err != nil {
		r.log.Error("restore.directory.fail", "err", err)
		return RestoreResult{}
	}
	r.log.Info("restore.found", "count", len(entries))

	res := RestoreResult{Total: len(entries)}
	for _, e := range entries {
		if err := r.reg.Create(ctx, e.SessionID, e.OwnerID, true); err != nil {
			res.Failed++
			metricRestoreResults.WithLabelValues("failed").Inc()
			r.log.Warn("restore.session.fail", "session_id", e.SessionID, "err", err)

			r.reg.notify(StatusNotification{
				SessionID: e.SessionID,
				OwnerID:   e.OwnerID,
				Status:    StateDisconnected,
				Error:     "failed to restore session on gateway restart",
			})
			continue
		}
		res.Restored++
		metricRestoreResults.WithLabelValues("restored").Inc()
		r.log.Info("restore.session.ok", "session_id", e.SessionID)
	}

	r.log.Info("restore.done", "restored", res.Restored, "failed", res.Failed, "total", res.Total)
	return res
}
