// Package app wires the gateway runtime: config, logging, HTTP routes, the
// session registry, and the background sweepers.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"wagate/internal/api"
	"wagate/internal/bridge"
	"wagate/internal/directory"
	"wagate/internal/gateway"
)

// App is the gateway runtime: it owns the HTTP server, the session
// registry, and every background worker attached to them.
type App struct {
	cfg Config
	log Logger

	gcfg     gateway.Config
	reg      *gateway.Registry
	disp     *gateway.Dispatcher
	sweeper  *gateway.Sweeper
	notifier *gateway.WebhookNotifier
	restorer *gateway.Restorer

	handler *api.Handler

	dbPool    *pgxpool.Pool
	dbEnabled bool

	startedAt time.Time
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	gcfg, err := gateway.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	dbPool, dbEnabled, dir, err := newDirectory(context.Background(), cfg, gcfg.APIKey, log)
	if err != nil {
		return nil, err
	}

	factory := bridge.NewFactory(log, cfg.BridgeURL)
	notifier := gateway.NewWebhookNotifier(log, gcfg)
	reg := gateway.NewRegistry(log, gcfg, factory, notifier)
	disp := gateway.NewDispatcher(log, gcfg, reg)

	acfg := api.DefaultConfig()
	acfg.APIKey = gcfg.APIKey
	handler := api.NewHandler(log, acfg, reg, disp)

	return &App{
		cfg:       cfg,
		log:       log,
		gcfg:      gcfg,
		reg:       reg,
		disp:      disp,
		sweeper:   gateway.NewSweeper(log, gcfg, reg),
		notifier:  notifier,
		restorer:  gateway.NewRestorer(log, reg, dir),
		handler:   handler,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		startedAt: time.Now().UTC(),
	}, nil
}

// Run starts the HTTP server and background workers, and blocks until
// context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 45*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"max_sessions", a.gcfg.MaxSessions,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.sweeper.Run(runCtx)

	// Restoration runs off the request path; the server comes up first so
	// health checks pass while sessions reconnect.
	go a.restorer.Run(runCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	cancel()
	a.reg.DestroyAll(shutdownCtx)
	a.notifier.Close()
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newDirectory decides where restoration reads from: the control plane's
// database when configured, its HTTP API otherwise, or nowhere at all.
func newDirectory(ctx context.Context, cfg Config, apiKey string, log Logger) (*pgxpool.Pool, bool, gateway.Directory, error) {
	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, false, nil, err
		}
		dir, err := directory.NewPostgres(pool)
		if err != nil {
			pool.Close()
			return nil, false, nil, err
		}
		log.Info("directory.postgres")
		return pool, true, dir, nil
	}

	if cfg.DirectoryURL != "" {
		log.Info("directory.http", "url", cfg.DirectoryURL)
		return nil, false, directory.NewHTTP(log, cfg.DirectoryURL, apiKey, cfg.DirectoryTimeout), nil
	}

	log.Info("directory.disabled")
	return nil, false, nil, nil
}
