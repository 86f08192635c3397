// Package daemon wires the credit core together and runs it as a service:
// SQLite store, credit guard, tier engine, payout engine, HTTP API, and the
// cron-driven background jobs (payout reconciliation, lock-table sweep).
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/verdictlabs/verdict/internal/api"
	"github.com/verdictlabs/verdict/internal/app/guard"
	"github.com/verdictlabs/verdict/internal/app/payout"
	"github.com/verdictlabs/verdict/internal/app/tier"
	"github.com/verdictlabs/verdict/internal/infra/keylock"
	"github.com/verdictlabs/verdict/internal/infra/observability"
	"github.com/verdictlabs/verdict/internal/infra/sqlite"
)

// lockSweepSchedule bounds how long an expired lock entry can linger in the
// table between acquisitions.
const lockSweepSchedule = "@every 1m"

// Daemon is the assembled verdict service.
type Daemon struct {
	cfg     Config
	log     zerolog.Logger
	db      *sqlite.DB
	locks   *keylock.Table
	payouts *payout.Engine
	server  *http.Server
	cron    *cron.Cron
}

// New opens the store and wires every component. The caller owns the
// returned daemon and must Run it.
func New(cfg Config) (*Daemon, error) {
	log := newLogger(cfg.Log)

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.New(registry)

	locks := keylock.New(cfg.Guard.LockTTLDuration())
	g := guard.New(db, locks, metrics, log)
	tiers := tier.New(db, metrics, log)
	payouts := payout.New(db, g, tiers, metrics, log)

	srv := api.NewServer(g, tiers, payouts, db, log)
	if cfg.API.Metrics {
		srv.EnableMetrics(registry)
	}

	return &Daemon{
		cfg:     cfg,
		log:     log,
		db:      db,
		locks:   locks,
		payouts: payouts,
		server: &http.Server{
			Addr:              cfg.API.Addr(),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		cron: cron.New(),
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.startJobs(ctx); err != nil {
		return err
	}
	d.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		d.log.Info().Str("addr", d.server.Addr).Msg("api listening")
		if err := d.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		d.log.Info().Msg("shutting down")
	case err := <-errCh:
		d.shutdown()
		return fmt.Errorf("api server: %w", err)
	}

	d.shutdown()
	return nil
}

// startJobs registers the background schedules.
func (d *Daemon) startJobs(ctx context.Context) error {
	_, err := d.cron.AddFunc(d.cfg.Payout.ReconcileSchedule, func() {
		jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		failed, err := d.payouts.Reconcile(jobCtx, d.cfg.Payout.StaleAfterDuration())
		if err != nil {
			d.log.Error().Err(err).Msg("payout reconcile failed")
			return
		}
		if failed > 0 {
			d.log.Info().Int("failed", failed).Msg("payout reconcile swept stale requests")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciler (%q): %w", d.cfg.Payout.ReconcileSchedule, err)
	}

	if _, err := d.cron.AddFunc(lockSweepSchedule, func() {
		if n := d.locks.Sweep(); n > 0 {
			d.log.Warn().Int("released", n).Msg("swept expired operation locks")
		}
	}); err != nil {
		return fmt.Errorf("schedule lock sweep: %w", err)
	}
	return nil
}

func (d *Daemon) shutdown() {
	stopCtx := d.cron.Stop()
	<-stopCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.log.Warn().Err(err).Msg("api shutdown not clean")
	}
	if err := d.db.Close(); err != nil {
		d.log.Warn().Err(err).Msg("store close failed")
	}
}

// newLogger builds the process logger from config.
func newLogger(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
