package service

import (
	"context"
	"errors"
	"time"

	"github.com/lyzr/convertd/common/logger"
	"github.com/lyzr/convertd/common/sessionstore"
)

// watchdogBatchSize caps the sessions requeued per cycle
const watchdogBatchSize = 100

// Watchdog requeues sessions stuck in processing whose worker stopped
// heartbeating, typically after a worker crash. processing -> queued is
// the single sanctioned backward transition: a retry, not a lifecycle
// step.
type Watchdog struct {
	store    sessionstore.Store
	interval time.Duration
	grace    time.Duration
	log      *logger.Logger
}

// NewWatchdog creates the watchdog (not yet started)
func NewWatchdog(store sessionstore.Store, interval, grace time.Duration, log *logger.Logger) *Watchdog {
	return &Watchdog{
		store:    store,
		interval: interval,
		grace:    grace,
		log:      log,
	}
}

// Start runs the check loop until ctx is cancelled
func (w *Watchdog) Start(ctx context.Context) {
	w.log.Info("watchdog starting", "interval", w.interval, "grace", w.grace)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watchdog shutting down")
			return
		case <-ticker.C:
			if err := w.CheckOnce(ctx); err != nil {
				w.log.Error("watchdog cycle failed", "error", err)
			}
		}
	}
}

// CheckOnce requeues sessions whose processing heartbeat is stale
func (w *Watchdog) CheckOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-w.grace)
	ids, err := w.store.ListStuck(ctx, cutoff, watchdogBatchSize)
	if err != nil {
		return err
	}

	for _, id := range ids {
		_, err := w.store.CompareAndTransition(ctx, id,
			sessionstore.StateProcessing, sessionstore.StateQueued,
			func(s *sessionstore.Session) { s.Progress = 0 })
		if errors.Is(err, sessionstore.ErrConflict) || errors.Is(err, sessionstore.ErrNotFound) {
			// The worker finished after all, or the reaper got there first
			continue
		}
		if err != nil {
			w.log.Error("failed to requeue stuck session", "session_id", id, "error", err)
			continue
		}

		if err := w.store.Enqueue(ctx, id); err != nil {
			w.log.Error("failed to enqueue requeued session", "session_id", id, "error", err)
			continue
		}

		w.log.Warn("requeued stuck session", "session_id", id, "stale_since", cutoff)
	}

	return nil
}
