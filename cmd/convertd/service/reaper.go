package service

import (
	"context"
	"errors"
	"time"

	"github.com/lyzr/convertd/common/blob"
	"github.com/lyzr/convertd/common/logger"
	"github.com/lyzr/convertd/common/sessionstore"
)

// reapBatchSize caps the work done per scan cycle
const reapBatchSize = 100

// Reaper deletes expired sessions and their blobs. Deletion is blob-first
// then record, and every step is idempotent, so a crash mid-reap is
// always finished by the next cycle. Failures are logged and retried on
// the next scan; they are never fatal.
type Reaper struct {
	store    sessionstore.Store
	blobs    blob.Store
	interval time.Duration
	log      *logger.Logger
}

// NewReaper creates the reaper (not yet started)
func NewReaper(store sessionstore.Store, blobs blob.Store, interval time.Duration, log *logger.Logger) *Reaper {
	return &Reaper{
		store:    store,
		blobs:    blobs,
		interval: interval,
		log:      log,
	}
}

// Start runs the scan loop until ctx is cancelled
func (r *Reaper) Start(ctx context.Context) {
	r.log.Info("reaper starting", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper shutting down")
			return
		case <-ticker.C:
			if err := r.ReapOnce(ctx); err != nil {
				r.log.Error("reap cycle failed", "error", err)
			}
		}
	}
}

// ReapOnce scans for expired sessions and reclaims them
func (r *Reaper) ReapOnce(ctx context.Context) error {
	now := time.Now()
	ids, err := r.store.ListExpired(ctx, now, reapBatchSize)
	if err != nil {
		return err
	}

	reaped := 0
	for _, id := range ids {
		if err := r.reapSession(ctx, id, now); err != nil {
			// Keep the record so the next cycle revisits it
			r.log.Warn("failed to reap session, will retry", "session_id", id, "error", err)
			continue
		}
		reaped++
	}

	if reaped > 0 {
		r.log.Info("reaped expired sessions", "count", reaped)
	}
	return nil
}

func (r *Reaper) reapSession(ctx context.Context, id string, now time.Time) error {
	sess, err := r.store.Get(ctx, id)
	if errors.Is(err, sessionstore.ErrNotFound) {
		// Record already gone (backstop TTL); clear the index entry
		return r.store.Delete(ctx, id)
	}
	if err != nil {
		return err
	}

	// The index can lag a record whose expiry was extended at completion
	if !sess.ExpiredAt(now) {
		return nil
	}

	if sess.State != sessionstore.StateExpired {
		_, err := r.store.CompareAndTransition(ctx, id, sess.State, sessionstore.StateExpired, nil)
		if errors.Is(err, sessionstore.ErrConflict) {
			// Racing transition; revisit next cycle
			return nil
		}
		if err != nil && !errors.Is(err, sessionstore.ErrNotFound) {
			return err
		}
	}

	if sess.InputRef != "" {
		if err := r.blobs.Delete(ctx, sess.InputRef); err != nil {
			return err
		}
	}
	if sess.OutputRef != "" {
		if err := r.blobs.Delete(ctx, sess.OutputRef); err != nil {
			return err
		}
	}

	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}

	r.log.Debug("session reaped", "session_id", id, "state", sess.State)
	return nil
}
