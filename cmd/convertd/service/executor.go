package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lyzr/convertd/cmd/convertd/converter"
	"github.com/lyzr/convertd/common/blob"
	"github.com/lyzr/convertd/common/config"
	"github.com/lyzr/convertd/common/logger"
	"github.com/lyzr/convertd/common/sessionstore"
)

// queuePollInterval bounds how long a worker blocks on an empty queue
// before re-checking for shutdown
const queuePollInterval = 2 * time.Second

// Failure codes recorded on the session
const (
	failCodeConversion = "CONVERSION_ERROR"
	failCodeStorage    = "STORAGE_ERROR"
	failCodeTimeout    = "TIMEOUT"
	failCodeTool       = "UNKNOWN_TOOL"
)

// Auditor records terminal conversion outcomes. Nil-safe at the call
// sites; auditing is best effort and never fails a conversion.
type Auditor interface {
	RecordConversion(ctx context.Context, sessionID, tool, outcome, cause string, inputSize, outputSize int64, duration time.Duration) error
}

// Executor is the bounded worker pool. Workers draw queued session ids,
// claim them through compare-and-transition and run the conversion
// collaborator with a per-job timeout. Saturation needs no policy here:
// sessions simply stay queued in the store until a worker gets to them or
// their TTL reclaims them.
type Executor struct {
	store    sessionstore.Store
	blobs    blob.Store
	registry *converter.Registry
	cfg      config.ProcessingConfig
	log      *logger.Logger
	audit    Auditor

	wg sync.WaitGroup
}

// NewExecutor creates the worker pool (not yet started)
func NewExecutor(store sessionstore.Store, blobs blob.Store, registry *converter.Registry, cfg config.ProcessingConfig, log *logger.Logger, audit Auditor) *Executor {
	return &Executor{
		store:    store,
		blobs:    blobs,
		registry: registry,
		cfg:      cfg,
		log:      log,
		audit:    audit,
	}
}

// Start launches the workers; they run until ctx is cancelled
func (e *Executor) Start(ctx context.Context) {
	e.log.Info("executor starting", "concurrency", e.cfg.WorkerConcurrency)
	for i := 0; i < e.cfg.WorkerConcurrency; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
}

// Wait blocks until all workers have exited
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) worker(ctx context.Context, idx int) {
	defer e.wg.Done()
	log := e.log.WithFields(map[string]any{"worker": idx})

	for {
		if ctx.Err() != nil {
			log.Debug("worker shutting down")
			return
		}

		id, err := e.store.NextQueued(ctx, queuePollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("failed to poll queue", "error", err)
			continue
		}
		if id == "" {
			continue
		}

		e.process(ctx, id)
	}
}

// process runs one conversion end to end. Every exit path leaves the
// session either in a terminal state or untouched for another actor.
func (e *Executor) process(ctx context.Context, id string) {
	start := time.Now()

	sess, err := e.store.CompareAndTransition(ctx, id,
		sessionstore.StateQueued, sessionstore.StateProcessing,
		func(s *sessionstore.Session) { s.Progress = 10 })
	if errors.Is(err, sessionstore.ErrConflict) || errors.Is(err, sessionstore.ErrNotFound) {
		// Stale queue entry: another actor already advanced or reaped it
		e.log.Debug("skipping stale queue entry", "session_id", id)
		return
	}
	if err != nil {
		e.log.Error("failed to claim session", "session_id", id, "error", err)
		return
	}

	log := e.log.WithSessionID(id).WithTool(sess.Operation.Tool)
	log.Info("conversion started")

	rc, err := e.blobs.Get(ctx, sess.InputRef)
	if err != nil {
		e.fail(ctx, sess, failCodeStorage, "input blob unavailable", start)
		return
	}
	input, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		e.fail(ctx, sess, failCodeStorage, "input blob unreadable", start)
		return
	}

	entry, ok := e.registry.Lookup(sess.Operation.Tool)
	if !ok {
		e.fail(ctx, sess, failCodeTool, fmt.Sprintf("no converter for %q", sess.Operation.Tool), start)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.ProcessingTimeout)
	defer cancel()

	output, err := e.convert(cctx, entry.Converter, sess, input, log)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			e.fail(ctx, sess, failCodeTimeout,
				fmt.Sprintf("conversion exceeded %s", e.cfg.ProcessingTimeout), start)
		case ctx.Err() != nil:
			// Shutdown mid-conversion: leave the session in processing for
			// the watchdog to requeue
			log.Warn("conversion interrupted by shutdown")
		default:
			e.fail(ctx, sess, failCodeConversion, err.Error(), start)
		}
		return
	}

	now := time.Now().UTC()
	outputName := converter.OutputFilename(sess.Filename, entry.TargetExt, now)
	outputRef := fmt.Sprintf("%s/out/%s", sess.ID, outputName)

	if err := e.blobs.Put(ctx, outputRef, bytes.NewReader(output)); err != nil {
		e.fail(ctx, sess, failCodeStorage, "could not store result", start)
		return
	}

	completed, err := e.store.CompareAndTransition(ctx, sess.ID,
		sessionstore.StateProcessing, sessionstore.StateCompleted,
		func(s *sessionstore.Session) {
			s.OutputRef = outputRef
			s.OutputName = outputName
			s.OutputSize = int64(len(output))
			s.Progress = 100
			s.CompletedAt = &now
			s.ExpiresAt = now.Add(e.cfg.CompletedTTL)
		})
	if errors.Is(err, sessionstore.ErrConflict) || errors.Is(err, sessionstore.ErrNotFound) {
		// The session expired while we were converting. Discard the
		// result quietly; the guard did its job.
		log.Warn("session moved during conversion, discarding result")
		if derr := e.blobs.Delete(ctx, outputRef); derr != nil {
			log.Warn("failed to delete orphan output blob", "error", derr)
		}
		return
	}
	if err != nil {
		log.Error("failed to complete session", "error", err)
		return
	}

	log.Info("conversion completed",
		"duration", time.Since(start),
		"input_size", len(input),
		"output_size", len(output),
	)
	e.record(ctx, completed, "completed", "", int64(len(input)), int64(len(output)), time.Since(start))
}

// convert runs the collaborator in its own goroutine so a routine that
// ignores its context cannot pin the worker slot past the timeout
func (e *Executor) convert(ctx context.Context, conv converter.Converter, sess *sessionstore.Session, input []byte, log *logger.Logger) ([]byte, error) {
	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)

	go func() {
		out, err := conv.Convert(ctx, input, sess.Operation.Options, e.progressSink(ctx, sess.ID))
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.out, r.err
	}
}

// progressSink writes monotonic progress updates through the store. Each
// update is a processing->processing transition, so it doubles as the
// worker heartbeat the watchdog relies on. Lost races are ignored.
func (e *Executor) progressSink(ctx context.Context, id string) converter.ProgressFunc {
	last := 0
	return func(percent int) {
		if percent <= last || percent > 100 {
			return
		}
		last = percent
		_, err := e.store.CompareAndTransition(ctx, id,
			sessionstore.StateProcessing, sessionstore.StateProcessing,
			func(s *sessionstore.Session) {
				if percent > s.Progress {
					s.Progress = percent
				}
			})
		if err != nil && !errors.Is(err, sessionstore.ErrConflict) && !errors.Is(err, sessionstore.ErrNotFound) {
			e.log.Debug("progress update failed", "session_id", id, "error", err)
		}
	}
}

// fail records a terminal failure on the session. A conflict means the
// session already moved (typically to expired); the failure is discarded.
func (e *Executor) fail(ctx context.Context, sess *sessionstore.Session, code, message string, start time.Time) {
	log := e.log.WithSessionID(sess.ID).WithTool(sess.Operation.Tool)

	_, err := e.store.CompareAndTransition(ctx, sess.ID,
		sessionstore.StateProcessing, sessionstore.StateFailed,
		func(s *sessionstore.Session) {
			s.Error = &sessionstore.Failure{Code: code, Message: message}
		})
	if errors.Is(err, sessionstore.ErrConflict) || errors.Is(err, sessionstore.ErrNotFound) {
		log.Warn("session moved before failure could be recorded", "code", code)
		return
	}
	if err != nil {
		log.Error("failed to record failure", "code", code, "error", err)
		return
	}

	log.Info("conversion failed", "code", code, "message", message)
	e.record(ctx, sess, "failed", code, sess.Size, 0, time.Since(start))
}

func (e *Executor) record(ctx context.Context, sess *sessionstore.Session, outcome, cause string, inputSize, outputSize int64, duration time.Duration) {
	if e.audit == nil {
		return
	}
	err := e.audit.RecordConversion(ctx, sess.ID, sess.Operation.Tool, outcome, cause, inputSize, outputSize, duration)
	if err != nil {
		e.log.Warn("audit record failed", "session_id", sess.ID, "error", err)
	}
}
