package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/convertd/cmd/convertd/converter"
	"github.com/lyzr/convertd/common/blob"
	"github.com/lyzr/convertd/common/config"
	"github.com/lyzr/convertd/common/logger"
	"github.com/lyzr/convertd/common/sessionstore"
)

// Lifecycle orchestrates sessions from upload through expiry. It owns all
// state-machine decisions; workers and background loops only act through
// the same compare-and-transition primitive it uses.
type Lifecycle struct {
	store    sessionstore.Store
	blobs    blob.Store
	registry *converter.Registry
	cfg      config.ProcessingConfig
	log      *logger.Logger
}

// NewLifecycle creates the lifecycle manager
func NewLifecycle(store sessionstore.Store, blobs blob.Store, registry *converter.Registry, cfg config.ProcessingConfig, log *logger.Logger) *Lifecycle {
	return &Lifecycle{
		store:    store,
		blobs:    blobs,
		registry: registry,
		cfg:      cfg,
		log:      log,
	}
}

// Upload validates the file, stores the input blob and creates the
// session in state uploaded. No session record is left behind when the
// blob write fails.
func (l *Lifecycle) Upload(ctx context.Context, r io.Reader, size int64, filename, contentType string, op sessionstore.Operation) (*sessionstore.Session, error) {
	if size <= 0 {
		return nil, &ValidationError{Code: CodeEmptyFile, Message: "uploaded file is empty"}
	}
	if size > l.cfg.MaxFileSize {
		return nil, &ValidationError{
			Code: CodeFileTooLarge,
			Message: fmt.Sprintf("file size %d exceeds maximum %d bytes",
				size, l.cfg.MaxFileSize),
		}
	}

	known, allowed := l.registry.Accepts(op.Tool, contentType)
	if !known {
		return nil, &ValidationError{
			Code:    CodeUnknownTool,
			Message: fmt.Sprintf("unknown tool type %q", op.Tool),
		}
	}
	if !allowed {
		return nil, &ValidationError{
			Code:    CodeUnsupportedType,
			Message: fmt.Sprintf("file type %q is not supported by %s", contentType, op.Tool),
		}
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	inputRef := fmt.Sprintf("%s/in/%s", id, filename)

	// Guard against clients understating the declared size
	limited := &limitedReader{r: r, remaining: l.cfg.MaxFileSize}
	if err := l.blobs.Put(ctx, inputRef, limited); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return nil, ve
		}
		return nil, &StorageError{Op: "put", Err: err}
	}

	sess := &sessionstore.Session{
		ID:          id,
		State:       sessionstore.StateUploaded,
		Operation:   op,
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		InputRef:    inputRef,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(l.cfg.DefaultTTL),
	}

	if err := l.store.Create(ctx, sess); err != nil {
		// No orphan blobs either: roll back the input
		if derr := l.blobs.Delete(ctx, inputRef); derr != nil {
			l.log.Warn("failed to roll back input blob", "session_id", id, "error", derr)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	l.log.Info("session created",
		"session_id", id,
		"tool_type", op.Tool,
		"filename", filename,
		"size", size,
	)
	return sess, nil
}

// StartProcessing queues the session for conversion. Idempotent: a
// session already past uploaded reports its current state with
// accepted=false instead of erroring, so retried client calls never
// double-queue work.
func (l *Lifecycle) StartProcessing(ctx context.Context, id string) (*sessionstore.Session, bool, error) {
	sess, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if sess.State == sessionstore.StateExpired || sess.ExpiredAt(time.Now()) {
		return nil, false, sessionstore.ErrNotFound
	}

	queued, err := l.store.CompareAndTransition(ctx, id,
		sessionstore.StateUploaded, sessionstore.StateQueued, nil)
	if errors.Is(err, sessionstore.ErrConflict) {
		// Someone already advanced the session; report where it stands
		current, gerr := l.store.Get(ctx, id)
		if gerr != nil {
			return nil, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := l.store.Enqueue(ctx, id); err != nil {
		return nil, false, fmt.Errorf("enqueue session %s: %w", id, err)
	}

	l.log.Info("session queued", "session_id", id, "tool_type", queued.Operation.Tool)
	return queued, true, nil
}

// GetStatus returns the last committed state of the session. Sessions
// past their TTL or already moved to expired are reported as not found,
// even before the reaper has physically removed them: expired is
// absorbing and indistinguishable from never-existed.
func (l *Lifecycle) GetStatus(ctx context.Context, id string) (*sessionstore.Session, error) {
	sess, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.State == sessionstore.StateExpired || sess.ExpiredAt(time.Now()) {
		return nil, sessionstore.ErrNotFound
	}
	return sess, nil
}

// Download streams the result. The state and TTL checks precede any blob
// access, so an expired session never yields a stream even while its
// blobs still physically exist. With single-use downloads enabled, the
// first successful download moves the session's expiry to now.
func (l *Lifecycle) Download(ctx context.Context, id string) (io.ReadCloser, *sessionstore.Session, error) {
	sess, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	if sess.State == sessionstore.StateExpired || sess.ExpiredAt(now) {
		return nil, nil, ErrExpired
	}
	if sess.State != sessionstore.StateCompleted {
		return nil, nil, ErrNotReady
	}

	rc, err := l.blobs.Get(ctx, sess.OutputRef)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil, ErrExpired
	}
	if err != nil {
		return nil, nil, &StorageError{Op: "get", Err: err}
	}

	if l.cfg.SingleUseDownload && !sess.Downloaded {
		_, cerr := l.store.CompareAndTransition(ctx, id,
			sessionstore.StateCompleted, sessionstore.StateCompleted,
			func(s *sessionstore.Session) {
				s.Downloaded = true
				s.ExpiresAt = now.UTC()
			})
		if cerr != nil && !errors.Is(cerr, sessionstore.ErrConflict) {
			l.log.Warn("failed to mark single-use download", "session_id", id, "error", cerr)
		}
	}

	l.log.Info("session downloaded", "session_id", id, "output", sess.OutputName)
	return rc, sess, nil
}

// limitedReader fails with a ValidationError once more than max bytes
// flow through, aborting the blob write mid-stream
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	if lr.remaining < 0 {
		return 0, &ValidationError{Code: CodeFileTooLarge, Message: "file exceeds maximum size"}
	}
	n, err := lr.r.Read(p)
	lr.remaining -= int64(n)
	if lr.remaining < 0 {
		return n, &ValidationError{Code: CodeFileTooLarge, Message: "file exceeds maximum size"}
	}
	return n, err
}
