package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/convertd/common/sessionstore"
)

func uploadFixture(t *testing.T, lc *Lifecycle, content string) *sessionstore.Session {
	t.Helper()
	sess, err := lc.Upload(context.Background(), strings.NewReader(content), int64(len(content)),
		"input.txt", "text/plain", sessionstore.Operation{Tool: "fake-tool"})
	require.NoError(t, err)
	return sess
}

func TestLifecycle_Upload(t *testing.T) {
	env := newTestEnv(t)
	env.registerTool("fake-tool", &fakeConverter{output: []byte("result")})
	lc := env.lifecycle()

	sess := uploadFixture(t, lc, "hello world")

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, sessionstore.StateUploaded, sess.State)
	assert.Equal(t, "input.txt", sess.Filename)
	assert.Equal(t, int64(11), sess.Size)
	assert.WithinDuration(t, time.Now().Add(env.cfg.DefaultTTL), sess.ExpiresAt, 5*time.Second)

	// Input blob is stored
	rc, err := env.blobs.Get(context.Background(), sess.InputRef)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestLifecycle_Upload_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.registerTool("fake-tool", &fakeConverter{})
	lc := env.lifecycle()
	ctx := context.Background()

	cases := []struct {
		name        string
		content     string
		size        int64
		contentType string
		tool        string
		wantCode    string
	}{
		{"empty file", "", 0, "text/plain", "fake-tool", CodeEmptyFile},
		{"too large", "x", env.cfg.MaxFileSize + 1, "text/plain", "fake-tool", CodeFileTooLarge},
		{"unknown tool", "x", 1, "text/plain", "shrink-ray", CodeUnknownTool},
		{"unsupported type", "x", 1, "application/zip", "fake-tool", CodeUnsupportedType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := lc.Upload(ctx, strings.NewReader(tc.content), tc.size,
				"input.txt", tc.contentType, sessionstore.Operation{Tool: tc.tool})
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.wantCode, ve.Code)
		})
	}
}

func TestLifecycle_Upload_UnderstatedSizeAborted(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxFileSize = 8
	env.registerTool("fake-tool", &fakeConverter{})
	lc := env.lifecycle()

	// Declared size passes the pre-check, actual stream exceeds the cap
	body := strings.Repeat("x", 64)
	_, err := lc.Upload(context.Background(), strings.NewReader(body), 4,
		"input.txt", "text/plain", sessionstore.Operation{Tool: "fake-tool"})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, CodeFileTooLarge, ve.Code)
}

func TestLifecycle_StartProcessing(t *testing.T) {
	env := newTestEnv(t)
	env.registerTool("fake-tool", &fakeConverter{})
	lc := env.lifecycle()
	ctx := context.Background()

	sess := uploadFixture(t, lc, "hello")

	queued, accepted, err := lc.StartProcessing(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, sessionstore.StateQueued, queued.State)

	// The id lands on the work queue exactly once
	id, err := env.store.NextQueued(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, id)

	// Retried call is a no-op reporting current state
	again, accepted, err := lc.StartProcessing(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, sessionstore.StateQueued, again.State)

	id, err = env.store.NextQueued(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id, "retry must not double-queue")

	_, _, err = lc.StartProcessing(ctx, "missing")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestLifecycle_StartProcessing_ConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.registerTool("fake-tool", &fakeConverter{})
	lc := env.lifecycle()
	ctx := context.Background()

	sess := uploadFixture(t, lc, "hello")

	const callers = 8
	var wg sync.WaitGroup
	accepts := make(chan bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, accepted, err := lc.StartProcessing(ctx, sess.ID)
			if err == nil {
				accepts <- accepted
			}
		}()
	}
	wg.Wait()
	close(accepts)

	wins := 0
	for accepted := range accepts {
		if accepted {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one caller may queue the session")

	// And exactly one queue entry exists
	id, err := env.store.NextQueued(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, id)
	id, err = env.store.NextQueued(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestLifecycle_GetStatus_ExpiredIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.registerTool("fake-tool", &fakeConverter{})
	lc := env.lifecycle()
	ctx := context.Background()

	sess := uploadFixture(t, lc, "hello")

	got, err := lc.GetStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sessionstore.StateUploaded, got.State)

	// Push the expiry into the past; the record still physically exists
	_, err = env.store.CompareAndTransition(ctx, sess.ID,
		sessionstore.StateUploaded, sessionstore.StateUploaded,
		func(s *sessionstore.Session) { s.ExpiresAt = time.Now().Add(-time.Minute) })
	require.NoError(t, err)

	_, err = lc.GetStatus(ctx, sess.ID)
	assert.ErrorIs(t, err, sessionstore.ErrNotFound,
		"TTL lapse must read as not found before the reaper runs")

	// Expired sessions can no longer be started either
	_, _, err = lc.StartProcessing(ctx, sess.ID)
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func completeSession(t *testing.T, env *testEnv, id, output string) {
	t.Helper()
	ctx := context.Background()

	_, err := env.store.CompareAndTransition(ctx, id,
		sessionstore.StateUploaded, sessionstore.StateQueued, nil)
	require.NoError(t, err)
	_, err = env.store.CompareAndTransition(ctx, id,
		sessionstore.StateQueued, sessionstore.StateProcessing, nil)
	require.NoError(t, err)

	outputRef := id + "/out/result.out"
	require.NoError(t, env.blobs.Put(ctx, outputRef, strings.NewReader(output)))

	now := time.Now().UTC()
	_, err = env.store.CompareAndTransition(ctx, id,
		sessionstore.StateProcessing, sessionstore.StateCompleted,
		func(s *sessionstore.Session) {
			s.OutputRef = outputRef
			s.OutputName = "result.out"
			s.OutputSize = int64(len(output))
			s.Progress = 100
			s.CompletedAt = &now
			s.ExpiresAt = now.Add(env.cfg.CompletedTTL)
		})
	require.NoError(t, err)
}

func TestLifecycle_Download(t *testing.T) {
	env := newTestEnv(t)
	env.registerTool("fake-tool", &fakeConverter{})
	lc := env.lifecycle()
	ctx := context.Background()

	sess := uploadFixture(t, lc, "hello")

	// Not ready before completion
	_, _, err := lc.Download(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	completeSession(t, env, sess.ID, "converted!")

	rc, got, err := lc.Download(ctx, sess.ID)
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, "result.out", got.OutputName)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "converted!", string(data))

	_, _, err = lc.Download(ctx, "missing")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestLifecycle_Download_Expired(t *testing.T) {
	env := newTestEnv(t)
	env.registerTool("fake-tool", &fakeConverter{})
	lc := env.lifecycle()
	ctx := context.Background()

	sess := uploadFixture(t, lc, "hello")
	completeSession(t, env, sess.ID, "converted!")

	// Lapse the TTL without reaping
	_, err := env.store.CompareAndTransition(ctx, sess.ID,
		sessionstore.StateCompleted, sessionstore.StateCompleted,
		func(s *sessionstore.Session) { s.ExpiresAt = time.Now().Add(-time.Minute) })
	require.NoError(t, err)

	_, _, err = lc.Download(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrExpired,
		"blobs still on disk must not be served past the TTL")
}

func TestLifecycle_Download_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.SingleUseDownload = true
	env.registerTool("fake-tool", &fakeConverter{})
	lc := env.lifecycle()
	ctx := context.Background()

	sess := uploadFixture(t, lc, "hello")
	completeSession(t, env, sess.ID, "converted!")

	rc, _, err := lc.Download(ctx, sess.ID)
	require.NoError(t, err)
	rc.Close()

	got, err := env.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.Downloaded)
	assert.True(t, got.ExpiredAt(time.Now().Add(time.Second)),
		"first download must collapse the expiry")

	_, _, err = lc.Download(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestLifecycle_ExpiredStateIsAbsorbing(t *testing.T) {
	env := newTestEnv(t)
	env.registerTool("fake-tool", &fakeConverter{})
	lc := env.lifecycle()
	ctx := context.Background()

	sess := uploadFixture(t, lc, "hello")
	completeSession(t, env, sess.ID, "result")

	// The reaper moved the session to expired, but its expires_at still
	// sits in the future (the completion extension outlived the index
	// entry that triggered the reap). State alone must fence it off.
	_, err := env.store.CompareAndTransition(ctx, sess.ID,
		sessionstore.StateCompleted, sessionstore.StateExpired,
		func(s *sessionstore.Session) { s.ExpiresAt = time.Now().Add(24 * time.Hour) })
	require.NoError(t, err)

	_, err = lc.GetStatus(ctx, sess.ID)
	assert.ErrorIs(t, err, sessionstore.ErrNotFound,
		"expired sessions must be indistinguishable from never existed")

	_, _, err = lc.StartProcessing(ctx, sess.ID)
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)

	_, _, err = lc.Download(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestStorageError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &StorageError{Op: "put", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "put")
}
