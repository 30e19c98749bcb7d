package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lyzr/convertd/cmd/convertd/converter"
	"github.com/lyzr/convertd/common/blob"
	"github.com/lyzr/convertd/common/config"
	"github.com/lyzr/convertd/common/logger"
	"github.com/lyzr/convertd/common/sessionstore"
)

// testEnv wires a memory session store, a disk blob store and a registry
// of fake converters for service tests
type testEnv struct {
	store    sessionstore.Store
	blobs    blob.Store
	registry *converter.Registry
	cfg      config.ProcessingConfig
	log      *logger.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logger.New("error", "text")
	blobs, err := blob.NewDiskStore(t.TempDir(), log)
	require.NoError(t, err)

	return &testEnv{
		store:    sessionstore.NewMemoryStore(),
		blobs:    blobs,
		registry: converter.NewRegistry(),
		log:      log,
		cfg: config.ProcessingConfig{
			MaxFileSize:       1 << 20,
			WorkerConcurrency: 2,
			DefaultTTL:        time.Hour,
			CompletedTTL:      24 * time.Hour,
			ProcessingTimeout: 5 * time.Second,
			ReapInterval:      time.Minute,
			WatchdogInterval:  time.Minute,
			WatchdogGrace:     5 * time.Minute,
		},
	}
}

func (env *testEnv) lifecycle() *Lifecycle {
	return NewLifecycle(env.store, env.blobs, env.registry, env.cfg, env.log)
}

func (env *testEnv) executor(audit Auditor) *Executor {
	return NewExecutor(env.store, env.blobs, env.registry, env.cfg, env.log, audit)
}

// registerTool adds a fake tool accepting text/plain uploads
func (env *testEnv) registerTool(tool string, conv converter.Converter) {
	env.registry.Register(tool, converter.Entry{
		Converter:    conv,
		TargetExt:    "out",
		AllowedTypes: []string{"text/plain"},
	})
}

// fakeConverter returns canned output or a canned error
type fakeConverter struct {
	output []byte
	err    error

	// hook runs before returning, with the conversion context
	hook func(ctx context.Context)

	mu    sync.Mutex
	calls int
}

func (f *fakeConverter) Convert(ctx context.Context, input []byte, options map[string]any, progress converter.ProgressFunc) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.hook != nil {
		f.hook(ctx)
	}
	if progress != nil {
		progress(50)
	}
	return f.output, f.err
}

func (f *fakeConverter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// blockingConverter ignores its context and blocks until released
type blockingConverter struct {
	release chan struct{}
}

func (b *blockingConverter) Convert(ctx context.Context, input []byte, options map[string]any, progress converter.ProgressFunc) ([]byte, error) {
	<-b.release
	return []byte("late"), nil
}

// recordingAuditor captures audit calls for assertions
type recordingAuditor struct {
	mu      sync.Mutex
	entries []auditEntry
}

type auditEntry struct {
	sessionID string
	tool      string
	outcome   string
	cause     string
}

func (a *recordingAuditor) RecordConversion(ctx context.Context, sessionID, tool, outcome, cause string, inputSize, outputSize int64, duration time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{sessionID: sessionID, tool: tool, outcome: outcome, cause: cause})
	return nil
}

func (a *recordingAuditor) all() []auditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}
