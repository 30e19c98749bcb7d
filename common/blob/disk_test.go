package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/convertd/common/logger"
)

func newDiskStore(t *testing.T) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(t.TempDir(), logger.New("error", "text"))
	require.NoError(t, err)
	return store
}

func TestDiskStore_PutGetDelete(t *testing.T) {
	store := newDiskStore(t)
	ctx := context.Background()

	ref := "abc123/in/photo.png"
	require.NoError(t, store.Put(ctx, ref, strings.NewReader("payload")))

	rc, err := store.Get(ctx, ref)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, store.Delete(ctx, ref))
	_, err = store.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op
	require.NoError(t, store.Delete(ctx, ref))
}

func TestDiskStore_GetMissing(t *testing.T) {
	store := newDiskStore(t)

	_, err := store.Get(context.Background(), "never/written")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiskStore_RejectsTraversal(t *testing.T) {
	store := newDiskStore(t)
	ctx := context.Background()

	for _, ref := range []string{
		"../outside",
		"a/../../outside",
		"/etc/passwd",
		"",
	} {
		assert.Error(t, store.Put(ctx, ref, strings.NewReader("x")), "ref %q", ref)
		_, err := store.Get(ctx, ref)
		assert.Error(t, err, "ref %q", ref)
	}
}

func TestDiskStore_OverwriteReplacesContent(t *testing.T) {
	store := newDiskStore(t)
	ctx := context.Background()

	ref := "s1/out/result.pdf"
	require.NoError(t, store.Put(ctx, ref, strings.NewReader("first")))
	require.NoError(t, store.Put(ctx, ref, strings.NewReader("second")))

	rc, err := store.Get(ctx, ref)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}
