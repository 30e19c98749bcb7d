// Package blob stores raw file content (inputs and conversion results)
// referenced from session records. Refs are opaque slash-separated paths
// owned by the caller; the store never embeds content in session state.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a ref does not exist
var ErrNotFound = errors.New("blob not found")

// Store is the blob storage contract. Delete is idempotent: removing a
// missing ref is a no-op.
type Store interface {
	Put(ctx context.Context, ref string, r io.Reader) error
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}
