package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lyzr/convertd/common/logger"
)

// DiskStore keeps blobs as files under a root directory, one subdirectory
// per session
type DiskStore struct {
	root string
	log  *logger.Logger
}

// NewDiskStore creates a disk-backed blob store rooted at dir
func NewDiskStore(dir string, log *logger.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir %s: %w", dir, err)
	}
	return &DiskStore{root: dir, log: log}, nil
}

// Put writes the reader's content to the ref path, creating parents
func (s *DiskStore) Put(ctx context.Context, ref string, r io.Reader) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blob parent dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create blob file %s: %w", ref, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write blob %s: %w", ref, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close blob %s: %w", ref, err)
	}

	s.log.Debug("blob written", "ref", ref)
	return nil
}

// Get opens the blob for reading
func (s *DiskStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", ref, err)
	}
	return f, nil
}

// Delete removes the blob; missing refs are a no-op
func (s *DiskStore) Delete(ctx context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", ref, err)
	}

	// Drop the session directory once empty; best effort only
	os.Remove(filepath.Dir(path))

	s.log.Debug("blob deleted", "ref", ref)
	return nil
}

// resolve maps a ref onto the root dir, rejecting path escapes
func (s *DiskStore) resolve(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob ref: %s", ref)
	}
	return filepath.Join(s.root, clean), nil
}
