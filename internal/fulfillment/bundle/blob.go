package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"coursecert/pkg/platform/sentinel"
)

// BlobStore is the content-addressable storage collaborator for export
// artifacts.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// InMemoryBlobStore keeps artifacts in a map; used by tests and development.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewInMemoryBlobStore creates an empty in-memory blob store.
func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *InMemoryBlobStore) Put(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	s.blobs[path] = copied
	return nil
}

func (s *InMemoryBlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", path, sentinel.ErrNotFound)
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

// FilesystemBlobStore writes artifacts under a root directory, mirroring the
// blob path layout on disk.
type FilesystemBlobStore struct {
	root string
}

// NewFilesystemBlobStore creates a blob store rooted at dir.
func NewFilesystemBlobStore(dir string) *FilesystemBlobStore {
	return &FilesystemBlobStore{root: dir}
}

func (s *FilesystemBlobStore) Put(ctx context.Context, path string, data []byte) error {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

func (s *FilesystemBlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", path, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}
