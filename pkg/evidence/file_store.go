package evidence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/actsafe/pkg/canonicalize"
	"github.com/Mindburn-Labs/actsafe/pkg/filestore"
)

// FileStore keeps blobs under dir, fanned out by the first two hex digits.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("evidence: ensure dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(digest string) string {
	return filepath.Join(s.dir, digest[:2], blobName("", digest))
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	digest := canonicalize.HashBytes(data)
	path := s.path(digest)
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}
	if err := filestore.WriteAtomic(path, data); err != nil {
		return "", err
	}
	return digest, nil
}

func (s *FileStore) Get(_ context.Context, digest string) ([]byte, error) {
	if err := checkDigest("evidence.FileStore.Get", digest); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(digest))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("evidence: read %s: %w", digest, err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, digest string) (bool, error) {
	if err := checkDigest("evidence.FileStore.Exists", digest); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(digest))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
