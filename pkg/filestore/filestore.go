// Package filestore holds the primitives the file backends share: an exclusive
// scope that is safe across goroutines and processes, and atomic JSON writes.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const retryDelay = 10 * time.Millisecond

// Lock serialises writers of one on-disk store. The in-process mutex covers
// goroutines; the advisory file lock covers other processes.
type Lock struct {
	mu sync.Mutex
	fl *flock.Flock
}

// NewLock returns a lock backed by the file at path. The file is created on
// first acquisition.
func NewLock(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// Do runs fn while holding the lock. Acquisition honours ctx cancellation.
func (l *Lock) Do(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o750); err != nil {
		return fmt.Errorf("filestore: create lock dir: %w", err)
	}
	ok, err := l.fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("filestore: acquire %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("filestore: acquire %s: %w", l.fl.Path(), ctx.Err())
	}
	defer func() { _ = l.fl.Unlock() }()

	return fn()
}

// ReadJSON decodes the file at path into v. It reports false, with v untouched,
// when the file does not exist.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("filestore: decode %s: %w", path, err)
	}
	return true, nil
}

// WriteJSON encodes v with indentation and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteAtomic(path, append(data, '\n'))
}

// WriteAtomic writes data to a temp file in the target directory, syncs it and
// renames it over path.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("filestore: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("filestore: commit %s: %w", path, err)
	}
	return nil
}
