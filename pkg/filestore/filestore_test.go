package filestore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	N int `json:"n"`
}

func TestLock_SerialisesReadModifyWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.json")
	lock := NewLock(path + ".lock")
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lock.Do(ctx, func() error {
				var c counter
				if _, err := ReadJSON(path, &c); err != nil {
					return err
				}
				c.N++
				return WriteJSON(path, c)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var c counter
	found, err := ReadJSON(path, &c)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, workers, c.N)
}

func TestLock_Cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	holder := NewLock(path)
	waiter := NewLock(path)

	ctx, cancel := context.WithCancel(context.Background())
	err := holder.Do(context.Background(), func() error {
		cancel()
		return waiter.Do(ctx, func() error { return nil })
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadJSON_Missing(t *testing.T) {
	var c counter
	found, err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &c)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriteAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteAtomic(filepath.Join(dir, "a.json"), []byte("{}")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.json", entries[0].Name())
}
