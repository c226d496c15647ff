package receipts

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps everything in process. Used by tests and dry runs.
type MemoryBackend struct {
	mu      sync.Mutex
	current map[string][]byte
	seq     map[string]int
	log     [][]byte
	tip     string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		current: make(map[string][]byte),
		seq:     make(map[string]int),
	}
}

func (b *MemoryBackend) Append(_ context.Context, requestID string, fn AppendFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := fn(b.current[requestID], b.tip)
	if err != nil {
		return err
	}
	body := append([]byte(nil), rec.Body...)
	b.log = append(b.log, body)
	b.current[requestID] = body
	b.seq[requestID] = len(b.log) - 1
	b.tip = rec.Hash
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, requestID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.current[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

func (b *MemoryBackend) List(_ context.Context, limit int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.current))
	for id := range b.current {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return b.seq[ids[i]] > b.seq[ids[j]] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, append([]byte(nil), b.current[id]...))
	}
	return out, nil
}

func (b *MemoryBackend) Log(context.Context) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.log))
	for i, body := range b.log {
		out[i] = append([]byte(nil), body...)
	}
	return out, nil
}

func (b *MemoryBackend) Tip(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tip, nil
}
