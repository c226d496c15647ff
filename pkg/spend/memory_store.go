package spend

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage implements Storage in memory.
type MemoryStorage struct {
	mu   sync.Mutex
	days map[string]map[string]uint64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{days: make(map[string]map[string]uint64)}
}

func (s *MemoryStorage) Update(ctx context.Context, day, category string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, write, err := fn(s.days[day][category])
	if err != nil || !write {
		return err
	}
	if s.days[day] == nil {
		s.days[day] = make(map[string]uint64)
	}
	s.days[day][category] = next
	return nil
}

func (s *MemoryStorage) Get(ctx context.Context, day, category string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.days[day][category], nil
}

func (s *MemoryStorage) Day(ctx context.Context, day string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entriesOf(day, s.days[day]), nil
}

func entriesOf(day string, totals map[string]uint64) []Entry {
	out := make([]Entry, 0, len(totals))
	for cat, total := range totals {
		out = append(out, Entry{Day: day, Category: cat, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
