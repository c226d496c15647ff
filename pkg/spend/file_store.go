package spend

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Mindburn-Labs/actsafe/pkg/filestore"
)

// FileName is the default document name inside a data directory.
const FileName = "spend-ledger.json"

// fileDoc maps day -> category -> decimal total.
type fileDoc struct {
	Days map[string]map[string]string `json:"days"`
}

// FileStorage keeps all totals in one JSON document guarded by a file lock.
type FileStorage struct {
	path string
	lock *filestore.Lock
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path, lock: filestore.NewLock(path + ".lock")}
}

func (s *FileStorage) Update(ctx context.Context, day, category string, fn UpdateFunc) error {
	return s.lock.Do(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		current, err := parseTotal(doc.Days[day][category])
		if err != nil {
			return fmt.Errorf("spend: %s/%s: %w", day, category, err)
		}

		next, write, err := fn(current)
		if err != nil || !write {
			return err
		}
		if doc.Days[day] == nil {
			doc.Days[day] = make(map[string]string)
		}
		doc.Days[day][category] = strconv.FormatUint(next, 10)
		return filestore.WriteJSON(s.path, doc)
	})
}

func (s *FileStorage) Get(ctx context.Context, day, category string) (uint64, error) {
	var total uint64
	err := s.lock.Do(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		total, err = parseTotal(doc.Days[day][category])
		return err
	})
	return total, err
}

func (s *FileStorage) Day(ctx context.Context, day string) ([]Entry, error) {
	var out []Entry
	err := s.lock.Do(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		totals := make(map[string]uint64, len(doc.Days[day]))
		for cat, raw := range doc.Days[day] {
			v, err := parseTotal(raw)
			if err != nil {
				return fmt.Errorf("spend: %s/%s: %w", day, cat, err)
			}
			totals[cat] = v
		}
		out = entriesOf(day, totals)
		return nil
	})
	return out, err
}

func (s *FileStorage) read() (*fileDoc, error) {
	doc := &fileDoc{}
	if _, err := filestore.ReadJSON(s.path, doc); err != nil {
		return nil, err
	}
	if doc.Days == nil {
		doc.Days = make(map[string]map[string]string)
	}
	return doc, nil
}

func parseTotal(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
