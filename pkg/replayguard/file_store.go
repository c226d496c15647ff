package replayguard

import (
	"context"
	"sort"
	"time"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
	"github.com/Mindburn-Labs/actsafe/pkg/filestore"
)

// FileName is the default document name inside a data directory.
const FileName = "processed-sigs.json"

type fileDoc struct {
	Entries []Entry `json:"entries"`
}

// FileStore keeps entries in one JSON document.
type FileStore struct {
	path  string
	lock  *filestore.Lock
	clock func() time.Time
}

func NewFileStore(path string) *FileStore {
	return NewFileStoreWithClock(path, time.Now)
}

func NewFileStoreWithClock(path string, clock func() time.Time) *FileStore {
	return &FileStore{
		path:  path,
		lock:  filestore.NewLock(path + ".lock"),
		clock: clock,
	}
}

func (s *FileStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) error {
	const op = "replayguard.MarkProcessed"
	if err := validate(op, id, ttl); err != nil {
		return err
	}

	return s.lock.Do(ctx, func() error {
		var doc fileDoc
		if _, err := filestore.ReadJSON(s.path, &doc); err != nil {
			return acterr.Wrap(acterr.KindIntegrity, op, "unreadable_store", err)
		}

		now := s.clock().UTC()
		expires := now.Add(ttl)
		found := false
		for i := range doc.Entries {
			if doc.Entries[i].ID == id {
				doc.Entries[i].ExpiresAt = expires
				found = true
				break
			}
		}
		if !found {
			doc.Entries = append(doc.Entries, Entry{ID: id, FirstSeenAt: now, ExpiresAt: expires})
		}
		return filestore.WriteJSON(s.path, doc)
	})
}

func (s *FileStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	const op = "replayguard.IsProcessed"
	var seen bool
	err := s.lock.Do(ctx, func() error {
		var doc fileDoc
		if _, err := filestore.ReadJSON(s.path, &doc); err != nil {
			return acterr.Wrap(acterr.KindIntegrity, op, "unreadable_store", err)
		}

		doc.Entries = live(doc.Entries, s.clock())
		for _, e := range doc.Entries {
			if e.ID == id {
				seen = true
				break
			}
		}
		return filestore.WriteJSON(s.path, doc)
	})
	return seen, err
}

func (s *FileStore) Entries(ctx context.Context) ([]Entry, error) {
	const op = "replayguard.Entries"
	var out []Entry
	err := s.lock.Do(ctx, func() error {
		var doc fileDoc
		if _, err := filestore.ReadJSON(s.path, &doc); err != nil {
			return acterr.Wrap(acterr.KindIntegrity, op, "unreadable_store", err)
		}
		out = live(doc.Entries, s.clock())
		return nil
	})
	sortEntries(out)
	return out, err
}

func live(entries []Entry, now time.Time) []Entry {
	kept := entries[:0]
	for _, e := range entries {
		if e.ExpiresAt.After(now) {
			kept = append(kept, e)
		}
	}
	if kept == nil {
		kept = []Entry{}
	}
	return kept
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FirstSeenAt.Equal(entries[j].FirstSeenAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].FirstSeenAt.Before(entries[j].FirstSeenAt)
	})
}
