// Package flagstore persists the set of flagged menu items.
//
// Flags are kept in memory keyed by id and mirrored to a single JSON array
// file that is rewritten in full on every mutation. All mutations are
// serialized through one mutex; the file is replaced atomically so a crash
// mid-write never leaves a torn flag set behind.
package flagstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/TauNeutrino/kantine-overview/internal/model"
	"github.com/sirupsen/logrus"
)

// Store is a durable key-value store of flagged items.
type Store struct {
	mu    sync.Mutex
	path  string
	log   *logrus.Logger
	flags map[string]model.FlaggedItem
}

// Open loads the flag set from path. A missing or unreadable file is treated
// as an empty store, never as a fatal error.
func Open(path string, log *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		path:  path,
		log:   log,
		flags: make(map[string]model.FlaggedItem),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warn("Could not read flag file, starting empty")
		}
		return s, nil
	}

	var items []model.FlaggedItem
	if err := json.Unmarshal(data, &items); err != nil {
		log.WithError(err).Warn("Corrupt flag file, starting empty")
		return s, nil
	}
	for _, item := range items {
		s.flags[item.ID] = item
	}
	log.WithField("count", len(s.flags)).Info("Loaded flags from storage")
	return s, nil
}

// Add inserts the item if its id is not already flagged. It returns false
// without touching storage when the id exists. The write is durable before
// Add returns; a failed write is rolled back and reported to the caller.
func (s *Store) Add(item model.FlaggedItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flags[item.ID]; exists {
		return false, nil
	}
	s.flags[item.ID] = item
	if err := s.persistLocked(); err != nil {
		delete(s.flags, item.ID)
		return false, fmt.Errorf("persist flags: %w", err)
	}
	return true, nil
}

// Remove deletes the flag with the given id and reports whether it existed.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.flags[id]
	if !exists {
		return false, nil
	}
	delete(s.flags, id)
	if err := s.persistLocked(); err != nil {
		s.flags[id] = item
		return false, fmt.Errorf("persist flags: %w", err)
	}
	return true, nil
}

// Get returns the flag with the given id, if present.
func (s *Store) Get(id string) (model.FlaggedItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.flags[id]
	return item, ok
}

// ListAll returns a snapshot of every flag, ordered by id.
func (s *Store) ListAll() []model.FlaggedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Len returns the number of flags currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flags)
}

// PruneExpired removes every flag whose cutoff lies before now and returns
// how many were removed. A failed persist restores the removed flags so the
// in-memory and on-disk sets never diverge.
func (s *Store) PruneExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []model.FlaggedItem
	for id, item := range s.flags {
		if item.Expired(now) {
			removed = append(removed, item)
			delete(s.flags, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if err := s.persistLocked(); err != nil {
		for _, item := range removed {
			s.flags[item.ID] = item
		}
		return 0, fmt.Errorf("persist flags: %w", err)
	}
	s.log.WithField("count", len(removed)).Info("Pruned expired flags")
	return len(removed), nil
}

// persistLocked rewrites the backing file. Callers must hold s.mu. The new
// content is written to a temp file in the same directory and renamed over
// the old file so readers never observe a partial write.
func (s *Store) persistLocked() error {
	items := s.sortedLocked()
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".flags-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *Store) sortedLocked() []model.FlaggedItem {
	items := make([]model.FlaggedItem, 0, len(s.flags))
	for _, item := range s.flags {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}
