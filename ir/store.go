package ir

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrConflict is returned when a ContentID is inserted with bytes that differ
// from the ones already stored under it.
var ErrConflict = errors.New("ir: content id conflict")

type storeEntry struct {
	frag    Fragment
	payload []byte
}

// Store is an append-only mapping from ContentID to Fragment. Entries are
// never replaced or removed except by Reset, so a fragment obtained from the
// store stays valid for the life of the session.
//
// Store is safe for concurrent use: readers share a read lock, and inserts
// take the write lock.
type Store struct {
	mu      sync.RWMutex
	entries map[ContentID]storeEntry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[ContentID]storeEntry)}
}

// Insert adds f under id with its canonical payload. Re-inserting identical
// bytes is a no-op and reports false; differing bytes return ErrConflict.
func (s *Store) Insert(id ContentID, f Fragment, payload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[id]; ok {
		if !bytes.Equal(old.payload, payload) {
			return false, fmt.Errorf("%w: %s (%s)", ErrConflict, id, f.Kind())
		}
		return false, nil
	}
	if s.entries == nil {
		s.entries = make(map[ContentID]storeEntry)
	}
	s.entries[id] = storeEntry{frag: f, payload: payload}
	return true, nil
}

// Add encodes f, computes its ContentID and inserts it.
func (s *Store) Add(f Fragment) ContentID {
	payload := Encode(f)
	id := Hash(f.Kind(), payload)
	// The id is derived from payload, so a conflict is impossible.
	_, _ = s.Insert(id, f, payload)
	return id
}

// Fragment returns the fragment stored under id.
func (s *Store) Fragment(id ContentID) (Fragment, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	return e.frag, ok
}

// Payload returns the canonical encoding stored under id. The returned slice
// must not be modified.
func (s *Store) Payload(id ContentID) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	return e.payload, ok
}

// Has reports whether id is stored.
func (s *Store) Has(id ContentID) bool {
	s.mu.RLock()
	_, ok := s.entries[id]
	s.mu.RUnlock()
	return ok
}

// Len returns the number of stored fragments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// IDs returns all stored ContentIDs in ascending byte order.
func (s *Store) IDs() []ContentID {
	s.mu.RLock()
	ids := make([]ContentID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	slices.SortFunc(ids, ContentID.Compare)
	return ids
}

// Reset removes every entry.
func (s *Store) Reset() {
	s.mu.Lock()
	s.entries = make(map[ContentID]storeEntry)
	s.mu.Unlock()
}
