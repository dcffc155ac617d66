package entry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryStore struct {
	mu    sync.RWMutex
	items map[string]Entry
	now   func() time.Time
}

// NewMemory builds an in-memory entry store.
func NewMemory() Store {
	return &memoryStore{items: make(map[string]Entry), now: time.Now}
}

func (s *memoryStore) Save(_ context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.items[e.ID]; ok && e.CreatedAt.IsZero() {
		e.CreatedAt = prev.CreatedAt
	}
	e.prepare(s.now())
	s.items[e.ID] = cloneEntry(e)
	return cloneEntry(e), nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneEntry(e), nil
}

func (s *memoryStore) List(_ context.Context, domain Domain) ([]Entry, error) {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.items))
	for _, e := range s.items {
		if domain == "" || e.Domain == domain {
			out = append(out, cloneEntry(e))
		}
	}
	s.mu.RUnlock()
	sortEntries(out)
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.items, id)
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
