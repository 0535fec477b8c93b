package library

import (
	"context"
	"slices"
	"sync"
)

// Store persists whole collections. Implementations must make each
// SaveCollection call crash-atomic.
type Store interface {
	// LoadCollection returns the stored collection for id, or an empty one if
	// nothing was saved yet.
	LoadCollection(ctx context.Context, id LibraryID, opts ...Option) (*Collection, error)

	// SaveCollection replaces the stored state of c.ID() with c's contents.
	SaveCollection(ctx context.Context, c *Collection) error

	// Libraries lists the ids of every saved library in ascending order.
	Libraries(ctx context.Context) ([]LibraryID, error)

	// Close releases any resources held by the store.
	Close() error
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	libs map[LibraryID]Contents
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{libs: make(map[LibraryID]Contents)}
}

func (s *MemoryStore) LoadCollection(_ context.Context, id LibraryID, opts ...Option) (*Collection, error) {
	s.mu.RLock()
	in, ok := s.libs[id]
	s.mu.RUnlock()
	if !ok {
		return NewCollection(id, opts...), nil
	}
	return FromContents(in, opts...)
}

func (s *MemoryStore) SaveCollection(_ context.Context, c *Collection) error {
	in := c.Contents()
	s.mu.Lock()
	s.libs[in.Library] = in
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Libraries(context.Context) ([]LibraryID, error) {
	s.mu.RLock()
	ids := make([]LibraryID, 0, len(s.libs))
	for id := range s.libs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }
