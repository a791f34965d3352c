package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

// CollectionStore is an in-memory implementation of domain.CollectionStore.
type CollectionStore struct {
	mu   sync.RWMutex
	data map[string]domain.Collection
}

// NewCollectionStore creates an empty collection store.
func NewCollectionStore() *CollectionStore {
	return &CollectionStore{data: make(map[string]domain.Collection)}
}

// Put inserts or replaces a collection.
func (s *CollectionStore) Put(c domain.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[c.ID] = c
}

// GetByID returns the collection or domain.ErrNotFound.
func (s *CollectionStore) GetByID(_ context.Context, id string) (domain.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[id]
	if !ok {
		return domain.Collection{}, domain.ErrNotFound
	}
	return c, nil
}
