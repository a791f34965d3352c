// Package memory provides in-memory implementations of the domain stores for
// tests and local runs without PostgreSQL.
package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

// OrderStore is an in-memory implementation of domain.OrderStore.
type OrderStore struct {
	mu   sync.RWMutex
	data map[string]domain.Order
}

// NewOrderStore creates an empty order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{data: make(map[string]domain.Order)}
}

// Put inserts or replaces an order.
func (s *OrderStore) Put(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[o.ID] = o
}

// Delete removes an order, simulating a purge between enqueue and processing.
func (s *OrderStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
}

// GetByID returns the order or domain.ErrNotFound.
func (s *OrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.data[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}
