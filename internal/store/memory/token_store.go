package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

// TokenStore is an in-memory implementation of domain.TokenStore.
type TokenStore struct {
	mu      sync.RWMutex
	data    map[domain.TokenRef]domain.Token
	updates int
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{data: make(map[domain.TokenRef]domain.Token)}
}

// Put inserts or replaces a token.
func (s *TokenStore) Put(t domain.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[t.Ref] = t
}

// Get returns the token or domain.ErrNotFound.
func (s *TokenStore) Get(_ context.Context, ref domain.TokenRef) (domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[ref]
	if !ok {
		return domain.Token{}, domain.ErrNotFound
	}
	return t, nil
}

// UpdateFlag writes the flag fields. LastFlagChange is only replaced when
// upd.ChangedAt is set.
func (s *TokenStore) UpdateFlag(_ context.Context, upd domain.FlagUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data[upd.Ref]
	if !ok {
		return domain.ErrNotFound
	}
	updatedAt := upd.UpdatedAt
	t.IsFlagged = upd.Flagged
	t.LastFlagUpdate = &updatedAt
	if upd.ChangedAt != nil {
		changedAt := *upd.ChangedAt
		t.LastFlagChange = &changedAt
	}
	s.data[upd.Ref] = t
	s.updates++
	return nil
}

// Updates returns how many flag writes succeeded.
func (s *TokenStore) Updates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}
