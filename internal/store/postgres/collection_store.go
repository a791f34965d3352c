package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

// CollectionStore implements domain.CollectionStore using PostgreSQL.
type CollectionStore struct {
	pool *pgxpool.Pool
}

// NewCollectionStore creates a new CollectionStore backed by the given pool.
func NewCollectionStore(pool *pgxpool.Pool) *CollectionStore {
	return &CollectionStore{pool: pool}
}

// GetByID returns a collection by id.
func (s *CollectionStore) GetByID(ctx context.Context, id string) (domain.Collection, error) {
	const query = `SELECT id, contract, name, community FROM collections WHERE id = $1`

	var (
		c        domain.Collection
		contract []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(&c.ID, &contract, &c.Name, &c.Community)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Collection{}, fmt.Errorf("postgres: collection %s: %w", id, domain.ErrNotFound)
		}
		return domain.Collection{}, fmt.Errorf("postgres: get collection %s: %w", id, err)
	}
	c.Contract = common.BytesToAddress(contract)
	return c, nil
}
