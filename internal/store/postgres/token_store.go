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

// TokenStore implements domain.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a new TokenStore backed by the given connection pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Get returns the flag state of a token.
func (s *TokenStore) Get(ctx context.Context, ref domain.TokenRef) (domain.Token, error) {
	const query = `
		SELECT contract, token_id::text, COALESCE(collection_id, ''),
			is_flagged, last_flag_update, last_flag_change
		FROM tokens
		WHERE contract = $1 AND token_id = $2::text::numeric`

	var (
		t        domain.Token
		contract []byte
	)
	err := s.pool.QueryRow(ctx, query, ref.Contract.Bytes(), ref.TokenID).Scan(
		&contract, &t.Ref.TokenID, &t.CollectionID,
		&t.IsFlagged, &t.LastFlagUpdate, &t.LastFlagChange,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Token{}, fmt.Errorf("postgres: token %s: %w", ref, domain.ErrNotFound)
		}
		return domain.Token{}, fmt.Errorf("postgres: get token %s: %w", ref, err)
	}
	t.Ref.Contract = common.BytesToAddress(contract)
	return t, nil
}

// UpdateFlag writes the flag value and last-update time. last_flag_change is
// only touched when upd.ChangedAt is set.
func (s *TokenStore) UpdateFlag(ctx context.Context, upd domain.FlagUpdate) error {
	const query = `
		UPDATE tokens SET
			is_flagged = $3,
			last_flag_update = $4,
			last_flag_change = COALESCE($5, last_flag_change),
			updated_at = NOW()
		WHERE contract = $1 AND token_id = $2::text::numeric`

	tag, err := s.pool.Exec(ctx, query,
		upd.Ref.Contract.Bytes(), upd.Ref.TokenID,
		upd.Flagged, upd.UpdatedAt, upd.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update flag %s: %w", upd.Ref, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update flag %s: %w", upd.Ref, domain.ErrNotFound)
	}
	return nil
}
