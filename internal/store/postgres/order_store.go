package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `id, kind, token_set_id, maker, price::text, value::text,
	quantity_remaining::text, valid_from, valid_until, expiration, created_at`

// GetByID retrieves a single order by its ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                      domain.Order
		tokenSetID             string
		maker                  []byte
		price, value, quantity string
	)
	err := row.Scan(
		&o.ID, &o.Kind, &tokenSetID, &maker, &price, &value,
		&quantity, &o.ValidFrom, &o.ValidUntil, &o.Expiration, &o.CreatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.TokenSetID = domain.TokenSetID(tokenSetID)
	o.Maker = common.BytesToAddress(maker)
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Order{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	if o.Value, err = decimal.NewFromString(value); err != nil {
		return domain.Order{}, fmt.Errorf("parse value %q: %w", value, err)
	}
	if o.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return domain.Order{}, fmt.Errorf("parse quantity %q: %w", quantity, err)
	}
	return o, nil
}
