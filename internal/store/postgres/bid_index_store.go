package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

// BidIndexStore implements domain.BidIndexStore using PostgreSQL.
type BidIndexStore struct {
	pool *pgxpool.Pool
}

// NewBidIndexStore creates a new BidIndexStore backed by the given pool.
func NewBidIndexStore(pool *pgxpool.Pool) *BidIndexStore {
	return &BidIndexStore{pool: pool}
}

// MaterializePage runs one fan-out page as a single statement:
//
//   - scan: up to Limit+1 token-set entries after the cursor, in
//     (contract, token_id) order; the extra row only answers "is there more"
//   - page: the first Limit entries of scan
//   - owned: one representative (max contract, token_id) per current owner
//   - inserted: one index row per owner, skipping existing (owner, order) rows
//
// Last is taken from page, so the cursor advances over tokens nobody owns.
func (s *BidIndexStore) MaterializePage(ctx context.Context, req domain.PageRequest) (domain.PageResult, error) {
	if req.Limit <= 0 {
		return domain.PageResult{}, fmt.Errorf("postgres: materialize page: limit must be positive, got %d", req.Limit)
	}

	o := req.Order
	args := []any{
		string(o.TokenSetID), // $1
		req.Limit + 1,        // $2
		req.Limit,            // $3
		o.ID,                 // $4
		o.Kind,               // $5
		o.Maker.Bytes(),      // $6
		o.Price.String(),     // $7
		o.Value.String(),     // $8
		o.Quantity.String(),  // $9
		o.ValidFrom,          // $10
		o.ValidUntil,         // $11
		o.CreatedAt,          // $12
		req.CleanAt,          // $13
	}

	var after string
	if req.After != nil {
		after = fmt.Sprintf("AND (tst.contract, tst.token_id) > ($%d, $%d::text::numeric)", len(args)+1, len(args)+2)
		args = append(args, req.After.Contract.Bytes(), req.After.TokenID)
	}

	query := strings.Replace(materializePageSQL, "{{after}}", after, 1)

	var (
		res          domain.PageResult
		lastContract []byte
		lastTokenID  *string
		scanned      int
	)
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&scanned, &res.Scanned, &res.Inserted, &lastContract, &lastTokenID,
	)
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("postgres: materialize page for order %s: %w", o.ID, err)
	}

	res.HasMore = scanned > req.Limit
	if lastTokenID != nil {
		res.Last = &domain.Cursor{
			Contract: common.BytesToAddress(lastContract),
			TokenID:  *lastTokenID,
		}
	}
	return res, nil
}

const materializePageSQL = `
WITH scan AS (
	SELECT tst.contract, tst.token_id
	FROM token_sets_tokens tst
	WHERE tst.token_set_id = $1
	{{after}}
	ORDER BY tst.contract, tst.token_id
	LIMIT $2
),
page AS (
	SELECT contract, token_id
	FROM scan
	ORDER BY contract, token_id
	LIMIT $3
),
owned AS (
	SELECT DISTINCT ON (nb.owner) nb.owner, page.contract, page.token_id
	FROM page
	JOIN LATERAL (
		SELECT b.owner
		FROM nft_balances b
		WHERE b.contract = page.contract
		  AND b.token_id = page.token_id
		  AND b.amount > 0
	) nb ON TRUE
	ORDER BY nb.owner, page.contract DESC, page.token_id DESC
),
inserted AS (
	INSERT INTO user_received_bids (
		address, contract, token_id, order_id, order_kind, order_token_set_id,
		maker, price, value, quantity, valid_from, valid_until,
		order_created_at, clean_at
	)
	SELECT owned.owner, owned.contract, owned.token_id, $4, $5, $1,
		$6, $7::text::numeric, $8::text::numeric, $9::text::numeric, $10, $11,
		$12, $13
	FROM owned
	ON CONFLICT (address, order_id) DO NOTHING
	RETURNING 1
),
last AS (
	SELECT contract, token_id
	FROM page
	ORDER BY contract DESC, token_id DESC
	LIMIT 1
)
SELECT
	(SELECT COUNT(*) FROM scan)::int,
	(SELECT COUNT(*) FROM page)::int,
	(SELECT COUNT(*) FROM inserted)::int,
	(SELECT contract FROM last),
	(SELECT token_id::text FROM last)`

// ListByOwner returns the owner's unexpired index rows, newest order first.
func (s *BidIndexStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.UserReceivedBid, error) {
	query := `
		SELECT address, contract, token_id::text, order_id, order_kind,
			order_token_set_id, maker, price::text, value::text, quantity::text,
			valid_from, valid_until, order_created_at, clean_at, created_at
		FROM user_received_bids
		WHERE address = $1 AND clean_at > NOW()`
	args := []any{owner.Bytes()}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND order_created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND order_created_at <= $%d", len(args))
	}
	query += " ORDER BY order_created_at DESC, order_id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list received bids for %s: %w", owner.Hex(), err)
	}
	defer rows.Close()

	var bids []domain.UserReceivedBid
	for rows.Next() {
		b, err := scanReceivedBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan received bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list received bids rows: %w", err)
	}
	return bids, nil
}

func scanReceivedBid(row rowScanner) (domain.UserReceivedBid, error) {
	var (
		b                      domain.UserReceivedBid
		owner, contract, maker []byte
		tokenSetID             string
		price, value, quantity string
	)
	err := row.Scan(
		&owner, &contract, &b.TokenID, &b.OrderID, &b.OrderKind,
		&tokenSetID, &maker, &price, &value, &quantity,
		&b.ValidFrom, &b.ValidUntil, &b.OrderCreatedAt, &b.CleanAt, &b.CreatedAt,
	)
	if err != nil {
		return domain.UserReceivedBid{}, err
	}

	b.Owner = common.BytesToAddress(owner)
	b.Contract = common.BytesToAddress(contract)
	b.Maker = common.BytesToAddress(maker)
	b.TokenSetID = domain.TokenSetID(tokenSetID)
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&b.Price, price}, {&b.Value, value}, {&b.Quantity, quantity}} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.UserReceivedBid{}, fmt.Errorf("parse numeric %q: %w", f.raw, err)
		}
		*f.dst = d
	}
	return b, nil
}
