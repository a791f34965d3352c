package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore reads orders.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (Order, error)
}

// TokenStore reads and updates token flag state.
type TokenStore interface {
	Get(ctx context.Context, ref TokenRef) (Token, error)
	UpdateFlag(ctx context.Context, upd FlagUpdate) error
}

// CollectionStore reads collection metadata.
type CollectionStore interface {
	GetByID(ctx context.Context, id string) (Collection, error)
}

// BidIndexStore maintains the materialized per-owner bid index.
type BidIndexStore interface {
	// MaterializePage inserts one row per current owner found in a page of
	// the order's token set. Rows that already exist for (owner, order) are
	// left untouched.
	MaterializePage(ctx context.Context, req PageRequest) (PageResult, error)
	ListByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]UserReceivedBid, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
