package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Order is a maker's standing bid on a token set.
type Order struct {
	ID         string
	Kind       string
	TokenSetID TokenSetID
	Maker      common.Address
	Price      decimal.Decimal
	Value      decimal.Decimal
	Quantity   decimal.Decimal // remaining quantity
	ValidFrom  time.Time
	ValidUntil time.Time
	Expiration time.Time
	CreatedAt  time.Time
}

// UserReceivedBid is one materialized row of the per-owner bid index.
type UserReceivedBid struct {
	Owner          common.Address
	Contract       common.Address
	TokenID        string // representative token, informational only
	OrderID        string
	OrderKind      string
	TokenSetID     TokenSetID
	Maker          common.Address
	Price          decimal.Decimal
	Value          decimal.Decimal
	Quantity       decimal.Decimal
	ValidFrom      time.Time
	ValidUntil     time.Time
	OrderCreatedAt time.Time
	CleanAt        time.Time
	CreatedAt      time.Time
}

// NewUserReceivedBid denormalizes an order onto a row for owner.
func NewUserReceivedBid(order Order, owner common.Address, token TokenRef, cleanAt time.Time) UserReceivedBid {
	return UserReceivedBid{
		Owner:          owner,
		Contract:       token.Contract,
		TokenID:        token.TokenID,
		OrderID:        order.ID,
		OrderKind:      order.Kind,
		TokenSetID:     order.TokenSetID,
		Maker:          order.Maker,
		Price:          order.Price,
		Value:          order.Value,
		Quantity:       order.Quantity,
		ValidFrom:      order.ValidFrom,
		ValidUntil:     order.ValidUntil,
		OrderCreatedAt: order.CreatedAt,
		CleanAt:        cleanAt,
	}
}

// PageRequest asks the bid index to materialize one page of an order's token
// set. After is exclusive; nil starts from the beginning of the set.
type PageRequest struct {
	Order   Order
	After   *Cursor
	Limit   int
	CleanAt time.Time
}

// PageResult reports what one page did. Last is the greatest token-set entry
// in the page, owned or not. HasMore is true when at least one entry exists
// past the page.
type PageResult struct {
	Scanned  int
	Inserted int
	Last     *Cursor
	HasMore  bool
}
