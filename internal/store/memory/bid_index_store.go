package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

type bidKey struct {
	owner   common.Address
	orderID string
}

// BidIndexStore is an in-memory implementation of domain.BidIndexStore. It
// also holds the token-set membership and balances the fan-out reads.
type BidIndexStore struct {
	mu        sync.RWMutex
	tokenSets map[domain.TokenSetID][]domain.TokenRef
	balances  map[domain.TokenRef]map[common.Address]int64
	rows      map[bidKey]domain.UserReceivedBid
	pages     int
	now       func() time.Time
}

// NewBidIndexStore creates an empty bid index.
func NewBidIndexStore() *BidIndexStore {
	return &BidIndexStore{
		tokenSets: make(map[domain.TokenSetID][]domain.TokenRef),
		balances:  make(map[domain.TokenRef]map[common.Address]int64),
		rows:      make(map[bidKey]domain.UserReceivedBid),
		now:       time.Now,
	}
}

// AddToTokenSet adds tokens to a set, keeping the set sorted.
func (s *BidIndexStore) AddToTokenSet(id domain.TokenSetID, refs ...domain.TokenRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.tokenSets[id]
	for _, r := range refs {
		if !slices.Contains(set, r) {
			set = append(set, r)
		}
	}
	slices.SortFunc(set, domain.CompareRefs)
	s.tokenSets[id] = set
}

// SetBalance records owner's amount of a token. Zero keeps the balance row
// but makes it ineligible.
func (s *BidIndexStore) SetBalance(ref domain.TokenRef, owner common.Address, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[ref] == nil {
		s.balances[ref] = make(map[common.Address]int64)
	}
	s.balances[ref][owner] = amount
}

// Pages returns how many MaterializePage calls have run.
func (s *BidIndexStore) Pages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pages
}

// Rows returns every index row for an order, sorted by owner.
func (s *BidIndexStore) Rows(orderID string) []domain.UserReceivedBid {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.UserReceivedBid
	for k, row := range s.rows {
		if k.orderID == orderID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Owner.Cmp(out[j].Owner) < 0
	})
	return out
}

// MaterializePage mirrors the PostgreSQL statement: it scans Limit+1 entries
// after the cursor, picks the max token per positive-balance owner within the
// first Limit entries and inserts rows that are not already present.
func (s *BidIndexStore) MaterializePage(_ context.Context, req domain.PageRequest) (domain.PageResult, error) {
	if req.Limit <= 0 {
		return domain.PageResult{}, fmt.Errorf("memory: materialize page: limit must be positive, got %d", req.Limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages++

	set := s.tokenSets[req.Order.TokenSetID]
	start := 0
	if req.After != nil {
		start = sort.Search(len(set), func(i int) bool {
			return domain.CompareRefs(set[i], *req.After) > 0
		})
	}
	scan := set[start:]
	res := domain.PageResult{HasMore: len(scan) > req.Limit}
	page := scan[:min(len(scan), req.Limit)]
	res.Scanned = len(page)
	if len(page) == 0 {
		return res, nil
	}
	last := page[len(page)-1]
	res.Last = &last

	representative := make(map[common.Address]domain.TokenRef)
	for _, ref := range page {
		for owner, amount := range s.balances[ref] {
			if amount <= 0 {
				continue
			}
			// page is ascending, so the last hit per owner is its max token
			representative[owner] = ref
		}
	}

	createdAt := s.now().UTC()
	for owner, ref := range representative {
		key := bidKey{owner: owner, orderID: req.Order.ID}
		if _, exists := s.rows[key]; exists {
			continue
		}
		row := domain.NewUserReceivedBid(req.Order, owner, ref, req.CleanAt)
		row.CreatedAt = createdAt
		s.rows[key] = row
		res.Inserted++
	}
	return res, nil
}

// ListByOwner returns owner's unexpired rows, newest order first.
func (s *BidIndexStore) ListByOwner(_ context.Context, owner common.Address, opts domain.ListOpts) ([]domain.UserReceivedBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []domain.UserReceivedBid
	for k, row := range s.rows {
		if k.owner != owner || !row.CleanAt.After(now) {
			continue
		}
		if opts.Since != nil && row.OrderCreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && row.OrderCreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderCreatedAt.Equal(out[j].OrderCreatedAt) {
			return out[i].OrderCreatedAt.After(out[j].OrderCreatedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return paginate(out, opts), nil
}
