package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/observability"
)

const (
	// DefaultBatchSize is the number of token-set entries one fan-out job
	// covers.
	DefaultBatchSize = 500

	// maxCleanDelay bounds how long an index row outlives its creation,
	// whatever the order's own expiration.
	maxCleanDelay = 24 * time.Hour
)

// ReceivedBidsService fans orders out over their token sets into the
// per-owner received-bids index. Each invocation covers one page and, while
// the set has more entries, enqueues the next page onto its own queue.
type ReceivedBidsService struct {
	orders     domain.OrderStore
	bids       domain.BidIndexStore
	dispatcher domain.Dispatcher
	queue      string
	batchSize  int
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewReceivedBidsService creates a ReceivedBidsService that resubmits
// continuations to queue. A non-positive batchSize uses DefaultBatchSize.
func NewReceivedBidsService(
	orders domain.OrderStore,
	bids domain.BidIndexStore,
	dispatcher domain.Dispatcher,
	queue string,
	batchSize int,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *ReceivedBidsService {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ReceivedBidsService{
		orders:     orders,
		bids:       bids,
		dispatcher: dispatcher,
		queue:      queue,
		batchSize:  batchSize,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "received_bids")),
		now:        time.Now,
	}
}

// Handle is the queue handler for the fan-out queue. Payload kinds owned by
// the metadata pipeline are rejected as unrecoverable.
func (s *ReceivedBidsService) Handle(ctx context.Context, p domain.Payload) error {
	switch v := p.(type) {
	case domain.ReceivedBidsJob:
		return s.Propagate(ctx, v)
	case domain.SingleTokenReindex, domain.CollectionReindex:
		return fmt.Errorf("received_bids: %w: %s jobs are not handled here", domain.ErrUnrecoverable, p.Kind())
	default:
		return fmt.Errorf("received_bids: %w: %w %T", domain.ErrUnrecoverable, domain.ErrUnknownJobKind, p)
	}
}

// Propagate materializes one page of the order's token set and enqueues the
// next page when the scan found more entries. A missing order is logged and
// treated as done.
func (s *ReceivedBidsService) Propagate(ctx context.Context, job domain.ReceivedBidsJob) error {
	order, err := s.orders.GetByID(ctx, job.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		s.metrics.FanoutOrdersMissed.Inc()
		s.logger.Warn("order not found, skipping fan-out", slog.String("order_id", job.OrderID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("received_bids: load order %s: %w", job.OrderID, err)
	}

	res, err := s.bids.MaterializePage(ctx, domain.PageRequest{
		Order:   order,
		After:   job.After,
		Limit:   s.batchSize,
		CleanAt: s.cleanAt(order),
	})
	if err != nil {
		return fmt.Errorf("received_bids: materialize order %s: %w", order.ID, err)
	}
	s.metrics.FanoutPages.Inc()
	s.metrics.FanoutRowsInserted.Add(float64(res.Inserted))

	log := s.logger.With(
		slog.String("order_id", order.ID),
		slog.String("token_set_id", string(order.TokenSetID)),
		slog.Int("scanned", res.Scanned),
		slog.Int("inserted", res.Inserted),
	)

	if order.TokenSetID.IsSingleton() || !res.HasMore || res.Last == nil {
		log.Debug("fan-out page done, order complete")
		return nil
	}

	next := domain.Job{
		Name:    order.ID,
		Payload: domain.ReceivedBidsJob{OrderID: order.ID, After: res.Last},
	}
	if err := s.dispatcher.Enqueue(ctx, s.queue, next); err != nil {
		return fmt.Errorf("received_bids: enqueue continuation for order %s: %w", order.ID, err)
	}
	log.Debug("fan-out page done, continuation enqueued", slog.String("after", res.Last.String()))
	return nil
}

// cleanAt is the earlier of the order's expiration and now + 24h.
func (s *ReceivedBidsService) cleanAt(order domain.Order) time.Time {
	limit := s.now().Add(maxCleanDelay).UTC()
	if order.Expiration.IsZero() || order.Expiration.After(limit) {
		return limit
	}
	return order.Expiration.UTC()
}

// Enqueue starts fan-out for each order from the beginning of its token set.
func (s *ReceivedBidsService) Enqueue(ctx context.Context, orderIDs ...string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	jobs := make([]domain.Job, 0, len(orderIDs))
	for _, id := range orderIDs {
		if id == "" {
			return fmt.Errorf("received_bids: %w: empty order id", domain.ErrInvalidInput)
		}
		jobs = append(jobs, domain.Job{
			Name:    id,
			Payload: domain.ReceivedBidsJob{OrderID: id},
		})
	}
	if err := s.dispatcher.EnqueueBulk(ctx, s.queue, jobs); err != nil {
		return fmt.Errorf("received_bids: enqueue %d orders: %w", len(jobs), err)
	}
	s.logger.Info("fan-out enqueued", slog.Int("orders", len(jobs)))
	return nil
}

// ListByOwner returns the owner's unexpired received bids.
func (s *ReceivedBidsService) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.UserReceivedBid, error) {
	bids, err := s.bids.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("received_bids: list for %s: %w", owner.Hex(), err)
	}
	return bids, nil
}
