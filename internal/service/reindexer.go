package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/observability"
)

// IndexingMethods maps a collection's community to the metadata indexing
// method that should re-verify it.
type IndexingMethods struct {
	Default     string
	ByCommunity map[string]string
}

// Resolve returns the method for community. Nil or unmapped communities get
// the default.
func (m IndexingMethods) Resolve(community *string) string {
	if community != nil {
		if method, ok := m.ByCommunity[*community]; ok {
			return method
		}
	}
	return m.Default
}

// Reindexer produces metadata re-indexing jobs. It keeps no state; its only
// failure mode is the dispatcher's.
type Reindexer struct {
	dispatcher  domain.Dispatcher
	collections domain.CollectionStore
	queue       string
	methods     IndexingMethods
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewReindexer creates a Reindexer that enqueues onto queue.
func NewReindexer(
	dispatcher domain.Dispatcher,
	collections domain.CollectionStore,
	queue string,
	methods IndexingMethods,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Reindexer {
	return &Reindexer{
		dispatcher:  dispatcher,
		collections: collections,
		queue:       queue,
		methods:     methods,
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "reindexer")),
	}
}

// RequestReindex enqueues exactly one prioritized single-token job.
func (r *Reindexer) RequestReindex(ctx context.Context, ref domain.TokenRef, col domain.Collection) error {
	method := r.methods.Resolve(col.Community)
	job := domain.Job{
		Name:        "reindex-token:" + ref.String(),
		Prioritized: true,
		Payload: domain.SingleTokenReindex{
			Method:     method,
			Contract:   strings.ToLower(ref.Contract.Hex()),
			TokenID:    ref.TokenID,
			Collection: col.ID,
		},
	}
	if err := r.dispatcher.Enqueue(ctx, r.queue, job); err != nil {
		return fmt.Errorf("reindexer: enqueue token %s: %w", ref, err)
	}
	r.metrics.ReindexRequested.WithLabelValues(method).Inc()
	return nil
}

// RequestCollectionReindex enqueues a job re-verifying every token of col.
func (r *Reindexer) RequestCollectionReindex(ctx context.Context, col domain.Collection) error {
	method := r.methods.Resolve(col.Community)
	job := domain.Job{
		Name:    "reindex-collection:" + col.ID,
		Payload: domain.CollectionReindex{Method: method, Collection: col.ID},
	}
	if err := r.dispatcher.Enqueue(ctx, r.queue, job); err != nil {
		return fmt.Errorf("reindexer: enqueue collection %s: %w", col.ID, err)
	}
	r.metrics.ReindexRequested.WithLabelValues(method).Inc()
	r.logger.Info("collection reindex requested",
		slog.String("collection", col.ID),
		slog.String("method", method),
	)
	return nil
}

// ReindexCollection loads the collection by id and requests its reindex.
func (r *Reindexer) ReindexCollection(ctx context.Context, collectionID string) error {
	col, err := r.collections.GetByID(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("reindexer: load collection %s: %w", collectionID, err)
	}
	return r.RequestCollectionReindex(ctx, col)
}
