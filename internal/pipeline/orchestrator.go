package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/observability"
)

// StatsSource reports per-state job counts for a queue.
type StatsSource interface {
	Stats(ctx context.Context, queue string) (domain.QueueStats, error)
}

// Orchestrator runs the background maintenance loops of worker mode: queue
// depth sampling and, when configured, the failed-job archive.
type Orchestrator struct {
	stats           StatsSource
	queues          []string
	archiver        *Archiver // nil disables archiving
	sampleInterval  time.Duration
	archiveInterval time.Duration
	metrics         *observability.Metrics
	logger          *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver may be nil.
func NewOrchestrator(
	stats StatsSource,
	queues []string,
	archiver *Archiver,
	sampleInterval time.Duration,
	archiveInterval time.Duration,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	if sampleInterval <= 0 {
		sampleInterval = 15 * time.Second
	}
	return &Orchestrator{
		stats:           stats,
		queues:          queues,
		archiver:        archiver,
		sampleInterval:  sampleInterval,
		archiveInterval: archiveInterval,
		metrics:         metrics,
		logger:          logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts the loops and blocks until ctx is cancelled. Loop errors are
// logged and retried on the next tick, so Run only returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("sample_interval", o.sampleInterval),
		slog.Bool("archive", o.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o.every(ctx, o.sampleInterval, o.sample)
		return nil
	})

	if o.archiver != nil && o.archiveInterval > 0 {
		g.Go(func() error {
			o.every(ctx, o.archiveInterval, func(ctx context.Context) {
				if err := o.archiver.Run(ctx); err != nil {
					o.logger.Error("archive run failed", slog.String("error", err.Error()))
				}
			})
			return nil
		})
	}

	err := g.Wait()
	o.logger.Info("pipeline orchestrator stopped")
	return err
}

// sample publishes queue depth gauges.
func (o *Orchestrator) sample(ctx context.Context) {
	for _, q := range o.queues {
		s, err := o.stats.Stats(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Warn("queue stats failed",
					slog.String("queue", q),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		o.metrics.QueueDepth.WithLabelValues(q, string(domain.JobWaiting)).Set(float64(s.Waiting))
		o.metrics.QueueDepth.WithLabelValues(q, string(domain.JobActive)).Set(float64(s.Active))
		o.metrics.QueueDepth.WithLabelValues(q, string(domain.JobDelayed)).Set(float64(s.Delayed))
		o.metrics.QueueDepth.WithLabelValues(q, string(domain.JobCompleted)).Set(float64(s.Completed))
		o.metrics.QueueDepth.WithLabelValues(q, string(domain.JobFailed)).Set(float64(s.Failed))
	}
}

// every runs fn immediately and then on each tick until ctx is done.
func (o *Orchestrator) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
