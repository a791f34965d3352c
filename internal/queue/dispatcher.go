// Package queue dispatches jobs onto a domain.JobQueue and runs the worker
// pool that consumes them.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/observability"
)

// Dispatcher implements domain.Dispatcher on top of a JobQueue.
type Dispatcher struct {
	queue   domain.JobQueue
	metrics *observability.Metrics
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher that pushes to q.
func NewDispatcher(q domain.JobQueue, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{queue: q, metrics: metrics, now: time.Now}
}

// Enqueue pushes a single job.
func (d *Dispatcher) Enqueue(ctx context.Context, queue string, job domain.Job) error {
	return d.EnqueueBulk(ctx, queue, []domain.Job{job})
}

// EnqueueBulk encodes every job and pushes them together. Either all jobs
// are pushed or none are.
func (d *Dispatcher) EnqueueBulk(ctx context.Context, queue string, jobs []domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	now := d.now().UTC()
	records := make([]domain.JobRecord, 0, len(jobs))
	for _, job := range jobs {
		if job.Payload == nil {
			return fmt.Errorf("queue: enqueue to %s: %w: job %q has no payload", queue, domain.ErrInvalidInput, job.Name)
		}
		data, err := domain.EncodePayload(job.Payload)
		if err != nil {
			return fmt.Errorf("queue: enqueue to %s: %w", queue, err)
		}
		id := job.ID
		if id == "" {
			id = uuid.NewString()
		}
		records = append(records, domain.JobRecord{
			ID:          id,
			Queue:       queue,
			Name:        job.Name,
			Kind:        job.Payload.Kind(),
			Data:        data,
			Prioritized: job.Prioritized,
			State:       domain.JobWaiting,
			EnqueuedAt:  now,
		})
	}

	if err := d.queue.Push(ctx, queue, records); err != nil {
		return fmt.Errorf("queue: enqueue to %s: %w", queue, err)
	}
	for _, r := range records {
		d.metrics.JobsEnqueued.WithLabelValues(queue, string(r.Kind)).Inc()
	}
	return nil
}

var _ domain.Dispatcher = (*Dispatcher)(nil)
