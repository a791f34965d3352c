package queue

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

type memJob struct {
	rec   domain.JobRecord
	until time.Time // lease deadline while active, ready time while delayed
}

type memQueue struct {
	jobs      map[string]*memJob
	wait      []string // next job first
	active    map[string]bool
	delayed   map[string]bool
	completed []string // newest first
	failed    []string // newest first
}

// MemoryQueue is an in-process domain.JobQueue with the same state machine as
// the Redis queue. It is meant for tests and single-process runs.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	now    func() time.Time
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{queues: make(map[string]*memQueue), now: time.Now}
}

func (m *MemoryQueue) queue(name string) *memQueue {
	q, ok := m.queues[name]
	if !ok {
		q = &memQueue{
			jobs:    make(map[string]*memJob),
			active:  make(map[string]bool),
			delayed: make(map[string]bool),
		}
		m.queues[name] = q
	}
	return q
}

func (q *memQueue) enqueue(id string, prioritized bool) {
	if prioritized {
		q.wait = append([]string{id}, q.wait...)
	} else {
		q.wait = append(q.wait, id)
	}
}

func (q *memQueue) finish(list *[]string, id string, keep int) {
	*list = append([]string{id}, *list...)
	if len(*list) <= keep {
		return
	}
	for _, stale := range (*list)[max(keep, 0):] {
		delete(q.jobs, stale)
	}
	*list = (*list)[:max(keep, 0)]
}

// Push implements domain.JobQueue.
func (m *MemoryQueue) Push(_ context.Context, queue string, records []domain.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	for _, r := range records {
		if _, exists := q.jobs[r.ID]; exists {
			return fmt.Errorf("memory queue: push %s/%s: %w", queue, r.ID, domain.ErrAlreadyExists)
		}
	}
	for _, r := range records {
		r.Queue = queue
		r.State = domain.JobWaiting
		r.Attempts = 0
		q.jobs[r.ID] = &memJob{rec: r}
		q.enqueue(r.ID, r.Prioritized)
	}
	return nil
}

// Reserve implements domain.JobQueue.
func (m *MemoryQueue) Reserve(_ context.Context, queue string, leaseUntil time.Time) (*domain.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	if len(q.wait) == 0 {
		return nil, nil
	}
	id := q.wait[0]
	q.wait = q.wait[1:]

	j := q.jobs[id]
	j.rec.State = domain.JobActive
	j.rec.Attempts++
	j.until = leaseUntil
	q.active[id] = true

	rec := j.rec
	return &rec, nil
}

// Complete implements domain.JobQueue.
func (m *MemoryQueue) Complete(_ context.Context, queue, id string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	if !q.active[id] {
		return fmt.Errorf("memory queue: complete %s/%s: %w", queue, id, domain.ErrLeaseLost)
	}
	delete(q.active, id)

	j := q.jobs[id]
	finished := m.now().UTC()
	j.rec.State = domain.JobCompleted
	j.rec.FinishedAt = &finished
	q.finish(&q.completed, id, keep)
	return nil
}

// Fail implements domain.JobQueue.
func (m *MemoryQueue) Fail(_ context.Context, queue, id, cause string, retryAt *time.Time, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	if !q.active[id] {
		return fmt.Errorf("memory queue: fail %s/%s: %w", queue, id, domain.ErrLeaseLost)
	}
	delete(q.active, id)

	j := q.jobs[id]
	j.rec.LastError = cause
	if retryAt != nil {
		j.rec.State = domain.JobDelayed
		j.until = *retryAt
		q.delayed[id] = true
		return nil
	}
	finished := m.now().UTC()
	j.rec.State = domain.JobFailed
	j.rec.FinishedAt = &finished
	q.finish(&q.failed, id, keep)
	return nil
}

// Promote implements domain.JobQueue.
func (m *MemoryQueue) Promote(_ context.Context, queue string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	due := q.due(q.delayed, now)
	for _, id := range due {
		delete(q.delayed, id)
		j := q.jobs[id]
		j.rec.State = domain.JobWaiting
		q.enqueue(id, j.rec.Prioritized)
	}
	return len(due), nil
}

// Reap implements domain.JobQueue.
func (m *MemoryQueue) Reap(_ context.Context, queue string, now time.Time, maxAttempts, keepFailed int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	expired := q.due(q.active, now)
	for _, id := range expired {
		delete(q.active, id)
		j := q.jobs[id]
		if j.rec.Attempts >= maxAttempts {
			finished := now.UTC()
			j.rec.State = domain.JobFailed
			j.rec.LastError = "lease expired"
			j.rec.FinishedAt = &finished
			q.finish(&q.failed, id, keepFailed)
			continue
		}
		j.rec.State = domain.JobWaiting
		q.enqueue(id, true)
	}
	return len(expired), nil
}

// due returns the ids in set whose deadline is at or before now, earliest
// first.
func (q *memQueue) due(set map[string]bool, now time.Time) []string {
	var ids []string
	for id := range set {
		if !q.jobs[id].until.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return q.jobs[ids[i]].until.Before(q.jobs[ids[j]].until)
	})
	return ids
}

// Records implements domain.JobQueue.
func (m *MemoryQueue) Records(_ context.Context, queue string, state domain.JobState, limit int) ([]domain.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	var ids []string
	switch state {
	case domain.JobWaiting:
		ids = slices.Clone(q.wait)
	case domain.JobActive:
		ids = q.due(q.active, time.Unix(1<<40, 0))
	case domain.JobDelayed:
		ids = q.due(q.delayed, time.Unix(1<<40, 0))
	case domain.JobCompleted:
		ids = slices.Clone(q.completed)
	case domain.JobFailed:
		ids = slices.Clone(q.failed)
	default:
		return nil, fmt.Errorf("%w: unknown job state %q", domain.ErrInvalidInput, state)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]domain.JobRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, q.jobs[id].rec)
	}
	return out, nil
}

// Retry implements domain.JobQueue.
func (m *MemoryQueue) Retry(_ context.Context, queue, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	i := slices.Index(q.failed, id)
	if i < 0 {
		return fmt.Errorf("memory queue: retry %s/%s: %w", queue, id, domain.ErrNotFound)
	}
	q.failed = slices.Delete(q.failed, i, i+1)

	j := q.jobs[id]
	j.rec.State = domain.JobWaiting
	j.rec.Attempts = 0
	j.rec.LastError = ""
	j.rec.FinishedAt = nil
	q.enqueue(id, false)
	return nil
}

// Stats implements domain.JobQueue.
func (m *MemoryQueue) Stats(_ context.Context, queue string) (domain.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	return domain.QueueStats{
		Waiting:   int64(len(q.wait)),
		Active:    int64(len(q.active)),
		Delayed:   int64(len(q.delayed)),
		Completed: int64(len(q.completed)),
		Failed:    int64(len(q.failed)),
	}, nil
}

var _ domain.JobQueue = (*MemoryQueue)(nil)
