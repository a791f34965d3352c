package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Default queue names.
const (
	QueueReceivedBids  = "add-user-received-bids"
	QueueMetadataIndex = "metadata-index"
)

// ErrLeaseLost is returned when a worker reports on a job whose lease has
// already been reaped and handed back to the wait list.
var ErrLeaseLost = errors.New("job lease lost")

// JobState is where a job sits in the queue lifecycle.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobDelayed   JobState = "delayed"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is a unit of work handed to a Dispatcher. ID is generated when empty.
type Job struct {
	ID          string
	Name        string
	Payload     Payload
	Prioritized bool
}

// JobRecord is the stored form of a job.
type JobRecord struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Kind        JobKind         `json:"kind"`
	Data        json.RawMessage `json:"data"`
	Prioritized bool            `json:"prioritized"`
	State       JobState        `json:"state"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// QueueStats counts jobs per state.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Dispatcher enqueues jobs onto a named queue.
type Dispatcher interface {
	Enqueue(ctx context.Context, queue string, job Job) error
	EnqueueBulk(ctx context.Context, queue string, jobs []Job) error
}

// JobQueue is the durable storage behind the dispatcher and its workers.
// Reserve hands a job to exactly one caller and leases it until leaseUntil;
// Complete and Fail end that lease. Reap returns expired leases to the wait
// list, or to the failed list once maxAttempts is spent.
type JobQueue interface {
	Push(ctx context.Context, queue string, records []JobRecord) error
	Reserve(ctx context.Context, queue string, leaseUntil time.Time) (*JobRecord, error)
	Complete(ctx context.Context, queue, id string, keep int) error
	Fail(ctx context.Context, queue, id, cause string, retryAt *time.Time, keep int) error
	Promote(ctx context.Context, queue string, now time.Time) (int, error)
	Reap(ctx context.Context, queue string, now time.Time, maxAttempts, keepFailed int) (int, error)
	Records(ctx context.Context, queue string, state JobState, limit int) ([]JobRecord, error)
	Retry(ctx context.Context, queue, id string) error
	Stats(ctx context.Context, queue string) (QueueStats, error)
}
