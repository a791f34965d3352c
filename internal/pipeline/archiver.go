package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	s3blob "github.com/alanyoungcy/bidindex/internal/blob/s3"
)

// FailedJobArchiver uploads one queue's failed records finished after since.
type FailedJobArchiver interface {
	ArchiveFailed(ctx context.Context, queue string, since time.Time) (s3blob.ArchiveResult, error)
}

// Archiver snapshots failed jobs of several queues on each run. It remembers
// the newest archived record per queue so later runs only upload new
// failures. The watermark lives in memory; a restart re-archives what the
// queue still retains.
type Archiver struct {
	archiver FailedJobArchiver
	queues   []string
	logger   *slog.Logger

	mu    sync.Mutex
	since map[string]time.Time
}

// NewArchiver creates an Archiver over queues.
func NewArchiver(archiver FailedJobArchiver, queues []string, logger *slog.Logger) *Archiver {
	return &Archiver{
		archiver: archiver,
		queues:   queues,
		logger:   logger,
		since:    make(map[string]time.Time, len(queues)),
	}
}

// Run archives every queue once. A failing queue does not stop the others;
// their errors are joined.
func (a *Archiver) Run(ctx context.Context) error {
	var errs []error
	for _, q := range a.queues {
		if err := a.RunQueue(ctx, q); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunQueue archives one queue and advances its watermark.
func (a *Archiver) RunQueue(ctx context.Context, queue string) error {
	a.mu.Lock()
	since := a.since[queue]
	a.mu.Unlock()

	res, err := a.archiver.ArchiveFailed(ctx, queue, since)
	if err != nil {
		return fmt.Errorf("archive %s: %w", queue, err)
	}
	if res.Count == 0 {
		a.logger.Debug("no new failed jobs to archive", slog.String("queue", queue))
		return nil
	}

	a.mu.Lock()
	if res.Newest.After(a.since[queue]) {
		a.since[queue] = res.Newest
	}
	a.mu.Unlock()
	return nil
}
