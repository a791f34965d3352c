package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/observability"
)

const contentTypeJSONL = "application/x-ndjson"

// JobSource lists retained job records.
type JobSource interface {
	Records(ctx context.Context, queue string, state domain.JobState, limit int) ([]domain.JobRecord, error)
}

// ArchiveResult describes one uploaded snapshot.
type ArchiveResult struct {
	Path  string
	Count int
	// Newest is the latest FinishedAt among the archived records. Passing it
	// back as since on the next run skips records already archived.
	Newest time.Time
}

// Archiver snapshots a queue's failed job records to object storage as JSONL.
// Records stay in the queue; the archive is a copy for later analysis.
type Archiver struct {
	writer  domain.BlobWriter
	jobs    JobSource
	audit   domain.AuditStore
	prefix  string
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiver creates an Archiver that writes under prefix.
func NewArchiver(
	writer domain.BlobWriter,
	jobs JobSource,
	audit domain.AuditStore,
	prefix string,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Archiver {
	if prefix == "" {
		prefix = "failed-jobs"
	}
	return &Archiver{
		writer:  writer,
		jobs:    jobs,
		audit:   audit,
		prefix:  prefix,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "archiver")),
		now:     time.Now,
	}
}

// ArchiveFailed uploads every failed record of queue that finished after
// since. Nothing is written when there are none, and the result has an empty
// Path. Snapshots above MinPartSize go through multipart upload.
func (a *Archiver) ArchiveFailed(ctx context.Context, queue string, since time.Time) (ArchiveResult, error) {
	records, err := a.jobs.Records(ctx, queue, domain.JobFailed, 0)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("s3blob: list failed jobs in %s: %w", queue, err)
	}

	var (
		buf bytes.Buffer
		res ArchiveResult
	)
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if rec.FinishedAt == nil || !rec.FinishedAt.After(since) {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			return ArchiveResult{}, fmt.Errorf("s3blob: encode job %s: %w", rec.ID, err)
		}
		res.Count++
		if rec.FinishedAt.After(res.Newest) {
			res.Newest = *rec.FinishedAt
		}
	}
	if res.Count == 0 {
		return res, nil
	}

	res.Path = archivePath(a.prefix, queue, a.now().UTC())
	size := int64(buf.Len())
	if size > MinPartSize {
		err = a.writer.PutMultipart(ctx, res.Path, &buf, MinPartSize)
	} else {
		err = a.writer.Put(ctx, res.Path, &buf, contentTypeJSONL)
	}
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("s3blob: upload %s: %w", res.Path, err)
	}
	a.metrics.ArchivedJobs.Add(float64(res.Count))

	if err := a.audit.Log(ctx, "archive.failed_jobs", map[string]any{
		"queue": queue,
		"path":  res.Path,
		"count": res.Count,
		"bytes": size,
	}); err != nil {
		a.logger.WarnContext(ctx, "audit log failed",
			slog.String("path", res.Path),
			slog.String("error", err.Error()),
		)
	}
	a.logger.InfoContext(ctx, "failed jobs archived",
		slog.String("queue", queue),
		slog.String("path", res.Path),
		slog.Int("count", res.Count),
	)
	return res, nil
}

// archivePath partitions snapshots by day:
//
//	failed-jobs/add-user-received-bids/2026/03/01/1772323200.jsonl
func archivePath(prefix, queue string, at time.Time) string {
	return path.Join(prefix, queue, at.Format("2006/01/02"), fmt.Sprintf("%d.jsonl", at.Unix()))
}
