package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

// QueueInspector is the read and recovery surface of the job queue.
type QueueInspector interface {
	Records(ctx context.Context, queue string, state domain.JobState, limit int) ([]domain.JobRecord, error)
	Retry(ctx context.Context, queue, id string) error
	Stats(ctx context.Context, queue string) (domain.QueueStats, error)
}

// QueueHandler serves operator routes over the known queues.
type QueueHandler struct {
	queue  QueueInspector
	known  map[string]bool
	logger *slog.Logger
}

// NewQueueHandler creates a QueueHandler limited to the named queues.
func NewQueueHandler(queue QueueInspector, queues []string, logger *slog.Logger) *QueueHandler {
	known := make(map[string]bool, len(queues))
	for _, q := range queues {
		known[q] = true
	}
	return &QueueHandler{queue: queue, known: known, logger: logHandler(logger, "queue")}
}

type listJobsResponse struct {
	Queue string             `json:"queue"`
	State domain.JobState    `json:"state"`
	Jobs  []domain.JobRecord `json:"jobs"`
}

// ListJobs returns retained job records in one state, most recent first.
// GET /admin/queues/{queue}/jobs?state=failed&limit=50
func (h *QueueHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	name, ok := h.queueName(w, r)
	if !ok {
		return
	}

	state := domain.JobFailed
	if v := r.URL.Query().Get("state"); v != "" {
		state = domain.JobState(v)
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}

	jobs, err := h.queue.Records(r.Context(), name, state, limit)
	if errors.Is(err, domain.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.internalError(w, r, "list jobs", name, err)
		return
	}
	if jobs == nil {
		jobs = []domain.JobRecord{}
	}
	writeJSON(w, http.StatusOK, listJobsResponse{Queue: name, State: state, Jobs: jobs})
}

// Stats returns per-state job counts.
// GET /admin/queues/{queue}/stats
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	name, ok := h.queueName(w, r)
	if !ok {
		return
	}
	stats, err := h.queue.Stats(r.Context(), name)
	if err != nil {
		h.internalError(w, r, "queue stats", name, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Retry moves a failed job back to the wait list with a fresh attempt count.
// POST /admin/queues/{queue}/jobs/{id}/retry
func (h *QueueHandler) Retry(w http.ResponseWriter, r *http.Request) {
	name, ok := h.queueName(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	err := h.queue.Retry(r.Context(), name, id)
	switch {
	case err == nil:
		h.logger.InfoContext(r.Context(), "job retried",
			slog.String("queue", name),
			slog.String("job_id", id),
		)
		writeAccepted(w, http.StatusAccepted)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no failed job with that id")
	default:
		h.internalError(w, r, "retry job", name, err)
	}
}

func (h *QueueHandler) queueName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.PathValue("queue")
	if !h.known[name] {
		writeError(w, http.StatusNotFound, "unknown queue")
		return "", false
	}
	return name, true
}

func (h *QueueHandler) internalError(w http.ResponseWriter, r *http.Request, op, queue string, err error) {
	h.logger.ErrorContext(r.Context(), op+" failed",
		slog.String("queue", queue),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "queue unavailable")
}

// CollectionReindexer requests metadata reindexing for a whole collection.
type CollectionReindexer interface {
	ReindexCollection(ctx context.Context, collectionID string) error
}

// CollectionHandler serves collection operator routes.
type CollectionHandler struct {
	reindexer CollectionReindexer
	logger    *slog.Logger
}

// NewCollectionHandler creates a CollectionHandler.
func NewCollectionHandler(reindexer CollectionReindexer, logger *slog.Logger) *CollectionHandler {
	return &CollectionHandler{reindexer: reindexer, logger: logHandler(logger, "collection")}
}

// Reindex enqueues a metadata reindex of every token in the collection.
// POST /admin/collections/{id}/reindex
func (h *CollectionHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.reindexer.ReindexCollection(r.Context(), id)
	switch {
	case err == nil:
		writeAccepted(w, http.StatusAccepted)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "collection not found")
	default:
		h.logger.ErrorContext(r.Context(), "collection reindex failed",
			slog.String("collection", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to request reindex")
	}
}
