package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/observability"
)

// maxBackoff caps the delay between attempts.
const maxBackoff = time.Hour

// Handler processes one decoded job payload.
type Handler interface {
	Handle(ctx context.Context, p domain.Payload) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, p domain.Payload) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, p domain.Payload) error {
	return f(ctx, p)
}

// Options configures a Worker.
type Options struct {
	Concurrency   int
	Attempts      int
	Timeout       time.Duration
	Backoff       time.Duration // first retry delay; doubles per attempt
	PollInterval  time.Duration
	StallGrace    time.Duration
	KeepCompleted int
	KeepFailed    int

	// OnFailed, when set, is called once a job lands in the failed list.
	OnFailed func(ctx context.Context, rec domain.JobRecord, cause error)
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.StallGrace <= 0 {
		o.StallGrace = 30 * time.Second
	}
	return o
}

// Worker consumes one queue with a bounded number of concurrent attempts.
// Failed attempts are retried with exponential backoff until Attempts is
// spent; the job then stays in the failed list for inspection.
type Worker struct {
	queue   domain.JobQueue
	name    string
	handler Handler
	opts    Options
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewWorker creates a Worker for the named queue.
func NewWorker(
	q domain.JobQueue,
	name string,
	handler Handler,
	opts Options,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		queue:   q,
		name:    name,
		handler: handler,
		opts:    opts.withDefaults(),
		metrics: metrics,
		logger:  logger.With(slog.String("component", "worker"), slog.String("queue", name)),
		now:     time.Now,
	}
}

// Start runs the worker in the background until Stop is called or ctx is
// cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		err := w.Run(ctx)
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
	}()
}

// Stop stops reserving new jobs and waits for in-flight attempts to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Run blocks until ctx is cancelled and every in-flight attempt has been
// recorded.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting",
		slog.Int("concurrency", w.opts.Concurrency),
		slog.Int("attempts", w.opts.Attempts),
		slog.Duration("timeout", w.opts.Timeout),
	)

	g, ctx := errgroup.WithContext(ctx)
	for slot := 0; slot < w.opts.Concurrency; slot++ {
		g.Go(func() error {
			w.reserveLoop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		w.maintain(ctx)
		return nil
	})

	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) reserveLoop(ctx context.Context) {
	for ctx.Err() == nil {
		lease := w.now().Add(w.opts.Timeout + w.opts.StallGrace)
		rec, err := w.queue.Reserve(ctx, w.name, lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("reserve failed", slog.String("error", err.Error()))
			sleep(ctx, w.opts.PollInterval)
			continue
		}
		if rec == nil {
			sleep(ctx, w.opts.PollInterval)
			continue
		}
		// in-flight attempts outlive ctx so Stop drains rather than aborts
		w.process(context.WithoutCancel(ctx), *rec)
	}
}

func (w *Worker) process(ctx context.Context, rec domain.JobRecord) {
	log := w.logger.With(
		slog.String("job_id", rec.ID),
		slog.String("job_name", rec.Name),
		slog.Int("attempt", rec.Attempts),
	)

	payload, err := domain.DecodePayload(rec.Data)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrUnrecoverable, err)
	} else {
		start := w.now()
		w.metrics.JobsInFlight.WithLabelValues(w.name).Inc()
		err = w.attempt(ctx, payload)
		w.metrics.JobsInFlight.WithLabelValues(w.name).Dec()
		w.metrics.JobDuration.WithLabelValues(w.name).Observe(w.now().Sub(start).Seconds())
	}

	if err == nil {
		if cerr := w.queue.Complete(ctx, w.name, rec.ID, w.opts.KeepCompleted); cerr != nil {
			w.reportLost(log, "complete", cerr)
			return
		}
		w.metrics.JobsFinished.WithLabelValues(w.name, "completed").Inc()
		log.Debug("job completed")
		return
	}

	if !errors.Is(err, domain.ErrUnrecoverable) && rec.Attempts < w.opts.Attempts {
		retryAt := w.now().Add(w.backoff(rec.Attempts))
		if ferr := w.queue.Fail(ctx, w.name, rec.ID, err.Error(), &retryAt, w.opts.KeepFailed); ferr != nil {
			w.reportLost(log, "delay", ferr)
			return
		}
		w.metrics.JobsFinished.WithLabelValues(w.name, "retried").Inc()
		log.Warn("job attempt failed, retrying",
			slog.String("error", err.Error()),
			slog.Time("retry_at", retryAt),
		)
		return
	}

	if ferr := w.queue.Fail(ctx, w.name, rec.ID, err.Error(), nil, w.opts.KeepFailed); ferr != nil {
		w.reportLost(log, "fail", ferr)
		return
	}
	w.metrics.JobsFinished.WithLabelValues(w.name, "failed").Inc()
	log.Error("job failed", slog.String("error", err.Error()))
	if w.opts.OnFailed != nil {
		w.opts.OnFailed(ctx, rec, err)
	}
}

// attempt runs the handler under the attempt timeout. A panic or an expired
// timeout counts as a failed attempt. It always waits for the handler to
// return, so a slot never runs more than one handler.
func (w *Worker) attempt(ctx context.Context, p domain.Payload) error {
	ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- w.handler.Handle(ctx, p)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// the slot stays taken until the handler gives up
		<-done
		return fmt.Errorf("attempt exceeded %s: %w", w.opts.Timeout, ctx.Err())
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	if w.opts.Backoff == 0 {
		return 0
	}
	d := w.opts.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func (w *Worker) reportLost(log *slog.Logger, op string, err error) {
	if errors.Is(err, domain.ErrLeaseLost) {
		log.Warn("job lease was reaped before "+op, slog.String("error", err.Error()))
		return
	}
	log.Error("job "+op+" failed", slog.String("error", err.Error()))
}

// maintain promotes due retries and reaps leases left behind by dead workers.
func (w *Worker) maintain(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := w.now()
			if _, err := w.queue.Promote(ctx, w.name, now); err != nil && ctx.Err() == nil {
				w.logger.Error("promote delayed jobs failed", slog.String("error", err.Error()))
			}
			n, err := w.queue.Reap(ctx, w.name, now, w.opts.Attempts, w.opts.KeepFailed)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Error("reap expired leases failed", slog.String("error", err.Error()))
				}
				continue
			}
			if n > 0 {
				w.metrics.JobsReaped.WithLabelValues(w.name).Add(float64(n))
				w.logger.Warn("reaped expired job leases", slog.Int("count", n))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
