package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/notify"
	"github.com/alanyoungcy/bidindex/internal/pipeline"
	"github.com/alanyoungcy/bidindex/internal/queue"
	"github.com/alanyoungcy/bidindex/internal/server"
	"github.com/alanyoungcy/bidindex/internal/server/handler"
)

// shutdownTimeout bounds how long the HTTP server waits for in-flight
// requests on shutdown.
const shutdownTimeout = 10 * time.Second

// WorkerMode consumes the fan-out queue and runs background maintenance.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startWorker(ctx, g, deps)
	return g.Wait()
}

// ServerMode serves the HTTP API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the worker and the HTTP API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startWorker(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) startWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	fq := a.cfg.Queue.Fanout
	worker := queue.NewWorker(deps.Queue, fq.Name, deps.ReceivedBids, queue.Options{
		Concurrency:   fq.Concurrency,
		Attempts:      fq.Attempts,
		Timeout:       fq.Timeout.Duration,
		Backoff:       fq.Backoff.Duration,
		PollInterval:  a.cfg.Queue.PollInterval.Duration,
		StallGrace:    a.cfg.Queue.StallGrace.Duration,
		KeepCompleted: fq.KeepCompleted,
		KeepFailed:    fq.KeepFailed,
		OnFailed: func(ctx context.Context, rec domain.JobRecord, cause error) {
			if err := deps.Notifier.Notify(ctx, notify.JobFailed(fq.Name, rec, cause)); err != nil {
				a.logger.WarnContext(ctx, "job failure alert not delivered",
					slog.String("job_id", rec.ID),
					slog.String("error", err.Error()),
				)
			}
		},
	}, deps.Metrics, a.logger)
	g.Go(func() error {
		return worker.Run(ctx)
	})

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, deps.Queues(a.cfg), a.logger)
	}
	orch := pipeline.NewOrchestrator(
		deps.Queue,
		deps.Queues(a.cfg),
		archiver,
		0,
		a.cfg.Archive.Interval.Duration,
		deps.Metrics,
		a.logger,
	)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:            sc.Port,
		CORSOrigins:     sc.CORSOrigins,
		APIKeys:         sc.APIKeys,
		RateLimit:       sc.RateLimit,
		RateLimitWindow: sc.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:       handler.NewHealthHandler(healthChecks(deps), a.logger),
		Tokens:       handler.NewTokenHandler(deps.Flags, a.logger),
		ReceivedBids: handler.NewReceivedBidsHandler(deps.ReceivedBids, a.logger),
		Queues:       handler.NewQueueHandler(deps.Queue, deps.Queues(a.cfg), a.logger),
		Collections:  handler.NewCollectionHandler(deps.Reindexer, a.logger),
	}, deps.RateLimiter, deps.Metrics, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.Error("HTTP server shutdown", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}

// healthChecks lists the backends /api/health pings. The archive bucket is
// only checked when the archive is enabled.
func healthChecks(deps *Dependencies) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{
		"postgres": deps.Postgres,
		"redis":    deps.Redis,
	}
	if deps.Blob != nil {
		checks["s3"] = deps.Blob
	}
	return checks
}
