package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/bidindex/internal/blob/s3"
	"github.com/alanyoungcy/bidindex/internal/cache/redis"
	"github.com/alanyoungcy/bidindex/internal/config"
	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/notify"
	"github.com/alanyoungcy/bidindex/internal/observability"
	"github.com/alanyoungcy/bidindex/internal/queue"
	"github.com/alanyoungcy/bidindex/internal/service"
	"github.com/alanyoungcy/bidindex/internal/store/postgres"
)

// Dependencies bundles every dependency the run modes and CLI commands need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Metrics  *observability.Metrics

	// Stores
	OrderStore      domain.OrderStore
	TokenStore      domain.TokenStore
	CollectionStore domain.CollectionStore
	BidIndexStore   domain.BidIndexStore
	AuditStore      domain.AuditStore

	// Redis-backed coordination
	Queue       domain.JobQueue
	Dispatcher  *queue.Dispatcher
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage, nil unless the archive is enabled
	Blob     *s3blob.Client
	Archiver *s3blob.Archiver

	// Operator alerts; drops everything when no channel is configured
	Notifier *notify.Notifier

	// Services
	ReceivedBids *service.ReceivedBidsService
	Reindexer    *service.Reindexer
	Flags        *service.FlagService
}

// Queues lists the queue names operators may inspect.
func (d *Dependencies) Queues(cfg *config.Config) []string {
	return []string{cfg.Queue.Fanout.Name, cfg.Queue.Metadata.Name}
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{Metrics: observability.NewMetrics()}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Postgres = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.TokenStore = postgres.NewTokenStore(pool)
	deps.CollectionStore = postgres.NewCollectionStore(pool)
	deps.BidIndexStore = postgres.NewBidIndexStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		URL:        cfg.Redis.URL,
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	deps.Queue = redis.NewJobQueue(redisClient, "")
	deps.Dispatcher = queue.NewDispatcher(deps.Queue, deps.Metrics)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 blob storage ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Blob = s3Client
		logger.Info("failed-job archive enabled",
			slog.String("bucket", s3Client.Bucket()),
			slog.String("prefix", cfg.Archive.Prefix),
		)
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Queue,
			deps.AuditStore,
			cfg.Archive.Prefix,
			deps.Metrics,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Services ---
	deps.ReceivedBids = service.NewReceivedBidsService(
		deps.OrderStore,
		deps.BidIndexStore,
		deps.Dispatcher,
		cfg.Queue.Fanout.Name,
		cfg.Queue.Fanout.BatchSize,
		deps.Metrics,
		logger,
	)
	deps.Reindexer = service.NewReindexer(
		deps.Dispatcher,
		deps.CollectionStore,
		cfg.Queue.Metadata.Name,
		service.IndexingMethods{
			Default:     cfg.Indexing.DefaultMethod,
			ByCommunity: cfg.Indexing.CommunityMethods,
		},
		deps.Metrics,
		logger,
	)
	deps.Flags = service.NewFlagService(
		deps.TokenStore,
		deps.CollectionStore,
		deps.Reindexer,
		deps.LockManager,
		deps.AuditStore,
		cfg.Indexing.FlagLockTTL.Duration,
		deps.Metrics,
		logger,
	)

	return deps, cleanup, nil
}
