// Package config defines the top-level configuration for the bid indexer and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BIDINDEX_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Queue    QueueConfig    `toml:"queue"`
	Indexing IndexingConfig `toml:"indexing"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	URL        string `toml:"url"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// QueueConfig holds job queue parameters.
type QueueConfig struct {
	Fanout       FanoutQueueConfig   `toml:"fanout"`
	Metadata     MetadataQueueConfig `toml:"metadata"`
	PollInterval duration            `toml:"poll_interval"`
	// StallGrace is added to the attempt timeout to form a job's lease. A
	// lease that outlives it belongs to a dead worker and is reaped.
	StallGrace duration `toml:"stall_grace"`
}

// FanoutQueueConfig configures the user-received-bids fan-out queue and its
// worker pool.
type FanoutQueueConfig struct {
	Name          string   `toml:"name"`
	Concurrency   int      `toml:"concurrency"`
	Attempts      int      `toml:"attempts"`
	Timeout       duration `toml:"timeout"`
	Backoff       duration `toml:"backoff"`
	KeepCompleted int      `toml:"keep_completed"`
	KeepFailed    int      `toml:"keep_failed"`
	BatchSize     int      `toml:"batch_size"`
}

// MetadataQueueConfig names the queue consumed by the metadata pipeline.
// This process only produces to it; attempts and retention are set by the
// consumer.
type MetadataQueueConfig struct {
	Name string `toml:"name"`
}

// IndexingConfig maps collection communities to metadata indexing methods.
type IndexingConfig struct {
	DefaultMethod    string            `toml:"default_method"`
	CommunityMethods map[string]string `toml:"community_methods"`
	FlagLockTTL      duration          `toml:"flag_lock_ttl"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKeys maps an API key to the application name recorded in audits.
	// When empty, authentication is disabled.
	APIKeys         map[string]string `toml:"api_keys"`
	RateLimit       int               `toml:"rate_limit"`
	RateLimitWindow duration          `toml:"rate_limit_window"`
}

// ArchiveConfig controls periodic export of failed job records to S3.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Prefix   string   `toml:"prefix"`
}

// NotifyConfig holds operator alert channels. Alerts are disabled when no
// channel is configured.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "60s", "5m").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "indexer",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "bidindex-archive",
			ForcePathStyle: true,
		},
		Queue: QueueConfig{
			Fanout: FanoutQueueConfig{
				Name:          "add-user-received-bids",
				Concurrency:   3,
				Attempts:      10,
				Timeout:       duration{60 * time.Second},
				Backoff:       duration{time.Second},
				KeepCompleted: 100,
				KeepFailed:    100,
				BatchSize:     500,
			},
			Metadata: MetadataQueueConfig{
				Name: "metadata-index",
			},
			PollInterval: duration{250 * time.Millisecond},
			StallGrace:   duration{30 * time.Second},
		},
		Indexing: IndexingConfig{
			DefaultMethod: "opensea",
			CommunityMethods: map[string]string{
				"sound.xyz": "soundxyz",
			},
			FlagLockTTL: duration{10 * time.Second},
		},
		Server: ServerConfig{
			Port:            3000,
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Interval: duration{time.Hour},
			Prefix:   "failed-jobs",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"worker": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: worker, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" && c.Redis.URL == "" {
		errs = append(errs, "redis: addr must not be empty (or set redis.url)")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Queues
	f := c.Queue.Fanout
	if f.Name == "" || c.Queue.Metadata.Name == "" {
		errs = append(errs, "queue: fanout.name and metadata.name must not be empty")
	} else if f.Name == c.Queue.Metadata.Name {
		errs = append(errs, "queue: fanout and metadata queues must have different names")
	}
	if f.Concurrency < 1 {
		errs = append(errs, "queue.fanout: concurrency must be >= 1")
	}
	if f.Attempts < 1 {
		errs = append(errs, "queue.fanout: attempts must be >= 1")
	}
	if f.Timeout.Duration <= 0 {
		errs = append(errs, "queue.fanout: timeout must be > 0")
	}
	if f.Backoff.Duration < 0 {
		errs = append(errs, "queue.fanout: backoff must be >= 0")
	}
	if f.KeepCompleted < 0 || f.KeepFailed < 0 {
		errs = append(errs, "queue.fanout: keep_completed and keep_failed must be >= 0")
	}
	if f.BatchSize < 1 || f.BatchSize > 10000 {
		errs = append(errs, fmt.Sprintf("queue.fanout: batch_size must be 1-10000, got %d", f.BatchSize))
	}
	if c.Queue.PollInterval.Duration <= 0 {
		errs = append(errs, "queue: poll_interval must be > 0")
	}

	// Indexing
	if c.Indexing.DefaultMethod == "" {
		errs = append(errs, "indexing: default_method must not be empty")
	}
	if c.Indexing.FlagLockTTL.Duration <= 0 {
		errs = append(errs, "indexing: flag_lock_ttl must be > 0")
	}

	// Server
	if c.Mode == "server" || c.Mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			errs = append(errs, "s3: bucket and region are required when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
