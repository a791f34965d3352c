package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BIDINDEX_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from BIDINDEX_* variables so
// operators can inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BIDINDEX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BIDINDEX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BIDINDEX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BIDINDEX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BIDINDEX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BIDINDEX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BIDINDEX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BIDINDEX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BIDINDEX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BIDINDEX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "BIDINDEX_REDIS_URL")
	setStr(&cfg.Redis.Addr, "BIDINDEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BIDINDEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BIDINDEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BIDINDEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BIDINDEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BIDINDEX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BIDINDEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BIDINDEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "BIDINDEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BIDINDEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BIDINDEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BIDINDEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BIDINDEX_S3_FORCE_PATH_STYLE")

	// ── Queue ──
	setStr(&cfg.Queue.Fanout.Name, "BIDINDEX_QUEUE_FANOUT_NAME")
	setInt(&cfg.Queue.Fanout.Concurrency, "BIDINDEX_QUEUE_FANOUT_CONCURRENCY")
	setInt(&cfg.Queue.Fanout.Attempts, "BIDINDEX_QUEUE_FANOUT_ATTEMPTS")
	setDuration(&cfg.Queue.Fanout.Timeout, "BIDINDEX_QUEUE_FANOUT_TIMEOUT")
	setDuration(&cfg.Queue.Fanout.Backoff, "BIDINDEX_QUEUE_FANOUT_BACKOFF")
	setInt(&cfg.Queue.Fanout.KeepCompleted, "BIDINDEX_QUEUE_FANOUT_KEEP_COMPLETED")
	setInt(&cfg.Queue.Fanout.KeepFailed, "BIDINDEX_QUEUE_FANOUT_KEEP_FAILED")
	setInt(&cfg.Queue.Fanout.BatchSize, "BIDINDEX_QUEUE_FANOUT_BATCH_SIZE")
	setStr(&cfg.Queue.Metadata.Name, "BIDINDEX_QUEUE_METADATA_NAME")
	setDuration(&cfg.Queue.PollInterval, "BIDINDEX_QUEUE_POLL_INTERVAL")
	setDuration(&cfg.Queue.StallGrace, "BIDINDEX_QUEUE_STALL_GRACE")

	// ── Indexing ──
	setStr(&cfg.Indexing.DefaultMethod, "BIDINDEX_INDEXING_DEFAULT_METHOD")
	setStringMap(&cfg.Indexing.CommunityMethods, "BIDINDEX_INDEXING_COMMUNITY_METHODS")
	setDuration(&cfg.Indexing.FlagLockTTL, "BIDINDEX_INDEXING_FLAG_LOCK_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "BIDINDEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BIDINDEX_SERVER_CORS_ORIGINS")
	setStringMap(&cfg.Server.APIKeys, "BIDINDEX_SERVER_API_KEYS")
	setInt(&cfg.Server.RateLimit, "BIDINDEX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "BIDINDEX_SERVER_RATE_LIMIT_WINDOW")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BIDINDEX_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BIDINDEX_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Prefix, "BIDINDEX_ARCHIVE_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BIDINDEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BIDINDEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BIDINDEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BIDINDEX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BIDINDEX_MODE")
	setStr(&cfg.LogLevel, "BIDINDEX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		cleaned := splitList(v)
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setStringMap parses "k1=v1,k2=v2". The result replaces the whole map.
func setStringMap(dst *map[string]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	out := make(map[string]string)
	for _, pair := range splitList(v) {
		k, val, ok := strings.Cut(pair, "=")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if !ok || k == "" {
			continue
		}
		out[k] = val
	}
	if len(out) > 0 {
		*dst = out
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
