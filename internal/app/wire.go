package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/weatherbot/internal/blob/s3"
	"github.com/alanyoungcy/weatherbot/internal/cache/redis"
	"github.com/alanyoungcy/weatherbot/internal/config"
	"github.com/alanyoungcy/weatherbot/internal/domain"
	"github.com/alanyoungcy/weatherbot/internal/metrics"
	"github.com/alanyoungcy/weatherbot/internal/notify"
	"github.com/alanyoungcy/weatherbot/internal/store/postgres"
	"github.com/alanyoungcy/weatherbot/internal/store/sqlite"
)

// portfolioStore is what both SQL backends provide.
type portfolioStore interface {
	domain.PortfolioStore
	domain.ClosedPositionLister
}

// Dependencies bundles the infrastructure the run modes need. Every field
// except Metrics is nil when its backend is disabled.
type Dependencies struct {
	PortfolioStore portfolioStore
	AuditStore     domain.AuditStore

	QuoteCache  domain.QuoteCache
	LockManager domain.LockManager

	BlobWriter domain.BlobWriter
	Snapshots  domain.SnapshotUploader
	Archiver   domain.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// HealthChecks are pinged by GET /api/health.
	HealthChecks map[string]func(context.Context) error
}

// Wire constructs every enabled backend and returns a cleanup function that
// releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics:      metrics.New(),
		HealthChecks: make(map[string]func(context.Context) error),
	}

	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.PortfolioStore = sqlite.NewPortfolioStore(db)
		deps.AuditStore = sqlite.NewAuditStore(db)
		deps.HealthChecks["store"] = db.Conn().PingContext
		logger.InfoContext(ctx, "storage: sqlite", slog.String("path", cfg.Storage.SQLitePath))

	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PortfolioStore = postgres.NewPortfolioStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["store"] = pool.Ping
		logger.InfoContext(ctx, "storage: postgres")

	default:
		logger.InfoContext(ctx, "storage: in-memory only")
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	if cfg.S3.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, uploads will fail until it is",
				slog.String("bucket", s3Client.Bucket()),
				slog.String("error", err.Error()),
			)
		}

		deps.HealthChecks["s3"] = s3Client.Health

		writer := s3blob.NewWriter(s3Client)
		deps.BlobWriter = writer
		deps.Snapshots = s3blob.NewSnapshotUploader(writer)
		if deps.PortfolioStore != nil {
			deps.Archiver = s3blob.NewArchiver(writer, deps.PortfolioStore, deps.AuditStore)
		}
	}

	deps.Notifier = notify.NewNotifier(buildSenders(ctx, cfg.Notify, logger), cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildSenders returns every configured notification channel. A channel that
// fails to initialise is logged and skipped.
func buildSenders(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			logger.WarnContext(ctx, "telegram notifications disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}
