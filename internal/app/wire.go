package app

import (
	"context"
	"fmt"
	"log/slog"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/alanyoungcy/flashmarket/internal/blob/s3"
	"github.com/alanyoungcy/flashmarket/internal/cache/redis"
	"github.com/alanyoungcy/flashmarket/internal/config"
	"github.com/alanyoungcy/flashmarket/internal/domain"
	"github.com/alanyoungcy/flashmarket/internal/pipeline"
	"github.com/alanyoungcy/flashmarket/internal/platform/pyth"
	"github.com/alanyoungcy/flashmarket/internal/settlement"
	"github.com/alanyoungcy/flashmarket/internal/store/postgres"

	"github.com/ethereum/go-ethereum/common"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Namespace is the keccak hash of the configured namespace string; every
	// market, position, and account address derives under it.
	Namespace common.Hash

	// Stores
	MarketStore   domain.MarketStore
	PositionStore domain.PositionStore
	Ledger        domain.Ledger
	AuditStore    domain.AuditStore

	// Caches
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus
	ReadingCache domain.ReadingCache

	// Oracle is the price source, cached through Redis when a cache TTL is
	// configured.
	Oracle domain.PriceOracle

	// Engine is the settlement engine every mode drives.
	Engine *settlement.Engine

	// BlobWriter is nil unless the archive pipeline is enabled.
	BlobWriter *s3blob.Writer
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Namespace: ethcrypto.Keccak256Hash([]byte(cfg.Engine.Namespace)),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.Ledger = postgres.NewLedger(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
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

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.ReadingCache = redis.NewReadingCache(redisClient, cfg.Oracle.CacheTTL.Duration)

	// --- Oracle ---
	var oracle domain.PriceOracle = pyth.NewClient(cfg.Oracle.Endpoint, cfg.Oracle.Timeout.Duration)
	if cfg.Oracle.CacheTTL.Duration > 0 {
		oracle = pyth.NewCachedOracle(oracle, deps.ReadingCache, cfg.Oracle.CacheTTL.Duration, logger)
	}
	deps.Oracle = oracle

	// --- Settlement engine ---
	deps.Engine = settlement.New(
		settlement.Config{
			Namespace:        deps.Namespace,
			MaxConfidenceBps: cfg.Engine.MaxConfidenceBps,
			MaxReadingAge:    cfg.Engine.MaxReadingAge.Duration,
			LockTTL:          cfg.Engine.LockTTL.Duration,
		},
		deps.MarketStore,
		deps.PositionStore,
		deps.Ledger,
		deps.Oracle,
		deps.LockManager,
		deps.SignalBus,
		deps.AuditStore,
		logger,
	)

	// --- S3 blob storage (only when the archive pipeline runs) ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	return deps, cleanup, nil
}

// newArchiver builds the archive pipeline from wired dependencies. Callers
// must have checked that deps.BlobWriter is non-nil.
func (a *App) newArchiver(deps *Dependencies) *pipeline.Archiver {
	return pipeline.NewArchiver(
		deps.MarketStore,
		deps.PositionStore,
		deps.AuditStore,
		deps.BlobWriter,
		a.cfg.Archive.Prefix,
		a.cfg.Archive.RetentionDays,
		a.logger,
	)
}
