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
// built-in defaults, applies FLASHPRED_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLASHPRED_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLASHPRED_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLASHPRED_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FLASHPRED_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FLASHPRED_SERVER_API_KEY")

	// ── Database ──
	setStr(&cfg.Database.DSN, "FLASHPRED_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "FLASHPRED_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "FLASHPRED_DATABASE_HOST")
	setInt(&cfg.Database.Port, "FLASHPRED_DATABASE_PORT")
	setStr(&cfg.Database.Database, "FLASHPRED_DATABASE_NAME")
	setStr(&cfg.Database.User, "FLASHPRED_DATABASE_USER")
	setStr(&cfg.Database.Password, "FLASHPRED_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "FLASHPRED_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "FLASHPRED_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "FLASHPRED_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "FLASHPRED_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FLASHPRED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLASHPRED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLASHPRED_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLASHPRED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLASHPRED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLASHPRED_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FLASHPRED_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLASHPRED_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLASHPRED_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLASHPRED_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLASHPRED_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLASHPRED_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLASHPRED_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStr(&cfg.Oracle.Endpoint, "FLASHPRED_ORACLE_ENDPOINT")
	setDuration(&cfg.Oracle.Timeout, "FLASHPRED_ORACLE_TIMEOUT")
	setDuration(&cfg.Oracle.CacheTTL, "FLASHPRED_ORACLE_CACHE_TTL")

	// ── Keeper ──
	setStr(&cfg.Keeper.PrivateKey, "FLASHPRED_KEEPER_PRIVATE_KEY")
	setStr(&cfg.Keeper.EncryptedKeyPath, "FLASHPRED_KEEPER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keeper.KeyPassword, "FLASHPRED_KEEPER_KEY_PASSWORD")
	setDuration(&cfg.Keeper.PollInterval, "FLASHPRED_KEEPER_POLL_INTERVAL")
	setInt(&cfg.Keeper.BatchSize, "FLASHPRED_KEEPER_BATCH_SIZE")

	// ── Engine ──
	setStr(&cfg.Engine.Namespace, "FLASHPRED_ENGINE_NAMESPACE")
	setUint64(&cfg.Engine.MaxConfidenceBps, "FLASHPRED_ENGINE_MAX_CONFIDENCE_BPS")
	setDuration(&cfg.Engine.MaxReadingAge, "FLASHPRED_ENGINE_MAX_READING_AGE")
	setDuration(&cfg.Engine.LockTTL, "FLASHPRED_ENGINE_LOCK_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FLASHPRED_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "FLASHPRED_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "FLASHPRED_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Prefix, "FLASHPRED_ARCHIVE_PREFIX")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLASHPRED_MODE")
	setStr(&cfg.LogLevel, "FLASHPRED_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
