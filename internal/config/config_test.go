package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_AreValidForServerMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_KeeperKeyRequired(t *testing.T) {
	for _, mode := range []string{"keeper", "full"} {
		cfg := Defaults()
		cfg.Mode = mode
		err := cfg.Validate()
		require.Error(t, err, "mode %s must require a keeper key", mode)
		assert.Contains(t, err.Error(), "private_key")
	}

	cfg := Defaults()
	cfg.Mode = "keeper"
	cfg.Keeper.PrivateKey = "deadbeef"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_EncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "keeper"
	cfg.Keeper.EncryptedKeyPath = "/etc/flashpred/keeper.key.json"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")
}

func TestValidate_UnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_S3OnlyWhenArchiveEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.S3.Endpoint = ""
	cfg.S3.Bucket = ""
	assert.NoError(t, cfg.Validate())

	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3")
}

func TestValidate_ConfidenceBpsBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"

	cfg.Engine.MaxConfidenceBps = 0
	assert.Error(t, cfg.Validate())

	cfg.Engine.MaxConfidenceBps = 10_001
	assert.Error(t, cfg.Validate())

	cfg.Engine.MaxConfidenceBps = 10_000
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Redis.Addr = ""
	cfg.Oracle.Endpoint = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "redis")
	assert.Contains(t, err.Error(), "oracle")
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "server"
log_level = "debug"

[server]
port = 9001

[engine]
namespace = "testnet"
max_confidence_bps = 250
max_reading_age = "90s"

[keeper]
poll_interval = "5s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "testnet", cfg.Engine.Namespace)
	assert.Equal(t, uint64(250), cfg.Engine.MaxConfidenceBps)
	assert.Equal(t, 90*time.Second, cfg.Engine.MaxReadingAge.Duration)
	assert.Equal(t, 5*time.Second, cfg.Keeper.PollInterval.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "https://hermes.pyth.network", cfg.Oracle.Endpoint)
}

func TestLoad_EnvOverridesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = \"server\"\n"), 0o644))

	t.Setenv("FLASHPRED_MODE", "keeper")
	t.Setenv("FLASHPRED_SERVER_PORT", "9500")
	t.Setenv("FLASHPRED_DATABASE_URL", "postgres://env:env@db:5432/flashpred")
	t.Setenv("FLASHPRED_KEEPER_POLL_INTERVAL", "3s")
	t.Setenv("FLASHPRED_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "keeper", cfg.Mode)
	assert.Equal(t, 9500, cfg.Server.Port)
	assert.Equal(t, "postgres://env:env@db:5432/flashpred", cfg.Database.DSN)
	assert.Equal(t, 3*time.Second, cfg.Keeper.PollInterval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
