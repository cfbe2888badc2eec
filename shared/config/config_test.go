package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yakrealms.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("YAKREALMS_CONFIG", path)
}

func TestLoadPlayerServiceConfigDefaults(t *testing.T) {
	t.Setenv("YAKREALMS_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := LoadPlayerServiceConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.ListenAddr)
	assert.Equal(t, 8081, cfg.ServicePort)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.ConnStr)
	assert.Equal(t, "yakrealms", cfg.Mongo.Database)
	assert.Equal(t, 3, cfg.Mongo.MaxRetries)
	assert.Equal(t, 256, cfg.Mongo.QueueCapacity)
	assert.Equal(t, []string{"localhost:6379"}, cfg.RedisAddrs)
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	writeConfigFile(t, `
backup_dir = "/var/lib/yakrealms/backups"

[mongodb]
conn_str = "mongodb://db.internal:27017"
max_retries = 7
retry_backoff_base = "250ms"
`)

	cfg, err := LoadPlayerServiceConfig()
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db.internal:27017", cfg.Mongo.ConnStr)
	assert.Equal(t, 7, cfg.Mongo.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Mongo.RetryBackoffBase)
	assert.Equal(t, "/var/lib/yakrealms/backups", cfg.BackupDir)
}

func TestEnvWinsOverConfigFile(t *testing.T) {
	writeConfigFile(t, `
[mongodb]
database = "from_file"
`)
	t.Setenv("MONGODB_DATABASE", "from_env")

	cfg, err := LoadPlayerServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Mongo.Database)
}

func TestMalformedConfigFileFails(t *testing.T) {
	writeConfigFile(t, "[mongodb\nbroken")

	_, err := LoadPlayerServiceConfig()
	assert.Error(t, err)
}

func TestInvalidDurationRejected(t *testing.T) {
	t.Setenv("YAKREALMS_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("MONGODB_CONNECT_TIMEOUT", "ten seconds")

	_, err := LoadPlayerServiceConfig()
	assert.Error(t, err)
}

func TestMaxRetriesMustBePositive(t *testing.T) {
	t.Setenv("YAKREALMS_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("MONGODB_MAX_RETRIES", "0")

	_, err := LoadPlayerServiceConfig()
	assert.Error(t, err)
}

func TestRetryBackoffBaseMustBePositive(t *testing.T) {
	t.Setenv("YAKREALMS_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("MONGODB_RETRY_BACKOFF_BASE", "0s")

	_, err := LoadPlayerServiceConfig()
	assert.Error(t, err)
}

func TestPoolBoundsValidated(t *testing.T) {
	t.Setenv("YAKREALMS_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("MONGODB_MIN_POOL_SIZE", "50")
	t.Setenv("MONGODB_MAX_POOL_SIZE", "10")

	_, err := LoadPlayerServiceConfig()
	assert.Error(t, err)
}

func TestLoadGameServiceConfig(t *testing.T) {
	t.Setenv("YAKREALMS_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("GAME_SERVICE_LISTEN_ADDR", ":9090")
	t.Setenv("REDIS_ADDRS", "redis-a:6379, redis-b:6379")
	t.Setenv("LOOT_SEED", "12345")

	cfg, err := LoadGameServiceConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 9090, cfg.ServicePort)
	assert.Equal(t, []string{"redis-a:6379", "redis-b:6379"}, cfg.RedisAddrs)
	assert.Equal(t, int64(12345), cfg.LootSeed)
	assert.Equal(t, 15*time.Second, cfg.RedisOnlineTTL)
}

func TestExtractPort(t *testing.T) {
	port, err := extractPort(":8082")
	require.NoError(t, err)
	assert.Equal(t, 8082, port)

	port, err = extractPort("0.0.0.0:9000")
	require.NoError(t, err)
	assert.Equal(t, 9000, port)

	_, err = extractPort("no-port-here")
	assert.Error(t, err)
}
