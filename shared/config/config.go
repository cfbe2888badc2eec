// shared/config/config.go
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

// CommonConfig holds configuration fields that are shared across multiple services.
type CommonConfig struct {
	RedisAddrs              []string      // Redis server addresses (e.g., "redis-cluster:6379")
	RedisPassword           string        // Redis password for authentication
	HeartbeatInterval       time.Duration // How often to send a heartbeat to registry (e.g., 5s)
	HeartbeatTTL            time.Duration // How long an instance is considered alive without a heartbeat (e.g., 15s)
	RegistryCleanupInterval time.Duration // How often the registry actively cleans stale entries (e.g., 30s)
	ServiceIP               string        // The IP address this service advertises for registration
	ServicePort             int           // The port this service listens on, used for registration
}

// MongoConfig holds everything the connection manager needs to build and
// babysit the MongoDB client. Every key has a hard default so a bare
// environment still yields a working local setup.
type MongoConfig struct {
	ConnStr             string        // MONGODB_CONN_STR
	Database            string        // MONGODB_DATABASE
	PlayersCollection   string        // MONGODB_PLAYERS_COLLECTION
	BackupsCollection   string        // MONGODB_BACKUPS_COLLECTION
	MaxPoolSize         uint64        // MONGODB_MAX_POOL_SIZE
	MinPoolSize         uint64        // MONGODB_MIN_POOL_SIZE
	ConnectTimeout      time.Duration // MONGODB_CONNECT_TIMEOUT
	SocketTimeout       time.Duration // MONGODB_SOCKET_TIMEOUT
	ServerSelectTimeout time.Duration // MONGODB_SERVER_SELECT_TIMEOUT
	HeartbeatInterval   time.Duration // MONGODB_HEARTBEAT_INTERVAL (driver-level heartbeat)
	HealthCheckInterval time.Duration // MONGODB_HEALTH_CHECK_INTERVAL (manager-level ping loop)
	MaxRetries          int           // MONGODB_MAX_RETRIES attempts per safe operation
	RetryBackoffBase    time.Duration // MONGODB_RETRY_BACKOFF_BASE between attempts
	MaxRecoveryAttempts int           // MONGODB_MAX_RECOVERY_ATTEMPTS before auto-recovery disables itself
	QueueCapacity       int           // MONGODB_QUEUE_CAPACITY of the outage operation queue
	QueueWaitTimeout    time.Duration // MONGODB_QUEUE_WAIT_TIMEOUT a queued caller blocks before giving up
	QueueDrainBatch     int           // MONGODB_QUEUE_DRAIN_BATCH operations drained per pass
}

// PlayerServiceConfig holds configuration specific to the player-service.
type PlayerServiceConfig struct {
	CommonConfig
	Mongo                  MongoConfig
	ListenAddr             string        // Address for the HTTP server to listen on (e.g., ":8081")
	BackupDir              string        // Root directory for on-disk player backups
	UsernameFillerInterval time.Duration // How often the Mojang username filler job runs
	BackupSyncInterval     time.Duration // How often the backup syncer flushes online players
	BackupSyncTimeout      time.Duration // Timeout for one full backup sync pass
}

// GameServiceConfig holds configuration specific to the game-service.
type GameServiceConfig struct {
	CommonConfig
	ListenAddr       string        // Address for the HTTP server (e.g., ":8082")
	RedisOnlineTTL   time.Duration // TTL for 'online:{uuid}' keys in Redis (e.g., 15s)
	PlayerServiceURL string        // The URL of the player-service (e.g., "http://player-service:8081")
	LootSeed         int64         // Fixed seed for the drop generator, 0 means time-based
}

// fileValues is the optional yakrealms.toml overlay. Environment variables win
// over file values, file values win over hard defaults.
type fileValues struct {
	values map[string]string
}

// loadConfigFile reads yakrealms.toml (or $YAKREALMS_CONFIG) if present.
// A missing file is not an error; a malformed one is.
func loadConfigFile() (*fileValues, error) {
	path := os.Getenv("YAKREALMS_CONFIG")
	if path == "" {
		path = "yakrealms.toml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileValues{values: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	fv := &fileValues{values: map[string]string{}}
	flattenTree("", tree, fv.values)
	return fv, nil
}

// flattenTree stores TOML leaves under ENV_STYLE keys, so [mongodb] conn_str
// becomes MONGODB_CONN_STR and lookups stay uniform across both sources.
func flattenTree(prefix string, tree *toml.Tree, out map[string]string) {
	for _, key := range tree.Keys() {
		full := key
		if prefix != "" {
			full = prefix + "_" + key
		}
		switch v := tree.Get(key).(type) {
		case *toml.Tree:
			flattenTree(full, v, out)
		default:
			out[strings.ToUpper(full)] = fmt.Sprintf("%v", v)
		}
	}
}

// lookup returns the value for key, preferring the environment over the file.
func (fv *fileValues) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fv.values[key]
}

func (fv *fileValues) getString(key, defaultVal string) string {
	if v := fv.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

// Helper to parse duration from an environment variable or the config file.
func (fv *fileValues) getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	valStr := fv.lookup(key)
	if valStr == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(valStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format for %s: %w", key, err)
	}
	return d, nil
}

// Helper to parse int from an environment variable or the config file.
func (fv *fileValues) getInt(key string, defaultVal int) (int, error) {
	valStr := fv.lookup(key)
	if valStr == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer format for %s: %w", key, err)
	}
	return i, nil
}

func (fv *fileValues) getUint64(key string, defaultVal uint64) (uint64, error) {
	valStr := fv.lookup(key)
	if valStr == "" {
		return defaultVal, nil
	}
	u, err := strconv.ParseUint(valStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid unsigned integer format for %s: %w", key, err)
	}
	return u, nil
}

func (fv *fileValues) getInt64(key string, defaultVal int64) (int64, error) {
	valStr := fv.lookup(key)
	if valStr == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseInt(valStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer format for %s: %w", key, err)
	}
	return i, nil
}

// loadCommonConfig loads common configuration shared by both services.
func loadCommonConfig(fv *fileValues) (CommonConfig, error) {
	cfg := CommonConfig{}
	var err error

	redisAddrsStr := fv.lookup("REDIS_ADDRS")
	if redisAddrsStr == "" {
		cfg.RedisAddrs = []string{"localhost:6379"}
	} else {
		for _, addr := range strings.Split(redisAddrsStr, ",") {
			cfg.RedisAddrs = append(cfg.RedisAddrs, strings.TrimSpace(addr))
		}
	}
	cfg.RedisPassword = fv.lookup("REDIS_PASSWORD")

	cfg.HeartbeatInterval, err = fv.getDuration("SERVICE_HEARTBEAT_INTERVAL", 5*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.HeartbeatTTL, err = fv.getDuration("SERVICE_HEARTBEAT_TTL", 15*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.RegistryCleanupInterval, err = fv.getDuration("SERVICE_REGISTRY_CLEANUP_INTERVAL", 30*time.Second)
	if err != nil {
		return cfg, err
	}

	// Service IP for registration (injected by Kubernetes as POD_IP)
	cfg.ServiceIP = os.Getenv("POD_IP")
	if cfg.ServiceIP == "" {
		cfg.ServiceIP = "0.0.0.0"
		fmt.Printf("WARNING: POD_IP not set, defaulting ServiceIP to %s\n", cfg.ServiceIP)
	}

	return cfg, nil
}

// loadMongoConfig loads the connection manager configuration.
func loadMongoConfig(fv *fileValues) (MongoConfig, error) {
	cfg := MongoConfig{
		ConnStr:           fv.getString("MONGODB_CONN_STR", "mongodb://localhost:27017"),
		Database:          fv.getString("MONGODB_DATABASE", "yakrealms"),
		PlayersCollection: fv.getString("MONGODB_PLAYERS_COLLECTION", "players"),
		BackupsCollection: fv.getString("MONGODB_BACKUPS_COLLECTION", "player_backups"),
	}
	var err error

	cfg.MaxPoolSize, err = fv.getUint64("MONGODB_MAX_POOL_SIZE", 20)
	if err != nil {
		return cfg, err
	}
	cfg.MinPoolSize, err = fv.getUint64("MONGODB_MIN_POOL_SIZE", 2)
	if err != nil {
		return cfg, err
	}
	cfg.ConnectTimeout, err = fv.getDuration("MONGODB_CONNECT_TIMEOUT", 10*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.SocketTimeout, err = fv.getDuration("MONGODB_SOCKET_TIMEOUT", 30*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.ServerSelectTimeout, err = fv.getDuration("MONGODB_SERVER_SELECT_TIMEOUT", 5*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.HeartbeatInterval, err = fv.getDuration("MONGODB_HEARTBEAT_INTERVAL", 10*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.HealthCheckInterval, err = fv.getDuration("MONGODB_HEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.MaxRetries, err = fv.getInt("MONGODB_MAX_RETRIES", 3)
	if err != nil {
		return cfg, err
	}
	cfg.RetryBackoffBase, err = fv.getDuration("MONGODB_RETRY_BACKOFF_BASE", 500*time.Millisecond)
	if err != nil {
		return cfg, err
	}
	cfg.MaxRecoveryAttempts, err = fv.getInt("MONGODB_MAX_RECOVERY_ATTEMPTS", 10)
	if err != nil {
		return cfg, err
	}
	cfg.QueueCapacity, err = fv.getInt("MONGODB_QUEUE_CAPACITY", 256)
	if err != nil {
		return cfg, err
	}
	cfg.QueueWaitTimeout, err = fv.getDuration("MONGODB_QUEUE_WAIT_TIMEOUT", 30*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.QueueDrainBatch, err = fv.getInt("MONGODB_QUEUE_DRAIN_BATCH", 32)
	if err != nil {
		return cfg, err
	}

	if cfg.MaxRetries <= 0 {
		return cfg, fmt.Errorf("MONGODB_MAX_RETRIES must be a positive integer (got %d)", cfg.MaxRetries)
	}
	if cfg.RetryBackoffBase <= 0 {
		return cfg, fmt.Errorf("MONGODB_RETRY_BACKOFF_BASE must be a positive duration (got %v)", cfg.RetryBackoffBase)
	}
	if cfg.MinPoolSize > cfg.MaxPoolSize {
		return cfg, fmt.Errorf("MONGODB_MIN_POOL_SIZE (%d) must not exceed MONGODB_MAX_POOL_SIZE (%d)", cfg.MinPoolSize, cfg.MaxPoolSize)
	}

	return cfg, nil
}

// extractPort extracts the numeric port from a listen address (e.g., ":8082" -> 8082).
func extractPort(listenAddr string) (int, error) {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		if strings.HasPrefix(listenAddr, ":") {
			portStr = strings.TrimPrefix(listenAddr, ":")
		} else {
			return 0, fmt.Errorf("invalid ListenAddr format for port extraction: %w", err)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port number '%s': %w", portStr, err)
	}
	return port, nil
}

// LoadPlayerServiceConfig loads configuration for the player-service.
func LoadPlayerServiceConfig() (*PlayerServiceConfig, error) {
	fv, err := loadConfigFile()
	if err != nil {
		return nil, err
	}
	common, err := loadCommonConfig(fv)
	if err != nil {
		return nil, fmt.Errorf("failed to load common config for player-service: %w", err)
	}
	mongoCfg, err := loadMongoConfig(fv)
	if err != nil {
		return nil, fmt.Errorf("failed to load mongodb config for player-service: %w", err)
	}

	cfg := &PlayerServiceConfig{
		CommonConfig: common,
		Mongo:        mongoCfg,
		ListenAddr:   fv.getString("PLAYER_SERVICE_LISTEN_ADDR", ":8081"),
		BackupDir:    fv.getString("BACKUP_DIR", "backups"),
	}

	cfg.UsernameFillerInterval, err = fv.getDuration("USERNAME_FILLER_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.BackupSyncInterval, err = fv.getDuration("BACKUP_SYNC_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.BackupSyncTimeout, err = fv.getDuration("BACKUP_SYNC_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.ServicePort, err = extractPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to extract port from PLAYER_SERVICE_LISTEN_ADDR '%s': %w", cfg.ListenAddr, err)
	}

	return cfg, nil
}

// LoadGameServiceConfig loads configuration for the game-service.
func LoadGameServiceConfig() (*GameServiceConfig, error) {
	fv, err := loadConfigFile()
	if err != nil {
		return nil, err
	}
	common, err := loadCommonConfig(fv)
	if err != nil {
		return nil, fmt.Errorf("failed to load common config for game-service: %w", err)
	}

	cfg := &GameServiceConfig{
		CommonConfig:     common,
		ListenAddr:       fv.getString("GAME_SERVICE_LISTEN_ADDR", ":8082"),
		PlayerServiceURL: fv.getString("PLAYER_SERVICE_URL", "http://player-service:8081"),
	}

	cfg.RedisOnlineTTL, err = fv.getDuration("REDIS_ONLINE_TTL", 15*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.LootSeed, err = fv.getInt64("LOOT_SEED", 0)
	if err != nil {
		return nil, err
	}

	cfg.ServicePort, err = extractPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to extract port from GAME_SERVICE_LISTEN_ADDR '%s': %w", cfg.ListenAddr, err)
	}

	return cfg, nil
}
