package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opena2a/wot/internal/domain"
)

// Config holds all configuration for the wotd daemon.
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Redis   RedisConfig
	Engine  EngineConfig
	Metrics MetricsConfig
	Log     LogConfig
}

// ServerConfig holds the ops-only HTTP server configuration
// (/healthz, /metrics — spec §1 Non-goals excludes a public API).
type ServerConfig struct {
	Port        string
	Environment string
}

// StoreConfig holds the store backend selector and its connection
// configuration, for Postgres or Neo4j (C2).
type StoreConfig struct {
	Backend         string // "postgres" or "neo4j"
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the Redis connection configuration, used for the
// database lock (spec §4.6), change-event pub/sub (spec §6), and the
// fetch-worker rate limit.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// EngineConfig holds the score engine's tunables (spec §6).
type EngineConfig struct {
	Limits           LimitsConfig
	RankCacheTTL     time.Duration
	KeyVaultMasterKey string
}

// LimitsConfig mirrors domain.Limits for the external configuration layer.
type LimitsConfig struct {
	NicknameMaxLength      int
	CommentMaxLength       int
	ContextMaxLength       int
	PropertyNameMaxLength  int
	PropertyValueMaxLength int
	MaxTrustListEntries    int
	MaxIdentityFileBytes   int
}

// MetricsConfig holds the Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// LogConfig holds the structured logger configuration.
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
}

// Load loads configuration from environment variables, then applies an
// optional YAML overlay (WOT_CONFIG_FILE) for values environments find
// awkward to express as env vars (nested limits).
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("APP_PORT", "9090"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Store: StoreConfig{
			Backend:         getEnv("STORE_BACKEND", "postgres"),
			Host:            getEnvRequired("POSTGRES_HOST"),
			Port:            getEnvAsInt("POSTGRES_PORT", 5432),
			User:            getEnvRequired("POSTGRES_USER"),
			Password:        getEnvRequired("POSTGRES_PASSWORD"),
			Database:        getEnvRequired("POSTGRES_DB"),
			SSLMode:         getEnv("POSTGRES_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 25),
			ConnMaxLifetime: getEnvAsDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			Limits: LimitsConfig{
				NicknameMaxLength:      getEnvAsInt("WOT_NICKNAME_MAX_LENGTH", 50),
				CommentMaxLength:       getEnvAsInt("WOT_COMMENT_MAX_LENGTH", 256),
				ContextMaxLength:       getEnvAsInt("WOT_CONTEXT_MAX_LENGTH", 32),
				PropertyNameMaxLength:  getEnvAsInt("WOT_PROPERTY_NAME_MAX_LENGTH", 64),
				PropertyValueMaxLength: getEnvAsInt("WOT_PROPERTY_VALUE_MAX_LENGTH", 256),
				MaxTrustListEntries:    getEnvAsInt("WOT_MAX_TRUST_LIST_ENTRIES", 128),
				MaxIdentityFileBytes:   getEnvAsInt("WOT_MAX_IDENTITY_FILE_BYTES", 1<<20),
			},
			RankCacheTTL:      getEnvAsDuration("WOT_RANK_CACHE_TTL", 10*time.Second),
			KeyVaultMasterKey: getEnvRequired("KEYVAULT_MASTER_KEY"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if path := os.Getenv("WOT_CONFIG_FILE"); path != "" {
		if err := applyYAMLOverlay(cfg, path); err != nil {
			return nil, fmt.Errorf("apply config overlay %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyYAMLOverlay(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, cfg)
}

// ToDomain converts the external configuration layer's LimitsConfig into
// the domain.Limits the engine and identity constructors consume.
func (l LimitsConfig) ToDomain() domain.Limits {
	return domain.Limits{
		NicknameMaxLength:      l.NicknameMaxLength,
		CommentMaxLength:       l.CommentMaxLength,
		ContextMaxLength:       l.ContextMaxLength,
		PropertyNameMaxLength:  l.PropertyNameMaxLength,
		PropertyValueMaxLength: l.PropertyValueMaxLength,
		MaxTrustListEntries:    l.MaxTrustListEntries,
		MaxIdentityFileBytes:   l.MaxIdentityFileBytes,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Store.Backend != "postgres" && c.Store.Backend != "neo4j" {
		return fmt.Errorf("STORE_BACKEND must be postgres or neo4j, got %q", c.Store.Backend)
	}
	if len(c.Engine.KeyVaultMasterKey) == 0 {
		return fmt.Errorf("KEYVAULT_MASTER_KEY is required")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvRequired gets environment variable and panics if not set, matching
// the teacher's fail-fast startup style.
func getEnvRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return value
}
