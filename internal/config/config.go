// Package config loads deltapatch settings from deltapatch.yaml and
// DELTAPATCH_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/deltapatch/internal/orm/transaction"
)

// EnvPrefix is the prefix of environment overrides, e.g. DELTAPATCH_STORE_DRIVER
const EnvPrefix = "DELTAPATCH"

// Config represents the deltapatch configuration
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Schema  SchemaConfig  `mapstructure:"schema"`
	Keys    KeysConfig    `mapstructure:"keys"`
	Patch   PatchConfig   `mapstructure:"patch"`
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StoreConfig selects the storage backend
type StoreConfig struct {
	Driver    string   `mapstructure:"driver"` // memory, sqlite, postgres, pgx, pq or redis
	DSN       string   `mapstructure:"dsn"`
	Isolation string   `mapstructure:"isolation"`
	Models    []string `mapstructure:"models"` // empty serves every registered model
}

// RedisConfig represents Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SchemaConfig points at the model definitions
type SchemaConfig struct {
	File string `mapstructure:"file"`
}

// KeysConfig selects the key generator
type KeysConfig struct {
	Generator string `mapstructure:"generator"`
}

// PatchConfig tunes patch behaviour
type PatchConfig struct {
	IgnoreFields map[string][]string `mapstructure:"ignore_fields"`
	// Audit logs every committed record from a background worker
	Audit bool `mapstructure:"audit"`
}

// LogConfig represents logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig represents HTTP server settings
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// MetricsConfig represents Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// IsolationLevel returns the parsed store isolation level
func (c *Config) IsolationLevel() transaction.IsolationLevel {
	level, _ := transaction.ParseIsolationLevel(c.Store.Isolation)
	return level
}

// Load loads the configuration. An explicit path must exist; otherwise
// deltapatch.yaml is looked up in the working directory and defaults are used
// when it is missing.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("deltapatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Enable environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.isolation", "default")
	v.SetDefault("store.models", []string{})
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "deltapatch:")
	v.SetDefault("schema.file", "")
	v.SetDefault("keys.generator", "uuid7")
	v.SetDefault("patch.audit", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_body_bytes", int64(4<<20))
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Store.Driver) {
	case "memory", "sqlite", "sqlite3", "postgres", "postgresql", "pgx", "pq", "redis":
	default:
		return fmt.Errorf("store.driver must be one of memory, sqlite, postgres, pgx, pq, redis, got: %s", cfg.Store.Driver)
	}

	switch strings.ToLower(cfg.Store.Driver) {
	case "memory", "redis":
	default:
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", cfg.Store.Driver)
		}
	}

	if _, err := transaction.ParseIsolationLevel(cfg.Store.Isolation); err != nil {
		return fmt.Errorf("store.isolation: %w", err)
	}

	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got: %s", cfg.Log.Format)
	}

	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got: %s", cfg.Metrics.Path)
	}

	return nil
}
