// Package config loads northwind.yml and NORTHWIND_* environment overrides.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/transaction"
)

// EnvPrefix prefixes environment overrides, e.g. NORTHWIND_SERVER_PORT
const EnvPrefix = "NORTHWIND"

// Config represents the gateway configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Schema      SchemaConfig      `mapstructure:"schema"`
	Transaction TransactionConfig `mapstructure:"transaction"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSOrigins lists browser origins allowed to call the API
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Address joins host and port
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig selects the store. Driver is memory, postgres, pgx or
// sqlite3.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// Migrate applies the generated DDL on startup
	Migrate bool `mapstructure:"migrate"`
}

// SchemaConfig points at the entity model definition
type SchemaConfig struct {
	File string `mapstructure:"file"`
}

// TransactionConfig bounds save transactions
type TransactionConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	Isolation  string        `mapstructure:"isolation"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// Manager converts the section to a transaction manager configuration
func (t TransactionConfig) Manager() (transaction.Config, error) {
	level, err := transaction.ParseIsolationLevel(t.Isolation)
	if err != nil {
		return transaction.Config{}, err
	}
	cfg := transaction.Config{Isolation: level, Timeout: t.Timeout}
	if t.MaxRetries > 0 {
		cfg.Retry = transaction.DefaultRetryConfig()
		cfg.Retry.MaxRetries = t.MaxRetries
	}
	return cfg, nil
}

// CacheConfig selects the query response cache
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig addresses the redis cache backend
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig configures zap
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Cache backends
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

var drivers = map[string]bool{"memory": true, "postgres": true, "pgx": true, "sqlite3": true}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.api_prefix", "/api")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.migrate", false)

	v.SetDefault("schema.file", "schema.yaml")

	v.SetDefault("transaction.timeout", "30s")
	v.SetDefault("transaction.isolation", "read_committed")
	v.SetDefault("transaction.max_retries", 3)

	v.SetDefault("cache.backend", CacheNone)
	v.SetDefault("cache.ttl", "1m")
	v.SetDefault("cache.prefix", "northwind:")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// New returns a viper instance with defaults and environment binding. When
// file is empty northwind.yml is looked up in the working directory.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("northwind")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. A missing default file is not an error; a
// missing explicit file is.
func Load(file string) (*Config, error) {
	return LoadFrom(New(file))
}

// LoadFrom reads and validates the configuration held by v
func LoadFrom(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check
func Validate(cfg *Config) error {
	if p := cfg.Server.APIPrefix; p != "" {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("server.api_prefix must start with '/', got: %s", p)
		}
		if p != "/" && strings.HasSuffix(p, "/") {
			return fmt.Errorf("server.api_prefix must not end with '/', got: %s", p)
		}
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}

	if !drivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be one of memory, postgres, pgx, sqlite3, got: %s", cfg.Database.Driver)
	}
	if cfg.Database.Driver != "memory" && cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required for driver %s", cfg.Database.Driver)
	}

	if cfg.Schema.File == "" {
		return fmt.Errorf("schema.file is required")
	}

	if _, err := transaction.ParseIsolationLevel(cfg.Transaction.Isolation); err != nil {
		return fmt.Errorf("transaction.isolation: %w", err)
	}
	if cfg.Transaction.Timeout < 0 {
		return fmt.Errorf("transaction.timeout must not be negative")
	}

	switch cfg.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of none, memory, redis, got: %s", cfg.Cache.Backend)
	}
	return nil
}
