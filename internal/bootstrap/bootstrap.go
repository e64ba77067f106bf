// Package bootstrap assembles a store.Backend and repository.Repository
// from configuration, for an embedding application's own main to call.
// It is deliberately not a CLI or service wrapper: no flags, no
// lifecycle, just a config struct and a loader, mirroring how the
// teacher's internal/config.LoadConfig works (viper defaults, then env,
// then an optional file, then Unmarshal+Validate).
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/mounaiban/muteacle/internal/muteacle/logging"
	"github.com/mounaiban/muteacle/internal/muteacle/repoconfig"
	"github.com/mounaiban/muteacle/internal/muteacle/repository"
	"github.com/mounaiban/muteacle/internal/muteacle/store"
	"github.com/mounaiban/muteacle/internal/muteacle/store/memory"
	"github.com/mounaiban/muteacle/internal/muteacle/store/postgres"
	"github.com/mounaiban/muteacle/internal/muteacle/store/redisstore"
	"github.com/mounaiban/muteacle/internal/muteacle/store/sqlite"
)

// Backend names accepted by Config.Backend.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config is Muteacle's ambient bootstrap configuration surface.
type Config struct {
	Backend string `mapstructure:"backend"`

	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`

	Postgres struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"postgres"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Repository struct {
		ResolutionSeconds int `mapstructure:"resolution_seconds"`
		SaltLength        int `mapstructure:"salt_length"`
	} `mapstructure:"repository"`

	Log struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendSQLite)
	v.SetDefault("sqlite.path", "/data/muteacle.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("repository.resolution_seconds", 300)
	v.SetDefault("repository.salt_length", 32)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// LoadConfig reads defaults, then environment variables (MUTEACLE_ prefix,
// "." replaced with "_"), then an optional YAML file at configPath, and
// unmarshals the result into a Config.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("muteacle")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("bootstrap: read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendSQLite, BackendPostgres, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("bootstrap: unknown backend %q", c.Backend)
	}
	if c.Backend == BackendPostgres && c.Postgres.URL == "" {
		return fmt.Errorf("bootstrap: postgres.url is required for backend %q", BackendPostgres)
	}
	return nil
}

// Logger builds the logger described by cfg.Log.
func (c *Config) Logger() *slog.Logger {
	return logging.New(logging.Config{Level: c.Log.Level, File: c.Log.File})
}

// Open builds the store.Backend named by cfg.Backend and wraps it in a
// Repository, applying cfg.Repository's resolution and salt length if
// the repository has never been configured before.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*repository.Repository, error) {
	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	initial := repoconfig.New()
	initial.Set(map[string]any{
		"resolution":  cfg.Repository.ResolutionSeconds,
		"salt_length": cfg.Repository.SaltLength,
	})

	repo, err := repository.Open(ctx, backend, logger, initial)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return repo, nil
}

func openBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case BackendSQLite:
		return sqlite.Open(ctx, cfg.SQLite.Path, logger)
	case BackendPostgres:
		return postgres.Open(ctx, postgres.Config{DSN: cfg.Postgres.URL}, logger)
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return redisstore.New(client, logger), nil
	case BackendMemory:
		return memory.New(logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown backend %q", cfg.Backend)
	}
}
