package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	storeRedis  = "redis"
	storeSQLite = "sqlite"
)

// Config is the process configuration, read from CALCULOGIC_* variables.
type Config struct {
	HTTPAddr      string        `env:"CALCULOGIC_HTTP_ADDR" envDefault:":9090"`
	Store         string        `env:"CALCULOGIC_STORE" envDefault:"redis"`
	RedisAddr     string        `env:"CALCULOGIC_REDIS_ADDR" envDefault:"localhost:6379"`
	SQLitePath    string        `env:"CALCULOGIC_SQLITE_PATH" envDefault:"calculogic.db"`
	SessionSecret string        `env:"CALCULOGIC_SESSION_SECRET"`
	NonceTTL      time.Duration `env:"CALCULOGIC_NONCE_TTL" envDefault:"12h"`
	LogLevel      string        `env:"CALCULOGIC_LOG_LEVEL" envDefault:"info"`
}

// loadConfig loads envFile into the environment, when it exists, and parses
// the result. Variables already set take precedence over the file.
func loadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case storeRedis, storeSQLite:
	default:
		return fmt.Errorf("CALCULOGIC_STORE must be %q or %q, got %q", storeRedis, storeSQLite, c.Store)
	}
	if c.NonceTTL <= 0 {
		return fmt.Errorf("CALCULOGIC_NONCE_TTL must be positive")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("CALCULOGIC_LOG_LEVEL: %w", err)
	}
	return nil
}

// requireSecret reports whether tokens can be signed and verified.
func (c Config) requireSecret() error {
	if strings.TrimSpace(c.SessionSecret) == "" {
		return fmt.Errorf("CALCULOGIC_SESSION_SECRET is required")
	}
	return nil
}

// newLogger builds the production JSON logger at level, or at debug level
// when verbose is set.
func newLogger(level string, verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
