// Package config loads the comments service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	platformconfig "github.com/example/video-collab/internal/platform/config"
)

type BusKind string

const (
	BusLocal BusKind = "local"
	BusNATS  BusKind = "nats"
	BusRedis BusKind = "redis"
)

type Config struct {
	platformconfig.AppConfig

	DatabaseURL string
	AutoMigrate bool
	JWTSecret   string

	Bus         BusKind
	NATSURL     string
	NATSSubject string
	RedisURL    string
	RedisPrefix string

	// Writes per second per caller, and the bucket size.
	RateLimit float64
	RateBurst int

	ShutdownTimeout time.Duration
}

func Load() (Config, error) {
	app, err := platformconfig.Load()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		AppConfig:   app,
		DatabaseURL: env("DATABASE_URL"),
		JWTSecret:   env("JWT_SECRET"),
		Bus:         BusKind(strings.ToLower(env("EVENT_BUS"))),
		NATSURL:     env("NATS_URL"),
		NATSSubject: env("NATS_SUBJECT"),
		RedisURL:    env("REDIS_URL"),
		RedisPrefix: env("REDIS_PREFIX"),
	}

	if cfg.AutoMigrate, err = envBool("DB_AUTO_MIGRATE", false); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit, err = envFloat("RATE_LIMIT_RPS", 1); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = envInt("RATE_LIMIT_BURST", 10); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	switch cfg.Bus {
	case "":
		cfg.Bus = BusLocal
	case BusLocal, BusNATS:
	case BusRedis:
		if cfg.RedisURL == "" {
			return Config{}, errors.New("REDIS_URL is required when EVENT_BUS=redis")
		}
	default:
		return Config{}, fmt.Errorf("EVENT_BUS must be local, nats or redis, got %q", cfg.Bus)
	}
	if cfg.IsProduction() {
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required in production")
		}
		if cfg.Bus == BusLocal {
			return Config{}, errors.New("EVENT_BUS=local cannot fan out across instances in production")
		}
	}
	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envBool(key string, fallback bool) (bool, error) {
	v := env(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envInt(key string, fallback int) (int, error) {
	v := env(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := env(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%s must be a positive number, got %q", key, v)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := env(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
