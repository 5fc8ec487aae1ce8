package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendBadger = "badger"
)

type Config struct {
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":8080"`
	ServicesFile string `env:"SERVICES_FILE"`

	Backend      string   `env:"BACKEND" envDefault:"memory"`
	ServiceUsers []string `env:"SERVICE_USERS" envSeparator:","`

	BadgerPath string `env:"BADGER_PATH"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3Prefix    string `env:"S3_PREFIX" envDefault:"kura/"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisPrefix   string        `env:"REDIS_PREFIX" envDefault:"kura:"`
	LockTTL       time.Duration `env:"LOCK_TTL" envDefault:"45s"`

	NotifierBuffer int `env:"NOTIFIER_BUFFER" envDefault:"256"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads KURA_* environment variables.
func Load() (Config, error) {
	return load(env.Options{Prefix: "KURA_"})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if cfg.ServicesFile == "" {
		return cfg, errors.New("KURA_SERVICES_FILE is required")
	}
	switch cfg.Backend {
	case BackendMemory:
	case BackendBadger:
		if cfg.BadgerPath == "" {
			return cfg, errors.New("KURA_BADGER_PATH is required for the badger backend")
		}
	case BackendS3:
		if cfg.S3Endpoint == "" || cfg.S3Bucket == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			return cfg, errors.New("S3 endpoint/bucket/access/secret are required for the s3 backend")
		}
	default:
		return cfg, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return cfg, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	if cfg.LockTTL <= 0 {
		return cfg, errors.New("KURA_LOCK_TTL must be positive")
	}
	return cfg, nil
}
