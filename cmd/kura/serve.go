package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/52poke/kura/internal/config"
	"github.com/52poke/kura/internal/connection"
	"github.com/52poke/kura/internal/health"
	"github.com/52poke/kura/internal/host"
	"github.com/52poke/kura/internal/jobs"
	"github.com/52poke/kura/internal/lock"
	"github.com/52poke/kura/internal/store"
	"github.com/52poke/kura/internal/store/badgerstore"
	"github.com/52poke/kura/internal/store/s3store"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, h, cleanup, err := buildHost(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	return h.Run(ctx, cfg.ListenAddr)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	_, h, cleanup, err := buildHost(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := h.Start(ctx); err != nil {
		return err
	}
	results := h.Check(ctx)
	h.Stop(ctx)

	if err := printJSON(cmd, results); err != nil {
		return err
	}
	if health.Aggregate(results) == health.StatusCritical {
		return errors.New("health check critical")
	}
	return nil
}

// buildHost wires the backend, Redis and service definitions from the
// environment. cleanup releases what was opened.
func buildHost(ctx context.Context) (config.Config, *host.Host, func(), error) {
	noop := func() {}
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, noop, err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cfg, nil, noop, err
	}
	slog.SetDefault(logger)

	defs, err := config.LoadServices(cfg.ServicesFile)
	if err != nil {
		return cfg, nil, noop, err
	}

	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}

	deps := host.Deps{Logger: logger}
	backend, closer, tracker, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		return cfg, nil, noop, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	if tracker != nil {
		deps.Trackers = append(deps.Trackers, tracker)
	}
	deps.Backend = backend

	if cfg.RedisAddr != "" {
		redisClient := lock.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		closers = append(closers, redisClient)
		redisTracker := connection.NewTracker("redis")
		deps.Queue = jobs.NewRedisQueue(redisClient, cfg.RedisPrefix, redisTracker)
		deps.Locker = lock.NewLocker(redisClient, cfg.RedisPrefix, cfg.LockTTL, redisTracker)
		deps.Trackers = append(deps.Trackers, redisTracker)
	} else {
		logger.Info("no redis configured, cache creation jobs and cross-process purge locks are disabled")
	}

	h, err := host.New(cfg, defs, deps)
	if err != nil {
		cleanup()
		return cfg, nil, noop, err
	}
	return cfg, h, cleanup, nil
}

func buildBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Backend, io.Closer, *connection.Tracker, error) {
	switch cfg.Backend {
	case config.BackendS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		})
		tracker := connection.NewTracker("s3")
		return s3store.New(cfg.S3Bucket, cfg.S3Prefix, client, tracker), nil, tracker, nil
	case config.BackendBadger:
		tracker := connection.NewTracker("badger")
		b, err := badgerstore.Open(badgerstore.Config{Path: cfg.BadgerPath, Logger: logger, Tracker: tracker})
		if err != nil {
			return nil, nil, nil, err
		}
		return b, b, tracker, nil
	default:
		return store.NewMemoryBackend(), nil, nil, nil
	}
}
