package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/christopherjohns/drawboard/internal/config"
	"github.com/christopherjohns/drawboard/internal/server"
	"github.com/christopherjohns/drawboard/internal/stroke"
)

func main() {
	// Bootstrap logger until the configured one exists.
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger = newLogger(cfg)

	var store stroke.Store = stroke.NewMemoryStore(cfg.MaxSegmentsPerRoom)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("addr", opts.Addr).Msg("redis connection failed")
		}
		logger.Info().Str("addr", opts.Addr).Msg("connected to Redis")
		store = stroke.NewRedisStore(rdb, cfg.MaxSegmentsPerRoom, cfg.RedisSegmentTTL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("port", cfg.Port).
		Str("env", cfg.Env).
		Bool("redis", cfg.RedisURL != "").
		Dur("room_evict_after", cfg.RoomEvictAfter).
		Msg("starting Drawboard server")

	srv := server.New(cfg, store, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(level)
}
