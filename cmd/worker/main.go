// Package main runs the background poll-expiry sweeper.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gatherhub/backend/config"
	"github.com/gatherhub/backend/internal/events"
	"github.com/gatherhub/backend/internal/realtime"
	"github.com/gatherhub/backend/internal/voting"
	"github.com/gatherhub/backend/internal/worker"
	"github.com/gatherhub/backend/pkg/database"
	"github.com/gatherhub/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// The worker holds no websocket clients of its own; its hub exists only
	// to publish poll_ended through Redis to the server instances.
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, nil)
	notifier := realtime.NewNotifier(hub, realtime.NewRedisSequencer(rdb.Client, logger))

	store := voting.NewPostgresStore(pool)
	eventRepo := events.NewRepository(pool)
	lifecycle := voting.NewLifecycle(store, eventRepo, notifier, logger)

	interval := time.Duration(cfg.Worker.SweepIntervalSec) * time.Second
	sweeper := worker.NewSweeper(store, lifecycle, interval, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sweeper.Run(runCtx)
	logger.Info("expiry sweeper started", zap.Duration("interval", interval))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
