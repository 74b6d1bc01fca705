// Command shaker reads accelerometer samples ("unix_millis,x,y,z" per line)
// from stdin and publishes a check-in trigger to the Redis queue for every
// detected shake.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ontime/internal/config"
	"ontime/internal/logging"
	"ontime/internal/queue"
	"ontime/internal/shake"
	"ontime/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("shaker failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		return fmt.Errorf("redis at %s not reachable", cfg.RedisAddr)
	}
	q := queue.NewRedisQueue(rdb.Client, cfg.QueueKey)

	samples := make(chan shake.Sample, 64)
	readErr := make(chan error, 1)
	go func() { readErr <- shake.ReadCSV(ctx, os.Stdin, samples) }()

	detector := shake.NewDetector(cfg.ShakeThreshold, cfg.ShakeSampleGap)
	logger.Info("listening for shakes",
		zap.Float64("threshold", cfg.ShakeThreshold),
		zap.Duration("sample_gap", cfg.ShakeSampleGap))

	detector.Run(ctx, samples, func(s shake.Sample) {
		msg := queue.NewMessage(queue.TypeShake, cfg.MeetingID)
		if err := q.Publish(ctx, msg); err != nil {
			logger.Warn("trigger publish failed", zap.Error(err))
			return
		}
		logger.Info("shake detected", zap.String("trigger_id", msg.ID), zap.Time("at", s.At))
	})

	if ctx.Err() != nil {
		// the reader may still be blocked on stdin
		return nil
	}
	if err := <-readErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
