package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bookswap/exchange-validation-go/internal/config"
	"github.com/bookswap/exchange-validation-go/internal/finalizer"
	"github.com/bookswap/exchange-validation-go/internal/kafka/consumer"
	"github.com/bookswap/exchange-validation-go/internal/logger"
	"github.com/bookswap/exchange-validation-go/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "exchange-finalizer").Logger()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open exchange store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close exchange store")
		}
	}()

	cons, err := consumer.New(cfg.Kafka.Brokers, cfg.ConsumerGroups.Finalizer, log.With().Str("component", "kafka-consumer").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	fin, err := finalizer.New(st, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise finalizer")
	}

	sweeper, err := finalizer.NewSweeper(finalizer.SweepConfig{
		Interval: time.Duration(cfg.Sweep.IntervalSeconds) * time.Second,
		Deadline: time.Duration(cfg.Sweep.DeadlineSeconds) * time.Second,
	}, st, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise reconciliation sweeper")
	}
	go sweeper.Run(ctx)

	// Results for both fact types feed the same join.
	topics := []string{cfg.Topics.User.Result, cfg.Topics.Book.Result}
	handler := finalizer.KafkaHandler(fin, cons)

	errCh := make(chan error, 1)
	go func() {
		if err := cons.Consume(ctx, topics, handler); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Strs("result_topics", topics).Msg("exchange finalizer started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("consumer terminated with error")
		}
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("exchange finalizer init failed")
}
