package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bookswap/exchange-validation-go/internal/checker"
	"github.com/bookswap/exchange-validation-go/internal/config"
	"github.com/bookswap/exchange-validation-go/internal/kafka/consumer"
	"github.com/bookswap/exchange-validation-go/internal/kafka/producer"
	kafkapublisher "github.com/bookswap/exchange-validation-go/internal/kafka/publisher"
	"github.com/bookswap/exchange-validation-go/internal/logger"
	"github.com/bookswap/exchange-validation-go/internal/models"
	"github.com/bookswap/exchange-validation-go/internal/source/booksource"
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
	log := baseLogger.With().Str("service", "book-validator").Logger()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open exchange store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close exchange store")
		}
	}()

	lookupTimeout := time.Duration(cfg.Checker.LookupTimeoutSeconds) * time.Second

	inventory, err := booksource.New(
		cfg.Inventory.BaseURL,
		log.With().Str("component", "inventory-client").Logger(),
		booksource.WithTimeout(lookupTimeout),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise inventory source")
	}

	prod, err := producer.New(cfg.Kafka.Brokers, log.With().Str("component", "kafka-producer").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	cons, err := consumer.New(cfg.Kafka.Brokers, cfg.ConsumerGroups.BookValidator, log.With().Str("component", "kafka-consumer").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	results := kafkapublisher.NewResultPublisher(prod, cfg.Topics.Book.Result, log.With().Str("component", "result-publisher").Logger())
	if results == nil {
		log.Fatal().Msg("failed to create result publisher")
	}

	engine, err := checker.NewEngine(checker.Config{
		Fact:          models.FactBook,
		LookupTimeout: lookupTimeout,
		Concurrency:   cfg.Checker.Concurrency,
	}, checker.Dependencies{
		Source:  inventory,
		Store:   st,
		Results: results,
		Committer: checker.CommitFunc(func(ctx context.Context, record *checker.Record) error {
			return record.Commit(ctx)
		}),
		Logger: log,
		Now:    time.Now,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise checker engine")
	}

	topics := []string{cfg.Topics.Book.Request}
	handler := checker.KafkaHandler(engine, cons)

	errCh := make(chan error, 1)
	go func() {
		if err := cons.Consume(ctx, topics, handler); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Str("request_topic", cfg.Topics.Book.Request).Msg("book validator started")

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
	logger.Fatal().Err(err).Str("stage", stage).Msg("book validator init failed")
}
