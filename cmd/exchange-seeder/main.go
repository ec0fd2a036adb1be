// Command exchange-seeder is a development harness that plays the role of
// the initiating service: it creates a pending-validation exchange and emits
// the two validation requests that seed the fact checkers.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog"

	"github.com/bookswap/exchange-validation-go/internal/config"
	"github.com/bookswap/exchange-validation-go/internal/kafka/producer"
	kafkapublisher "github.com/bookswap/exchange-validation-go/internal/kafka/publisher"
	"github.com/bookswap/exchange-validation-go/internal/logger"
	"github.com/bookswap/exchange-validation-go/internal/models"
	"github.com/bookswap/exchange-validation-go/internal/store"
)

func main() {
	bookID := flag.String("book", "", "book id to validate")
	borrowerID := flag.String("borrower", "", "borrower user id")
	lenderID := flag.String("lender", "", "lender user id")
	flag.Parse()

	failLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if *bookID == "" || *borrowerID == "" || *lenderID == "" {
		failLog.Fatal().Msg("-book, -borrower and -lender are required")
	}

	cfg, err := config.Load()
	if err != nil {
		failLog.Fatal().Err(err).Msg("config load failed")
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		failLog.Fatal().Err(err).Msg("logger init failed")
	}
	log := baseLogger.With().Str("service", "exchange-seeder").Logger()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open exchange store")
	}
	defer st.Close()

	prod, err := producer.New(cfg.Kafka.Brokers, log.With().Str("component", "kafka-producer").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer prod.Close()

	userRequests := kafkapublisher.NewRequestPublisher(prod, cfg.Topics.User.Request, log)
	bookRequests := kafkapublisher.NewRequestPublisher(prod, cfg.Topics.Book.Request, log)

	ctx := context.Background()

	ex, err := st.Create(ctx, *bookID, *borrowerID, *lenderID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create exchange")
	}

	// The original flow validates the borrower; the lender was created by
	// the exchange service itself and is trusted here.
	if err := userRequests.PublishRequest(ctx, models.ValidationRequest{
		ExchangeID: ex.ID,
		SubjectID:  ex.BorrowerID,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to publish user validation request")
	}
	if err := bookRequests.PublishRequest(ctx, models.ValidationRequest{
		ExchangeID: ex.ID,
		SubjectID:  ex.BookID,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to publish book validation request")
	}

	log.Info().
		Str("exchange_id", ex.ID).
		Str("book_id", ex.BookID).
		Str("borrower_id", ex.BorrowerID).
		Str("lender_id", ex.LenderID).
		Msg("exchange seeded, validation requests published")
}
