// Package checker implements the generic fact-checker engine. One engine
// instance serves one fact type: it consumes validation requests, performs a
// single bounded existence lookup, persists the outcome onto the exchange's
// validation slot and then publishes a validation-result event. The offset is
// only committed after the slot write and the publish both succeeded, so a
// crash in between leads to redelivery rather than a lost result.
package checker

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/bookswap/exchange-validation-go/internal/models"
	"github.com/bookswap/exchange-validation-go/internal/source"
	"github.com/bookswap/exchange-validation-go/internal/store"
)

const defaultLookupTimeout = 5 * time.Second

// Config contains the runtime settings for one fact checker.
type Config struct {
	Fact          models.FactType
	LookupTimeout time.Duration
	Concurrency   int
}

// Store is the slice of exchange-store behaviour the checker needs.
type Store interface {
	SetValidation(ctx context.Context, id string, fact models.FactType, outcome string) error
}

// ResultPublisher emits the validation result after the slot write is durable.
type ResultPublisher interface {
	PublishResult(ctx context.Context, result models.ValidationResult) error
}

// Committer acks processed records so the transport stops redelivering them.
type Committer interface {
	Commit(ctx context.Context, record *Record) error
}

// CommitFunc adapts a function to the Committer interface.
type CommitFunc func(ctx context.Context, record *Record) error

// Commit implements Committer.
func (f CommitFunc) Commit(ctx context.Context, record *Record) error {
	return f(ctx, record)
}

// Dependencies collects the runtime collaborators required by the engine.
type Dependencies struct {
	Source    source.Source
	Store     Store
	Results   ResultPublisher
	Committer Committer
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Engine orchestrates lookup, slot persistence, result publication and
// offset commits for one fact type.
type Engine struct {
	cfg       Config
	source    source.Source
	store     Store
	results   ResultPublisher
	committer Committer
	logger    zerolog.Logger

	semaphore *semaphore.Weighted

	now func() time.Time
}

// NewEngine constructs a checker engine using the supplied configuration and
// collaborators.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if !cfg.Fact.Valid() {
		return nil, errors.New("checker: a known fact type must be provided")
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("checker: concurrency must be >= 1")
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if deps.Source == nil {
		return nil, errors.New("checker: source dependency is required")
	}
	if deps.Store == nil {
		return nil, errors.New("checker: store dependency is required")
	}
	if deps.Results == nil {
		return nil, errors.New("checker: result publisher dependency is required")
	}
	if deps.Committer == nil {
		return nil, errors.New("checker: committer dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "checker_engine").Str("fact_type", string(cfg.Fact)).Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Engine{
		cfg:       cfg,
		source:    deps.Source,
		store:     deps.Store,
		results:   deps.Results,
		committer: deps.Committer,
		logger:    logger,
		semaphore: semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:       nowFunc,
	}, nil
}

// HandleRecord parses the inbound request and triggers asynchronous
// processing. Malformed requests are acked and dropped; they will never
// become processable and must not poison the partition.
func (e *Engine) HandleRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}

	req, err := models.ParseValidationRequest(record.Value)
	if err != nil {
		e.logger.Warn().
			Str("topic", record.Topic).
			Int64("offset", record.Offset).
			Err(err).
			Msg("checker: dropping malformed validation request")
		e.commitRecord(ctx, record)
		return
	}

	if err := e.semaphore.Acquire(ctx, 1); err != nil {
		e.logger.Error().
			Str("exchange_id", req.ExchangeID).
			Err(err).
			Msg("checker: failed to acquire concurrency semaphore")
		return
	}

	go e.processRequest(ctx, record.Clone(), req)
}

func (e *Engine) processRequest(ctx context.Context, record *Record, req *models.ValidationRequest) {
	defer e.semaphore.Release(1)

	if ctx.Err() != nil {
		e.logger.Warn().
			Str("exchange_id", req.ExchangeID).
			Msg("checker: context cancelled before processing began")
		return
	}

	outcome := e.lookup(ctx, req)

	if err := e.store.SetValidation(ctx, req.ExchangeID, e.cfg.Fact, outcome); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// No exchange to attach the outcome to; retrying cannot fix this.
			e.logger.Warn().
				Str("exchange_id", req.ExchangeID).
				Msg("checker: exchange unknown, dropping request")
			e.commitRecord(ctx, record)
			return
		}
		e.logger.Error().
			Str("exchange_id", req.ExchangeID).
			Err(err).
			Msg("checker: slot write failed, leaving record for redelivery")
		return
	}

	result := models.ValidationResult{
		ExchangeID: req.ExchangeID,
		FactType:   e.cfg.Fact,
		Outcome:    outcome,
		CheckedAt:  e.now().UTC(),
	}
	if err := e.results.PublishResult(ctx, result); err != nil {
		// The slot write is durable; redelivery re-runs as a no-op write
		// followed by a fresh publish attempt.
		e.logger.Error().
			Str("exchange_id", req.ExchangeID).
			Err(err).
			Msg("checker: result publish failed, leaving record for redelivery")
		return
	}

	e.logger.Info().
		Str("exchange_id", req.ExchangeID).
		Str("subject_id", req.SubjectID).
		Str("outcome", outcome).
		Msg("checker: validation recorded")

	e.commitRecord(ctx, record)
}

// lookup runs the bounded existence check and maps the answer onto a slot
// outcome. Uncertainty never yields valid: a timeout or transport failure is
// recorded as invalid (fail-closed) but logged apart from a clean not-found.
func (e *Engine) lookup(ctx context.Context, req *models.ValidationRequest) string {
	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
	defer cancel()

	exists, err := e.source.Exists(lookupCtx, req.SubjectID)
	switch {
	case err == nil && exists:
		return models.OutcomeValid
	case err == nil || errors.Is(err, source.ErrNotFound):
		e.logger.Info().
			Str("exchange_id", req.ExchangeID).
			Str("subject_id", req.SubjectID).
			Msg("checker: subject not found")
		return models.OutcomeInvalid
	default:
		e.logger.Warn().
			Str("exchange_id", req.ExchangeID).
			Str("subject_id", req.SubjectID).
			Err(err).
			Msg("checker: lookup failed, failing closed")
		return models.OutcomeInvalid
	}
}

func (e *Engine) commitRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}
	if err := e.committer.Commit(ctx, record); err != nil {
		e.logger.Error().
			Str("topic", record.Topic).
			Int32("partition", record.Partition).
			Int64("offset", record.Offset).
			Err(err).
			Msg("checker: failed to commit record offset")
	}
}
