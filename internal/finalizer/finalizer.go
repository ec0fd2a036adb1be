// Package finalizer joins the two validation results of an exchange. It
// keeps no per-exchange session state: every inbound result re-derives the
// join condition from the exchange store, which makes the join independent
// of arrival order, safe under duplicate delivery and correct across
// restarts and multiple finalizer instances.
package finalizer

import (
	"context"
	"errors"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/bookswap/exchange-validation-go/internal/models"
	"github.com/bookswap/exchange-validation-go/internal/store"
)

// Decision is the handler's return contract for an inbound result event.
type Decision int

const (
	// DecisionAck marks the event as fully handled; the offset may be
	// committed. Discarded stale/duplicate events are acked too.
	DecisionAck Decision = iota
	// DecisionRequeue leaves the event uncommitted so the transport
	// redelivers it. Only store I/O failures take this path.
	DecisionRequeue
)

// Store is the slice of exchange-store behaviour the finalizer needs.
type Store interface {
	Get(ctx context.Context, id string) (models.Exchange, error)
	Transition(ctx context.Context, id, from, to string) (bool, error)
}

// Finalizer evaluates the join rule for each inbound validation result.
type Finalizer struct {
	store  Store
	logger zerolog.Logger
}

// New constructs a Finalizer.
func New(st Store, logger zerolog.Logger) (*Finalizer, error) {
	if st == nil {
		return nil, errors.New("finalizer: store dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "finalizer").Logger()
	return &Finalizer{store: st, logger: logger}, nil
}

// HandleResult processes one validation-result payload. The join rule is a
// strict AND: both slots valid moves the exchange to requested, any invalid
// slot rejects it. Events for exchanges that already left pending-validation
// and events arriving while the sibling slot is still pending are discarded
// without mutation.
func (f *Finalizer) HandleResult(ctx context.Context, payload []byte) Decision {
	result, err := models.ParseValidationResult(payload)
	if err != nil {
		f.logger.Warn().Err(err).Msg("finalizer: dropping malformed validation result")
		return DecisionAck
	}

	log := f.logger.With().
		Str("exchange_id", result.ExchangeID).
		Str("fact_type", string(result.FactType)).
		Logger()

	ex, err := f.store.Get(ctx, result.ExchangeID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Msg("finalizer: exchange unknown, dropping result")
		return DecisionAck
	}
	if err != nil {
		log.Error().Err(err).Msg("finalizer: exchange read failed, leaving result for redelivery")
		return DecisionRequeue
	}

	if ex.State != models.StatePendingValidation {
		log.Debug().Str("state", ex.State).Msg("finalizer: exchange already resolved, discarding result")
		return DecisionAck
	}

	if !ex.SlotsResolved() {
		log.Debug().
			Str("validation_status_user", ex.UserValidation).
			Str("validation_status_book", ex.BookValidation).
			Msg("finalizer: sibling validation still pending, awaiting second result")
		return DecisionAck
	}

	target := models.StateRejected
	if ex.SlotsValid() {
		target = models.StateRequested
	}

	won, err := f.store.Transition(ctx, ex.ID, models.StatePendingValidation, target)
	if err != nil {
		log.Error().Err(err).Msg("finalizer: state transition failed, leaving result for redelivery")
		return DecisionRequeue
	}
	if !won {
		// A concurrent delivery of the sibling result committed first.
		log.Debug().Str("state", target).Msg("finalizer: transition already performed elsewhere")
		return DecisionAck
	}

	log.Info().
		Str("validation_status_user", ex.UserValidation).
		Str("validation_status_book", ex.BookValidation).
		Str("state", target).
		Msg("finalizer: exchange validation resolved")
	return DecisionAck
}
