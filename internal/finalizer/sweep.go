package finalizer

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/bookswap/exchange-validation-go/internal/models"
)

// SweepStore is the slice of exchange-store behaviour the sweep needs.
type SweepStore interface {
	StuckPending(ctx context.Context, olderThan time.Duration) ([]models.Exchange, error)
	Transition(ctx context.Context, id, from, to string) (bool, error)
}

// SweepConfig controls the reconciliation sweep.
type SweepConfig struct {
	Interval time.Duration
	Deadline time.Duration
}

// Sweeper force-rejects exchanges that never received both validation
// results. An exchange stuck in pending-validation past the deadline usually
// means a request or result event was lost entirely; rejecting it keeps the
// saga's latency bounded instead of leaving the record pending forever.
type Sweeper struct {
	cfg    SweepConfig
	store  SweepStore
	logger zerolog.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(cfg SweepConfig, st SweepStore, logger zerolog.Logger) (*Sweeper, error) {
	if st == nil {
		return nil, errors.New("finalizer: sweep store dependency is required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("finalizer: sweep interval must be positive")
	}
	if cfg.Deadline <= 0 {
		return nil, errors.New("finalizer: sweep deadline must be positive")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "sweeper").Logger()

	return &Sweeper{
		cfg:    cfg,
		store:  st,
		logger: logger,
	}, nil
}

// Run executes the sweep on the configured interval until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("deadline", s.cfg.Deadline).
		Msg("sweeper: reconciliation sweep started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper: reconciliation sweep stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sweeper: sweep pass failed")
			}
		}
	}
}

// SweepOnce performs a single reconciliation pass.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	stuck, err := s.store.StuckPending(ctx, s.cfg.Deadline)
	if err != nil {
		return err
	}

	for _, ex := range stuck {
		won, err := s.store.Transition(ctx, ex.ID, models.StatePendingValidation, models.StateRejected)
		if err != nil {
			return err
		}
		if !won {
			// Resolved between the scan and the transition; nothing to do.
			continue
		}
		// A stuck exchange points at an unacknowledged-message leak
		// upstream, so this is logged as an alarm, not routine flow.
		s.logger.Warn().
			Str("exchange_id", ex.ID).
			Str("validation_status_user", ex.UserValidation).
			Str("validation_status_book", ex.BookValidation).
			Time("requested_at", ex.RequestedAt).
			Msg("sweeper: exchange stuck past validation deadline, force-rejected")
	}
	return nil
}
