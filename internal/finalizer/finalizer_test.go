package finalizer_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bookswap/exchange-validation-go/internal/finalizer"
	"github.com/bookswap/exchange-validation-go/internal/models"
	"github.com/bookswap/exchange-validation-go/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newFinalizer(t *testing.T, st finalizer.Store) *finalizer.Finalizer {
	t.Helper()
	f, err := finalizer.New(st, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("failed to construct finalizer: %v", err)
	}
	return f
}

func resultPayload(t *testing.T, exchangeID string, fact models.FactType, outcome string) []byte {
	t.Helper()
	payload, err := json.Marshal(models.ValidationResult{
		ExchangeID: exchangeID,
		FactType:   fact,
		Outcome:    outcome,
		CheckedAt:  time.Unix(0, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}
	return payload
}

func seedExchange(t *testing.T, s *store.Store) models.Exchange {
	t.Helper()
	ex, err := s.Create(context.Background(), "book-1", "borrower-1", "lender-1")
	if err != nil {
		t.Fatalf("failed to seed exchange: %v", err)
	}
	return ex
}

func setSlot(t *testing.T, s *store.Store, id string, fact models.FactType, outcome string) {
	t.Helper()
	if err := s.SetValidation(context.Background(), id, fact, outcome); err != nil {
		t.Fatalf("failed to set %s slot: %v", fact, err)
	}
}

func TestBothValidInEitherOrder(t *testing.T) {
	orders := []struct {
		name  string
		facts []models.FactType
	}{
		{name: "user first", facts: []models.FactType{models.FactUser, models.FactBook}},
		{name: "book first", facts: []models.FactType{models.FactBook, models.FactUser}},
	}

	for _, order := range orders {
		t.Run(order.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t)
			f := newFinalizer(t, s)
			ex := seedExchange(t, s)

			for i, fact := range order.facts {
				setSlot(t, s, ex.ID, fact, models.OutcomeValid)
				decision := f.HandleResult(ctx, resultPayload(t, ex.ID, fact, models.OutcomeValid))
				if decision != finalizer.DecisionAck {
					t.Fatalf("result %d: expected ack, got %v", i, decision)
				}
			}

			got, err := s.Get(ctx, ex.ID)
			if err != nil {
				t.Fatalf("failed to read exchange: %v", err)
			}
			if got.State != models.StateRequested {
				t.Fatalf("expected state %q, got %q", models.StateRequested, got.State)
			}
		})
	}
}

func TestAnyInvalidRejectsInEitherOrder(t *testing.T) {
	orders := []struct {
		name  string
		first models.FactType
	}{
		{name: "user result first", first: models.FactUser},
		{name: "book result first", first: models.FactBook},
	}

	for _, order := range orders {
		t.Run(order.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t)
			f := newFinalizer(t, s)
			ex := seedExchange(t, s)

			// User exists, book does not.
			setSlot(t, s, ex.ID, models.FactUser, models.OutcomeValid)
			setSlot(t, s, ex.ID, models.FactBook, models.OutcomeInvalid)

			second := models.FactBook
			if order.first == models.FactBook {
				second = models.FactUser
			}
			outcomes := map[models.FactType]string{
				models.FactUser: models.OutcomeValid,
				models.FactBook: models.OutcomeInvalid,
			}

			f.HandleResult(ctx, resultPayload(t, ex.ID, order.first, outcomes[order.first]))
			f.HandleResult(ctx, resultPayload(t, ex.ID, second, outcomes[second]))

			got, err := s.Get(ctx, ex.ID)
			if err != nil {
				t.Fatalf("failed to read exchange: %v", err)
			}
			if got.State != models.StateRejected {
				t.Fatalf("expected state %q, got %q", models.StateRejected, got.State)
			}
		})
	}
}

func TestFirstResultAloneDoesNotResolve(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	f := newFinalizer(t, s)
	ex := seedExchange(t, s)

	setSlot(t, s, ex.ID, models.FactUser, models.OutcomeValid)

	decision := f.HandleResult(ctx, resultPayload(t, ex.ID, models.FactUser, models.OutcomeValid))
	if decision != finalizer.DecisionAck {
		t.Fatalf("expected ack while awaiting the sibling result, got %v", decision)
	}

	got, err := s.Get(ctx, ex.ID)
	if err != nil {
		t.Fatalf("failed to read exchange: %v", err)
	}
	if got.State != models.StatePendingValidation {
		t.Fatalf("exchange must stay pending until both slots resolve, got %q", got.State)
	}
}

func TestDuplicateResultAfterResolution(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	f := newFinalizer(t, s)
	ex := seedExchange(t, s)

	setSlot(t, s, ex.ID, models.FactUser, models.OutcomeValid)
	setSlot(t, s, ex.ID, models.FactBook, models.OutcomeInvalid)

	f.HandleResult(ctx, resultPayload(t, ex.ID, models.FactUser, models.OutcomeValid))
	f.HandleResult(ctx, resultPayload(t, ex.ID, models.FactBook, models.OutcomeInvalid))

	got, err := s.Get(ctx, ex.ID)
	if err != nil {
		t.Fatalf("failed to read exchange: %v", err)
	}
	if got.State != models.StateRejected {
		t.Fatalf("expected rejection, got %q", got.State)
	}
	updatedAt := got.UpdatedAt

	// Replay the user result after the exchange has already been rejected.
	decision := f.HandleResult(ctx, resultPayload(t, ex.ID, models.FactUser, models.OutcomeValid))
	if decision != finalizer.DecisionAck {
		t.Fatalf("duplicate delivery must be acked, got %v", decision)
	}

	got, err = s.Get(ctx, ex.ID)
	if err != nil {
		t.Fatalf("failed to read exchange: %v", err)
	}
	if got.State != models.StateRejected {
		t.Fatalf("duplicate delivery must not change state, got %q", got.State)
	}
	if !got.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("duplicate delivery must not touch the record")
	}
}

func TestUnknownExchangeDiscarded(t *testing.T) {
	s := openStore(t)
	f := newFinalizer(t, s)

	decision := f.HandleResult(context.Background(), resultPayload(t, "missing", models.FactUser, models.OutcomeValid))
	if decision != finalizer.DecisionAck {
		t.Fatalf("unknown exchange must be acked, got %v", decision)
	}
}

func TestMalformedResultDiscarded(t *testing.T) {
	s := openStore(t)
	f := newFinalizer(t, s)

	decision := f.HandleResult(context.Background(), []byte(`{"fact_type":"user"}`))
	if decision != finalizer.DecisionAck {
		t.Fatalf("malformed result must be acked, got %v", decision)
	}
}

type failingStore struct {
	getErr        error
	transitionErr error
	exchange      models.Exchange
}

func (s *failingStore) Get(ctx context.Context, id string) (models.Exchange, error) {
	if s.getErr != nil {
		return models.Exchange{}, s.getErr
	}
	return s.exchange, nil
}

func (s *failingStore) Transition(ctx context.Context, id, from, to string) (bool, error) {
	if s.transitionErr != nil {
		return false, s.transitionErr
	}
	return true, nil
}

func TestStoreReadFailureRequeues(t *testing.T) {
	f := newFinalizer(t, &failingStore{getErr: errors.New("database locked")})

	decision := f.HandleResult(context.Background(), resultPayload(t, "ex-1", models.FactUser, models.OutcomeValid))
	if decision != finalizer.DecisionRequeue {
		t.Fatalf("store read failure must requeue, got %v", decision)
	}
}

func TestTransitionFailureRequeues(t *testing.T) {
	f := newFinalizer(t, &failingStore{
		transitionErr: errors.New("database locked"),
		exchange: models.Exchange{
			ID:             "ex-1",
			UserValidation: models.OutcomeValid,
			BookValidation: models.OutcomeValid,
			State:          models.StatePendingValidation,
		},
	})

	decision := f.HandleResult(context.Background(), resultPayload(t, "ex-1", models.FactUser, models.OutcomeValid))
	if decision != finalizer.DecisionRequeue {
		t.Fatalf("transition failure must requeue, got %v", decision)
	}
}

func TestTransitionConflictAcked(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	f := newFinalizer(t, s)
	ex := seedExchange(t, s)

	setSlot(t, s, ex.ID, models.FactUser, models.OutcomeValid)
	setSlot(t, s, ex.ID, models.FactBook, models.OutcomeValid)

	// Another finalizer instance resolves the exchange between this
	// handler's read and its transition attempt.
	won, err := s.Transition(ctx, ex.ID, models.StatePendingValidation, models.StateRequested)
	if err != nil || !won {
		t.Fatalf("setup transition failed: won=%v err=%v", won, err)
	}

	decision := f.HandleResult(ctx, resultPayload(t, ex.ID, models.FactBook, models.OutcomeValid))
	if decision != finalizer.DecisionAck {
		t.Fatalf("losing the transition race must still ack, got %v", decision)
	}
}
