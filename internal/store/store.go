// Package store persists exchange records and implements the conditional
// writes the validation saga relies on: slot writes that fire at most once
// and a compare-and-swap state transition with a single winner.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bookswap/exchange-validation-go/internal/models"
)

// ErrNotFound is returned when no exchange exists for the supplied id.
var ErrNotFound = errors.New("exchange not found")

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id TEXT PRIMARY KEY,
	book_id TEXT NOT NULL,
	borrower_id TEXT NOT NULL,
	lender_id TEXT NOT NULL,
	validation_status_user TEXT NOT NULL DEFAULT 'pending',
	validation_status_book TEXT NOT NULL DEFAULT 'pending',
	state TEXT NOT NULL DEFAULT 'pending-validation',
	requested_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// Store wraps the exchanges table. All writes that the saga performs are
// conditional on the row's current value so concurrent consumers cannot
// clobber each other.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option customises the store during construction.
type Option func(*Store)

// WithClock overrides the clock used for updated_at stamps (useful in tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (or creates) the exchange database at path. Use ":memory:" for
// tests.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create exchanges table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_exchanges_state ON exchanges(state)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create state index: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// DB exposes the underlying handle so collaborators sharing the platform
// database (e.g. the user directory lookup) can reuse the connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new exchange in pending-validation with both slots
// pending, the way the initiating service seeds the saga.
func (s *Store) Create(ctx context.Context, bookID, borrowerID, lenderID string) (models.Exchange, error) {
	now := s.now().UTC()
	ex := models.Exchange{
		ID:             uuid.NewString(),
		BookID:         bookID,
		BorrowerID:     borrowerID,
		LenderID:       lenderID,
		UserValidation: models.OutcomePending,
		BookValidation: models.OutcomePending,
		State:          models.StatePendingValidation,
		RequestedAt:    now,
		UpdatedAt:      now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, book_id, borrower_id, lender_id, validation_status_user, validation_status_book, state, requested_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.BookID, ex.BorrowerID, ex.LenderID,
		ex.UserValidation, ex.BookValidation, ex.State,
		formatTime(ex.RequestedAt), formatTime(ex.UpdatedAt),
	)
	if err != nil {
		return models.Exchange{}, fmt.Errorf("store: create exchange: %w", err)
	}
	return ex, nil
}

// Get reads the full exchange record, both validation slots included.
func (s *Store) Get(ctx context.Context, id string) (models.Exchange, error) {
	var (
		ex          models.Exchange
		requestedAt string
		updatedAt   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, borrower_id, lender_id, validation_status_user, validation_status_book, state, requested_at, updated_at
		FROM exchanges WHERE id = ?`, id,
	).Scan(&ex.ID, &ex.BookID, &ex.BorrowerID, &ex.LenderID,
		&ex.UserValidation, &ex.BookValidation, &ex.State, &requestedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Exchange{}, ErrNotFound
	}
	if err != nil {
		return models.Exchange{}, fmt.Errorf("store: get exchange: %w", err)
	}

	ex.RequestedAt = parseTime(requestedAt)
	ex.UpdatedAt = parseTime(updatedAt)
	return ex, nil
}

// SetValidation records the outcome of a single fact check. The write is
// conditioned on the slot still being pending: a redelivered request that
// already wrote its slot becomes a silent no-op instead of a second write.
func (s *Store) SetValidation(ctx context.Context, id string, fact models.FactType, outcome string) error {
	column, err := slotColumn(fact)
	if err != nil {
		return err
	}
	if outcome != models.OutcomeValid && outcome != models.OutcomeInvalid {
		return fmt.Errorf("store: invalid outcome %q", outcome)
	}

	query := fmt.Sprintf(
		"UPDATE exchanges SET %s = ?, updated_at = ? WHERE id = ? AND %s = 'pending'",
		column, column,
	)
	res, err := s.db.ExecContext(ctx, query, outcome, formatTime(s.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("store: set %s validation: %w", fact, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set %s validation: %w", fact, err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing updated: either the exchange is unknown or the slot was
	// already resolved by an earlier delivery.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM exchanges WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: set %s validation: %w", fact, err)
	}
	return nil
}

// Transition performs a compare-and-swap on the exchange state. It returns
// true when this caller won the transition, false when the row was not in the
// expected state (someone else already moved it), and an error only for I/O
// failures.
func (s *Store) Transition(ctx context.Context, id, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE exchanges SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to, formatTime(s.now().UTC()), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("store: transition exchange: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: transition exchange: %w", err)
	}
	return affected > 0, nil
}

// StuckPending lists exchanges that have sat in pending-validation longer
// than the supplied age. These feed the reconciliation sweep.
func (s *Store) StuckPending(ctx context.Context, olderThan time.Duration) ([]models.Exchange, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book_id, borrower_id, lender_id, validation_status_user, validation_status_book, state, requested_at, updated_at
		FROM exchanges
		WHERE state = 'pending-validation' AND requested_at < ?
		ORDER BY requested_at`,
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list stuck exchanges: %w", err)
	}
	defer rows.Close()

	var out []models.Exchange
	for rows.Next() {
		var (
			ex          models.Exchange
			requestedAt string
			updatedAt   string
		)
		if err := rows.Scan(&ex.ID, &ex.BookID, &ex.BorrowerID, &ex.LenderID,
			&ex.UserValidation, &ex.BookValidation, &ex.State, &requestedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan stuck exchange: %w", err)
		}
		ex.RequestedAt = parseTime(requestedAt)
		ex.UpdatedAt = parseTime(updatedAt)
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate stuck exchanges: %w", err)
	}
	return out, nil
}

func slotColumn(fact models.FactType) (string, error) {
	switch fact {
	case models.FactUser:
		return "validation_status_user", nil
	case models.FactBook:
		return "validation_status_book", nil
	default:
		return "", fmt.Errorf("store: unknown fact type %q", fact)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, value)
	return t
}
