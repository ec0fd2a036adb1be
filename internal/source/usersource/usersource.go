// Package usersource looks users up in the platform user directory.
package usersource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bookswap/exchange-validation-go/internal/source"
)

// Directory checks user existence against the users table of the shared
// platform database.
type Directory struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New constructs a Directory backed by the supplied database handle.
func New(db *sql.DB, logger zerolog.Logger) (*Directory, error) {
	if db == nil {
		return nil, errors.New("usersource: database handle is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Directory{db: db, logger: logger}, nil
}

// Exists implements source.Source.
func (d *Directory) Exists(ctx context.Context, subjectID string) (bool, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return false, source.ErrNotFound
	}

	var one int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, subjectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, source.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("usersource: query user %s: %w", subjectID, err)
	}

	d.logger.Debug().Str("user_id", subjectID).Msg("user found in directory")
	return true, nil
}
