// Package booksource looks books up in the inventory service over HTTP.
package booksource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/bookswap/exchange-validation-go/internal/source"
)

const defaultTimeout = 5 * time.Second

// Option customises the inventory client.
type Option func(*Inventory)

// WithTimeout bounds every lookup request. A timed-out lookup is reported as
// a transient error, never as not-found.
func WithTimeout(d time.Duration) Option {
	return func(i *Inventory) {
		if d > 0 {
			i.client.SetTimeout(d)
		}
	}
}

// Inventory checks book existence against the inventory service
// (GET {base}/books/{id}). A 404 answer is a clean miss; any other failure
// is transient.
type Inventory struct {
	client  *resty.Client
	baseURL string
	logger  zerolog.Logger
}

// New constructs an Inventory client for the given base URL.
func New(baseURL string, logger zerolog.Logger, opts ...Option) (*Inventory, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("booksource: base URL is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	inv := &Inventory{
		client:  resty.New().SetBaseURL(baseURL).SetTimeout(defaultTimeout),
		baseURL: baseURL,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	return inv, nil
}

// Exists implements source.Source.
func (i *Inventory) Exists(ctx context.Context, subjectID string) (bool, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return false, source.ErrNotFound
	}

	resp, err := i.client.R().
		SetContext(ctx).
		SetPathParam("id", subjectID).
		Get("/books/{id}")
	if err != nil {
		return false, fmt.Errorf("booksource: lookup book %s: %w", subjectID, err)
	}

	switch {
	case resp.IsSuccess():
		i.logger.Debug().Str("book_id", subjectID).Msg("book found in inventory")
		return true, nil
	case resp.StatusCode() == http.StatusNotFound:
		return false, source.ErrNotFound
	default:
		return false, fmt.Errorf("booksource: inventory returned status %d for book %s", resp.StatusCode(), subjectID)
	}
}
