// Package source defines the existence lookup a fact checker performs
// against an authoritative data source.
package source

import (
	"context"
	"errors"
)

// ErrNotFound is the clean-miss sentinel: the source answered and the subject
// does not exist. Any other error from a Source is a transient lookup
// failure, which the checker treats as invalid (fail-closed) but logs
// separately.
var ErrNotFound = errors.New("subject not found")

// Source answers whether a single subject exists. Implementations must honor
// the context deadline; a timed-out lookup surfaces as a transient error.
type Source interface {
	Exists(ctx context.Context, subjectID string) (bool, error)
}
