// Package mocksource provides a deterministic Source for tests and local
// runs without a user directory or inventory service.
package mocksource

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/bookswap/exchange-validation-go/internal/source"
)

// Scenario enumerates the behaviours the mock source supports.
type Scenario string

const (
	ScenarioFound     Scenario = "found"
	ScenarioMissing   Scenario = "missing"
	ScenarioTransient Scenario = "transient"
	ScenarioTimeout   Scenario = "timeout"
)

// Option customises the mock source.
type Option func(*Mock)

// WithScenario sets the behaviour used when no per-subject override applies.
func WithScenario(s Scenario) Option {
	return func(m *Mock) {
		m.defaultScenario = s
	}
}

// WithSubject pins a scenario for one subject id.
func WithSubject(subjectID string, s Scenario) Option {
	return func(m *Mock) {
		m.overrides[subjectID] = s
	}
}

// WithLatency injects artificial latency before each answer.
func WithLatency(d time.Duration) Option {
	return func(m *Mock) {
		if d > 0 {
			m.latency = d
		}
	}
}

// Mock is a scenario-driven existence source.
type Mock struct {
	logger          zerolog.Logger
	defaultScenario Scenario
	overrides       map[string]Scenario
	latency         time.Duration
}

// New constructs a mock source. The default scenario is ScenarioFound.
func New(logger zerolog.Logger, opts ...Option) *Mock {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	m := &Mock{
		logger:          logger,
		defaultScenario: ScenarioFound,
		overrides:       map[string]Scenario{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Exists implements source.Source.
func (m *Mock) Exists(ctx context.Context, subjectID string) (bool, error) {
	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	scenario := m.defaultScenario
	if s, ok := m.overrides[subjectID]; ok {
		scenario = s
	}

	m.logger.Debug().Str("subject_id", subjectID).Str("scenario", string(scenario)).Msg("mock lookup")

	switch scenario {
	case ScenarioFound:
		return true, nil
	case ScenarioMissing:
		return false, source.ErrNotFound
	case ScenarioTransient:
		return false, errors.New("mocksource: simulated transient failure")
	case ScenarioTimeout:
		<-ctx.Done()
		return false, ctx.Err()
	default:
		return false, errors.New("mocksource: unknown scenario")
	}
}
