// Package publisher provides typed publishers for the saga's event
// contracts, keyed by exchange id so all events for one exchange land on the
// same partition.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/bookswap/exchange-validation-go/internal/models"
)

var errProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// SyncProducer captures the subset of producer behaviour the publishers need.
type SyncProducer interface {
	PublishSync(topic string, key []byte, payload []byte) error
}

// ErrProducerNotInitialised exposes the sentinel error for callers and tests.
func ErrProducerNotInitialised() error {
	return errProducerNotInitialised
}

// ResultPublisher emits validation-result events for one fact type.
type ResultPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewResultPublisher constructs a ResultPublisher instance.
func NewResultPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *ResultPublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &ResultPublisher{
		producer: prod,
		topic:    topic,
		logger:   logger,
	}
}

// PublishResult writes the supplied validation result to Kafka synchronously.
func (p *ResultPublisher) PublishResult(_ context.Context, result models.ValidationResult) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialised
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal validation result: %w", err)
	}

	if err := p.producer.PublishSync(p.topic, []byte(result.ExchangeID), payload); err != nil {
		return fmt.Errorf("kafka publisher: publish validation result: %w", err)
	}
	return nil
}

// RequestPublisher emits validation-request events, the way the initiating
// service seeds the two fact checkers.
type RequestPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewRequestPublisher constructs a RequestPublisher instance.
func NewRequestPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *RequestPublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &RequestPublisher{
		producer: prod,
		topic:    topic,
		logger:   logger,
	}
}

// PublishRequest writes the supplied validation request to Kafka synchronously.
func (p *RequestPublisher) PublishRequest(_ context.Context, req models.ValidationRequest) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialised
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal validation request: %w", err)
	}

	if err := p.producer.PublishSync(p.topic, []byte(req.ExchangeID), payload); err != nil {
		return fmt.Errorf("kafka publisher: publish validation request: %w", err)
	}
	return nil
}
