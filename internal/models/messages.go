package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedMessage flags payloads that cannot be processed and will never
// become processable: bad JSON or missing required fields. Consumers ack and
// drop such messages instead of retrying them.
var ErrMalformedMessage = errors.New("malformed message")

// ValidationRequest asks a fact checker to verify that a single subject
// (a user or a book) exists. ExchangeID is the correlation key tying the
// request back to the pending exchange.
type ValidationRequest struct {
	ExchangeID string `json:"exchange_id"`
	SubjectID  string `json:"subject_id"`
}

// ValidationResult reports the boolean outcome of one existence check.
// Produced exactly once per successfully processed request; the finalizer
// tolerates duplicates and either arrival order.
type ValidationResult struct {
	ExchangeID string    `json:"exchange_id"`
	FactType   FactType  `json:"fact_type"`
	Outcome    string    `json:"outcome"`
	CheckedAt  time.Time `json:"checked_at"`
}

// ParseValidationRequest decodes and validates a request payload.
func ParseValidationRequest(payload []byte) (*ValidationRequest, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}

	var req ValidationRequest
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrMalformedMessage, err)
	}

	req.ExchangeID = strings.TrimSpace(req.ExchangeID)
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	if req.ExchangeID == "" {
		return nil, fmt.Errorf("%w: exchange_id is required", ErrMalformedMessage)
	}
	if req.SubjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", ErrMalformedMessage)
	}

	return &req, nil
}

// ParseValidationResult decodes and validates a result payload.
func ParseValidationResult(payload []byte) (*ValidationResult, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}

	var res ValidationResult
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrMalformedMessage, err)
	}

	res.ExchangeID = strings.TrimSpace(res.ExchangeID)
	if res.ExchangeID == "" {
		return nil, fmt.Errorf("%w: exchange_id is required", ErrMalformedMessage)
	}
	if !res.FactType.Valid() {
		return nil, fmt.Errorf("%w: unknown fact_type %q", ErrMalformedMessage, res.FactType)
	}
	if res.Outcome != OutcomeValid && res.Outcome != OutcomeInvalid {
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrMalformedMessage, res.Outcome)
	}

	return &res, nil
}
