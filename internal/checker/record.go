package checker

import (
	"context"
	"errors"
	"time"
)

// Record represents a Kafka message delivered to the checker. It is a
// minimal abstraction that keeps the engine decoupled from the concrete
// consumer implementation.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time

	commitFn func(ctx context.Context) error
}

// Clone returns a copy of the record so it can be handed to an asynchronous
// goroutine without data races. The commit binding is preserved.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Key = cloneBytes(r.Key)
	clone.Value = cloneBytes(r.Value)
	return &clone
}

// Commit acks the record's offset on the underlying transport.
func (r *Record) Commit(ctx context.Context) error {
	if r == nil || r.commitFn == nil {
		return errors.New("checker: record has no commit binding")
	}
	return r.commitFn(ctx)
}

func (r *Record) setCommitFn(fn func(ctx context.Context) error) {
	r.commitFn = fn
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	clone := make([]byte, len(b))
	copy(clone, b)
	return clone
}
