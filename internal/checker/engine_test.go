package checker_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bookswap/exchange-validation-go/internal/checker"
	"github.com/bookswap/exchange-validation-go/internal/models"
	"github.com/bookswap/exchange-validation-go/internal/source"
	"github.com/bookswap/exchange-validation-go/internal/store"
)

type sourceStub struct {
	exists bool
	err    error
	block  bool
}

func (s *sourceStub) Exists(ctx context.Context, subjectID string) (bool, error) {
	if s.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return s.exists, s.err
}

type storeStub struct {
	mu     sync.Mutex
	err    error
	writes []slotWrite
}

type slotWrite struct {
	id      string
	fact    models.FactType
	outcome string
}

func (s *storeStub) SetValidation(ctx context.Context, id string, fact models.FactType, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, slotWrite{id: id, fact: fact, outcome: outcome})
	return nil
}

func (s *storeStub) slotWrites() []slotWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]slotWrite(nil), s.writes...)
}

type resultCollector struct {
	mu      sync.Mutex
	err     error
	results []models.ValidationResult
}

func (r *resultCollector) PublishResult(ctx context.Context, result models.ValidationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.results = append(r.results, result)
	return nil
}

func (r *resultCollector) published() []models.ValidationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ValidationResult(nil), r.results...)
}

type commitTracker struct {
	mu    sync.Mutex
	count int
	ch    chan struct{}
}

func newCommitTracker() *commitTracker {
	return &commitTracker{ch: make(chan struct{}, 1)}
}

func (c *commitTracker) Commit(ctx context.Context, record *checker.Record) error {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	select {
	case c.ch <- struct{}{}:
	default:
	}
	return nil
}

func (c *commitTracker) commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *commitTracker) waitForCommit(t *testing.T) {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected record to be committed")
	}
}

func newEngine(t *testing.T, src source.Source, st *storeStub, results *resultCollector, commits *commitTracker, timeout time.Duration) *checker.Engine {
	t.Helper()
	engine, err := checker.NewEngine(checker.Config{
		Fact:          models.FactUser,
		LookupTimeout: timeout,
		Concurrency:   1,
	}, checker.Dependencies{
		Source:    src,
		Store:     st,
		Results:   results,
		Committer: commits,
		Logger:    zerolog.New(io.Discard),
		Now:       func() time.Time { return time.Unix(0, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	return engine
}

func requestRecord(exchangeID, subjectID string) *checker.Record {
	return &checker.Record{
		Topic: "exchange.validate.user",
		Key:   []byte(exchangeID),
		Value: []byte(`{"exchange_id":"` + exchangeID + `","subject_id":"` + subjectID + `"}`),
	}
}

func TestEngineSubjectExists(t *testing.T) {
	st := &storeStub{}
	results := &resultCollector{}
	commits := newCommitTracker()
	engine := newEngine(t, &sourceStub{exists: true}, st, results, commits, time.Second)

	engine.HandleRecord(context.Background(), requestRecord("ex-1", "user-7"))
	commits.waitForCommit(t)

	writes := st.slotWrites()
	if len(writes) != 1 {
		t.Fatalf("expected exactly one slot write, got %d", len(writes))
	}
	if writes[0].id != "ex-1" || writes[0].fact != models.FactUser || writes[0].outcome != models.OutcomeValid {
		t.Fatalf("unexpected slot write: %+v", writes[0])
	}

	published := results.published()
	if len(published) != 1 {
		t.Fatalf("expected exactly one result event, got %d", len(published))
	}
	if published[0].ExchangeID != "ex-1" || published[0].Outcome != models.OutcomeValid {
		t.Fatalf("unexpected result: %+v", published[0])
	}
}

func TestEngineSubjectNotFound(t *testing.T) {
	st := &storeStub{}
	results := &resultCollector{}
	commits := newCommitTracker()
	engine := newEngine(t, &sourceStub{err: source.ErrNotFound}, st, results, commits, time.Second)

	engine.HandleRecord(context.Background(), requestRecord("ex-1", "user-404"))
	commits.waitForCommit(t)

	writes := st.slotWrites()
	if len(writes) != 1 || writes[0].outcome != models.OutcomeInvalid {
		t.Fatalf("expected one invalid slot write, got %+v", writes)
	}
	published := results.published()
	if len(published) != 1 || published[0].Outcome != models.OutcomeInvalid {
		t.Fatalf("expected one invalid result, got %+v", published)
	}
}

func TestEngineLookupErrorFailsClosed(t *testing.T) {
	st := &storeStub{}
	results := &resultCollector{}
	commits := newCommitTracker()
	engine := newEngine(t, &sourceStub{err: errors.New("inventory unreachable")}, st, results, commits, time.Second)

	engine.HandleRecord(context.Background(), requestRecord("ex-3", "book-9"))
	commits.waitForCommit(t)

	writes := st.slotWrites()
	if len(writes) != 1 || writes[0].outcome != models.OutcomeInvalid {
		t.Fatalf("expected lookup failure to record invalid, got %+v", writes)
	}
	published := results.published()
	if len(published) != 1 || published[0].Outcome != models.OutcomeInvalid {
		t.Fatalf("expected invalid result after lookup failure, got %+v", published)
	}
}

func TestEngineLookupTimeoutFailsClosed(t *testing.T) {
	st := &storeStub{}
	results := &resultCollector{}
	commits := newCommitTracker()
	engine := newEngine(t, &sourceStub{block: true}, st, results, commits, 20*time.Millisecond)

	engine.HandleRecord(context.Background(), requestRecord("ex-3", "book-9"))
	commits.waitForCommit(t)

	writes := st.slotWrites()
	if len(writes) != 1 || writes[0].outcome != models.OutcomeInvalid {
		t.Fatalf("expected timed out lookup to record invalid, got %+v", writes)
	}
}

func TestEngineMalformedRequestDropped(t *testing.T) {
	st := &storeStub{}
	results := &resultCollector{}
	commits := newCommitTracker()
	engine := newEngine(t, &sourceStub{exists: true}, st, results, commits, time.Second)

	engine.HandleRecord(context.Background(), &checker.Record{
		Topic: "exchange.validate.user",
		Value: []byte(`{"subject_id":"user-7"}`),
	})
	commits.waitForCommit(t)

	if len(st.slotWrites()) != 0 {
		t.Fatalf("malformed request must not mutate any slot")
	}
	if len(results.published()) != 0 {
		t.Fatalf("malformed request must not emit a result")
	}
}

func TestEngineSlotWriteFailureSkipsCommit(t *testing.T) {
	st := &storeStub{err: errors.New("database locked")}
	results := &resultCollector{}
	commits := newCommitTracker()
	engine := newEngine(t, &sourceStub{exists: true}, st, results, commits, time.Second)

	engine.HandleRecord(context.Background(), requestRecord("ex-1", "user-7"))
	time.Sleep(100 * time.Millisecond)

	if commits.commits() != 0 {
		t.Fatalf("slot write failure must leave the record uncommitted")
	}
	if len(results.published()) != 0 {
		t.Fatalf("no result may be emitted before the slot write is durable")
	}
}

func TestEngineUnknownExchangeDropped(t *testing.T) {
	st := &storeStub{err: store.ErrNotFound}
	results := &resultCollector{}
	commits := newCommitTracker()
	engine := newEngine(t, &sourceStub{exists: true}, st, results, commits, time.Second)

	engine.HandleRecord(context.Background(), requestRecord("ex-gone", "user-7"))
	commits.waitForCommit(t)

	if len(results.published()) != 0 {
		t.Fatalf("unknown exchange must not emit a result")
	}
}

func TestEnginePublishFailureSkipsCommit(t *testing.T) {
	st := &storeStub{}
	results := &resultCollector{err: errors.New("broker unavailable")}
	commits := newCommitTracker()
	engine := newEngine(t, &sourceStub{exists: true}, st, results, commits, time.Second)

	engine.HandleRecord(context.Background(), requestRecord("ex-1", "user-7"))
	time.Sleep(100 * time.Millisecond)

	if commits.commits() != 0 {
		t.Fatalf("publish failure must leave the record uncommitted")
	}
	if len(st.slotWrites()) != 1 {
		t.Fatalf("slot write should have happened before the publish attempt")
	}
}
