package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"simmgate-vectorcache/internal/docstore"
)

// flakyBackend fails the first `failures` calls with err.
type flakyBackend struct {
	docstore.Backend
	failures int
	err      error
	calls    int
	seenIDs  [][]string
}

func (f *flakyBackend) next() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyBackend) Get(context.Context, []string) (map[string]*docstore.Document, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return map[string]*docstore.Document{"a": {ID: "a"}}, nil
}

func (f *flakyBackend) Upsert(_ context.Context, docs []docstore.Document, _ docstore.WriteOptions) (*docstore.UpsertResult, error) {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	f.seenIDs = append(f.seenIDs, ids)
	if err := f.next(); err != nil {
		return nil, err
	}
	return &docstore.UpsertResult{Succeeded: ids}, nil
}

func (f *flakyBackend) Distance() docstore.DistanceStrategy { return docstore.Cosine }

func fastConfig() Config {
	return Config{
		Name:             "test",
		MaxRetries:       3,
		InitialInterval:  time.Millisecond,
		MaxInterval:      2 * time.Millisecond,
		FailureThreshold: 10,
	}
}

func TestRetriesTransientErrors(t *testing.T) {
	inner := &flakyBackend{failures: 2, err: docstore.ErrStoreUnavailable}
	b, err := NewBackend(inner, fastConfig(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	docs, err := b.Get(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if docs["a"] == nil || inner.calls != 3 {
		t.Fatalf("expected success on third attempt, got %v after %d calls", docs, inner.calls)
	}
}

func TestDoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyBackend{failures: 5, err: docstore.ErrInvalidFilter}
	b, _ := NewBackend(inner, fastConfig(), zaptest.NewLogger(t))

	if _, err := b.Get(context.Background(), []string{"a"}); !errors.Is(err, docstore.ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", inner.calls)
	}
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyBackend{failures: 100, err: docstore.ErrStoreUnavailable}
	b, _ := NewBackend(inner, fastConfig(), zaptest.NewLogger(t))

	if _, err := b.Get(context.Background(), nil); !docstore.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if inner.calls != 4 {
		t.Fatalf("expected 1 attempt + 3 retries, got %d", inner.calls)
	}
}

func TestCircuitOpens(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.FailureThreshold = 2
	cfg.OpenTimeout = time.Hour

	inner := &flakyBackend{failures: 100, err: docstore.ErrStoreUnavailable}
	b, _ := NewBackend(inner, cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	_, _ = b.Get(ctx, nil)
	_, _ = b.Get(ctx, nil)
	if b.State() != "open" {
		t.Fatalf("expected open circuit, got %s", b.State())
	}

	_, err := b.Get(ctx, nil)
	if !errors.Is(err, docstore.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from open circuit, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("open circuit must not reach the store, got %d calls", inner.calls)
	}
}

func TestPermanentErrorsDoNotTrip(t *testing.T) {
	cfg := fastConfig()
	cfg.FailureThreshold = 1
	inner := &flakyBackend{failures: 100, err: docstore.ErrIndexNotFound}
	b, _ := NewBackend(inner, cfg, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		_, _ = b.Get(context.Background(), nil)
	}
	if b.State() != "closed" {
		t.Fatalf("non-transient errors must not open the circuit, got %s", b.State())
	}
}

func TestUpsertRetryKeepsIDs(t *testing.T) {
	inner := &flakyBackend{failures: 1, err: docstore.ErrStoreUnavailable}
	b, _ := NewBackend(inner, fastConfig(), zaptest.NewLogger(t))

	res, err := b.Upsert(context.Background(), []docstore.Document{{Text: "x"}, {ID: "fixed", Text: "y"}}, docstore.WriteOptions{})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(inner.seenIDs) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(inner.seenIDs))
	}
	first, second := inner.seenIDs[0], inner.seenIDs[1]
	if first[0] == "" || first[0] != second[0] || second[1] != "fixed" {
		t.Fatalf("ids changed across retries: %v vs %v", first, second)
	}
	if len(res.Succeeded) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if b.Distance() != docstore.Cosine {
		t.Fatalf("distance not passed through")
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := NewBackend(&flakyBackend{}, Config{MaxRetries: -1}, nil); !errors.Is(err, docstore.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewBackend(nil, Config{}, nil); err == nil {
		t.Fatalf("expected error for nil backend")
	}
}
