package cache

import (
	"context"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"simmgate-vectorcache/internal/docstore"
)

func TestExactCache_Scenario(t *testing.T) {
	_, backend := newExactBackend(t)
	c, err := NewExactCache(backend, ExactOptions{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewExactCache: %v", err)
	}
	ctx := context.Background()

	if _, ok := c.Lookup(ctx, promptFrance, signature); ok {
		t.Fatalf("expected miss on empty cache")
	}

	want := []Generation{{Text: "Paris"}}
	if err := c.Store(ctx, promptFrance, signature, want, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok := c.Lookup(ctx, promptFrance, signature)
	if !ok || !reflect.DeepEqual(got, want) {
		t.Fatalf("expected hit %v, got %v (ok=%v)", want, got, ok)
	}

	if _, ok := c.Lookup(ctx, promptItaly, signature); ok {
		t.Fatalf("different prompt must miss")
	}
	if _, ok := c.Lookup(ctx, promptFrance, "gpt-x-temp1"); ok {
		t.Fatalf("different signature must miss")
	}
}

func TestExactCache_Idempotent(t *testing.T) {
	cluster, backend := newExactBackend(t)
	c, _ := NewExactCache(backend, ExactOptions{}, nil)
	ctx := context.Background()

	gens := []Generation{{Text: "Paris", Extra: map[string]any{"finish_reason": "stop"}}}
	for i := 0; i < 2; i++ {
		if err := c.Store(ctx, promptFrance, signature, gens, 0); err != nil {
			t.Fatalf("Store #%d: %v", i, err)
		}
	}
	if n := cluster.Len(exactNS); n != 1 {
		t.Fatalf("expected exactly one entry, got %d", n)
	}

	got, ok := c.Lookup(ctx, promptFrance, signature)
	if !ok || !reflect.DeepEqual(got, gens) {
		t.Fatalf("unexpected lookup %v (ok=%v)", got, ok)
	}

	// Last writer wins.
	if err := c.Store(ctx, promptFrance, signature, []Generation{{Text: "Paris, France"}}, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, _ = c.Lookup(ctx, promptFrance, signature)
	if got[0].Text != "Paris, France" {
		t.Fatalf("expected overwrite, got %v", got)
	}
}

func TestExactCache_StoreTTLExpires(t *testing.T) {
	_, backend := newExactBackend(t)
	c, _ := NewExactCache(backend, ExactOptions{}, nil)
	ctx := context.Background()

	if err := c.Store(ctx, promptFrance, signature, []Generation{{Text: "Paris"}}, 20*time.Millisecond); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, ok := c.Lookup(ctx, promptFrance, signature); !ok {
		t.Fatalf("expected hit before expiry")
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Lookup(ctx, promptFrance, signature); ok {
		t.Fatalf("expected miss after expiry")
	}
}

func TestExactCache_ExpiresAtRechecked(t *testing.T) {
	_, backend := newExactBackend(t)
	c, _ := NewExactCache(backend, ExactOptions{TTL: time.Hour}, nil)
	ctx := context.Background()

	if err := c.Store(ctx, promptFrance, signature, []Generation{{Text: "Paris"}}, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// The store still holds the document; the read path must not trust that.
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, ok := c.Lookup(ctx, promptFrance, signature); ok {
		t.Fatalf("expected miss once expires_at has passed")
	}
}

func TestExactCache_CorruptEntryIsMiss(t *testing.T) {
	_, backend := newExactBackend(t)
	c, _ := NewExactCache(backend, ExactOptions{}, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := backend.Upsert(ctx, []docstore.Document{{
		ID:       Fingerprint(promptFrance, signature),
		Text:     promptFrance,
		Metadata: map[string]any{fieldSignature: signature, fieldReturnVal: "{not json"},
	}}, docstore.WriteOptions{})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, ok := c.Lookup(ctx, promptFrance, signature); ok {
		t.Fatalf("corrupt entry must be a miss")
	}
}

func TestExactCache_StoreErrors(t *testing.T) {
	_, backend := newExactBackend(t)
	c, _ := NewExactCache(backend, ExactOptions{}, nil)

	if err := c.Store(context.Background(), "p", "s", nil, -time.Second); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
	if _, err := NewExactCache(backend, ExactOptions{TTL: -time.Second}, nil); err == nil {
		t.Fatalf("expected constructor error for negative ttl")
	}
	if _, err := NewExactCache(nil, ExactOptions{}, nil); err == nil {
		t.Fatalf("expected constructor error without backend")
	}
}

func TestExactCache_Clear(t *testing.T) {
	cluster, backend := newExactBackend(t)
	c, _ := NewExactCache(backend, ExactOptions{}, nil)
	ctx := context.Background()

	_ = c.Store(ctx, "a", signature, []Generation{{Text: "1"}}, 0)
	_ = c.Store(ctx, "b", signature, []Generation{{Text: "2"}}, 0)
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n := cluster.Len(exactNS); n != 0 {
		t.Fatalf("expected empty cache, got %d", n)
	}
	if _, ok := c.Lookup(ctx, "a", signature); ok {
		t.Fatalf("expected miss after clear")
	}
}
