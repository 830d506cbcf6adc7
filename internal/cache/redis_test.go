package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func newRedisTier(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisTier, *ExactCache) {
	t.Helper()
	return newRedisTierWithEntryTTL(t, ttl, 0)
}

// newRedisTierWithEntryTTL fronts an exact cache whose default entry TTL is entryTTL.
func newRedisTierWithEntryTTL(t *testing.T, ttl, entryTTL time.Duration) (*miniredis.Miniredis, *RedisTier, *ExactCache) {
	t.Helper()
	mr, client := setupMiniRedis(t)
	_, backend := newExactBackend(t)
	inner, err := NewExactCache(backend, ExactOptions{TTL: entryTTL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewExactCache: %v", err)
	}
	return mr, NewRedisTier(client, inner, RedisConfig{Prefix: "test", TTL: ttl}, zaptest.NewLogger(t)), inner
}

func TestRedisTier_WriteThrough(t *testing.T) {
	mr, tier, inner := newRedisTier(t, time.Minute)
	ctx := context.Background()

	if err := tier.Store(ctx, promptFrance, signature, []Generation{{Text: "Paris"}}, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	key := tier.key(promptFrance, signature)
	if !mr.Exists(key) {
		t.Fatalf("expected %s in redis", key)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("expected hot ttl of 1m, got %s", ttl)
	}

	// The hot tier answers even after the durable entry is gone.
	if err := inner.Clear(ctx); err != nil {
		t.Fatalf("Clear inner: %v", err)
	}
	gens, ok := tier.Lookup(ctx, promptFrance, signature)
	if !ok || gens[0].Text != "Paris" {
		t.Fatalf("expected redis hit, got %v (ok=%v)", gens, ok)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok := tier.Lookup(ctx, promptFrance, signature); ok {
		t.Fatalf("expected miss once both tiers are empty")
	}
}

func TestRedisTier_StoreTTLCapsHotTTL(t *testing.T) {
	mr, tier, _ := newRedisTier(t, time.Hour)
	if err := tier.Store(context.Background(), promptFrance, signature, []Generation{{Text: "Paris"}}, 10*time.Second); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if ttl := mr.TTL(tier.key(promptFrance, signature)); ttl != 10*time.Second {
		t.Fatalf("expected entry ttl to win, got %s", ttl)
	}
}

func TestRedisTier_StoreDefaultTTLCapsHotTTL(t *testing.T) {
	mr, tier, inner := newRedisTierWithEntryTTL(t, 5*time.Minute, time.Second)
	ctx := context.Background()

	if err := tier.Store(ctx, promptFrance, signature, []Generation{{Text: "Paris"}}, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	key := tier.key(promptFrance, signature)
	if ttl := mr.TTL(key); ttl != time.Second {
		t.Fatalf("expected hot ttl capped at the entry default of 1s, got %s", ttl)
	}

	later := time.Now().Add(2 * time.Second)
	inner.now = func() time.Time { return later }
	mr.FastForward(2 * time.Second)
	if gens, ok := tier.Lookup(ctx, promptFrance, signature); ok {
		t.Fatalf("expected miss once the entry expired, got %v", gens)
	}
	if mr.Exists(key) {
		t.Fatalf("expired entry must not be backfilled")
	}
}

func TestRedisTier_BackfillCapsHotTTL(t *testing.T) {
	mr, tier, inner := newRedisTier(t, 5*time.Minute)
	ctx := context.Background()

	frozen := time.Now()
	inner.now = func() time.Time { return frozen }
	if err := inner.Store(ctx, promptFrance, signature, []Generation{{Text: "Paris"}}, time.Minute); err != nil {
		t.Fatalf("Store: %v", err)
	}

	inner.now = func() time.Time { return frozen.Add(30 * time.Second) }
	if _, ok := tier.Lookup(ctx, promptFrance, signature); !ok {
		t.Fatalf("expected hit from inner cache")
	}
	if ttl := mr.TTL(tier.key(promptFrance, signature)); ttl != 30*time.Second {
		t.Fatalf("expected backfill ttl of the remaining 30s, got %s", ttl)
	}
}

func TestRedisTier_Backfill(t *testing.T) {
	mr, tier, inner := newRedisTier(t, time.Minute)
	ctx := context.Background()

	if err := inner.Store(ctx, promptFrance, signature, []Generation{{Text: "Paris"}}, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, ok := tier.Lookup(ctx, promptFrance, signature); !ok {
		t.Fatalf("expected hit from inner cache")
	}
	if !mr.Exists(tier.key(promptFrance, signature)) {
		t.Fatalf("expected lookup to backfill redis")
	}
}

func TestRedisTier_CorruptEntryFallsThrough(t *testing.T) {
	mr, tier, _ := newRedisTier(t, time.Minute)
	key := tier.key(promptFrance, signature)
	_ = mr.Set(key, "{not json")

	if _, ok := tier.Lookup(context.Background(), promptFrance, signature); ok {
		t.Fatalf("corrupt entry must not be a hit")
	}
	if mr.Exists(key) {
		t.Fatalf("corrupt entry should be dropped")
	}
}

func TestRedisTier_RedisDown(t *testing.T) {
	mr, tier, _ := newRedisTier(t, time.Minute)
	ctx := context.Background()
	mr.Close()

	if err := tier.Store(ctx, promptFrance, signature, []Generation{{Text: "Paris"}}, 0); err != nil {
		t.Fatalf("Store must succeed when redis is down: %v", err)
	}
	gens, ok := tier.Lookup(ctx, promptFrance, signature)
	if !ok || gens[0].Text != "Paris" {
		t.Fatalf("expected fall-through hit, got %v (ok=%v)", gens, ok)
	}
	if err := tier.Ping(ctx); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestRedisTier_Clear(t *testing.T) {
	mr, tier, _ := newRedisTier(t, time.Minute)
	ctx := context.Background()

	_ = tier.Store(ctx, promptFrance, signature, []Generation{{Text: "Paris"}}, 0)
	_ = tier.Store(ctx, promptItaly, signature, []Generation{{Text: "Rome"}}, 0)
	_ = mr.Set("other:key", "keep")

	if err := tier.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n := len(mr.Keys()); n != 1 {
		t.Fatalf("expected only the foreign key to remain, got %v", mr.Keys())
	}
	if _, ok := tier.Lookup(ctx, promptFrance, signature); ok {
		t.Fatalf("expected miss after clear")
	}
}
