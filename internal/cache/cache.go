package cache

import (
	"context"
	"fmt"
	"time"
)

// LLMCache is what a model-calling component holds. Implemented by
// ExactCache, SemanticCache, RedisTier and LoggingCache.
type LLMCache interface {
	// Lookup never fails: any problem on the read path is a miss.
	Lookup(ctx context.Context, prompt, signature string) ([]Generation, bool)
	// Store writes generations. A zero ttl uses the cache's configured TTL.
	Store(ctx context.Context, prompt, signature string, gens []Generation, ttl time.Duration) error
	// Clear removes every entry the cache owns.
	Clear(ctx context.Context) error
}

// Document metadata fields shared by both caches.
const (
	fieldSignature = "llm_string"
	fieldReturnVal = "return_val"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

// Miss reasons, reported through logs and metrics only.
const (
	missNotFound       = "not_found"
	missExpired        = "expired"
	missBelowThreshold = "below_threshold"
	missCorrupt        = "corrupt"
	missStoreError     = "store_error"
	missEmbedError     = "embed_error"
	missSignature      = "signature_mismatch"
)

func resolveTTL(ttl, fallback time.Duration) (time.Duration, error) {
	if ttl < 0 {
		return 0, fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	if ttl == 0 {
		return fallback, nil
	}
	return ttl, nil
}

// entryMetadata builds the metadata stored alongside a cached prompt.
func entryMetadata(signature, returnVal string, now time.Time, ttl time.Duration) map[string]any {
	meta := map[string]any{
		fieldSignature: signature,
		fieldReturnVal: returnVal,
		fieldCreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if ttl > 0 {
		meta[fieldExpiresAt] = now.Add(ttl).UTC().Format(time.RFC3339Nano)
	}
	return meta
}

// expiresAt returns the entry's expiry. Entries without one never expire.
func expiresAt(meta map[string]any) (time.Time, bool) {
	raw, ok := meta[fieldExpiresAt].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// expired re-checks expires_at, since the store may not have removed the
// document yet.
func expired(meta map[string]any, now time.Time) bool {
	at, ok := expiresAt(meta)
	return ok && !now.Before(at)
}
