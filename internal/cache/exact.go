package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/metrics"
)

// ExactCache keys entries by Fingerprint(prompt, signature). A second store
// of the same pair overwrites the first.
type ExactCache struct {
	backend docstore.Backend
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

var _ LLMCache = (*ExactCache)(nil)

// ExactOptions configure an ExactCache.
type ExactOptions struct {
	// TTL applied when Store is called with ttl 0. Zero means no expiry.
	TTL time.Duration
}

func NewExactCache(backend docstore.Backend, opts ExactOptions, logger *zap.Logger) (*ExactCache, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: exact cache needs a backend", docstore.ErrInvalidConfig)
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("%w: ttl must be positive, got %s", docstore.ErrInvalidConfig, opts.TTL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExactCache{
		backend: backend,
		ttl:     opts.TTL,
		logger:  logger.Named("exact_cache"),
		now:     time.Now,
	}, nil
}

// DefaultTTL is the expiry applied when Store is given ttl 0.
func (c *ExactCache) DefaultTTL() time.Duration { return c.ttl }

func (c *ExactCache) Lookup(ctx context.Context, prompt, signature string) ([]Generation, bool) {
	gens, _, ok := c.lookupEntry(ctx, prompt, signature)
	return gens, ok
}

// lookupEntry also returns how long the entry has left, or 0 when it does
// not expire.
func (c *ExactCache) lookupEntry(ctx context.Context, prompt, signature string) ([]Generation, time.Duration, bool) {
	id := Fingerprint(prompt, signature)

	docs, err := c.backend.Get(ctx, []string{id})
	if err != nil {
		c.miss(missStoreError, id, zap.Error(err))
		return nil, 0, false
	}
	doc := docs[id]
	if doc == nil {
		c.miss(missNotFound, id)
		return nil, 0, false
	}
	if sig, _ := doc.Metadata[fieldSignature].(string); sig != signature {
		c.miss(missSignature, id)
		return nil, 0, false
	}
	now := c.now()
	if expired(doc.Metadata, now) {
		c.miss(missExpired, id)
		return nil, 0, false
	}
	var remaining time.Duration
	if at, ok := expiresAt(doc.Metadata); ok {
		remaining = at.Sub(now)
	}

	raw, _ := doc.Metadata[fieldReturnVal].(string)
	gens, legacy, err := decodeGenerations(raw)
	if err != nil {
		c.miss(missCorrupt, id, zap.Error(err))
		return nil, 0, false
	}
	if legacy {
		c.logger.Warn("legacy generation blob", zap.String("fingerprint", id))
	}
	return gens, remaining, true
}

func (c *ExactCache) miss(reason, id string, fields ...zap.Field) {
	metrics.CacheMissesTotal.WithLabelValues("exact", reason).Inc()
	level := c.logger.Debug
	if reason == missCorrupt || reason == missStoreError {
		level = c.logger.Warn
	}
	level("exact cache miss", append(fields, zap.String("miss_reason", reason), zap.String("fingerprint", id))...)
}

func (c *ExactCache) Store(ctx context.Context, prompt, signature string, gens []Generation, ttl time.Duration) error {
	ttl, err := resolveTTL(ttl, c.ttl)
	if err != nil {
		return err
	}
	returnVal, err := EncodeGenerations(gens)
	if err != nil {
		return err
	}

	doc := docstore.Document{
		ID:       Fingerprint(prompt, signature),
		Text:     prompt,
		Metadata: entryMetadata(signature, returnVal, c.now(), ttl),
	}
	if _, err := c.backend.Upsert(ctx, []docstore.Document{doc}, docstore.WriteOptions{TTL: ttl}); err != nil {
		return fmt.Errorf("exact cache store: %w", err)
	}
	return nil
}

func (c *ExactCache) Clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		return fmt.Errorf("exact cache clear: %w", err)
	}
	return nil
}
