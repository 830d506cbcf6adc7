package cache

import (
	"context"
	"time"

	"simmgate-vectorcache/internal/metrics"
	"simmgate-vectorcache/pkg/logging/logging"

	"go.uber.org/zap"
)

// LoggingCache wraps an LLMCache with logging + metrics.
type LoggingCache struct {
	inner LLMCache
	tier  string
}

// NewLoggingCache returns a cache that logs every call against tier.
func NewLoggingCache(inner LLMCache, tier string) LLMCache {
	return &LoggingCache{inner: inner, tier: tier}
}

func (c *LoggingCache) Lookup(ctx context.Context, prompt, signature string) ([]Generation, bool) {
	start := time.Now()
	gens, ok := c.inner.Lookup(ctx, prompt, signature)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(c.tier, result).Inc()

	logging.L(ctx).Info("cache_lookup",
		zap.String("cache_tier", c.tier),
		zap.String("cache_result", result), // hit | miss
		zap.String("fingerprint", Fingerprint(prompt, signature)),
		zap.String("llm_signature", signature),
		zap.Int("generations", len(gens)),
		zap.Float64("latency_ms", latencyMs),
	)

	return gens, ok
}

func (c *LoggingCache) Store(ctx context.Context, prompt, signature string, gens []Generation, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Store(ctx, prompt, signature, gens, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := []zap.Field{
		zap.String("cache_tier", c.tier),
		zap.String("fingerprint", Fingerprint(prompt, signature)),
		zap.String("llm_signature", signature),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		metrics.CacheStoresTotal.WithLabelValues(c.tier, "error").Inc()
		logger.Error("cache_store", append(fields, zap.Error(err))...)
	} else {
		metrics.CacheStoresTotal.WithLabelValues(c.tier, "ok").Inc()
		logger.Info("cache_store", fields...)
	}

	return err
}

func (c *LoggingCache) Clear(ctx context.Context) error {
	err := c.inner.Clear(ctx)
	if err != nil {
		logging.L(ctx).Error("cache_clear", zap.String("cache_tier", c.tier), zap.Error(err))
	} else {
		logging.L(ctx).Info("cache_clear", zap.String("cache_tier", c.tier))
	}
	return err
}
