package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"simmgate-vectorcache/internal/metrics"
)

// RedisConfig configures the hot tier.
type RedisConfig struct {
	Prefix string
	// TTL bounds how long an entry stays hot. Zero uses the TTL given to
	// Store, and skips caching when that is zero too.
	TTL time.Duration
}

// RedisTier is a write-through front for another LLMCache, keyed by
// fingerprint. Redis failures fall through to the inner cache.
type RedisTier struct {
	client *redis.Client
	next   LLMCache
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ LLMCache = (*RedisTier)(nil)

// expiringCache is an inner cache that reports entry lifetimes, so hot
// copies never outlive the durable entry.
type expiringCache interface {
	DefaultTTL() time.Duration
	lookupEntry(ctx context.Context, prompt, signature string) ([]Generation, time.Duration, bool)
}

var _ expiringCache = (*ExactCache)(nil)

// NewRedisTier puts client in front of next.
func NewRedisTier(client *redis.Client, next LLMCache, config RedisConfig, logger *zap.Logger) *RedisTier {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := config.Prefix
	if prefix == "" {
		prefix = "vectorcache"
	}
	return &RedisTier{
		client: client,
		next:   next,
		prefix: prefix,
		ttl:    config.TTL,
		logger: logger.Named("redis_tier"),
	}
}

// key builds the final Redis key: <prefix>:exact:<fingerprint>.
func (c *RedisTier) key(prompt, signature string) string {
	return c.prefix + ":exact:" + Fingerprint(prompt, signature)
}

func (c *RedisTier) Lookup(ctx context.Context, prompt, signature string) ([]Generation, bool) {
	key := c.key(prompt, signature)

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		gens, _, derr := decodeGenerations(raw)
		if derr == nil {
			metrics.CacheLookupsTotal.WithLabelValues("redis", "hit").Inc()
			return gens, true
		}
		c.logger.Warn("dropping corrupt redis entry", zap.String("key", key), zap.Error(derr))
		_ = c.client.Del(ctx, key).Err()
	case errors.Is(err, redis.Nil):
	default:
		// Caller sees the inner cache's answer.
		metrics.CacheLookupsTotal.WithLabelValues("redis", "error").Inc()
		c.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
	}
	metrics.CacheLookupsTotal.WithLabelValues("redis", "miss").Inc()

	var (
		gens      []Generation
		remaining time.Duration
		ok        bool
	)
	if inner, isExpiring := c.next.(expiringCache); isExpiring {
		gens, remaining, ok = inner.lookupEntry(ctx, prompt, signature)
	} else {
		gens, ok = c.next.Lookup(ctx, prompt, signature)
	}
	if !ok {
		return nil, false
	}
	if hot := c.hotTTL(remaining); hot > 0 && c.ttl > 0 {
		c.set(ctx, key, gens, hot)
	}
	return gens, true
}

func (c *RedisTier) Store(ctx context.Context, prompt, signature string, gens []Generation, ttl time.Duration) error {
	if err := c.next.Store(ctx, prompt, signature, gens, ttl); err != nil {
		return err
	}

	if ttl == 0 {
		if inner, ok := c.next.(expiringCache); ok {
			ttl = inner.DefaultTTL()
		}
	}
	if hot := c.hotTTL(ttl); hot > 0 {
		c.set(ctx, c.key(prompt, signature), gens, hot)
	}
	return nil
}

// hotTTL caps the configured hot TTL at the entry's own lifetime. A zero
// entry lifetime means the entry does not expire.
func (c *RedisTier) hotTTL(entry time.Duration) time.Duration {
	hot := c.ttl
	if hot <= 0 || (entry > 0 && entry < hot) {
		hot = entry
	}
	return hot
}

func (c *RedisTier) set(ctx context.Context, key string, gens []Generation, ttl time.Duration) {
	raw, err := EncodeGenerations(gens)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

// Clear clears the inner cache, then every key under the prefix.
func (c *RedisTier) Clear(ctx context.Context) error {
	if err := c.next.Clear(ctx); err != nil {
		return err
	}

	iter := c.client.Scan(ctx, 0, c.prefix+":exact:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Ping checks if Redis connection is healthy.
func (c *RedisTier) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return c.client.Ping(ctx).Err()
}
