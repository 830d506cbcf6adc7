package cache

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/llm"
)

const (
	TierExact    = "exact"
	TierSemantic = "semantic"
)

type Config struct {
	Tier           string
	TTL            time.Duration
	ScoreThreshold *float64
	// Redis, when set and a client is given, fronts the cache with a hot tier.
	Redis *RedisConfig
}

// New builds the cache for cfg.Tier, wrapped with logging and, optionally,
// a Redis hot tier. embedder is only required for the semantic tier.
func New(cfg Config, backend docstore.Backend, embedder llm.Embedder, redisClient *redis.Client, logger *zap.Logger) (LLMCache, error) {
	var (
		inner LLMCache
		err   error
	)
	switch cfg.Tier {
	case TierExact:
		inner, err = NewExactCache(backend, ExactOptions{TTL: cfg.TTL}, logger)
	case TierSemantic:
		inner, err = NewSemanticCache(backend, embedder, SemanticOptions{
			ScoreThreshold: cfg.ScoreThreshold,
			TTL:            cfg.TTL,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown cache tier %q", docstore.ErrInvalidConfig, cfg.Tier)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Redis != nil && redisClient != nil {
		inner = NewRedisTier(redisClient, inner, *cfg.Redis, logger)
	}
	return NewLoggingCache(inner, cfg.Tier), nil
}
