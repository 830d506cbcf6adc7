package cache

import (
	"context"

	"go.uber.org/zap"

	"simmgate-vectorcache/pkg/logging/logging"
)

// CallFunc invokes the model on a cache miss.
type CallFunc func(ctx context.Context) ([]Generation, error)

// Generate returns cached generations on a hit. On a miss it invokes call and
// stores the result; a failed store is logged, not returned. hit reports
// which path was taken.
func Generate(ctx context.Context, c LLMCache, prompt, signature string, call CallFunc) (gens []Generation, hit bool, err error) {
	if gens, ok := c.Lookup(ctx, prompt, signature); ok {
		return gens, true, nil
	}

	gens, err = call(ctx)
	if err != nil {
		return nil, false, err
	}

	if err := c.Store(ctx, prompt, signature, gens, 0); err != nil {
		logging.L(ctx).Warn("cache store after miss failed", zap.Error(err))
	}
	return gens, false, nil
}
