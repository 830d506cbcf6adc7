package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/llm"
	"simmgate-vectorcache/internal/metrics"
)

// SemanticCache returns the generations of the most similar stored prompt
// under the same signature, when it is similar enough.
type SemanticCache struct {
	backend   docstore.Backend
	embedder  llm.Embedder
	threshold *float64
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

var _ LLMCache = (*SemanticCache)(nil)

// semanticCandidates is how many neighbours a lookup fetches, so an expired
// top match does not hide a live one just below it.
const semanticCandidates = 4

// SemanticOptions configure a SemanticCache.
type SemanticOptions struct {
	// ScoreThreshold is compared with the normalized similarity using
	// docstore.Accept. Nil accepts the best match whatever its score.
	ScoreThreshold *float64
	TTL            time.Duration
}

func NewSemanticCache(backend docstore.Backend, embedder llm.Embedder, opts SemanticOptions, logger *zap.Logger) (*SemanticCache, error) {
	if backend == nil || embedder == nil {
		return nil, fmt.Errorf("%w: semantic cache needs a backend and an embedder", docstore.ErrInvalidConfig)
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("%w: ttl must be positive, got %s", docstore.ErrInvalidConfig, opts.TTL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticCache{
		backend:   backend,
		embedder:  embedder,
		threshold: opts.ScoreThreshold,
		ttl:       opts.TTL,
		logger:    logger.Named("semantic_cache"),
		now:       time.Now,
	}, nil
}

func (c *SemanticCache) Lookup(ctx context.Context, prompt, signature string) ([]Generation, bool) {
	vec, err := c.embedder.EmbedQuery(ctx, prompt)
	if err != nil {
		c.miss(missEmbedError, zap.Error(err))
		return nil, false
	}

	results, err := c.backend.SimilaritySearch(ctx, docstore.SearchQuery{
		Vector: vec,
		K:      semanticCandidates,
		Filter: docstore.Filter{fieldSignature: signature},
	})
	if err != nil {
		c.miss(missStoreError, zap.Error(err))
		return nil, false
	}

	// The threshold applies to the best live row; expired or mismatched rows
	// are skipped.
	var (
		best   docstore.SearchResult
		found  bool
		reason = missNotFound
		now    = c.now()
	)
	for _, r := range results {
		meta := r.Document.Metadata
		if sig, _ := meta[fieldSignature].(string); sig != signature {
			reason = missSignature
			continue
		}
		if expired(meta, now) {
			reason = missExpired
			c.logger.Debug("skipping expired candidate", zap.String("id", r.Document.ID))
			continue
		}
		best, found = r, true
		break
	}
	if !found {
		c.miss(reason)
		return nil, false
	}
	if c.threshold != nil && !docstore.Accept(best.Score, *c.threshold) {
		c.miss(missBelowThreshold, zap.Float64("score", best.Score), zap.Float64("threshold", *c.threshold))
		return nil, false
	}
	meta := best.Document.Metadata

	raw, _ := meta[fieldReturnVal].(string)
	gens, legacy, err := decodeGenerations(raw)
	if err != nil {
		c.miss(missCorrupt, zap.String("id", best.Document.ID), zap.Error(err))
		return nil, false
	}
	if legacy {
		c.logger.Warn("legacy generation blob", zap.String("id", best.Document.ID))
	}

	c.logger.Debug("semantic cache hit", zap.String("id", best.Document.ID), zap.Float64("score", best.Score))
	return gens, true
}

func (c *SemanticCache) miss(reason string, fields ...zap.Field) {
	metrics.CacheMissesTotal.WithLabelValues("semantic", reason).Inc()
	level := c.logger.Debug
	if reason == missCorrupt || reason == missStoreError || reason == missEmbedError {
		level = c.logger.Warn
	}
	level("semantic cache miss", append(fields, zap.String("miss_reason", reason))...)
}

// Store always writes a new entry under a random id; near-duplicate prompts
// may coexist.
func (c *SemanticCache) Store(ctx context.Context, prompt, signature string, gens []Generation, ttl time.Duration) error {
	ttl, err := resolveTTL(ttl, c.ttl)
	if err != nil {
		return err
	}
	returnVal, err := EncodeGenerations(gens)
	if err != nil {
		return err
	}

	vec, err := c.embedder.EmbedQuery(ctx, prompt)
	if err != nil {
		return fmt.Errorf("semantic cache store: embed prompt: %w", err)
	}

	doc := docstore.Document{
		ID:        docstore.NewID(),
		Text:      prompt,
		Embedding: vec,
		Metadata:  entryMetadata(signature, returnVal, c.now(), ttl),
	}
	if _, err := c.backend.Upsert(ctx, []docstore.Document{doc}, docstore.WriteOptions{TTL: ttl}); err != nil {
		return fmt.Errorf("semantic cache store: %w", err)
	}
	return nil
}

func (c *SemanticCache) Clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		return fmt.Errorf("semantic cache clear: %w", err)
	}
	return nil
}
