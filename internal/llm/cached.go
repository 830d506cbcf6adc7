package llm

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder memoizes query embeddings. Repeated lookups of the same
// prompt then cost one upstream call.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder keeps at most size query vectors.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (e *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return clone(v), nil
	}
	v, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, clone(v))
	return v, nil
}

// EmbedDocuments is not memoized; documents are usually embedded once.
func (e *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.inner.EmbedDocuments(ctx, texts)
}

// Len returns the number of memoized queries.
func (e *CachedEmbedder) Len() int { return e.cache.Len() }

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
