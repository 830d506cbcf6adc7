package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"simmgate-vectorcache/internal/metrics"
)

// SearchIndexConfig configures the search-index variant.
type SearchIndexConfig struct {
	Config

	// IndexName is the vector-capable search index over the collection.
	IndexName string
	// ScopedIndex is set when the index is defined on the scope rather than
	// the cluster.
	ScopedIndex bool
}

// postFilterSlack is the number of extra candidates requested when rows may
// be dropped by the exact filter check.
const postFilterSlack = 10

// SearchIndexBackend ranks documents through a search-service vector index.
type SearchIndexBackend struct {
	*collection
	index  string
	scoped bool
}

var _ Backend = (*SearchIndexBackend)(nil)

// NewSearchIndexBackend verifies the namespace and the index before returning.
func NewSearchIndexBackend(ctx context.Context, session Session, cfg SearchIndexConfig, logger *zap.Logger) (*SearchIndexBackend, error) {
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("%w: search index name is required", ErrInvalidConfig)
	}

	c, err := newCollection(ctx, "search_index", session, cfg.Config, logger)
	if err != nil {
		return nil, err
	}

	checkCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	exists, err := session.SearchIndexExists(checkCtx, cfg.IndexName, cfg.ScopedIndex)
	if err != nil {
		return nil, fmt.Errorf("check search index %q: %w", cfg.IndexName, classify(checkCtx, err))
	}
	if !exists {
		return nil, fmt.Errorf("%w: search index %q", ErrIndexNotFound, cfg.IndexName)
	}

	c.logger.Debug("search index backend ready",
		zap.String("namespace", session.Namespace().String()),
		zap.String("index", cfg.IndexName),
		zap.Bool("scoped", cfg.ScopedIndex),
		zap.String("distance", string(c.cfg.Distance)),
	)

	return &SearchIndexBackend{collection: c, index: cfg.IndexName, scoped: cfg.ScopedIndex}, nil
}

func (b *SearchIndexBackend) Distance() DistanceStrategy { return b.cfg.Distance }

func (b *SearchIndexBackend) Upsert(ctx context.Context, docs []Document, opts WriteOptions) (*UpsertResult, error) {
	return b.upsert(ctx, docs, opts)
}

func (b *SearchIndexBackend) Get(ctx context.Context, ids []string) (map[string]*Document, error) {
	return b.get(ctx, ids)
}

func (b *SearchIndexBackend) Delete(ctx context.Context, ids []string) error {
	return b.delete(ctx, ids)
}

func (b *SearchIndexBackend) Clear(ctx context.Context) error {
	return b.clear(ctx)
}

// SimilaritySearch runs a k-nearest-neighbour vector query with the filter
// as a prefilter. Search-service match queries are analyzed, so every
// returned row is checked against the filter again before it is accepted.
func (b *SearchIndexBackend) SimilaritySearch(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if q.K <= 0 || len(q.Vector) == 0 {
		return nil, nil
	}

	distance := b.cfg.Distance
	if q.Distance != "" && q.Distance.SearchSimilarity() != distance.SearchSimilarity() {
		return nil, wrapError("search", fmt.Errorf("%w: index %q is built for %s, query asked for %s",
			ErrUnsupportedDistance, b.index, distance.SearchSimilarity(), q.Distance))
	}

	prefilter, err := q.Filter.searchClause(b.cfg.MetadataKey)
	if err != nil {
		return nil, wrapError("search", err)
	}

	start := time.Now()
	defer metrics.ObserveStore(b.name, "search", start)

	candidates := q.K
	if len(q.Filter) > 0 {
		candidates += postFilterSlack
	}

	sctx, cancel := b.withTimeout(ctx)
	defer cancel()

	hits, err := b.session.Search(sctx, SearchRequest{
		Index:       b.index,
		Scoped:      b.scoped,
		VectorField: b.cfg.EmbeddingKey,
		Vector:      q.Vector,
		K:           candidates,
		Prefilter:   prefilter,
		Fields:      b.requestFields(q),
	})
	if err != nil {
		return nil, wrapError("search", classify(sctx, err))
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		doc, ok := b.documentFromHit(hit)
		if !ok {
			b.logger.Debug("dropping search row without text", zap.String("id", hit.ID))
			continue
		}
		if len(q.Filter) > 0 && !q.Filter.Matches(doc.Metadata) {
			continue
		}
		results = append(results, SearchResult{
			Document: doc,
			Score:    distance.NormalizeSearchScore(hit.Score),
			RawScore: hit.Score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > q.K {
		results = results[:q.K]
	}
	return results, nil
}

func (b *SearchIndexBackend) requestFields(q SearchQuery) []string {
	if len(q.Fields) == 0 {
		return []string{"*"}
	}
	fields := append([]string{b.cfg.TextKey}, q.Fields...)
	for _, k := range q.Filter.sortedKeys() {
		fields = append(fields, b.cfg.MetadataKey+"."+k)
	}
	return fields
}

// documentFromHit rebuilds a document from flattened stored fields.
// "metadata.source" becomes Metadata["source"].
func (b *SearchIndexBackend) documentFromHit(hit SearchHit) (Document, bool) {
	text, ok := hit.Fields[b.cfg.TextKey].(string)
	if !ok {
		return Document{}, false
	}

	doc := Document{ID: hit.ID, Text: text, Metadata: map[string]any{}}
	prefix := b.cfg.MetadataKey + "."
	for field, v := range hit.Fields {
		switch {
		case field == b.cfg.TextKey:
		case field == b.cfg.EmbeddingKey:
			doc.Embedding = toFloat32s(v)
		case strings.HasPrefix(field, prefix):
			doc.Metadata[strings.TrimPrefix(field, prefix)] = v
		case field == b.cfg.MetadataKey:
			if m, ok := v.(map[string]any); ok {
				for k, mv := range m {
					doc.Metadata[k] = mv
				}
			}
		}
	}
	return doc, true
}
