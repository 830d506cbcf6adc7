package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"simmgate-vectorcache/internal/metrics"
)

// IndexType selects how a query-engine vector index orders filtering and ranking.
type IndexType string

const (
	// IndexComposite indexes scalar keys ahead of the vector key, so
	// predicates narrow the candidate set before ranking.
	IndexComposite IndexType = "composite"
	// IndexHyperscale ranks over the vector key and applies predicates
	// during the scan.
	IndexHyperscale IndexType = "hyperscale"
)

// ParseIndexType accepts "composite" and "hyperscale" (case-insensitive).
func ParseIndexType(s string) (IndexType, error) {
	switch IndexType(strings.ToLower(strings.TrimSpace(s))) {
	case "", IndexComposite:
		return IndexComposite, nil
	case IndexHyperscale:
		return IndexHyperscale, nil
	}
	return "", fmt.Errorf("%w: unknown index type %q", ErrInvalidConfig, s)
}

// QueryEngineConfig configures the query-engine variant.
type QueryEngineConfig struct {
	Config

	// IndexName is optional. Without one, searches compute exact distances
	// over the whole collection.
	IndexName string
	IndexType IndexType
}

// QueryEngineBackend ranks documents with vector-distance queries.
type QueryEngineBackend struct {
	*collection
	index     string
	indexType IndexType
}

var _ Backend = (*QueryEngineBackend)(nil)

const queryAlias = "d"

// NewQueryEngineBackend verifies the namespace and, when an index is named,
// that it exists and was built with the configured distance.
func NewQueryEngineBackend(ctx context.Context, session Session, cfg QueryEngineConfig, logger *zap.Logger) (*QueryEngineBackend, error) {
	indexType, err := ParseIndexType(string(cfg.IndexType))
	if err != nil {
		return nil, err
	}

	c, err := newCollection(ctx, "query_engine", session, cfg.Config, logger)
	if err != nil {
		return nil, err
	}

	b := &QueryEngineBackend{collection: c, index: cfg.IndexName, indexType: indexType}
	if cfg.IndexName != "" {
		if err := b.checkIndex(ctx); err != nil {
			return nil, err
		}
	}

	c.logger.Debug("query engine backend ready",
		zap.String("namespace", session.Namespace().String()),
		zap.String("index", cfg.IndexName),
		zap.String("index_type", string(indexType)),
		zap.String("distance", string(c.cfg.Distance)),
	)
	return b, nil
}

const indexLookupStatement = "SELECT i.name AS name, i.`with` AS `with` FROM system:indexes AS i " +
	"WHERE i.bucket_id = $bucket AND i.scope_id = $scope AND i.keyspace_id = $collection AND i.name = $name"

func (b *QueryEngineBackend) checkIndex(ctx context.Context) error {
	qctx, cancel := b.withTimeout(ctx)
	defer cancel()

	ns := b.session.Namespace()
	rows, err := b.session.Query(qctx, indexLookupStatement, map[string]any{
		"bucket":     ns.Bucket,
		"scope":      ns.Scope,
		"collection": ns.Collection,
		"name":       b.index,
	})
	if err != nil {
		return fmt.Errorf("check query index %q: %w", b.index, classify(qctx, err))
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: query index %q on %s", ErrIndexNotFound, b.index, ns)
	}

	with, _ := rows[0]["with"].(map[string]any)
	similarity, _ := with["similarity"].(string)
	if similarity != "" && !b.cfg.Distance.matchesIndexSimilarity(similarity) {
		return fmt.Errorf("%w: index %q uses %s, configured %s",
			ErrUnsupportedDistance, b.index, similarity, b.cfg.Distance.QueryFunction())
	}
	return nil
}

func (b *QueryEngineBackend) Distance() DistanceStrategy { return b.cfg.Distance }

func (b *QueryEngineBackend) Upsert(ctx context.Context, docs []Document, opts WriteOptions) (*UpsertResult, error) {
	return b.upsert(ctx, docs, opts)
}

func (b *QueryEngineBackend) Get(ctx context.Context, ids []string) (map[string]*Document, error) {
	return b.get(ctx, ids)
}

func (b *QueryEngineBackend) Delete(ctx context.Context, ids []string) error {
	return b.delete(ctx, ids)
}

func (b *QueryEngineBackend) Clear(ctx context.Context) error {
	return b.clear(ctx)
}

// SimilaritySearch returns the k closest documents, best first.
func (b *QueryEngineBackend) SimilaritySearch(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if q.K <= 0 || len(q.Vector) == 0 {
		return nil, nil
	}

	distance := b.cfg.Distance
	if q.Distance != "" {
		if !q.Distance.Valid() {
			return nil, wrapError("search", fmt.Errorf("%w: %q", ErrUnsupportedDistance, q.Distance))
		}
		if b.index != "" && q.Distance != distance {
			return nil, wrapError("search", fmt.Errorf("%w: index %q is built for %s, query asked for %s",
				ErrUnsupportedDistance, b.index, distance.QueryFunction(), q.Distance.QueryFunction()))
		}
		distance = q.Distance
	}

	statement, params, err := b.buildStatement(q, distance)
	if err != nil {
		return nil, wrapError("search", err)
	}

	start := time.Now()
	defer metrics.ObserveStore(b.name, "search", start)

	qctx, cancel := b.withTimeout(ctx)
	defer cancel()

	rows, err := b.session.Query(qctx, statement, params)
	if err != nil {
		return nil, wrapError("search", classify(qctx, err))
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		text, ok := row[b.cfg.TextKey].(string)
		if id == "" || !ok {
			b.logger.Debug("dropping query row without id or text", zap.String("id", id))
			continue
		}
		raw, ok := toFloat(row["distance"])
		if !ok {
			continue
		}

		doc := Document{ID: id, Text: text, Metadata: map[string]any{}}
		if meta, ok := row[b.cfg.MetadataKey].(map[string]any); ok {
			doc.Metadata = meta
		}
		doc.Embedding = toFloat32s(row[b.cfg.EmbeddingKey])

		results = append(results, SearchResult{
			Document: doc,
			Score:    distance.NormalizeDistance(raw),
			RawScore: raw,
		})
	}
	if len(results) > q.K {
		results = results[:q.K]
	}
	return results, nil
}

// buildStatement renders the ranking query. Identifiers are back-quoted and
// every caller-supplied value travels as a named parameter.
func (b *QueryEngineBackend) buildStatement(q SearchQuery, distance DistanceStrategy) (string, map[string]any, error) {
	preds, params, err := q.Filter.queryPredicates(queryAlias, b.cfg.MetadataKey)
	if err != nil {
		return "", nil, err
	}

	fn := "VECTOR_DISTANCE"
	if b.index != "" {
		fn = "APPROX_VECTOR_DISTANCE"
	}
	field := func(name string) string { return queryAlias + "." + QuoteIdent(name) }

	var sb strings.Builder
	sb.WriteString("SELECT META(" + queryAlias + ").id AS id, ")
	sb.WriteString(field(b.cfg.TextKey) + " AS " + QuoteIdent(b.cfg.TextKey) + ", ")
	sb.WriteString(field(b.cfg.MetadataKey) + " AS " + QuoteIdent(b.cfg.MetadataKey) + ", ")
	if wantsField(q.Fields, b.cfg.EmbeddingKey) {
		sb.WriteString(field(b.cfg.EmbeddingKey) + " AS " + QuoteIdent(b.cfg.EmbeddingKey) + ", ")
	}
	fmt.Fprintf(&sb, "%s(%s, $qvec, %q) AS `distance` ", fn, field(b.cfg.EmbeddingKey), distance.QueryFunction())
	sb.WriteString("FROM " + b.session.Namespace().Keyspace() + " AS " + queryAlias)
	if b.index != "" {
		sb.WriteString(" USE INDEX (" + QuoteIdent(b.index) + " USING GSI)")
	}

	guard := field(b.cfg.EmbeddingKey) + " IS NOT MISSING"
	var where []string
	if b.indexType == IndexComposite && b.index != "" {
		where = append(preds, guard)
	} else {
		where = append([]string{guard}, preds...)
	}
	sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	sb.WriteString(" ORDER BY `distance` LIMIT $k")

	params["qvec"] = q.Vector
	params["k"] = q.K
	return sb.String(), params, nil
}

func wantsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
