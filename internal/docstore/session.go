package docstore

import (
	"context"
	"encoding/json"
	"time"
)

// Session is the already-authenticated handle to one namespace of the
// document store. Implementations: couchbase.Session and memstore.Store.
type Session interface {
	Namespace() Namespace
	// CheckNamespace returns an error wrapping ErrNamespaceNotFound when the
	// bucket, scope or collection is missing.
	CheckNamespace(ctx context.Context) error

	UpsertDocument(ctx context.Context, id string, doc map[string]any, ttl time.Duration) error
	// GetDocument returns ErrDocumentNotFound for a missing id.
	GetDocument(ctx context.Context, id string) (map[string]any, error)
	// RemoveDocument returns ErrDocumentNotFound for a missing id.
	RemoveDocument(ctx context.Context, id string) error

	// Query runs a query-language statement with named parameters
	// (referenced as $name) and returns every row.
	Query(ctx context.Context, statement string, params map[string]any) ([]map[string]any, error)

	SearchIndexExists(ctx context.Context, name string, scoped bool) (bool, error)
	Search(ctx context.Context, req SearchRequest) ([]SearchHit, error)
}

// SearchRequest is a vector query against a named search index.
type SearchRequest struct {
	Index       string
	Scoped      bool
	VectorField string
	Vector      []float32
	K           int
	Prefilter   *SearchClause
	// Fields are the stored fields to return; ["*"] returns all of them.
	Fields []string
}

// SearchHit is one row from the search service. Fields are flattened with
// dotted paths, e.g. "metadata.llm_string".
type SearchHit struct {
	ID     string
	Score  float64
	Fields map[string]any
}

// ClauseKind enumerates the search query forms a filter translates to.
type ClauseKind string

const (
	ClauseConjunction  ClauseKind = "conjunction"
	ClauseMatch        ClauseKind = "match"
	ClauseTerm         ClauseKind = "term"
	ClauseNumericRange ClauseKind = "numeric_range"
	ClauseBool         ClauseKind = "bool"
)

// SearchClause is a node of a search-service query tree.
type SearchClause struct {
	Kind     ClauseKind
	Field    string
	Text     string
	Min      *float64
	Max      *float64
	Bool     bool
	Children []SearchClause
}

// MarshalJSON renders the clause in the search service's JSON query syntax.
func (c SearchClause) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	switch c.Kind {
	case ClauseConjunction:
		out["conjuncts"] = c.Children
	case ClauseMatch:
		out["match"] = c.Text
		out["field"] = c.Field
	case ClauseTerm:
		out["term"] = c.Text
		out["field"] = c.Field
	case ClauseNumericRange:
		if c.Min != nil {
			out["min"] = *c.Min
			out["inclusive_min"] = true
		}
		if c.Max != nil {
			out["max"] = *c.Max
			out["inclusive_max"] = true
		}
		out["field"] = c.Field
	case ClauseBool:
		out["bool"] = c.Bool
		out["field"] = c.Field
	}
	return json.Marshal(out)
}
