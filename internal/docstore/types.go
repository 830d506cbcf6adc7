package docstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Namespace identifies a bucket/scope/collection triple.
type Namespace struct {
	Bucket     string `yaml:"bucket"`
	Scope      string `yaml:"scope"`
	Collection string `yaml:"collection"`
}

// Validate checks that every part of the namespace is set.
func (n Namespace) Validate() error {
	if n.Bucket == "" || n.Scope == "" || n.Collection == "" {
		return fmt.Errorf("%w: bucket, scope and collection are required (got %q)", ErrInvalidConfig, n.String())
	}
	return nil
}

// Keyspace renders the fully qualified, back-quoted keyspace for query statements.
func (n Namespace) Keyspace() string {
	return QuoteIdent(n.Bucket) + "." + QuoteIdent(n.Scope) + "." + QuoteIdent(n.Collection)
}

func (n Namespace) String() string {
	return n.Bucket + "." + n.Scope + "." + n.Collection
}

// QuoteIdent back-quotes a query identifier, doubling embedded quotes.
func QuoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// Document is the unit stored and retrieved by every backend.
type Document struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SearchResult pairs a document with its similarity to the query.
// Score is normalized so that larger always means more similar;
// RawScore is what the store returned.
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
	RawScore float64  `json:"raw_score"`
}

// SearchQuery describes a top-k vector search.
type SearchQuery struct {
	Vector []float32
	K      int
	Filter Filter
	// Distance overrides the backend default when set.
	Distance DistanceStrategy
	// Fields restricts the stored fields returned by the search service.
	// Empty means all stored fields.
	Fields []string
}

// WriteOptions apply to every document of an Upsert call.
type WriteOptions struct {
	// TTL sets the store-side expiry. Zero means no expiry.
	TTL time.Duration
}

// UpsertResult attributes the outcome of a batched upsert per document.
type UpsertResult struct {
	Succeeded []string
	Failed    map[string]error
}

// Backend is the contract shared by the search-index and query-engine variants.
type Backend interface {
	// Upsert writes or overwrites documents in batches. A partial failure
	// returns ErrPartialWrite together with a result naming both sets.
	Upsert(ctx context.Context, docs []Document, opts WriteOptions) (*UpsertResult, error)
	// Get fetches documents by id. Missing ids map to nil.
	Get(ctx context.Context, ids []string) (map[string]*Document, error)
	// Delete removes documents. Missing ids are not an error.
	Delete(ctx context.Context, ids []string) error
	// SimilaritySearch returns at most K results ordered best-first.
	SimilaritySearch(ctx context.Context, q SearchQuery) ([]SearchResult, error)
	// Clear deletes every document in the collection.
	Clear(ctx context.Context) error
	// Distance is the strategy used when a query does not set one.
	Distance() DistanceStrategy
}
