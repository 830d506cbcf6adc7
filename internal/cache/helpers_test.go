package cache

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/docstore/memstore"
)

var (
	exactNS    = docstore.Namespace{Bucket: "llm", Scope: "cache", Collection: "exact"}
	semanticNS = docstore.Namespace{Bucket: "llm", Scope: "cache", Collection: "semantic"}
)

func newExactBackend(t *testing.T) (*memstore.Cluster, docstore.Backend) {
	t.Helper()
	cluster := memstore.NewCluster(0)
	t.Cleanup(func() { _ = cluster.Close() })
	cluster.CreateCollection(exactNS)

	b, err := docstore.NewQueryEngineBackend(context.Background(), cluster.Session(exactNS), docstore.QueryEngineConfig{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewQueryEngineBackend: %v", err)
	}
	return cluster, b
}

func newSemanticBackend(t *testing.T) (*memstore.Cluster, docstore.Backend) {
	t.Helper()
	cluster := memstore.NewCluster(0)
	t.Cleanup(func() { _ = cluster.Close() })
	cluster.AddSearchIndex(semanticNS, "semantic_idx", "cosine")

	b, err := docstore.NewSearchIndexBackend(context.Background(), cluster.Session(semanticNS), docstore.SearchIndexConfig{
		Config:      docstore.Config{Distance: docstore.Cosine},
		IndexName:   "semantic_idx",
		ScopedIndex: true,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewSearchIndexBackend: %v", err)
	}
	return cluster, b
}

// fakeEmbedder maps known prompts to fixed unit vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

const (
	promptFrance     = "What is the capital of France?"
	promptParaphrase = "Could you tell me France's capital?"
	promptItaly      = "What is the capital of Italy?"
	signature        = "gpt-x-temp0"
)

func capitalsEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{
		promptFrance:     {1, 0, 0},
		promptParaphrase: {0.95, 0.3122499, 0}, // cosine 0.95 with France
		promptItaly:      {0.6, 0.8, 0},        // cosine 0.6 with France
	}}
}

// stubBackend returns a fixed search result.
type stubBackend struct {
	docstore.Backend
	results []docstore.SearchResult
	err     error
}

func (s *stubBackend) SimilaritySearch(context.Context, docstore.SearchQuery) ([]docstore.SearchResult, error) {
	return s.results, s.err
}

var errBoom = errors.New("boom")
