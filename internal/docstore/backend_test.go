package docstore_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/docstore/memstore"
)

var ns = docstore.Namespace{Bucket: "llm", Scope: "cache", Collection: "semantic"}

func newSearchBackend(t *testing.T, distance docstore.DistanceStrategy) (*memstore.Cluster, *docstore.SearchIndexBackend) {
	t.Helper()
	cluster := memstore.NewCluster(0)
	t.Cleanup(func() { _ = cluster.Close() })
	cluster.AddSearchIndex(ns, "vec_idx", distance.SearchSimilarity())

	b, err := docstore.NewSearchIndexBackend(context.Background(), cluster.Session(ns), docstore.SearchIndexConfig{
		Config:      docstore.Config{Distance: distance},
		IndexName:   "vec_idx",
		ScopedIndex: true,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewSearchIndexBackend: %v", err)
	}
	return cluster, b
}

func newQueryBackend(t *testing.T, distance docstore.DistanceStrategy, index string) (*memstore.Cluster, *docstore.QueryEngineBackend) {
	t.Helper()
	cluster := memstore.NewCluster(0)
	t.Cleanup(func() { _ = cluster.Close() })
	if index != "" {
		cluster.AddQueryIndex(ns, index, distance.QueryFunction())
	} else {
		cluster.CreateCollection(ns)
	}

	b, err := docstore.NewQueryEngineBackend(context.Background(), cluster.Session(ns), docstore.QueryEngineConfig{
		Config:    docstore.Config{Distance: distance},
		IndexName: index,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewQueryEngineBackend: %v", err)
	}
	return cluster, b
}

var corpus = []docstore.Document{
	{ID: "france", Text: "capital of France", Embedding: []float32{1, 0, 0}, Metadata: map[string]any{"llm_string": "M1"}},
	{ID: "italy", Text: "capital of Italy", Embedding: []float32{0.6, 0.8, 0}, Metadata: map[string]any{"llm_string": "M1"}},
	{ID: "other", Text: "capital of France", Embedding: []float32{1, 0, 0}, Metadata: map[string]any{"llm_string": "m1"}},
	{ID: "far", Text: "recipe for bread", Embedding: []float32{0, 0, 1}, Metadata: map[string]any{"llm_string": "M1", "year": 2020}},
}

func seed(t *testing.T, b docstore.Backend) {
	t.Helper()
	res, err := b.Upsert(context.Background(), corpus, docstore.WriteOptions{})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(res.Succeeded) != len(corpus) {
		t.Fatalf("expected %d succeeded, got %v", len(corpus), res.Succeeded)
	}
}

func TestBackends_SearchWithFilter(t *testing.T) {
	_, sb := newSearchBackend(t, docstore.Cosine)
	_, qb := newQueryBackend(t, docstore.Cosine, "vec_gsi")

	for name, b := range map[string]docstore.Backend{"search": sb, "query": qb} {
		t.Run(name, func(t *testing.T) {
			seed(t, b)

			results, err := b.SimilaritySearch(context.Background(), docstore.SearchQuery{
				Vector: []float32{1, 0, 0},
				K:      3,
				Filter: docstore.Filter{"llm_string": "M1"},
			})
			if err != nil {
				t.Fatalf("SimilaritySearch: %v", err)
			}
			if len(results) != 3 {
				t.Fatalf("expected 3 results, got %d", len(results))
			}
			if results[0].Document.ID != "france" {
				t.Fatalf("expected france first, got %s", results[0].Document.ID)
			}
			for i, r := range results {
				if r.Document.Metadata["llm_string"] != "M1" {
					t.Fatalf("result %d leaked another signature: %v", i, r.Document.Metadata)
				}
				if i > 0 && r.Score > results[i-1].Score {
					t.Fatalf("results not ordered best-first: %v then %v", results[i-1].Score, r.Score)
				}
			}
			if results[0].Score < 0.999 {
				t.Fatalf("identical vector should score ~1, got %v", results[0].Score)
			}
		})
	}
}

func TestBackends_ParityTopResult(t *testing.T) {
	for _, d := range []docstore.DistanceStrategy{docstore.Dot, docstore.Cosine, docstore.Euclidean, docstore.EuclideanSquared} {
		t.Run(string(d), func(t *testing.T) {
			_, sb := newSearchBackend(t, d)
			_, qb := newQueryBackend(t, d, "")
			seed(t, sb)
			seed(t, qb)

			q := docstore.SearchQuery{Vector: []float32{0.5, 0.9, 0}, K: 1, Filter: docstore.Filter{"llm_string": "M1"}}
			a, err := sb.SimilaritySearch(context.Background(), q)
			if err != nil {
				t.Fatalf("search backend: %v", err)
			}
			b, err := qb.SimilaritySearch(context.Background(), q)
			if err != nil {
				t.Fatalf("query backend: %v", err)
			}
			if len(a) != 1 || len(b) != 1 || a[0].Document.ID != b[0].Document.ID {
				t.Fatalf("backends disagree: %+v vs %+v", a, b)
			}
			if a[0].Document.ID != "italy" {
				t.Fatalf("expected italy, got %s", a[0].Document.ID)
			}
		})
	}
}

func TestBackends_NamespaceNotFound(t *testing.T) {
	cluster := memstore.NewCluster(0)
	defer cluster.Close()

	_, err := docstore.NewSearchIndexBackend(context.Background(), cluster.Session(ns), docstore.SearchIndexConfig{IndexName: "x"}, nil)
	if !errors.Is(err, docstore.ErrNamespaceNotFound) {
		t.Fatalf("search: expected ErrNamespaceNotFound, got %v", err)
	}
	_, err = docstore.NewQueryEngineBackend(context.Background(), cluster.Session(ns), docstore.QueryEngineConfig{}, nil)
	if !errors.Is(err, docstore.ErrNamespaceNotFound) {
		t.Fatalf("query: expected ErrNamespaceNotFound, got %v", err)
	}
}

func TestBackends_IndexNotFound(t *testing.T) {
	cluster := memstore.NewCluster(0)
	defer cluster.Close()
	cluster.CreateCollection(ns)

	_, err := docstore.NewSearchIndexBackend(context.Background(), cluster.Session(ns), docstore.SearchIndexConfig{IndexName: "missing"}, nil)
	if !errors.Is(err, docstore.ErrIndexNotFound) {
		t.Fatalf("search: expected ErrIndexNotFound, got %v", err)
	}
	_, err = docstore.NewQueryEngineBackend(context.Background(), cluster.Session(ns), docstore.QueryEngineConfig{IndexName: "missing"}, nil)
	if !errors.Is(err, docstore.ErrIndexNotFound) {
		t.Fatalf("query: expected ErrIndexNotFound, got %v", err)
	}
}

func TestQueryEngine_DistanceMismatch(t *testing.T) {
	cluster := memstore.NewCluster(0)
	defer cluster.Close()
	cluster.AddQueryIndex(ns, "vec_gsi", "L2")

	_, err := docstore.NewQueryEngineBackend(context.Background(), cluster.Session(ns), docstore.QueryEngineConfig{
		Config:    docstore.Config{Distance: docstore.Cosine},
		IndexName: "vec_gsi",
	}, nil)
	if !errors.Is(err, docstore.ErrUnsupportedDistance) {
		t.Fatalf("expected ErrUnsupportedDistance, got %v", err)
	}

	_, err = docstore.NewQueryEngineBackend(context.Background(), cluster.Session(ns), docstore.QueryEngineConfig{
		Config:    docstore.Config{Distance: docstore.Euclidean},
		IndexName: "vec_gsi",
	}, nil)
	if err != nil {
		t.Fatalf("L2 index with euclidean distance: %v", err)
	}
}

func TestSearchIndex_QueryDistanceMismatch(t *testing.T) {
	_, b := newSearchBackend(t, docstore.Cosine)
	_, err := b.SimilaritySearch(context.Background(), docstore.SearchQuery{
		Vector:   []float32{1, 0, 0},
		K:        1,
		Distance: docstore.Dot,
	})
	if !errors.Is(err, docstore.ErrUnsupportedDistance) {
		t.Fatalf("expected ErrUnsupportedDistance, got %v", err)
	}
}

func TestUpsert_PartialWriteAttribution(t *testing.T) {
	cluster, b := newQueryBackend(t, docstore.Cosine, "")
	boom := errors.New("boom")
	cluster.SetWriteHook(func(_ context.Context, id string) error {
		if strings.HasPrefix(id, "bad") {
			return boom
		}
		return nil
	})

	docs := make([]docstore.Document, 0, 250)
	for i := 0; i < 250; i++ {
		id := fmt.Sprintf("good-%03d", i)
		if i%50 == 7 {
			id = fmt.Sprintf("bad-%03d", i)
		}
		docs = append(docs, docstore.Document{ID: id, Text: id, Embedding: []float32{1, 0}})
	}

	res, err := b.Upsert(context.Background(), docs, docstore.WriteOptions{})
	if !errors.Is(err, docstore.ErrPartialWrite) {
		t.Fatalf("expected ErrPartialWrite, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected the first failure to be wrapped, got %v", err)
	}
	var se *docstore.StoreError
	if !errors.As(err, &se) || se.Op != "upsert" {
		t.Fatalf("expected StoreError{Op: upsert}, got %#v", err)
	}
	if len(res.Failed) != 5 {
		t.Fatalf("expected 5 failures, got %d", len(res.Failed))
	}
	if len(res.Succeeded) != 245 {
		t.Fatalf("expected 245 successes, got %d", len(res.Succeeded))
	}
	for id := range res.Failed {
		if !strings.HasPrefix(id, "bad") {
			t.Fatalf("unexpected failure for %s", id)
		}
	}
	if res.Succeeded[0] != "good-000" || res.Succeeded[244] != "good-249" {
		t.Fatalf("succeeded ids should keep input order, got %s..%s", res.Succeeded[0], res.Succeeded[244])
	}
	if n := cluster.Len(ns); n != 245 {
		t.Fatalf("expected 245 stored documents, got %d", n)
	}
}

func TestUpsert_TimeoutIsStoreUnavailable(t *testing.T) {
	cluster := memstore.NewCluster(0)
	defer cluster.Close()
	cluster.CreateCollection(ns)
	cluster.SetWriteHook(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	b, err := docstore.NewQueryEngineBackend(context.Background(), cluster.Session(ns), docstore.QueryEngineConfig{
		Config: docstore.Config{OperationTimeout: 20 * time.Millisecond},
	}, nil)
	if err != nil {
		t.Fatalf("NewQueryEngineBackend: %v", err)
	}

	res, err := b.Upsert(context.Background(), []docstore.Document{{ID: "a", Text: "a"}}, docstore.WriteOptions{})
	if !errors.Is(err, docstore.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !docstore.IsTransient(res.Failed["a"]) {
		t.Fatalf("expected transient per-document error, got %v", res.Failed["a"])
	}
}

func TestUpsert_GeneratesIDs(t *testing.T) {
	_, b := newQueryBackend(t, docstore.Cosine, "")
	res, err := b.Upsert(context.Background(), []docstore.Document{{Text: "a"}, {Text: "b"}}, docstore.WriteOptions{})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(res.Succeeded) != 2 || res.Succeeded[0] == res.Succeeded[1] || len(res.Succeeded[0]) != 32 {
		t.Fatalf("expected two distinct generated ids, got %v", res.Succeeded)
	}
}

func TestGetDeleteClear(t *testing.T) {
	cluster, b := newSearchBackend(t, docstore.Cosine)
	seed(t, b)
	ctx := context.Background()

	got, err := b.Get(ctx, []string{"france", "nope"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["nope"] != nil {
		t.Fatalf("expected nil for missing id")
	}
	fr := got["france"]
	if fr == nil || fr.Text != "capital of France" || len(fr.Embedding) != 3 || fr.Metadata["llm_string"] != "M1" {
		t.Fatalf("unexpected document %+v", fr)
	}

	if err := b.Delete(ctx, []string{"france", "nope"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n := cluster.Len(ns); n != len(corpus)-1 {
		t.Fatalf("expected %d documents after delete, got %d", len(corpus)-1, n)
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n := cluster.Len(ns); n != 0 {
		t.Fatalf("expected empty collection after clear, got %d", n)
	}
}

func TestUpsert_TTLExpires(t *testing.T) {
	_, b := newQueryBackend(t, docstore.Cosine, "")
	ctx := context.Background()

	if _, err := b.Upsert(ctx, []docstore.Document{{ID: "a", Text: "a", Embedding: []float32{1}}}, docstore.WriteOptions{TTL: 20 * time.Millisecond}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	got, err := b.Get(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["a"] != nil {
		t.Fatalf("expected expired document to be gone")
	}
}

func TestSearch_InvalidFilter(t *testing.T) {
	_, b := newQueryBackend(t, docstore.Cosine, "")
	_, err := b.SimilaritySearch(context.Background(), docstore.SearchQuery{
		Vector: []float32{1},
		K:      1,
		Filter: docstore.Filter{"tags": map[string]any{}},
	})
	if !errors.Is(err, docstore.ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}
