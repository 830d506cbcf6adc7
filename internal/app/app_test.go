package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"simmgate-vectorcache/internal/cache"
	"simmgate-vectorcache/internal/config"
	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/history"
	"simmgate-vectorcache/internal/vectorstore"
)

// embeddingServer answers /v1/embeddings with one axis per first letter.
func embeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		var data []item
		for i, text := range req.Input {
			v := []float32{0, 0, 0}
			if text != "" {
				v[int(text[0])%3] = 1
			}
			data = append(data, item{Index: i, Embedding: v})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewMemoryDriver(t *testing.T) {
	srv := embeddingServer(t)
	mr := miniredis.RunT(t)

	t.Setenv("SEMANTIC_CACHE_ENABLED", "true")
	t.Setenv("VECTORS_ENABLED", "true")
	t.Setenv("HISTORY_ENABLED", "true")
	t.Setenv("EMBEDDING_BASE_URL", srv.URL)
	t.Setenv("EMBEDDING_API_KEY", "test")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", mr.Addr())

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if len(a.Caches) != 2 || a.Vectors == nil || a.Embedder == nil || a.History == nil {
		t.Fatalf("expected every component, got caches=%d vectors=%v history=%v", len(a.Caches), a.Vectors != nil, a.History != nil)
	}

	ctx := context.Background()
	hist, err := a.History.For("s1")
	if err != nil {
		t.Fatalf("History.For: %v", err)
	}
	if err := hist.AddMessage(ctx, history.Message{Type: "human", Content: "hi"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if msgs, err := hist.Messages(ctx); err != nil || len(msgs) != 1 {
		t.Fatalf("Messages: %v %v", msgs, err)
	}

	for tier, c := range a.Caches {
		if err := c.Store(ctx, "apple pie", "m1", []cache.Generation{{Text: "yum"}}, 0); err != nil {
			t.Fatalf("%s store: %v", tier, err)
		}
		if gens, ok := c.Lookup(ctx, "apple pie", "m1"); !ok || gens[0].Text != "yum" {
			t.Fatalf("%s lookup: %v %v", tier, gens, ok)
		}
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected the exact tier to write through to redis, got %v", mr.Keys())
	}

	if _, err := a.Vectors.AddTexts(ctx, []string{"apple", "banana"}, nil, []string{"a", "b"}, docstore.WriteOptions{}); err != nil {
		t.Fatalf("AddTexts: %v", err)
	}
	docs, err := a.Vectors.SimilaritySearch(ctx, vectorstore.Request{Text: "bread", K: 1})
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "b" {
		t.Fatalf("unexpected search result: %+v", docs)
	}
}

func TestNewQueryIndexProvisioned(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Cache.Exact.Store.IndexName = "exact_vec"
	cfg.Cache.Exact.Store.IndexType = docstore.IndexHyperscale

	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if _, ok := a.Caches[cache.TierExact]; !ok {
		t.Fatalf("expected exact cache")
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	mr := miniredis.RunT(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	mr.Close()

	if _, err := New(context.Background(), cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected redis ping failure")
	}
}

func TestNewUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "sqlite"
	if _, err := New(context.Background(), cfg, nil); !errors.Is(err, docstore.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
