// Package app builds the stores, caches and façade described by a config.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"simmgate-vectorcache/internal/cache"
	"simmgate-vectorcache/internal/config"
	"simmgate-vectorcache/internal/couchbase"
	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/docstore/memstore"
	"simmgate-vectorcache/internal/history"
	"simmgate-vectorcache/internal/llm"
	"simmgate-vectorcache/internal/resilience"
	"simmgate-vectorcache/internal/vectorstore"
)

// App holds everything a command needs. Fields are nil when the matching
// component is disabled.
type App struct {
	Caches   map[string]cache.LLMCache
	Vectors  *vectorstore.Store
	History  *history.Store
	Embedder llm.Embedder

	logger  *zap.Logger
	closers []func() error
}

// sessionFunc opens a Session bound to one namespace.
type sessionFunc func(ns docstore.Namespace) docstore.Session

// New connects to storage and builds every enabled component. Configuration
// errors (missing namespace or index, distance mismatch) are returned as is.
// The caller owns the App and must Close it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Caches: make(map[string]cache.LLMCache),
		logger: logger,
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	sessions, err := a.openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.NeedsEmbedder() {
		if err := a.openEmbedder(cfg.Embedding); err != nil {
			return nil, err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, redisClient.Close)

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Cache.Exact.Enabled {
		backend, err := a.backend(ctx, sessions, cfg.Cache.Exact.Store, cfg.Resilience)
		if err != nil {
			return nil, fmt.Errorf("exact cache: %w", err)
		}
		cc := cache.Config{Tier: cache.TierExact, TTL: cfg.Cache.Exact.TTL}
		if redisClient != nil {
			cc.Redis = &cache.RedisConfig{Prefix: cfg.Redis.Prefix, TTL: cfg.Redis.TTL}
		}
		c, err := cache.New(cc, backend, nil, redisClient, logger)
		if err != nil {
			return nil, err
		}
		a.Caches[cache.TierExact] = c
	}

	if cfg.Cache.Semantic.Enabled {
		backend, err := a.backend(ctx, sessions, cfg.Cache.Semantic.Store, cfg.Resilience)
		if err != nil {
			return nil, fmt.Errorf("semantic cache: %w", err)
		}
		c, err := cache.New(cache.Config{
			Tier:           cache.TierSemantic,
			TTL:            cfg.Cache.Semantic.TTL,
			ScoreThreshold: cfg.Cache.Semantic.ScoreThreshold,
		}, backend, a.Embedder, nil, logger)
		if err != nil {
			return nil, err
		}
		a.Caches[cache.TierSemantic] = c
	}

	if cfg.Vectors.Enabled {
		backend, err := a.backend(ctx, sessions, cfg.Vectors.Store, cfg.Resilience)
		if err != nil {
			return nil, fmt.Errorf("vectors: %w", err)
		}
		a.Vectors, err = vectorstore.New(backend, a.Embedder, vectorstore.Options{BatchSize: cfg.Vectors.BatchSize}, logger)
		if err != nil {
			return nil, err
		}
	}

	if cfg.History.Enabled {
		h := cfg.History
		a.History, err = history.New(ctx, sessions(h.Namespace), history.Config{
			SessionIDKey: h.SessionIDKey,
			MessageKey:   h.MessageKey,
			TTL:          h.TTL,
			BatchSize:    h.BatchSize,
			CreateIndex:  h.CreateIndex,
			IndexName:    h.IndexName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
	}

	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg *config.Config) (sessionFunc, error) {
	switch cfg.Storage.Driver {
	case config.DriverCouchbase:
		cluster, err := couchbase.Connect(ctx, cfg.Storage.Couchbase, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return cluster.Close(nil) })
		return func(ns docstore.Namespace) docstore.Session {
			return couchbase.NewSession(cluster, ns, a.logger)
		}, nil

	case config.DriverMemory:
		cluster := memstore.NewCluster(0)
		a.closers = append(a.closers, cluster.Close)
		for _, s := range enabledStores(cfg) {
			provision(cluster, s)
		}
		if cfg.History.Enabled {
			cluster.CreateCollection(cfg.History.Namespace)
		}
		a.logger.Warn("using in-memory storage; data is lost on exit")
		return func(ns docstore.Namespace) docstore.Session {
			return cluster.Session(ns)
		}, nil
	}
	return nil, fmt.Errorf("%w: storage driver %q", docstore.ErrInvalidConfig, cfg.Storage.Driver)
}

func enabledStores(cfg *config.Config) []config.StoreConfig {
	var out []config.StoreConfig
	if cfg.Cache.Exact.Enabled {
		out = append(out, cfg.Cache.Exact.Store)
	}
	if cfg.Cache.Semantic.Enabled {
		out = append(out, cfg.Cache.Semantic.Store)
	}
	if cfg.Vectors.Enabled {
		out = append(out, cfg.Vectors.Store)
	}
	return out
}

// provision creates the collection and index a store expects, the way an
// operator would on a real cluster.
func provision(cluster *memstore.Cluster, s config.StoreConfig) {
	switch {
	case s.Backend == config.BackendSearch:
		cluster.AddSearchIndex(s.Namespace, s.IndexName, s.Distance.SearchSimilarity())
	case s.IndexName != "":
		cluster.AddQueryIndex(s.Namespace, s.IndexName, s.Distance.QueryFunction())
	default:
		cluster.CreateCollection(s.Namespace)
	}
}

func (a *App) backend(ctx context.Context, sessions sessionFunc, s config.StoreConfig, rc resilience.Config) (docstore.Backend, error) {
	session := sessions(s.Namespace)
	logger := a.logger.With(zap.String("namespace", s.Namespace.String()))

	var (
		b   docstore.Backend
		err error
	)
	switch s.Backend {
	case config.BackendSearch:
		b, err = docstore.NewSearchIndexBackend(ctx, session, docstore.SearchIndexConfig{
			Config:      s.Docstore(),
			IndexName:   s.IndexName,
			ScopedIndex: s.ScopedIndex,
		}, logger)
	case config.BackendQuery:
		b, err = docstore.NewQueryEngineBackend(ctx, session, docstore.QueryEngineConfig{
			Config:    s.Docstore(),
			IndexName: s.IndexName,
			IndexType: s.IndexType,
		}, logger)
	default:
		err = fmt.Errorf("%w: backend %q", docstore.ErrInvalidConfig, s.Backend)
	}
	if err != nil {
		return nil, err
	}

	rc.Name = s.Namespace.String()
	return resilience.NewBackend(b, rc, logger)
}

func (a *App) openEmbedder(cfg config.EmbeddingConfig) error {
	client, err := llm.NewClient(cfg.Config, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, client.Close)
	a.Embedder = client

	if cfg.QueryCacheSize > 0 {
		cached, err := llm.NewCachedEmbedder(client, cfg.QueryCacheSize)
		if err != nil {
			return err
		}
		a.Embedder = cached
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
