// Package couchbase adapts a gocb cluster connection to docstore.Session.
package couchbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/couchbase/gocb/v2/search"
	"github.com/couchbase/gocb/v2/vector"
	"go.uber.org/zap"

	"simmgate-vectorcache/internal/docstore"
)

// Config holds connection settings.
type Config struct {
	ConnectionString string        `yaml:"connection_string"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	// WANProfile raises client timeouts for high-latency links.
	WANProfile bool `yaml:"wan_profile"`
}

func (c Config) WithDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

func (c Config) Validate() error {
	if c.ConnectionString == "" {
		return fmt.Errorf("%w: couchbase connection string is required", docstore.ErrInvalidConfig)
	}
	if c.Username == "" {
		return fmt.Errorf("%w: couchbase username is required", docstore.ErrInvalidConfig)
	}
	return nil
}

// Connect opens the cluster and waits until the key-value, query and search
// services answer.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*gocb.Cluster, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		},
	}
	if cfg.WANProfile {
		if err := opts.ApplyProfile(gocb.ClusterConfigProfileWanDevelopment); err != nil {
			return nil, fmt.Errorf("apply wan profile: %w", err)
		}
	}

	cluster, err := gocb.Connect(cfg.ConnectionString, opts)
	if err != nil {
		return nil, fmt.Errorf("connect couchbase: %w", err)
	}

	err = cluster.WaitUntilReady(cfg.ConnectTimeout, &gocb.WaitUntilReadyOptions{
		Context:      ctx,
		ServiceTypes: []gocb.ServiceType{gocb.ServiceTypeKeyValue, gocb.ServiceTypeQuery, gocb.ServiceTypeSearch},
	})
	if err != nil {
		_ = cluster.Close(nil)
		return nil, fmt.Errorf("%w: couchbase not ready: %w", docstore.ErrStoreUnavailable, err)
	}

	logger.Info("couchbase connected", zap.String("connection_string", cfg.ConnectionString))
	return cluster, nil
}

// Session is a docstore.Session over one bucket/scope/collection.
type Session struct {
	cluster    *gocb.Cluster
	scope      *gocb.Scope
	collection *gocb.Collection
	ns         docstore.Namespace
	logger     *zap.Logger
}

var _ docstore.Session = (*Session)(nil)

func NewSession(cluster *gocb.Cluster, ns docstore.Namespace, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	scope := cluster.Bucket(ns.Bucket).Scope(ns.Scope)
	return &Session{
		cluster:    cluster,
		scope:      scope,
		collection: scope.Collection(ns.Collection),
		ns:         ns,
		logger:     logger.Named("couchbase").With(zap.String("namespace", ns.String())),
	}
}

func (s *Session) Namespace() docstore.Namespace { return s.ns }

func (s *Session) CheckNamespace(ctx context.Context) error {
	_, err := s.cluster.Buckets().GetBucket(s.ns.Bucket, &gocb.GetBucketOptions{Context: ctx})
	if errors.Is(err, gocb.ErrBucketNotFound) {
		return fmt.Errorf("%w: bucket %q", docstore.ErrNamespaceNotFound, s.ns.Bucket)
	}
	if err != nil {
		return mapError(err)
	}

	scopes, err := s.cluster.Bucket(s.ns.Bucket).Collections().GetAllScopes(&gocb.GetAllScopesOptions{Context: ctx})
	if err != nil {
		return mapError(err)
	}
	for _, scope := range scopes {
		if scope.Name != s.ns.Scope {
			continue
		}
		for _, col := range scope.Collections {
			if col.Name == s.ns.Collection {
				return nil
			}
		}
		return fmt.Errorf("%w: collection %q in scope %q", docstore.ErrNamespaceNotFound, s.ns.Collection, s.ns.Scope)
	}
	return fmt.Errorf("%w: scope %q in bucket %q", docstore.ErrNamespaceNotFound, s.ns.Scope, s.ns.Bucket)
}

func (s *Session) UpsertDocument(ctx context.Context, id string, doc map[string]any, ttl time.Duration) error {
	_, err := s.collection.Upsert(id, doc, &gocb.UpsertOptions{Context: ctx, Expiry: ttl})
	return mapError(err)
}

func (s *Session) GetDocument(ctx context.Context, id string) (map[string]any, error) {
	res, err := s.collection.Get(id, &gocb.GetOptions{Context: ctx})
	if err != nil {
		return nil, mapError(err)
	}
	var doc map[string]any
	if err := res.Content(&doc); err != nil {
		return nil, fmt.Errorf("decode %q: %w", id, err)
	}
	return doc, nil
}

func (s *Session) RemoveDocument(ctx context.Context, id string) error {
	_, err := s.collection.Remove(id, &gocb.RemoveOptions{Context: ctx})
	return mapError(err)
}

// Query runs statement in the scope's query context with request-plus
// consistency, so a search issued right after an upsert sees the write.
func (s *Session) Query(ctx context.Context, statement string, params map[string]any) ([]map[string]any, error) {
	res, err := s.scope.Query(statement, &gocb.QueryOptions{
		Context:         ctx,
		NamedParameters: params,
		ScanConsistency: gocb.QueryScanConsistencyRequestPlus,
	})
	if err != nil {
		return nil, mapError(err)
	}
	defer res.Close()

	var rows []map[string]any
	for res.Next() {
		var row map[string]any
		if err := res.Row(&row); err != nil {
			return nil, fmt.Errorf("decode query row: %w", err)
		}
		rows = append(rows, row)
	}
	if err := res.Err(); err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (s *Session) SearchIndexExists(ctx context.Context, name string, scoped bool) (bool, error) {
	var err error
	if scoped {
		_, err = s.scope.SearchIndexes().GetIndex(name, &gocb.GetSearchIndexOptions{Context: ctx})
	} else {
		_, err = s.cluster.SearchIndexes().GetIndex(name, &gocb.GetSearchIndexOptions{Context: ctx})
	}
	if errors.Is(err, gocb.ErrIndexNotFound) {
		return false, nil
	}
	if err != nil {
		return false, mapError(err)
	}
	return true, nil
}

func (s *Session) Search(ctx context.Context, req docstore.SearchRequest) ([]docstore.SearchHit, error) {
	vq := vector.NewQuery(req.VectorField, req.Vector).NumCandidates(uint32(req.K))
	if req.Prefilter != nil {
		vq = vq.Prefilter(toSearchQuery(*req.Prefilter))
	}

	request := gocb.SearchRequest{
		VectorSearch: vector.NewSearch([]*vector.Query{vq}, nil),
	}
	opts := &gocb.SearchOptions{
		Context: ctx,
		Limit:   uint32(req.K),
		Fields:  req.Fields,
	}

	var (
		res *gocb.SearchResult
		err error
	)
	if req.Scoped {
		res, err = s.scope.Search(req.Index, request, opts)
	} else {
		res, err = s.cluster.Search(req.Index, request, opts)
	}
	if err != nil {
		return nil, mapError(err)
	}
	defer res.Close()

	var hits []docstore.SearchHit
	for res.Next() {
		row := res.Row()
		fields := map[string]any{}
		if err := row.Fields(&fields); err != nil {
			s.logger.Debug("search row without stored fields", zap.String("id", row.ID), zap.Error(err))
		}
		hits = append(hits, docstore.SearchHit{ID: row.ID, Score: row.Score, Fields: fields})
	}
	if err := res.Err(); err != nil {
		return nil, mapError(err)
	}
	return hits, nil
}

func toSearchQuery(c docstore.SearchClause) search.Query {
	switch c.Kind {
	case docstore.ClauseConjunction:
		children := make([]search.Query, 0, len(c.Children))
		for _, child := range c.Children {
			children = append(children, toSearchQuery(child))
		}
		return search.NewConjunctionQuery(children...)
	case docstore.ClauseMatch:
		return search.NewMatchQuery(c.Text).Field(c.Field)
	case docstore.ClauseTerm:
		return search.NewTermQuery(c.Text).Field(c.Field)
	case docstore.ClauseNumericRange:
		q := search.NewNumericRangeQuery().Field(c.Field)
		if c.Min != nil {
			q = q.Min(float32(*c.Min), true)
		}
		if c.Max != nil {
			q = q.Max(float32(*c.Max), true)
		}
		return q
	case docstore.ClauseBool:
		return search.NewBooleanFieldQuery(c.Bool).Field(c.Field)
	}
	return search.NewMatchAllQuery()
}

// mapError translates SDK errors into docstore sentinels.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return fmt.Errorf("%w: %w", docstore.ErrDocumentNotFound, err)
	case errors.Is(err, gocb.ErrScopeNotFound), errors.Is(err, gocb.ErrCollectionNotFound), errors.Is(err, gocb.ErrBucketNotFound):
		return fmt.Errorf("%w: %w", docstore.ErrNamespaceNotFound, err)
	case errors.Is(err, gocb.ErrIndexNotFound):
		return fmt.Errorf("%w: %w", docstore.ErrIndexNotFound, err)
	case errors.Is(err, gocb.ErrTimeout),
		errors.Is(err, gocb.ErrServiceNotAvailable),
		errors.Is(err, gocb.ErrTemporaryFailure),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", docstore.ErrStoreUnavailable, err)
	}
	return err
}
