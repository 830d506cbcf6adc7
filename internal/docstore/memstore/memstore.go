// Package memstore is an in-process document store. It serves the "memory"
// storage driver and stands in for a cluster in tests.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"simmgate-vectorcache/internal/docstore"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type collection struct {
	items         map[string]memoryEntry
	searchIndexes map[string]string // name -> similarity
	queryIndexes  map[string]string
}

// Cluster holds every collection created in it. Sessions obtained from the
// same Cluster share data.
type Cluster struct {
	mu              sync.RWMutex
	collections     map[docstore.Namespace]*collection
	writeHook       func(ctx context.Context, id string) error
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
	cleanupInterval time.Duration
}

// NewCluster starts the background expiry sweep.
// A non-positive interval defaults to one minute.
func NewCluster(cleanupInterval time.Duration) *Cluster {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	c := &Cluster{
		collections:     make(map[docstore.Namespace]*collection),
		stopCleanup:     make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}

	go c.cleanupExpired()

	return c
}

// CreateCollection makes ns available. Creating an existing collection is a no-op.
func (c *Cluster) CreateCollection(ns docstore.Namespace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.collections[ns]; ok {
		return
	}
	c.collections[ns] = &collection{
		items:         make(map[string]memoryEntry),
		searchIndexes: make(map[string]string),
		queryIndexes:  make(map[string]string),
	}
}

// AddSearchIndex registers a search index over ns, creating the collection
// if needed. similarity is dot_product, cosine or l2_norm.
func (c *Cluster) AddSearchIndex(ns docstore.Namespace, name, similarity string) {
	c.CreateCollection(ns)
	c.mu.Lock()
	c.collections[ns].searchIndexes[name] = similarity
	c.mu.Unlock()
}

// AddQueryIndex registers a query-service vector index over ns, creating the
// collection if needed. similarity uses query-service names (COSINE, L2, ...).
func (c *Cluster) AddQueryIndex(ns docstore.Namespace, name, similarity string) {
	c.CreateCollection(ns)
	c.mu.Lock()
	c.collections[ns].queryIndexes[name] = similarity
	c.mu.Unlock()
}

// SetWriteHook installs fn to run before every document write. A non-nil
// return fails that write.
func (c *Cluster) SetWriteHook(fn func(ctx context.Context, id string) error) {
	c.mu.Lock()
	c.writeHook = fn
	c.mu.Unlock()
}

// Session returns a handle bound to ns. The collection need not exist yet;
// CheckNamespace reports that.
func (c *Cluster) Session(ns docstore.Namespace) *Store {
	return &Store{cluster: c, ns: ns}
}

// Len returns the number of live documents in ns.
func (c *Cluster) Len(ns docstore.Namespace) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	col, ok := c.collections[ns]
	if !ok {
		return 0
	}
	now := time.Now()
	n := 0
	for _, e := range col.items {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Close stops the cleanup goroutine. Call this on shutdown or in tests.
func (c *Cluster) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.stopCleanup)
	})
	return nil
}

func (c *Cluster) cleanupExpired() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for _, col := range c.collections {
				for k, v := range col.items {
					if v.expired(now) {
						delete(col.items, k)
					}
				}
			}
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Store is a docstore.Session over one collection of a Cluster.
type Store struct {
	cluster *Cluster
	ns      docstore.Namespace
}

var _ docstore.Session = (*Store)(nil)

func (s *Store) Namespace() docstore.Namespace { return s.ns }

func (s *Store) CheckNamespace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cluster.mu.RLock()
	_, ok := s.cluster.collections[s.ns]
	s.cluster.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", docstore.ErrNamespaceNotFound, s.ns)
	}
	return nil
}

// collection must be called with the cluster lock held.
func (s *Store) collection() (*collection, error) {
	col, ok := s.cluster.collections[s.ns]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNamespaceNotFound, s.ns)
	}
	return col, nil
}

// UpsertDocument stores doc as JSON, so reads see the same value types a
// real store returns.
func (s *Store) UpsertDocument(ctx context.Context, id string, doc map[string]any, ttl time.Duration) error {
	s.cluster.mu.RLock()
	hook := s.cluster.writeHook
	s.cluster.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, id); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("memstore: encode %q: %w", id, err)
	}

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	col, err := s.collection()
	if err != nil {
		return err
	}
	col.items[id] = entry
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.cluster.mu.RLock()
	col, err := s.collection()
	if err != nil {
		s.cluster.mu.RUnlock()
		return nil, err
	}
	entry, ok := col.items[id]
	s.cluster.mu.RUnlock()

	now := time.Now()
	if !ok || entry.expired(now) {
		if ok {
			s.cluster.mu.Lock()
			if e, exists := col.items[id]; exists && e.expired(now) {
				delete(col.items, id)
			}
			s.cluster.mu.Unlock()
		}
		return nil, fmt.Errorf("%w: %q", docstore.ErrDocumentNotFound, id)
	}

	return decode(entry.value)
}

func (s *Store) RemoveDocument(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	col, err := s.collection()
	if err != nil {
		return err
	}
	entry, ok := col.items[id]
	delete(col.items, id)
	if !ok || entry.expired(time.Now()) {
		return fmt.Errorf("%w: %q", docstore.ErrDocumentNotFound, id)
	}
	return nil
}

func (s *Store) SearchIndexExists(ctx context.Context, name string, _ bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.cluster.mu.RLock()
	defer s.cluster.mu.RUnlock()
	col, ok := s.cluster.collections[s.ns]
	if !ok {
		return false, nil
	}
	_, exists := col.searchIndexes[name]
	return exists, nil
}

type liveDoc struct {
	id  string
	doc map[string]any
}

// snapshot decodes every live document of the collection.
func (s *Store) snapshot() ([]liveDoc, *collection, error) {
	s.cluster.mu.RLock()
	defer s.cluster.mu.RUnlock()

	col, err := s.collection()
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	docs := make([]liveDoc, 0, len(col.items))
	for id, e := range col.items {
		if e.expired(now) {
			continue
		}
		doc, err := decode(e.value)
		if err != nil {
			return nil, nil, err
		}
		docs = append(docs, liveDoc{id: id, doc: doc})
	}
	return docs, col, nil
}

func decode(value []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, fmt.Errorf("memstore: decode: %w", err)
	}
	return doc, nil
}

func vectorOf(v any) []float32 {
	switch vec := v.(type) {
	case []float32:
		return vec
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(vec))
		for _, e := range vec {
			f, ok := e.(float64)
			if !ok {
				return nil
			}
			out = append(out, float32(f))
		}
		return out
	}
	return nil
}
