package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"simmgate-vectorcache/internal/metrics"
)

// collection holds the key-value plumbing both variants share.
type collection struct {
	name    string // backend label for logs and metrics
	session Session
	cfg     Config
	logger  *zap.Logger
}

func newCollection(ctx context.Context, name string, session Session, cfg Config, logger *zap.Logger) (*collection, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := session.Namespace().Validate(); err != nil {
		return nil, err
	}

	c := &collection{
		name:    name,
		session: session,
		cfg:     cfg,
		logger:  logger.Named(name),
	}

	checkCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := session.CheckNamespace(checkCtx); err != nil {
		if errors.Is(err, ErrNamespaceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("check namespace %s: %w", session.Namespace(), classify(checkCtx, err))
	}

	return c, nil
}

func (c *collection) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.OperationTimeout)
}

// classify maps deadline expiry onto ErrStoreUnavailable. Caller
// cancellation is passed through unchanged.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

func (c *collection) toStored(doc Document) map[string]any {
	meta := doc.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	stored := map[string]any{
		c.cfg.TextKey:     doc.Text,
		c.cfg.MetadataKey: meta,
	}
	if len(doc.Embedding) > 0 {
		stored[c.cfg.EmbeddingKey] = doc.Embedding
	}
	return stored
}

func (c *collection) fromStored(id string, stored map[string]any) *Document {
	doc := &Document{ID: id}
	if text, ok := stored[c.cfg.TextKey].(string); ok {
		doc.Text = text
	}
	doc.Embedding = toFloat32s(stored[c.cfg.EmbeddingKey])
	if meta, ok := stored[c.cfg.MetadataKey].(map[string]any); ok {
		doc.Metadata = meta
	} else {
		doc.Metadata = map[string]any{}
	}
	return doc
}

func toFloat32s(v any) []float32 {
	switch vec := v.(type) {
	case []float32:
		out := make([]float32, len(vec))
		copy(out, vec)
		return out
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

// NewID returns a random document id (uuid without dashes).
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (c *collection) upsert(ctx context.Context, docs []Document, opts WriteOptions) (*UpsertResult, error) {
	if opts.TTL < 0 {
		return nil, wrapError("upsert", fmt.Errorf("%w: ttl must not be negative", ErrInvalidConfig))
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			ids[i] = NewID()
		} else {
			ids[i] = d.ID
		}
	}

	start := time.Now()
	defer metrics.ObserveStore(c.name, "upsert", start)

	var (
		mu     sync.Mutex
		failed = map[string]error{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrency)

	for lo := 0; lo < len(docs); lo += c.cfg.BatchSize {
		hi := min(lo+c.cfg.BatchSize, len(docs))
		g.Go(func() error {
			bctx, cancel := c.withTimeout(gctx)
			defer cancel()

			for i := lo; i < hi; i++ {
				doc := docs[i]
				doc.ID = ids[i]
				err := c.session.UpsertDocument(bctx, doc.ID, c.toStored(doc), opts.TTL)
				if err != nil {
					mu.Lock()
					failed[doc.ID] = classify(bctx, err)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &UpsertResult{Succeeded: make([]string, 0, len(ids))}
	for _, id := range ids {
		if _, bad := failed[id]; !bad {
			res.Succeeded = append(res.Succeeded, id)
		}
	}

	metrics.UpsertDocumentsTotal.WithLabelValues(c.name, "ok").Add(float64(len(res.Succeeded)))
	if len(failed) == 0 {
		return res, nil
	}

	res.Failed = failed
	metrics.UpsertDocumentsTotal.WithLabelValues(c.name, "failed").Add(float64(len(failed)))

	var first error
	for _, id := range ids {
		if err, bad := failed[id]; bad {
			first = err
			break
		}
	}
	c.logger.Warn("partial upsert",
		zap.Int("documents", len(docs)),
		zap.Int("failed", len(failed)),
		zap.Error(first),
	)
	return res, wrapError("upsert", fmt.Errorf("%w: %d of %d documents failed: %w", ErrPartialWrite, len(failed), len(docs), first))
}

func (c *collection) get(ctx context.Context, ids []string) (map[string]*Document, error) {
	start := time.Now()
	defer metrics.ObserveStore(c.name, "get", start)

	out := make(map[string]*Document, len(ids))
	var mu sync.Mutex

	gctx, cancel := c.withTimeout(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(gctx)
	g.SetLimit(c.cfg.MaxConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			stored, err := c.session.GetDocument(gctx, id)
			if errors.Is(err, ErrDocumentNotFound) {
				mu.Lock()
				out[id] = nil
				mu.Unlock()
				return nil
			}
			if err != nil {
				return fmt.Errorf("get %q: %w", id, classify(gctx, err))
			}
			doc := c.fromStored(id, stored)
			mu.Lock()
			out[id] = doc
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, wrapError("get", err)
	}
	return out, nil
}

func (c *collection) delete(ctx context.Context, ids []string) error {
	start := time.Now()
	defer metrics.ObserveStore(c.name, "delete", start)

	dctx, cancel := c.withTimeout(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(dctx)
	g.SetLimit(c.cfg.MaxConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			err := c.session.RemoveDocument(gctx, id)
			if err == nil || errors.Is(err, ErrDocumentNotFound) {
				return nil
			}
			return fmt.Errorf("remove %q: %w", id, classify(gctx, err))
		})
	}

	return wrapError("delete", g.Wait())
}

func (c *collection) clear(ctx context.Context) error {
	start := time.Now()
	defer metrics.ObserveStore(c.name, "clear", start)

	qctx, cancel := c.withTimeout(ctx)
	defer cancel()

	statement := "DELETE FROM " + c.session.Namespace().Keyspace()
	if _, err := c.session.Query(qctx, statement, nil); err != nil {
		c.logger.Error("clear failed", zap.String("namespace", c.session.Namespace().String()), zap.Error(err))
		return wrapError("clear", classify(qctx, err))
	}
	return nil
}
