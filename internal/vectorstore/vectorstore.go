package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/llm"
)

const (
	DefaultK         = 4
	DefaultBatchSize = 64
)

var ErrEmptyQuery = errors.New("vectorstore: query text or vector is required")

// Options configure a Store.
type Options struct {
	// BatchSize is the number of texts sent per EmbedDocuments call.
	BatchSize int
}

// Store adds, searches and deletes arbitrary documents over a Backend.
// Text is embedded with the embedder unless the caller supplies a vector.
type Store struct {
	backend   docstore.Backend
	embedder  llm.Embedder
	batchSize int
	logger    *zap.Logger
}

func New(backend docstore.Backend, embedder llm.Embedder, opts Options, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: vector store needs a backend", docstore.ErrInvalidConfig)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:   backend,
		embedder:  embedder,
		batchSize: opts.BatchSize,
		logger:    logger.Named("vectorstore"),
	}, nil
}

// AddTexts embeds texts and upserts them. metadatas and ids may be nil;
// when given they must match texts in length. Missing ids are generated.
// It returns the ids that were written.
func (s *Store) AddTexts(ctx context.Context, texts []string, metadatas []map[string]any, ids []string, opts docstore.WriteOptions) ([]string, error) {
	if metadatas != nil && len(metadatas) != len(texts) {
		return nil, fmt.Errorf("vectorstore: %d metadatas for %d texts", len(metadatas), len(texts))
	}
	if ids != nil && len(ids) != len(texts) {
		return nil, fmt.Errorf("vectorstore: %d ids for %d texts", len(ids), len(texts))
	}

	docs := make([]docstore.Document, len(texts))
	for i, text := range texts {
		docs[i].Text = text
		if metadatas != nil {
			docs[i].Metadata = metadatas[i]
		}
		if ids != nil {
			docs[i].ID = ids[i]
		}
	}
	return s.AddDocuments(ctx, docs, opts)
}

// AddDocuments upserts docs, embedding only those without an embedding.
func (s *Store) AddDocuments(ctx context.Context, docs []docstore.Document, opts docstore.WriteOptions) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	docs = append([]docstore.Document(nil), docs...)
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = docstore.NewID()
		}
	}
	if err := s.embedMissing(ctx, docs); err != nil {
		return nil, err
	}

	res, err := s.backend.Upsert(ctx, docs, opts)
	if err != nil {
		if res != nil {
			s.logger.Warn("partial add",
				zap.Int("succeeded", len(res.Succeeded)),
				zap.Int("failed", len(res.Failed)),
				zap.Error(err))
			return res.Succeeded, err
		}
		return nil, err
	}
	return res.Succeeded, nil
}

func (s *Store) embedMissing(ctx context.Context, docs []docstore.Document) error {
	var pending []int
	for i := range docs {
		if len(docs[i].Embedding) == 0 {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if s.embedder == nil {
		return fmt.Errorf("%w: %d documents have no embedding and no embedder is configured", docstore.ErrInvalidConfig, len(pending))
	}

	for start := 0; start < len(pending); start += s.batchSize {
		end := min(start+s.batchSize, len(pending))
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = docs[idx].Text
		}
		vecs, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("vectorstore: embed documents: %w", err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("vectorstore: embedder returned %d vectors for %d texts", len(vecs), len(batch))
		}
		for j, idx := range batch {
			docs[idx].Embedding = vecs[j]
		}
	}
	return nil
}

// Request is a similarity search. Vector wins over Text when both are set.
type Request struct {
	Text     string                    `json:"text,omitempty"`
	Vector   []float32                 `json:"vector,omitempty"`
	K        int                       `json:"k,omitempty"`
	Filter   docstore.Filter           `json:"filter,omitempty"`
	Fields   []string                  `json:"fields,omitempty"`
	Distance docstore.DistanceStrategy `json:"distance,omitempty"`
}

// Search returns scored results ordered best-first.
func (s *Store) Search(ctx context.Context, req Request) ([]docstore.SearchResult, error) {
	vec := req.Vector
	if len(vec) == 0 {
		if req.Text == "" {
			return nil, ErrEmptyQuery
		}
		if s.embedder == nil {
			return nil, fmt.Errorf("%w: text search needs an embedder", docstore.ErrInvalidConfig)
		}
		var err error
		vec, err = s.embedder.EmbedQuery(ctx, req.Text)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: embed query: %w", err)
		}
	}

	k := req.K
	if k <= 0 {
		k = DefaultK
	}
	return s.backend.SimilaritySearch(ctx, docstore.SearchQuery{
		Vector:   vec,
		K:        k,
		Filter:   req.Filter,
		Distance: req.Distance,
		Fields:   req.Fields,
	})
}

// SimilaritySearch is Search without scores.
func (s *Store) SimilaritySearch(ctx context.Context, req Request) ([]docstore.Document, error) {
	results, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	docs := make([]docstore.Document, len(results))
	for i, r := range results {
		docs[i] = r.Document
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, ids []string) (map[string]*docstore.Document, error) {
	return s.backend.Get(ctx, ids)
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	return s.backend.Delete(ctx, ids)
}

// Clear deletes every document in the collection.
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Clear(ctx)
}
