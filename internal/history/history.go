// Package history keeps chat message histories in a document store
// collection, one document per message, ordered by insertion time within a
// session.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/metrics"
)

const (
	DefaultSessionIDKey = "session_id"
	DefaultMessageKey   = "message"
	DefaultIndexName    = "chat_history_idx"
	DefaultBatchSize    = 100

	tsKey = "ts"
	alias = "h"
)

// ErrInvalidMessage is returned for a message without a type.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one chat turn. Type follows the usual roles: human, ai,
// system, tool.
type Message struct {
	Type             string         `json:"type"`
	Content          string         `json:"content"`
	AdditionalKwargs map[string]any `json:"additional_kwargs,omitempty"`
}

// storedMessage is the document form: {"type": ..., "data": {...}}.
type storedMessage struct {
	Type string `json:"type"`
	Data struct {
		Content          string         `json:"content"`
		AdditionalKwargs map[string]any `json:"additional_kwargs,omitempty"`
	} `json:"data"`
}

func (m Message) stored() map[string]any {
	data := map[string]any{"content": m.Content}
	if len(m.AdditionalKwargs) > 0 {
		data["additional_kwargs"] = m.AdditionalKwargs
	}
	return map[string]any{"type": m.Type, "data": data}
}

type Config struct {
	SessionIDKey string
	MessageKey   string
	// TTL expires every message this long after it is written. Zero keeps
	// messages until cleared.
	TTL       time.Duration
	BatchSize int
	// CreateIndex issues CREATE INDEX IF NOT EXISTS over
	// (session id, ts, message). Failures are logged, not returned.
	CreateIndex      bool
	IndexName        string
	MaxConcurrency   int
	OperationTimeout time.Duration
}

func (c Config) WithDefaults() Config {
	if c.SessionIDKey == "" {
		c.SessionIDKey = DefaultSessionIDKey
	}
	if c.MessageKey == "" {
		c.MessageKey = DefaultMessageKey
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.IndexName == "" {
		c.IndexName = DefaultIndexName
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = docstore.DefaultMaxConcurrency
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = docstore.DefaultOperationTimeout
	}
	return c
}

func (c Config) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("%w: ttl must be greater than 0, got %s", docstore.ErrInvalidConfig, c.TTL)
	}
	if c.SessionIDKey == c.MessageKey || c.SessionIDKey == tsKey || c.MessageKey == tsKey {
		return fmt.Errorf("%w: session id key %q, message key %q and %q must differ",
			docstore.ErrInvalidConfig, c.SessionIDKey, c.MessageKey, tsKey)
	}
	return nil
}

// Store holds the histories of every session in one collection.
type Store struct {
	session docstore.Session
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	lastTS int64
}

// New checks the namespace and, when configured, creates the session index.
func New(ctx context.Context, session docstore.Session, cfg Config, logger *zap.Logger) (*Store, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: session is required", docstore.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		session: session,
		cfg:     cfg,
		logger:  logger.Named("history").With(zap.String("namespace", session.Namespace().String())),
		now:     time.Now,
	}

	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := session.CheckNamespace(cctx); err != nil {
		return nil, err
	}

	if cfg.CreateIndex {
		statement := fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS ON %s(%s, %s, %s)",
			docstore.QuoteIdent(cfg.IndexName), session.Namespace().Keyspace(),
			docstore.QuoteIdent(cfg.SessionIDKey), docstore.QuoteIdent(tsKey), docstore.QuoteIdent(cfg.MessageKey))
		if _, err := session.Query(cctx, statement, nil); err != nil {
			s.logger.Warn("create history index failed", zap.String("index", cfg.IndexName), zap.Error(err))
		}
	}
	return s, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

// nextTS returns strictly increasing microsecond timestamps, so messages
// added in one call keep their order.
func (s *Store) nextTS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UnixMicro()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

// For returns the history of one session.
func (s *Store) For(sessionID string) (*History, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", docstore.ErrInvalidConfig)
	}
	return &History{store: s, sessionID: sessionID}, nil
}

// History is the message list of a single session.
type History struct {
	store     *Store
	sessionID string
}

func (h *History) SessionID() string { return h.sessionID }

func (h *History) AddMessage(ctx context.Context, m Message) error {
	return h.AddMessages(ctx, []Message{m})
}

// AddMessages writes messages in batches. Messages that failed to write are
// reported with ErrPartialWrite; the others stay stored.
func (h *History) AddMessages(ctx context.Context, msgs []Message) error {
	for i, m := range msgs {
		if m.Type == "" {
			return fmt.Errorf("%w: message %d has no type", ErrInvalidMessage, i)
		}
	}
	if len(msgs) == 0 {
		return nil
	}

	s := h.store
	start := time.Now()
	defer metrics.ObserveStore("history", "add", start)

	type pending struct {
		id  string
		doc map[string]any
	}
	all := make([]pending, len(msgs))
	for i, m := range msgs {
		all[i] = pending{
			id: docstore.NewID(),
			doc: map[string]any{
				s.cfg.MessageKey:   m.stored(),
				s.cfg.SessionIDKey: h.sessionID,
				tsKey:              s.nextTS(),
			},
		}
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	for lo := 0; lo < len(all); lo += s.cfg.BatchSize {
		batch := all[lo:min(lo+s.cfg.BatchSize, len(all))]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.MaxConcurrency)
		for _, p := range batch {
			g.Go(func() error {
				wctx, cancel := s.withTimeout(gctx)
				defer cancel()
				if err := s.session.UpsertDocument(wctx, p.id, p.doc, s.cfg.TTL); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", p.id, err))
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if len(errs) > 0 {
		s.logger.Warn("history write incomplete",
			zap.String("session_id", h.sessionID),
			zap.Int("failed", len(errs)),
			zap.Int("total", len(all)),
		)
		return fmt.Errorf("%w: %d of %d messages: %w", docstore.ErrPartialWrite, len(errs), len(all), errors.Join(errs...))
	}
	return nil
}

// Messages returns the session's live messages, oldest first. Rows whose
// message cannot be decoded are skipped.
func (h *History) Messages(ctx context.Context) ([]Message, error) {
	s := h.store
	start := time.Now()
	defer metrics.ObserveStore("history", "messages", start)

	msgKey := docstore.QuoteIdent(s.cfg.MessageKey)
	statement := fmt.Sprintf("SELECT %s.%s AS %s FROM %s AS %s WHERE %s.%s = $session_id ORDER BY %s.%s ASC",
		alias, msgKey, msgKey,
		s.session.Namespace().Keyspace(), alias,
		alias, docstore.QuoteIdent(s.cfg.SessionIDKey),
		alias, docstore.QuoteIdent(tsKey))

	qctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.session.Query(qctx, statement, map[string]any{"session_id": h.sessionID})
	if err != nil {
		return nil, fmt.Errorf("fetch history %q: %w", h.sessionID, err)
	}

	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		m, err := decodeMessage(row[s.cfg.MessageKey])
		if err != nil {
			s.logger.Warn("skipping undecodable history message", zap.String("session_id", h.sessionID), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeMessage(v any) (Message, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	var sm storedMessage
	if err := json.Unmarshal(raw, &sm); err != nil {
		return Message{}, err
	}
	if sm.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return Message{Type: sm.Type, Content: sm.Data.Content, AdditionalKwargs: sm.Data.AdditionalKwargs}, nil
}

// Clear deletes every message of the session.
func (h *History) Clear(ctx context.Context) error {
	s := h.store
	start := time.Now()
	defer metrics.ObserveStore("history", "clear", start)

	statement := fmt.Sprintf("DELETE FROM %s AS %s WHERE %s.%s = $session_id",
		s.session.Namespace().Keyspace(), alias, alias, docstore.QuoteIdent(s.cfg.SessionIDKey))

	qctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.session.Query(qctx, statement, map[string]any{"session_id": h.sessionID}); err != nil {
		return fmt.Errorf("clear history %q: %w", h.sessionID, err)
	}
	return nil
}
