package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"simmgate-vectorcache/internal/docstore"
)

// Config controls retries and the circuit breaker around a Backend.
type Config struct {
	Name string `yaml:"name"`

	// MaxRetries is the number of retries after the first attempt of a
	// transient failure. Zero disables retrying.
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`

	// FailureThreshold consecutive transient failures open the circuit.
	FailureThreshold uint32 `yaml:"failure_threshold"`
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration `yaml:"open_timeout"`
	// HalfOpenRequests are let through while probing.
	HalfOpenRequests uint32 `yaml:"half_open_requests"`
}

func (c Config) WithDefaults() Config {
	if c.Name == "" {
		c.Name = "docstore"
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 50 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = 1
	}
	return c
}

func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", docstore.ErrInvalidConfig)
	}
	if c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("%w: max_interval %s is below initial_interval %s", docstore.ErrInvalidConfig, c.MaxInterval, c.InitialInterval)
	}
	return nil
}

// Backend retries transient failures of inner and stops calling it while
// the store looks down. Only docstore.ErrStoreUnavailable counts as a
// failure; configuration and filter errors pass straight through.
type Backend struct {
	inner   docstore.Backend
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ docstore.Backend = (*Backend)(nil)

func NewBackend(inner docstore.Backend, cfg Config, logger *zap.Logger) (*Backend, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: resilience needs a backend", docstore.ErrInvalidConfig)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("resilience").With(zap.String("breaker", cfg.Name))

	threshold := cfg.FailureThreshold
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !docstore.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Backend{
		inner:   inner,
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}, nil
}

// State reports the circuit state: closed, half-open or open.
func (b *Backend) State() string {
	return b.breaker.State().String()
}

func (b *Backend) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.cfg.InitialInterval
	exp.MaxInterval = b.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(b.cfg.MaxRetries)), ctx)
}

func run[T any](ctx context.Context, b *Backend, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	attempt := func() error {
		res, err := b.breaker.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
		if v, ok := res.(T); ok {
			out = v
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(fmt.Errorf("%w: %s: circuit %s: %w", docstore.ErrStoreUnavailable, op, b.cfg.Name, err))
		case docstore.IsTransient(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		b.logger.Info("retrying store operation", zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
	}

	err := backoff.RetryNotify(attempt, b.policy(ctx), notify)
	return out, err
}

// Upsert assigns ids up front so a retried batch overwrites instead of
// duplicating.
func (b *Backend) Upsert(ctx context.Context, docs []docstore.Document, opts docstore.WriteOptions) (*docstore.UpsertResult, error) {
	docs = append([]docstore.Document(nil), docs...)
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = docstore.NewID()
		}
	}
	return run(ctx, b, "upsert", func(ctx context.Context) (*docstore.UpsertResult, error) {
		return b.inner.Upsert(ctx, docs, opts)
	})
}

func (b *Backend) Get(ctx context.Context, ids []string) (map[string]*docstore.Document, error) {
	return run(ctx, b, "get", func(ctx context.Context) (map[string]*docstore.Document, error) {
		return b.inner.Get(ctx, ids)
	})
}

func (b *Backend) Delete(ctx context.Context, ids []string) error {
	_, err := run(ctx, b, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.inner.Delete(ctx, ids)
	})
	return err
}

func (b *Backend) SimilaritySearch(ctx context.Context, q docstore.SearchQuery) ([]docstore.SearchResult, error) {
	return run(ctx, b, "search", func(ctx context.Context) ([]docstore.SearchResult, error) {
		return b.inner.SimilaritySearch(ctx, q)
	})
}

func (b *Backend) Clear(ctx context.Context) error {
	_, err := run(ctx, b, "clear", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.inner.Clear(ctx)
	})
	return err
}

func (b *Backend) Distance() docstore.DistanceStrategy { return b.inner.Distance() }
