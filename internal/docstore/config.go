package docstore

import (
	"fmt"
	"time"
)

const (
	DefaultTextKey          = "text"
	DefaultEmbeddingKey     = "embedding"
	DefaultMetadataKey      = "metadata"
	DefaultBatchSize        = 100
	DefaultMaxConcurrency   = 4
	DefaultOperationTimeout = 10 * time.Second
)

// Config holds the settings shared by both backend variants.
type Config struct {
	// Field names used for the document body.
	TextKey      string
	EmbeddingKey string
	MetadataKey  string

	BatchSize      int // documents per upsert sub-batch (default: 100)
	MaxConcurrency int // sub-batches in flight (default: 4)

	// OperationTimeout bounds each store call. On expiry the call fails with
	// ErrStoreUnavailable (default: 10s).
	OperationTimeout time.Duration

	Distance DistanceStrategy
}

// WithDefaults returns a copy of Config with defaults applied.
func (c Config) WithDefaults() Config {
	if c.TextKey == "" {
		c.TextKey = DefaultTextKey
	}
	if c.EmbeddingKey == "" {
		c.EmbeddingKey = DefaultEmbeddingKey
	}
	if c.MetadataKey == "" {
		c.MetadataKey = DefaultMetadataKey
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	if c.Distance == "" {
		c.Distance = Cosine
	}
	return c
}

// Validate checks a defaulted Config.
func (c Config) Validate() error {
	if !c.Distance.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedDistance, c.Distance)
	}
	keys := map[string]string{
		"text key":      c.TextKey,
		"embedding key": c.EmbeddingKey,
		"metadata key":  c.MetadataKey,
	}
	seen := map[string]string{}
	for name, v := range keys {
		if other, dup := seen[v]; dup {
			return fmt.Errorf("%w: %s and %s are both %q", ErrInvalidConfig, name, other, v)
		}
		seen[v] = name
	}
	return nil
}
