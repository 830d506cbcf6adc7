// Package config loads service settings: defaults, then an optional YAML
// file with ${VAR} expansion, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"simmgate-vectorcache/internal/couchbase"
	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/llm"
	"simmgate-vectorcache/internal/resilience"
)

const (
	DriverCouchbase = "couchbase"
	DriverMemory    = "memory"

	BackendSearch = "search"
	BackendQuery  = "query"
)

type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Storage    StorageConfig     `yaml:"storage"`
	Cache      CacheConfig       `yaml:"cache"`
	Vectors    VectorsConfig     `yaml:"vectors"`
	History    HistoryConfig     `yaml:"history"`
	Embedding  EmbeddingConfig   `yaml:"embedding"`
	Redis      RedisConfig       `yaml:"redis"`
	Resilience resilience.Config `yaml:"resilience"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// StorageConfig selects where documents live. The memory driver keeps
// everything in process and provisions the configured indexes itself.
type StorageConfig struct {
	Driver    string           `yaml:"driver"`
	Couchbase couchbase.Config `yaml:"couchbase"`
}

// StoreConfig describes one collection and the backend variant over it.
type StoreConfig struct {
	docstore.Namespace `yaml:",inline"`

	Backend     string             `yaml:"backend"` // search | query
	IndexName   string             `yaml:"index_name"`
	IndexType   docstore.IndexType `yaml:"index_type"`
	ScopedIndex bool               `yaml:"scoped_index"`

	Distance     docstore.DistanceStrategy `yaml:"distance"`
	TextKey      string                    `yaml:"text_key"`
	EmbeddingKey string                    `yaml:"embedding_key"`
	MetadataKey  string                    `yaml:"metadata_key"`

	BatchSize        int           `yaml:"batch_size"`
	MaxConcurrency   int           `yaml:"max_concurrency"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// Docstore returns the settings shared by both backend variants.
func (s StoreConfig) Docstore() docstore.Config {
	return docstore.Config{
		TextKey:          s.TextKey,
		EmbeddingKey:     s.EmbeddingKey,
		MetadataKey:      s.MetadataKey,
		BatchSize:        s.BatchSize,
		MaxConcurrency:   s.MaxConcurrency,
		OperationTimeout: s.OperationTimeout,
		Distance:         s.Distance,
	}
}

func (s StoreConfig) validate(name string) error {
	if err := s.Namespace.Validate(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	switch s.Backend {
	case BackendSearch:
		if s.IndexName == "" {
			return fmt.Errorf("%w: %s: search backend needs index_name", docstore.ErrInvalidConfig, name)
		}
	case BackendQuery:
		if _, err := docstore.ParseIndexType(string(s.IndexType)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	default:
		return fmt.Errorf("%w: %s: backend must be %q or %q, got %q", docstore.ErrInvalidConfig, name, BackendSearch, BackendQuery, s.Backend)
	}
	if _, err := docstore.ParseDistance(string(s.Distance)); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if s.BatchSize < 0 || s.MaxConcurrency < 0 || s.OperationTimeout < 0 {
		return fmt.Errorf("%w: %s: batch_size, max_concurrency and operation_timeout must not be negative", docstore.ErrInvalidConfig, name)
	}
	return nil
}

type TierConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Store   StoreConfig   `yaml:"store"`
}

type SemanticTierConfig struct {
	TierConfig `yaml:",inline"`
	// ScoreThreshold unset accepts the best match.
	ScoreThreshold *float64 `yaml:"score_threshold"`
}

type CacheConfig struct {
	Exact    TierConfig         `yaml:"exact"`
	Semantic SemanticTierConfig `yaml:"semantic"`
}

type VectorsConfig struct {
	Enabled   bool        `yaml:"enabled"`
	BatchSize int         `yaml:"batch_size"` // texts per embedding call
	Store     StoreConfig `yaml:"store"`
}

// HistoryConfig stores chat message histories, one document per message.
type HistoryConfig struct {
	docstore.Namespace `yaml:",inline"`

	Enabled      bool          `yaml:"enabled"`
	TTL          time.Duration `yaml:"ttl"`
	BatchSize    int           `yaml:"batch_size"`
	CreateIndex  bool          `yaml:"create_index"`
	IndexName    string        `yaml:"index_name"`
	SessionIDKey string        `yaml:"session_id_key"`
	MessageKey   string        `yaml:"message_key"`
}

type EmbeddingConfig struct {
	llm.Config `yaml:",inline"`
	// QueryCacheSize bounds the in-process memo of query vectors.
	// Zero disables it.
	QueryCacheSize int `yaml:"query_cache_size"`
}

// RedisConfig enables the hot tier in front of the exact cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   4 << 20,
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
		},
		Cache: CacheConfig{
			Exact: TierConfig{
				Enabled: true,
				TTL:     24 * time.Hour,
				Store: StoreConfig{
					Namespace: docstore.Namespace{Bucket: "llm", Scope: "cache", Collection: "exact"},
					Backend:   BackendQuery,
				},
			},
			Semantic: SemanticTierConfig{
				TierConfig: TierConfig{
					TTL: 24 * time.Hour,
					Store: StoreConfig{
						Namespace: docstore.Namespace{Bucket: "llm", Scope: "cache", Collection: "semantic"},
						Backend:   BackendSearch,
						IndexName: "semantic_cache_idx",
					},
				},
			},
		},
		Vectors: VectorsConfig{
			Store: StoreConfig{
				Namespace: docstore.Namespace{Bucket: "llm", Scope: "rag", Collection: "documents"},
				Backend:   BackendSearch,
				IndexName: "documents_idx",
			},
		},
		History: HistoryConfig{
			Namespace:   docstore.Namespace{Bucket: "llm", Scope: "chat", Collection: "history"},
			CreateIndex: true,
		},
		Embedding: EmbeddingConfig{
			Config: llm.Config{
				BaseURL: "https://api.openai.com",
				Model:   "text-embedding-3-small",
			},
			QueryCacheSize: 1024,
		},
		Redis: RedisConfig{
			Addr:   "127.0.0.1:6379",
			Prefix: "vectorcache",
			TTL:    5 * time.Minute,
		},
	}
}

// Load reads .env (if present), the YAML file at path (if not empty) and
// the environment, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	applyString("PORT", &c.Server.Port)
	applyDuration("REQUEST_TIMEOUT", &c.Server.RequestTimeout)

	applyString("STORAGE_DRIVER", &c.Storage.Driver)
	applyString("COUCHBASE_CONNECTION_STRING", &c.Storage.Couchbase.ConnectionString)
	applyString("COUCHBASE_USERNAME", &c.Storage.Couchbase.Username)
	applyString("COUCHBASE_PASSWORD", &c.Storage.Couchbase.Password)

	applyBool("EXACT_CACHE_ENABLED", &c.Cache.Exact.Enabled)
	applyDuration("EXACT_CACHE_TTL", &c.Cache.Exact.TTL)
	applyBool("SEMANTIC_CACHE_ENABLED", &c.Cache.Semantic.Enabled)
	applyDuration("SEMANTIC_CACHE_TTL", &c.Cache.Semantic.TTL)
	if v := os.Getenv("SEMANTIC_SCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Cache.Semantic.ScoreThreshold = &f
		}
	}
	applyBool("VECTORS_ENABLED", &c.Vectors.Enabled)
	applyBool("HISTORY_ENABLED", &c.History.Enabled)
	applyDuration("HISTORY_TTL", &c.History.TTL)

	applyString("EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	applyString("EMBEDDING_API_KEY", &c.Embedding.APIKey)
	applyString("EMBEDDING_MODEL", &c.Embedding.Model)
	applyInt("EMBEDDING_DIMENSIONS", &c.Embedding.Dimensions)

	applyBool("REDIS_ENABLED", &c.Redis.Enabled)
	applyString("REDIS_ADDR", &c.Redis.Addr)
	applyString("REDIS_PASSWORD", &c.Redis.Password)
}

func (c *Config) applyDefaults() {
	for _, s := range []*StoreConfig{&c.Cache.Exact.Store, &c.Cache.Semantic.Store, &c.Vectors.Store} {
		if s.Distance == "" {
			s.Distance = docstore.Cosine
		} else if d, err := docstore.ParseDistance(string(s.Distance)); err == nil {
			s.Distance = d
		}
		if s.Backend == BackendQuery && s.IndexType == "" {
			s.IndexType = docstore.IndexComposite
		}
	}
	c.Resilience = c.Resilience.WithDefaults()
}

// NeedsEmbedder reports whether any enabled component embeds text.
func (c *Config) NeedsEmbedder() bool {
	return c.Cache.Semantic.Enabled || c.Vectors.Enabled
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverCouchbase:
		if err := c.Storage.Couchbase.WithDefaults().Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: storage driver must be %q or %q, got %q", docstore.ErrInvalidConfig, DriverCouchbase, DriverMemory, c.Storage.Driver)
	}

	if !c.Cache.Exact.Enabled && !c.Cache.Semantic.Enabled && !c.Vectors.Enabled && !c.History.Enabled {
		return fmt.Errorf("%w: nothing enabled", docstore.ErrInvalidConfig)
	}
	if c.Cache.Exact.Enabled {
		if err := c.Cache.Exact.Store.validate("cache.exact"); err != nil {
			return err
		}
	}
	if c.Cache.Semantic.Enabled {
		if err := c.Cache.Semantic.Store.validate("cache.semantic"); err != nil {
			return err
		}
	}
	if c.Vectors.Enabled {
		if err := c.Vectors.Store.validate("vectors"); err != nil {
			return err
		}
	}
	if c.History.Enabled {
		if err := c.History.Namespace.Validate(); err != nil {
			return fmt.Errorf("history: %w", err)
		}
		if c.History.TTL < 0 || c.History.BatchSize < 0 {
			return fmt.Errorf("%w: history ttl and batch_size must not be negative", docstore.ErrInvalidConfig)
		}
	}
	if c.Cache.Exact.TTL < 0 || c.Cache.Semantic.TTL < 0 {
		return fmt.Errorf("%w: cache ttl must not be negative", docstore.ErrInvalidConfig)
	}

	if c.NeedsEmbedder() {
		cfg := c.Embedding.Config.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("%w: embedding: %w", docstore.ErrInvalidConfig, err)
		}
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("%w: redis addr is required", docstore.ErrInvalidConfig)
	}
	return c.Resilience.Validate()
}

func applyString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func applyBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func applyDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
