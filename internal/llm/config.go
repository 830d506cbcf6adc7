package llm

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultEmbeddingsPath = "/v1/embeddings"
	defaultBatchSize      = 64
	maxBatchSize          = 2048
)

// Config describes an OpenAI-compatible embeddings endpoint.
type Config struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// Path is appended to BaseURL. Defaults to /v1/embeddings.
	Path string `yaml:"path"`

	// Dimensions asks the provider for vectors of this size and is checked
	// on every response. 0 accepts whatever the model returns.
	Dimensions int `yaml:"dimensions"`

	MaxBatchSize    int           `yaml:"max_batch_size"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	BaseBackoff     time.Duration `yaml:"base_backoff"`

	MaxIdleConns        int `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`

	HTTPClient *http.Client `yaml:"-"`
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("api_key is required"))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("dimensions must not be negative, got %d", c.Dimensions))
	}
	if c.MaxBatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("max_batch_size %d exceeds %d", c.MaxBatchSize, maxBatchSize))
	}
	return errors.Join(errs...)
}

// WithDefaults returns a copy with zero values filled in.
func (c *Config) WithDefaults() Config {
	cfg := *c
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Path == "" {
		cfg.Path = defaultEmbeddingsPath
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}

	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultBatchSize
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = cfg.MaxIdleConns
	}
	return cfg
}

// endpoint is the full URL embedding requests are posted to.
func (c *Config) endpoint() string {
	return c.BaseURL + c.Path
}

type client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds an embeddings client.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("embedclient: invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: newTransport(cfg)}
	}

	logger.Info("embeddings client configured",
		zap.String("endpoint", cfg.endpoint()),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", cfg.Dimensions),
		zap.Int("max_batch_size", cfg.MaxBatchSize),
	)

	return &client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("embedclient"),
	}, nil
}

func newTransport(cfg Config) *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Close drops idle upstream connections.
func (c *client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
