// Package embeddings provides embedding providers used by the memory store.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a fixed output dimension.
type Provider interface {
	Embedder

	// Dimension returns the length of every vector the provider emits.
	Dimension() int

	// Close releases provider resources.
	Close() error
}

// Provider names accepted by NewProvider.
const (
	ProviderHash   = "hash"
	ProviderTEI    = "tei"
	ProviderOpenAI = "openai"
)

// Config selects and configures a provider.
type Config struct {
	// Provider is one of hash, tei, openai. Default: hash.
	Provider string

	// Model is the model name for remote providers.
	Model string

	// BaseURL is the endpoint for remote providers.
	BaseURL string

	// APIKey authenticates remote providers.
	APIKey string

	// Dimension is the vector size. Required for remote providers;
	// defaults to 256 for hash.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderHash
	}
	switch c.Provider {
	case ProviderHash:
		if c.Dimension == 0 {
			c.Dimension = defaultHashDimension
		}
	case ProviderTEI:
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:8080"
		}
		if c.Model == "" {
			c.Model = "BAAI/bge-small-en-v1.5"
		}
		if c.Dimension == 0 {
			c.Dimension = 384
		}
	case ProviderOpenAI:
		if c.Model == "" {
			c.Model = "text-embedding-3-small"
		}
		if c.Dimension == 0 {
			c.Dimension = 1536
		}
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderHash, ProviderTEI, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.Provider == ProviderTEI && c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Provider == ProviderOpenAI && c.APIKey == "" && c.BaseURL == "" {
		return fmt.Errorf("%w: api key or base URL required for openai", ErrInvalidConfig)
	}
	return nil
}

// NewProvider builds the configured provider.
func NewProvider(cfg Config, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("creating embeddings provider",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", cfg.Dimension),
	)

	switch cfg.Provider {
	case ProviderTEI:
		return NewService(cfg, logger)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg, logger)
	default:
		return NewHashProvider(cfg.Dimension), nil
	}
}
