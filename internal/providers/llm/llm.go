// Package llm provides the language-model collaborator used by the research
// and synthesis agents.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrDisabled is returned by Disabled. Callers take their deterministic path.
var ErrDisabled = errors.New("language model disabled")

// Completer generates text for a prompt, optionally grounded by context.
type Completer interface {
	Complete(ctx context.Context, prompt, context string, maxTokens int) (string, error)
}

// Disabled is a Completer that always fails with ErrDisabled.
type Disabled struct{}

// Complete implements Completer.
func (Disabled) Complete(context.Context, string, string, int) (string, error) {
	return "", ErrDisabled
}

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Config configures a Client.
type Config struct {
	Provider          string
	Model             string
	BaseURL           string
	APIKey            string
	Temperature       float64
	MaxTokens         int
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	Timeout           time.Duration
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 2
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// New builds the configured Completer. An empty or "none" provider, or an
// openai provider without credentials, yields Disabled.
func New(cfg Config, logger *zap.Logger) (Completer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		logger.Info("language model disabled, agents use deterministic fallbacks")
		return Disabled{}, nil
	case ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			logger.Warn("openai provider has no api key or base url, language model disabled")
			return Disabled{}, nil
		}
		cfg.applyDefaults()
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		token := cfg.APIKey
		if token == "" {
			token = "placeholder"
		}
		opts = append(opts, openai.WithToken(token))
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai model: %w", err)
		}
		return NewClient(model, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

var tracer = otel.Tracer("finsight.llm")

// Client adapts an llms.Model with rate limiting and retry.
type Client struct {
	model    llms.Model
	cfg      Config
	limiter  *rate.Limiter
	logger   *zap.Logger
	duration metric.Float64Histogram
	backoff  time.Duration
}

// NewClient wraps model.
func NewClient(model llms.Model, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	duration, err := otel.Meter("finsight.llm").Float64Histogram(
		"finsight.llm.call_duration_seconds",
		metric.WithDescription("Duration of language model calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create llm duration histogram", zap.Error(err))
	}

	return &Client{
		model:    model,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:   logger,
		duration: duration,
		backoff:  500 * time.Millisecond,
	}
}

// Complete implements Completer. maxTokens <= 0 uses the configured limit.
func (c *Client) Complete(ctx context.Context, prompt, grounding string, maxTokens int) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "llm.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("model", c.cfg.Model))

	start := time.Now()
	defer func() {
		if c.duration != nil {
			c.duration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("model", c.cfg.Model), attribute.Bool("error", err != nil)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	messages := make([]llms.MessageContent, 0, 2)
	if grounding != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, grounding))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, prompt))

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}

		text, err := c.generate(ctx, messages, maxTokens)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Debug("llm call failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) generate(ctx context.Context, messages []llms.MessageContent, maxTokens int) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.model.GenerateContent(callCtx, messages,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(c.cfg.Temperature),
	)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}

var (
	_ Completer = Disabled{}
	_ Completer = (*Client)(nil)
)
