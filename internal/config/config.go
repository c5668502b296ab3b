// Package config loads finsight configuration.
//
// Values come from three layers, highest first:
//  1. FINSIGHT_ environment variables, with "__" separating sections
//     (FINSIGHT_LLM__API_KEY sets llm.api_key)
//  2. a YAML file
//  3. built-in defaults
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/finsight/internal/gate"
	"github.com/fyrsmithlabs/finsight/internal/logging"
	"github.com/fyrsmithlabs/finsight/internal/telemetry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      logging.Config     `koanf:"logging"`
	Telemetry    telemetry.Config   `koanf:"telemetry"`
	Memory       MemoryConfig       `koanf:"memory"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	LLM          LLMConfig          `koanf:"llm"`
	MarketData   MarketDataConfig   `koanf:"market_data"`
	News         NewsConfig         `koanf:"news"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Gate         gate.Config        `koanf:"gate"`
	Events       EventsConfig       `koanf:"events"`
	Runs         RunsConfig         `koanf:"runs"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string   `koanf:"host"`
	Port              int      `koanf:"port"`
	ReadHeaderTimeout Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   Duration `koanf:"shutdown_timeout"`

	// MaxWait caps how long GET /runs/:id?wait=true may block.
	MaxWait Duration `koanf:"max_wait"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MemoryConfig selects the finding store backend.
type MemoryConfig struct {
	// Backend is chromem or qdrant.
	Backend string `koanf:"backend"`

	// Path persists chromem to disk. Empty keeps it in memory.
	Path       string       `koanf:"path"`
	Compress   bool         `koanf:"compress"`
	Collection string       `koanf:"collection"`
	Qdrant     QdrantConfig `koanf:"qdrant"`
}

// QdrantConfig addresses a Qdrant server.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// EmbeddingsConfig selects the embedder.
type EmbeddingsConfig struct {
	// Provider is hash, tei or openai.
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	Dimension int    `koanf:"dimension"`
	APIKey    Secret `koanf:"api_key"`
}

// LLMConfig configures the language model used by the agents.
type LLMConfig struct {
	// Provider is openai or none.
	Provider          string   `koanf:"provider"`
	Model             string   `koanf:"model"`
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	Temperature       float64  `koanf:"temperature"`
	MaxTokens         int      `koanf:"max_tokens"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
	MaxRetries        int      `koanf:"max_retries"`
	Timeout           Duration `koanf:"timeout"`
}

// MarketDataConfig selects the quote and financials source.
type MarketDataConfig struct {
	// Provider is fmp or fixture.
	Provider    string   `koanf:"provider"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	FixturePath string   `koanf:"fixture_path"`
	Watch       bool     `koanf:"watch"`
	Timeout     Duration `koanf:"timeout"`
}

// NewsConfig configures the news search chain.
type NewsConfig struct {
	// Providers are tried in order: tavily, serpapi, fixture.
	Providers []string      `koanf:"providers"`
	Tavily    NewsAPIConfig `koanf:"tavily"`
	SerpAPI   NewsAPIConfig `koanf:"serpapi"`
	Limit     int           `koanf:"limit"`
	Timeout   Duration      `koanf:"timeout"`

	// FixturePath defaults to market_data.fixture_path.
	FixturePath string `koanf:"fixture_path"`
}

// NewsAPIConfig holds one search API's credentials.
type NewsAPIConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`
}

// OrchestratorConfig bounds run timing and degradation.
type OrchestratorConfig struct {
	DefaultDeadline  Duration `koanf:"default_deadline"`
	ResearchTimeout  Duration `koanf:"research_timeout"`
	AnalysisTimeout  Duration `koanf:"analysis_timeout"`
	SynthesisTimeout Duration `koanf:"synthesis_timeout"`
	MaxRetries       int      `koanf:"max_retries"`
	InitialBackoff   Duration `koanf:"initial_backoff"`
	MaxBackoff       Duration `koanf:"max_backoff"`
	UpstreamShare    float64  `koanf:"upstream_share"`
	DegradeTolerance int      `koanf:"degrade_tolerance"`
	SynthesisFloor   Duration `koanf:"synthesis_floor"`
}

// EventsConfig configures NATS run events.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Name          string `koanf:"name"`
}

// RunsConfig configures the run registry.
type RunsConfig struct {
	Retention     Duration `koanf:"retention"`
	MaxConcurrent int      `koanf:"max_concurrent"`
}

// Default returns the built-in configuration. It runs fully offline: the
// fixture dataset for market data and news, the hash embedder, in-memory
// chromem and no language model.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			ReadHeaderTimeout: Duration(10 * time.Second),
			ShutdownTimeout:   Duration(10 * time.Second),
			MaxWait:           Duration(5 * time.Minute),
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Memory: MemoryConfig{
			Backend:    "chromem",
			Compress:   true,
			Collection: "finsight_findings",
			Qdrant:     QdrantConfig{Host: "localhost", Port: 6334},
		},
		Embeddings: EmbeddingsConfig{Provider: "hash", Dimension: 256},
		LLM: LLMConfig{
			Provider:          "none",
			Model:             "gpt-4o-mini",
			Temperature:       0.2,
			MaxTokens:         512,
			RequestsPerSecond: 2,
			Burst:             1,
			MaxRetries:        2,
			Timeout:           Duration(30 * time.Second),
		},
		MarketData: MarketDataConfig{
			Provider:    "fixture",
			FixturePath: "fixtures/securities.yaml",
			Timeout:     Duration(10 * time.Second),
		},
		News: NewsConfig{
			Providers: []string{"fixture"},
			Limit:     10,
			Timeout:   Duration(10 * time.Second),
		},
		Orchestrator: OrchestratorConfig{
			DefaultDeadline:  Duration(2 * time.Minute),
			ResearchTimeout:  Duration(45 * time.Second),
			AnalysisTimeout:  Duration(30 * time.Second),
			SynthesisTimeout: Duration(60 * time.Second),
			MaxRetries:       2,
			InitialBackoff:   Duration(500 * time.Millisecond),
			MaxBackoff:       Duration(5 * time.Second),
			UpstreamShare:    0.6,
			DegradeTolerance: 2,
			SynthesisFloor:   Duration(250 * time.Millisecond),
		},
		Gate: gate.Config{DeltaThreshold: 0.5, SentimentDelta: 8},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "finsight.runs",
			Name:          "finsight",
		},
		Runs: RunsConfig{
			Retention:     Duration(time.Hour),
			MaxConcurrent: 4,
		},
	}
}

// ApplyDefaults fills values a file or environment left empty where empty
// is not meaningful.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	c.Memory.Backend = strings.ToLower(c.Memory.Backend)
	if c.Memory.Backend == "" {
		c.Memory.Backend = d.Memory.Backend
	}
	if c.Memory.Collection == "" {
		c.Memory.Collection = d.Memory.Collection
	}
	c.Embeddings.Provider = strings.ToLower(c.Embeddings.Provider)
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	c.MarketData.Provider = strings.ToLower(c.MarketData.Provider)
	for i, p := range c.News.Providers {
		c.News.Providers[i] = strings.ToLower(strings.TrimSpace(p))
	}
	if c.News.Limit <= 0 {
		c.News.Limit = d.News.Limit
	}
	if c.News.FixturePath == "" {
		c.News.FixturePath = c.MarketData.FixturePath
	}
	c.Gate.ApplyDefaults()
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = d.Events.SubjectPrefix
	}
	if c.Runs.Retention == 0 {
		c.Runs.Retention = d.Runs.Retention
	}
	if c.Runs.MaxConcurrent <= 0 {
		c.Runs.MaxConcurrent = d.Runs.MaxConcurrent
	}
}

// Validate checks the configuration. Every error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		add("logging: %v", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		add("telemetry: %v", err)
	}

	switch c.Memory.Backend {
	case "chromem":
	case "qdrant":
		if c.Memory.Qdrant.Host == "" || c.Memory.Qdrant.Port <= 0 {
			add("memory.qdrant host and port are required for the qdrant backend")
		}
	default:
		add("memory.backend must be chromem or qdrant, got %q", c.Memory.Backend)
	}

	switch c.Embeddings.Provider {
	case "hash", "tei", "openai":
	default:
		add("embeddings.provider must be hash, tei or openai, got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension < 0 {
		add("embeddings.dimension must be positive")
	}

	switch c.LLM.Provider {
	case "", "none", "openai":
	default:
		add("llm.provider must be openai or none, got %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature must be in [0, 2], got %v", c.LLM.Temperature)
	}

	switch c.MarketData.Provider {
	case "fmp":
		if !c.MarketData.APIKey.IsSet() {
			add("market_data.api_key is required for the fmp provider")
		}
	case "fixture":
		if c.MarketData.FixturePath == "" {
			add("market_data.fixture_path is required for the fixture provider")
		}
	default:
		add("market_data.provider must be fmp or fixture, got %q", c.MarketData.Provider)
	}

	if len(c.News.Providers) == 0 {
		add("news.providers must name at least one provider")
	}
	for _, p := range c.News.Providers {
		switch p {
		case "tavily":
			if !c.News.Tavily.APIKey.IsSet() {
				add("news.tavily.api_key is required when tavily is listed")
			}
		case "serpapi":
			if !c.News.SerpAPI.APIKey.IsSet() {
				add("news.serpapi.api_key is required when serpapi is listed")
			}
		case "fixture":
			if c.News.FixturePath == "" {
				add("news.fixture_path is required when fixture is listed")
			}
		default:
			add("unknown news provider %q", p)
		}
	}

	o := c.Orchestrator
	if o.MaxRetries < 0 {
		add("orchestrator.max_retries must be >= 0")
	}
	if o.DegradeTolerance < 0 || o.DegradeTolerance > 2 {
		add("orchestrator.degrade_tolerance must be 0, 1 or 2")
	}
	if o.UpstreamShare < 0 || o.UpstreamShare > 1 {
		add("orchestrator.upstream_share must be in [0, 1]")
	}
	if o.InitialBackoff > 0 && o.MaxBackoff > 0 && o.InitialBackoff > o.MaxBackoff {
		add("orchestrator.initial_backoff exceeds max_backoff")
	}

	if c.Gate.DeltaThreshold <= 0 {
		add("gate.delta_threshold must be positive")
	}
	if c.Gate.SentimentDelta <= 0 || c.Gate.SentimentDelta > 20 {
		add("gate.sentiment_delta must be in (0, 20]")
	}

	if c.Events.Enabled && c.Events.URL == "" {
		add("events.url is required when events are enabled")
	}
	if strings.ContainsAny(c.Events.SubjectPrefix, " *>") {
		add("events.subject_prefix %q contains wildcard or space", c.Events.SubjectPrefix)
	}
	return errors.Join(errs...)
}
