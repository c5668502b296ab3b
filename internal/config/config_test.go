package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, "chromem", cfg.Memory.Backend)
	assert.Equal(t, []string{"fixture"}, cfg.News.Providers)
	assert.Equal(t, cfg.MarketData.FixturePath, cfg.News.FixturePath)
	assert.Equal(t, 2, cfg.Orchestrator.DegradeTolerance)
	assert.Equal(t, time.Hour, cfg.Runs.Retention.Duration())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"unknown backend", func(c *Config) { c.Memory.Backend = "redis" }, "memory.backend"},
		{"qdrant without host", func(c *Config) {
			c.Memory.Backend = "qdrant"
			c.Memory.Qdrant.Host = ""
		}, "memory.qdrant"},
		{"unknown embedder", func(c *Config) { c.Embeddings.Provider = "onnx" }, "embeddings.provider"},
		{"unknown llm", func(c *Config) { c.LLM.Provider = "anthropic" }, "llm.provider"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"fmp without key", func(c *Config) { c.MarketData.Provider = "fmp" }, "market_data.api_key"},
		{"tavily without key", func(c *Config) { c.News.Providers = []string{"tavily"} }, "news.tavily.api_key"},
		{"unknown news", func(c *Config) { c.News.Providers = []string{"bing"} }, "unknown news provider"},
		{"no news", func(c *Config) { c.News.Providers = nil }, "news.providers"},
		{"tolerance", func(c *Config) { c.Orchestrator.DegradeTolerance = 3 }, "degrade_tolerance"},
		{"share", func(c *Config) { c.Orchestrator.UpstreamShare = 1.5 }, "upstream_share"},
		{"backoff order", func(c *Config) { c.Orchestrator.InitialBackoff = Duration(time.Minute) }, "initial_backoff"},
		{"sentiment delta", func(c *Config) { c.Gate.SentimentDelta = 25 }, "gate.sentiment_delta"},
		{"events url", func(c *Config) {
			c.Events.Enabled = true
			c.Events.URL = ""
		}, "events.url"},
		{"wildcard prefix", func(c *Config) { c.Events.SubjectPrefix = "runs.>" }, "subject_prefix"},
		{"telemetry", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "telemetry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Memory.Backend = "redis"
	cfg.LLM.Provider = "anthropic"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory.backend")
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestApplyDefaults_NormalizesCase(t *testing.T) {
	cfg := Default()
	cfg.Memory.Backend = "Qdrant"
	cfg.News.Providers = []string{" Fixture "}
	cfg.Runs.MaxConcurrent = 0
	cfg.ApplyDefaults()

	assert.Equal(t, "qdrant", cfg.Memory.Backend)
	assert.Equal(t, []string{"fixture"}, cfg.News.Providers)
	assert.Equal(t, 4, cfg.Runs.MaxConcurrent)
}

func TestSecret_Redacts(t *testing.T) {
	s := Secret("tvly-abcdef1234")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "tvly-abcdef1234", s.Value())
	assert.True(t, s.IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))

	assert.Empty(t, Secret("").String())
	assert.False(t, strings.Contains(Secret("x").GoString(), "x"))
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	b, err := Duration(2 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(b))
}
