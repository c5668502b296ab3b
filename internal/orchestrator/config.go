package orchestrator

import "time"

// Config bounds retries and timeouts.
type Config struct {
	DefaultDeadline  time.Duration
	ResearchTimeout  time.Duration
	AnalysisTimeout  time.Duration
	SynthesisTimeout time.Duration

	// MaxRetries counts retries after the first attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// UpstreamShare is the fraction of the remaining deadline one upstream
	// attempt may use.
	UpstreamShare float64

	// DegradeTolerance is the number of degraded upstream dimensions a run
	// may carry into synthesis.
	DegradeTolerance int

	// SynthesisFloor is the least time that must remain on the run deadline
	// for synthesis to start.
	SynthesisFloor time.Duration
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.DefaultDeadline <= 0 {
		c.DefaultDeadline = 2 * time.Minute
	}
	if c.ResearchTimeout <= 0 {
		c.ResearchTimeout = 45 * time.Second
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 30 * time.Second
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 60 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.UpstreamShare <= 0 || c.UpstreamShare > 1 {
		c.UpstreamShare = 0.6
	}
	if c.DegradeTolerance < 0 {
		c.DegradeTolerance = 0
	}
	if c.SynthesisFloor <= 0 {
		c.SynthesisFloor = 250 * time.Millisecond
	}
}

// DefaultConfig returns the defaults with two retries and a degrade
// tolerance of two dimensions.
func DefaultConfig() Config {
	c := Config{MaxRetries: 2, DegradeTolerance: 2}
	c.ApplyDefaults()
	return c
}

func (c Config) backoff(retry int) time.Duration {
	d := c.InitialBackoff << retry
	if d <= 0 || d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}
