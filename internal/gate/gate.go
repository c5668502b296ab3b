// Package gate validates agent results before their findings are persisted.
//
// A Gate runs its checks in order. The first check that reports an error or
// critical violation rejects the result; warnings are collected and never
// reject.
package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/agents"
	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/memory"
)

// Severity indicates how serious a violation is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ViolationType categorizes violations.
type ViolationType string

const (
	ViolationMissingField    ViolationType = "missing_field"
	ViolationWrongProducer   ViolationType = "wrong_producer"
	ViolationWrongTicker     ViolationType = "wrong_ticker"
	ViolationSectionOrder    ViolationType = "section_order"
	ViolationMissingCitation ViolationType = "missing_citation"
	ViolationOutOfRange      ViolationType = "out_of_range"
	ViolationSignMismatch    ViolationType = "sign_mismatch"
	ViolationTooLong         ViolationType = "too_long"
	ViolationLargeDelta      ViolationType = "large_delta"
)

// Violation is one problem found in a result.
type Violation struct {
	Type        ViolationType    `json:"type"`
	Agent       finding.Producer `json:"agent"`
	Check       string           `json:"check"`
	Description string           `json:"description"`
	Severity    Severity         `json:"severity"`
	DetectedAt  time.Time        `json:"detected_at"`
}

func (v Violation) blocking() bool {
	return v.Severity == SeverityError || v.Severity == SeverityCritical
}

// Verdict is the outcome of validating one result.
type Verdict struct {
	Accepted bool        `json:"accepted"`
	Reason   string      `json:"reason,omitempty"`
	Warnings []Violation `json:"warnings,omitempty"`

	// Violations holds the blocking violations behind a rejection.
	Violations []Violation `json:"violations,omitempty"`
}

// Input is what a check inspects.
type Input struct {
	Ticker string
	Result *agents.Result
}

// Check is one validation step.
type Check interface {
	Name() string
	Check(ctx context.Context, in Input) ([]Violation, error)
}

// Config tunes the cross-check against prior findings.
type Config struct {
	// DeltaThreshold is the relative change in a metric that draws a warning.
	DeltaThreshold float64 `koanf:"delta_threshold"`

	// SentimentDelta is the absolute change in sentiment score that draws a warning.
	SentimentDelta float64 `koanf:"sentiment_delta"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.DeltaThreshold <= 0 {
		c.DeltaThreshold = 0.5
	}
	if c.SentimentDelta <= 0 {
		c.SentimentDelta = 8
	}
}

// Gate is the quality gate.
type Gate struct {
	checks []Check
	logger *zap.Logger
	now    func() time.Time
}

// New creates a gate with the mandatory, sanity and delta checks. mem may
// be nil, which disables the delta check.
func New(cfg Config, mem memory.Store, logger *zap.Logger) *Gate {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	checks := []Check{NewMandatoryCheck(), NewSanityCheck()}
	if mem != nil {
		checks = append(checks, NewDeltaCheck(mem, cfg))
	}
	return NewWithChecks(logger, checks...)
}

// NewWithChecks creates a gate running checks in the given order.
func NewWithChecks(logger *zap.Logger, checks ...Check) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{checks: checks, logger: logger, now: time.Now}
}

// Validate runs every check against result. An error means a check could
// not run, typically a memory store read failure.
func (g *Gate) Validate(ctx context.Context, ticker string, result *agents.Result) (Verdict, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if result == nil {
		v := Verdict{Reason: "no result to validate"}
		recordVerdict("", v)
		return v, nil
	}
	in := Input{Ticker: ticker, Result: result}

	var verdict Verdict
	for _, check := range g.checks {
		violations, err := check.Check(ctx, in)
		if err != nil {
			return Verdict{}, fmt.Errorf("gate check %s: %w", check.Name(), err)
		}
		var blocking []Violation
		for _, v := range violations {
			v.Agent = result.Agent
			v.Check = check.Name()
			if v.DetectedAt.IsZero() {
				v.DetectedAt = g.now()
			}
			recordViolation(v)
			if v.blocking() {
				blocking = append(blocking, v)
				continue
			}
			verdict.Warnings = append(verdict.Warnings, v)
		}
		if len(blocking) > 0 {
			verdict.Violations = blocking
			verdict.Reason = describeViolations(blocking)
			recordVerdict(result.Agent, verdict)
			g.logger.Info("gate rejected result",
				zap.String("agent", string(result.Agent)),
				zap.String("ticker", ticker),
				zap.String("check", check.Name()),
				zap.String("reason", verdict.Reason))
			return verdict, nil
		}
	}

	verdict.Accepted = true
	recordVerdict(result.Agent, verdict)
	if len(verdict.Warnings) > 0 {
		g.logger.Info("gate accepted result with warnings",
			zap.String("agent", string(result.Agent)),
			zap.String("ticker", ticker),
			zap.Int("warnings", len(verdict.Warnings)))
	}
	return verdict, nil
}

func describeViolations(violations []Violation) string {
	if len(violations) == 0 {
		return ""
	}
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, fmt.Sprintf("[%s] %s", v.Type, v.Description))
	}
	return strings.Join(parts, "; ")
}

func violation(t ViolationType, sev Severity, format string, args ...any) Violation {
	return Violation{Type: t, Severity: sev, Description: fmt.Sprintf(format, args...)}
}
