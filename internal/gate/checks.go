package gate

import (
	"context"
	"math"
	"strings"

	"github.com/fyrsmithlabs/finsight/internal/agents"
	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/memory"
	"github.com/fyrsmithlabs/finsight/internal/report"
)

// MandatoryCheck verifies required fields for each payload shape.
type MandatoryCheck struct{}

// NewMandatoryCheck creates the mandatory field check.
func NewMandatoryCheck() *MandatoryCheck { return &MandatoryCheck{} }

// Name returns the check identifier.
func (c *MandatoryCheck) Name() string { return "mandatory-fields" }

// Check implements Check.
func (c *MandatoryCheck) Check(_ context.Context, in Input) ([]Violation, error) {
	var out []Violation
	res := in.Result

	for _, f := range res.Findings {
		if f.Ticker != in.Ticker {
			out = append(out, violation(ViolationWrongTicker, SeverityCritical,
				"finding %s/%s is for %q, not %q", f.Producer, f.Kind, f.Ticker, in.Ticker))
		}
		if f.Producer != res.Agent {
			out = append(out, violation(ViolationWrongProducer, SeverityCritical,
				"finding %s was produced by %q, not %q", f.Kind, f.Producer, res.Agent))
		}
		if err := f.Validate(); err != nil {
			out = append(out, violation(ViolationMissingField, SeverityError, "%v", err))
		}
	}

	switch p := res.Payload.(type) {
	case *agents.ResearchOutput:
		out = append(out, researchFields(p, res.Findings)...)
	case *agents.AnalysisOutput:
		out = append(out, analysisFields(p, res.Findings)...)
	case *agents.SynthesisOutput:
		out = append(out, synthesisFields(p)...)
	case nil:
		out = append(out, violation(ViolationMissingField, SeverityCritical, "result has no payload"))
	}
	if res.Payload != nil && producerOf(res.Payload) != res.Agent {
		out = append(out, violation(ViolationWrongProducer, SeverityCritical,
			"%s result carries a %s payload", res.Agent, producerOf(res.Payload)))
	}
	return out, nil
}

func producerOf(p agents.Output) finding.Producer {
	switch p.(type) {
	case *agents.ResearchOutput:
		return finding.ProducerResearch
	case *agents.AnalysisOutput:
		return finding.ProducerAnalysis
	case *agents.SynthesisOutput:
		return finding.ProducerSynthesis
	default:
		return ""
	}
}

func researchFields(p *agents.ResearchOutput, findings []finding.Finding) []Violation {
	var out []Violation
	if p.Sentiment.Label == "" || !p.Sentiment.Label.Valid() {
		out = append(out, violation(ViolationMissingField, SeverityError, "sentiment label %q is not bullish, neutral or bearish", p.Sentiment.Label))
	}
	if len(finding.OfKind(findings, finding.KindNewsSentiment)) != 1 {
		out = append(out, violation(ViolationMissingField, SeverityError, "expected exactly one news_sentiment finding"))
	}
	if p.Sentiment.Method == "" {
		out = append(out, violation(ViolationMissingField, SeverityWarning, "sentiment method not recorded"))
	}
	return out
}

func analysisFields(p *agents.AnalysisOutput, findings []finding.Finding) []Violation {
	var out []Violation
	if strings.TrimSpace(p.Quote.CompanyName) == "" {
		out = append(out, violation(ViolationMissingField, SeverityError, "company name is empty"))
	}
	if m, ok := p.Metric(agents.MetricPrice); !ok || m.Unavailable {
		out = append(out, violation(ViolationMissingField, SeverityError, "price is unavailable"))
	}
	if len(finding.OfKind(findings, finding.KindRiskScore)) != 1 {
		out = append(out, violation(ViolationMissingField, SeverityError, "expected exactly one risk_score finding"))
	}
	if p.Risk.Level == "" {
		out = append(out, violation(ViolationMissingField, SeverityError, "risk level is empty"))
	}
	for _, m := range p.Metrics() {
		if m.Unavailable && strings.TrimSpace(m.Reason) == "" {
			out = append(out, violation(ViolationMissingField, SeverityError, "metric %s is unavailable without a reason", m.Name))
		}
	}
	return out
}

func synthesisFields(p *agents.SynthesisOutput) []Violation {
	var out []Violation
	want := report.Sections()
	got := p.Report.Sections
	if len(got) != len(want) {
		return append(out, violation(ViolationSectionOrder, SeverityError, "report has %d sections, want %d", len(got), len(want)))
	}
	for i, s := range got {
		if s.Name != want[i] {
			out = append(out, violation(ViolationSectionOrder, SeverityError, "section %d is %s, want %s", i+1, s.Name, want[i]))
			continue
		}
		if strings.TrimSpace(s.Body) == "" {
			out = append(out, violation(ViolationMissingField, SeverityError, "section %s has an empty body", s.Name))
		}
		if !s.Unavailable && len(s.Citations) == 0 {
			out = append(out, violation(ViolationMissingCitation, SeverityError, "section %s cites no findings", s.Name))
		}
		if s.Unavailable && strings.TrimSpace(s.Reason) == "" {
			out = append(out, violation(ViolationMissingField, SeverityError, "section %s is unavailable without a reason", s.Name))
		}
	}
	return out
}

// SanityCheck verifies numeric ranges.
type SanityCheck struct{}

// NewSanityCheck creates the numeric sanity check.
func NewSanityCheck() *SanityCheck { return &SanityCheck{} }

// Name returns the check identifier.
func (c *SanityCheck) Name() string { return "numeric-sanity" }

type bounds struct{ lo, hi float64 }

// Fractions; rendered as percentages.
var metricBounds = map[string]bounds{
	agents.MetricRevenueGrowth:  {-1, 10},
	agents.MetricEarningsGrowth: {-1, 10},
	agents.MetricAverageGrowth:  {-1, 10},
	agents.MetricROE:            {-5, 5},
	agents.MetricDividendYield:  {0, 1},
	agents.MetricNetMargin:      {-10, 1},
}

// Check implements Check.
func (c *SanityCheck) Check(_ context.Context, in Input) ([]Violation, error) {
	var out []Violation
	switch p := in.Result.Payload.(type) {
	case *agents.ResearchOutput:
		out = append(out, sentimentSanity(p.Sentiment)...)
	case *agents.AnalysisOutput:
		out = append(out, analysisSanity(p)...)
	case *agents.SynthesisOutput:
		if s, ok := p.Report.Section(report.SectionExecutiveSummary); ok {
			if n := report.WordCount(s.Body); n > report.MaxSummaryWords {
				out = append(out, violation(ViolationTooLong, SeverityError,
					"executive summary has %d words, limit is %d", n, report.MaxSummaryWords))
			}
		}
	}
	return out, nil
}

func sentimentSanity(s finding.NewsSentiment) []Violation {
	var out []Violation
	if !finite(s.Score) || s.Score < -10 || s.Score > 10 {
		out = append(out, violation(ViolationOutOfRange, SeverityError, "sentiment score %v outside [-10, 10]", s.Score))
	}
	switch {
	case s.Label == finding.SentimentBullish && s.Score < 0:
		out = append(out, violation(ViolationSignMismatch, SeverityError, "bullish label with negative score %v", s.Score))
	case s.Label == finding.SentimentBearish && s.Score > 0:
		out = append(out, violation(ViolationSignMismatch, SeverityError, "bearish label with positive score %v", s.Score))
	}
	if s.VerifiedCount > s.ArticleCount || s.ArticleCount < 0 {
		out = append(out, violation(ViolationOutOfRange, SeverityError,
			"%d verified of %d articles", s.VerifiedCount, s.ArticleCount))
	}
	return out
}

func analysisSanity(p *agents.AnalysisOutput) []Violation {
	var out []Violation
	for _, m := range p.Metrics() {
		if m.Unavailable {
			continue
		}
		if !finite(m.Value) {
			out = append(out, violation(ViolationOutOfRange, SeverityError, "%s is not finite", m.Name))
			continue
		}
		if m.Name == agents.MetricPrice && m.Value <= 0 {
			out = append(out, violation(ViolationOutOfRange, SeverityError, "price %v is not positive", m.Value))
		}
		if m.Unit == "x" && m.Value < 0 {
			out = append(out, violation(ViolationOutOfRange, SeverityError, "ratio %s is negative (%v)", m.Name, m.Value))
		}
		if b, ok := metricBounds[m.Name]; ok && (m.Value < b.lo || m.Value > b.hi) {
			out = append(out, violation(ViolationOutOfRange, SeverityError,
				"%s %s outside [%v%%, %v%%]", m.Name, m.Display(), b.lo*100, b.hi*100))
		}
	}
	if v := p.Risk.Volatility; v != nil && (!finite(*v) || *v < 0 || *v > 300) {
		out = append(out, violation(ViolationOutOfRange, SeverityError, "volatility %v outside [0, 300]", *v))
	}
	if !finite(p.Risk.Score) || p.Risk.Score < 0 || p.Risk.Score > 10 {
		out = append(out, violation(ViolationOutOfRange, SeverityError, "risk score %v outside [0, 10]", p.Risk.Score))
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// DeltaCheck compares a result with the most recent prior finding of the
// same kind for the ticker. Large swings are warnings only.
type DeltaCheck struct {
	mem memory.Store
	cfg Config
}

// NewDeltaCheck creates the cross-check against prior findings.
func NewDeltaCheck(mem memory.Store, cfg Config) *DeltaCheck {
	cfg.ApplyDefaults()
	return &DeltaCheck{mem: mem, cfg: cfg}
}

// Name returns the check identifier.
func (c *DeltaCheck) Name() string { return "prior-delta" }

// Check implements Check.
func (c *DeltaCheck) Check(ctx context.Context, in Input) ([]Violation, error) {
	if in.Result.Agent == finding.ProducerSynthesis {
		return nil, nil
	}
	prior, err := c.mem.GetByTicker(ctx, in.Ticker)
	if err != nil {
		return nil, err
	}
	if len(prior) == 0 {
		return nil, nil
	}

	latest := latestByKey(prior)
	var out []Violation
	for _, f := range in.Result.Findings {
		old, ok := latest[keyOf(f)]
		if !ok {
			continue
		}
		switch cur := f.Content.(type) {
		case finding.NewsSentiment:
			prev := old.Content.(finding.NewsSentiment)
			if d := math.Abs(cur.Score - prev.Score); d > c.cfg.SentimentDelta {
				out = append(out, violation(ViolationLargeDelta, SeverityWarning,
					"sentiment score moved %.1f points since %s (from %.1f to %.1f)",
					d, old.CreatedAt.Format("2006-01-02"), prev.Score, cur.Score))
			}
		case finding.RiskScore:
			prev := old.Content.(finding.RiskScore)
			if rel, ok := relDelta(prev.Score, cur.Score); ok && rel > c.cfg.DeltaThreshold {
				out = append(out, violation(ViolationLargeDelta, SeverityWarning,
					"risk score changed %.0f%% (from %.1f to %.1f)", rel*100, prev.Score, cur.Score))
			}
		default:
			m, ok := finding.MetricOf(cur)
			if !ok || m.Unavailable {
				continue
			}
			pm, _ := finding.MetricOf(old.Content)
			if rel, ok := relDelta(pm.Value, m.Value); ok && rel > c.cfg.DeltaThreshold {
				out = append(out, violation(ViolationLargeDelta, SeverityWarning,
					"%s changed %.0f%% (from %s to %s)", m.Name, rel*100, pm.Display(), m.Display()))
			}
		}
	}
	return out, nil
}

type deltaKey struct {
	kind finding.Kind
	name string
}

func keyOf(f finding.Finding) deltaKey {
	k := deltaKey{kind: f.Kind}
	if m, ok := finding.MetricOf(f.Content); ok {
		k.name = m.Name
	}
	return k
}

// latestByKey keeps the newest comparable finding per kind and metric name.
func latestByKey(findings []finding.Finding) map[deltaKey]finding.Finding {
	out := make(map[deltaKey]finding.Finding)
	for _, f := range findings {
		switch f.Kind {
		case finding.KindNewsSentiment, finding.KindRiskScore:
		case finding.KindValuationMetric, finding.KindHealthMetric, finding.KindGrowthMetric:
			if m, _ := finding.MetricOf(f.Content); m.Unavailable {
				continue
			}
		default:
			continue
		}
		k := keyOf(f)
		if cur, ok := out[k]; !ok || f.CreatedAt.After(cur.CreatedAt) {
			out[k] = f
		}
	}
	return out
}

func relDelta(prev, cur float64) (float64, bool) {
	if prev == 0 || !finite(prev) || !finite(cur) {
		return 0, false
	}
	return math.Abs(cur-prev) / math.Abs(prev), true
}

var (
	_ Check = (*MandatoryCheck)(nil)
	_ Check = (*SanityCheck)(nil)
	_ Check = (*DeltaCheck)(nil)
)
