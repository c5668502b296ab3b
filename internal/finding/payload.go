package finding

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload is the content of a Finding. The set of variants is closed;
// consumers switch on the concrete type.
type Payload interface {
	Kind() Kind
	Text() string
	isPayload()
}

// Sentiment is an aggregate news sentiment label.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentNeutral Sentiment = "neutral"
	SentimentBearish Sentiment = "bearish"
)

// Valid reports whether s is a known label.
func (s Sentiment) Valid() bool {
	return s == SentimentBullish || s == SentimentNeutral || s == SentimentBearish
}

// Classification methods for NewsSentiment.
const (
	MethodLLM     = "llm"
	MethodLexicon = "lexicon"
)

// NewsSentiment is the aggregate sentiment over recent news.
type NewsSentiment struct {
	Label         Sentiment `json:"label"`
	Score         float64   `json:"score"`
	Explanation   string    `json:"explanation,omitempty"`
	ArticleCount  int       `json:"article_count"`
	VerifiedCount int       `json:"verified_count"`
	Method        string    `json:"method"`
	Headlines     []string  `json:"headlines,omitempty"`
}

func (NewsSentiment) Kind() Kind { return KindNewsSentiment }
func (NewsSentiment) isPayload() {}

func (p NewsSentiment) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "News sentiment %s (score %s) across %d articles.", p.Label, formatFloat(p.Score), p.ArticleCount)
	if p.Explanation != "" {
		b.WriteString(" ")
		b.WriteString(p.Explanation)
	}
	return b.String()
}

// RiskItem is a single risk statement.
type RiskItem struct {
	Statement string `json:"statement"`
	Source    string `json:"source,omitempty"`
}

func (RiskItem) Kind() Kind      { return KindRiskItem }
func (RiskItem) isPayload()      {}
func (p RiskItem) Text() string { return "Risk: " + p.Statement }

// OpportunityItem is a single opportunity statement.
type OpportunityItem struct {
	Statement string `json:"statement"`
	Source    string `json:"source,omitempty"`
}

func (OpportunityItem) Kind() Kind      { return KindOpportunityItem }
func (OpportunityItem) isPayload()      {}
func (p OpportunityItem) Text() string { return "Opportunity: " + p.Statement }

// Metric is a computed quantitative indicator. When Unavailable is set,
// Value is meaningless and Reason explains why.
type Metric struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit,omitempty"`
	Assessment  string  `json:"assessment,omitempty"`
	Unavailable bool    `json:"unavailable,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// Available reports whether the metric carries a value.
func (m Metric) Available() bool { return !m.Unavailable }

// Display renders the value with its unit, or "n/a" when unavailable.
func (m Metric) Display() string {
	if m.Unavailable {
		return "n/a"
	}
	switch m.Unit {
	case "%":
		return formatFloat(m.Value*100) + "%"
	case "USD":
		return "$" + formatMoney(m.Value)
	case "x", "":
		return formatFloat(m.Value)
	default:
		return formatFloat(m.Value) + " " + m.Unit
	}
}

func (m Metric) text(category string) string {
	if m.Unavailable {
		return fmt.Sprintf("%s %s unavailable: %s", category, m.Name, m.Reason)
	}
	s := fmt.Sprintf("%s %s = %s", category, m.Name, m.Display())
	if m.Assessment != "" {
		s += " (" + m.Assessment + ")"
	}
	return s
}

// ValuationMetric is a price-relative metric such as P/E.
type ValuationMetric struct{ Metric }

func (ValuationMetric) Kind() Kind      { return KindValuationMetric }
func (ValuationMetric) isPayload()      {}
func (p ValuationMetric) Text() string { return p.text("Valuation") }

// HealthMetric is a balance-sheet or profitability metric.
type HealthMetric struct{ Metric }

func (HealthMetric) Kind() Kind      { return KindHealthMetric }
func (HealthMetric) isPayload()      {}
func (p HealthMetric) Text() string { return p.text("Health") }

// GrowthMetric is a period-over-period change.
type GrowthMetric struct{ Metric }

func (GrowthMetric) Kind() Kind      { return KindGrowthMetric }
func (GrowthMetric) isPayload()      {}
func (p GrowthMetric) Text() string { return p.text("Growth") }

// Risk levels for RiskScore.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// RiskComponent is one weighted input to a RiskScore.
type RiskComponent struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
	Note   string  `json:"note,omitempty"`
}

// RiskScore integrates quantitative and qualitative risk signals on a 0-10 scale.
type RiskScore struct {
	Level      string          `json:"level"`
	Score      float64         `json:"score"`
	Volatility *float64        `json:"volatility,omitempty"`
	Beta       *float64        `json:"beta,omitempty"`
	Components []RiskComponent `json:"components,omitempty"`
	Rationale  string          `json:"rationale,omitempty"`
}

func (RiskScore) Kind() Kind { return KindRiskScore }
func (RiskScore) isPayload() {}

func (p RiskScore) Text() string {
	s := fmt.Sprintf("Risk score %s/10, level %s.", formatFloat(p.Score), p.Level)
	if p.Rationale != "" {
		s += " " + p.Rationale
	}
	return s
}

// NarrativeSection is one rendered report section.
type NarrativeSection struct {
	Section     string   `json:"section"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Unavailable bool     `json:"unavailable,omitempty"`
	Citations   []string `json:"citations,omitempty"`
}

func (NarrativeSection) Kind() Kind      { return KindNarrativeSection }
func (NarrativeSection) isPayload()      {}
func (p NarrativeSection) Text() string { return p.Title + ": " + p.Body }

// DecodePayload decodes raw JSON into the variant for kind.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindNewsSentiment:
		var v NewsSentiment
		err = json.Unmarshal(raw, &v)
		p = v
	case KindRiskItem:
		var v RiskItem
		err = json.Unmarshal(raw, &v)
		p = v
	case KindOpportunityItem:
		var v OpportunityItem
		err = json.Unmarshal(raw, &v)
		p = v
	case KindValuationMetric:
		var v ValuationMetric
		err = json.Unmarshal(raw, &v)
		p = v
	case KindHealthMetric:
		var v HealthMetric
		err = json.Unmarshal(raw, &v)
		p = v
	case KindGrowthMetric:
		var v GrowthMetric
		err = json.Unmarshal(raw, &v)
		p = v
	case KindRiskScore:
		var v RiskScore
		err = json.Unmarshal(raw, &v)
		p = v
	case KindNarrativeSection:
		var v NarrativeSection
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown finding kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s content: %w", kind, err)
	}
	return p, nil
}

// clonePayload copies the slices and pointers of variants that carry them.
func clonePayload(p Payload) Payload {
	switch v := p.(type) {
	case NewsSentiment:
		v.Headlines = cloneSlice(v.Headlines)
		return v
	case RiskScore:
		v.Volatility = cloneFloat(v.Volatility)
		v.Beta = cloneFloat(v.Beta)
		v.Components = cloneSlice(v.Components)
		return v
	case NarrativeSection:
		v.Citations = cloneSlice(v.Citations)
		return v
	default:
		return p
	}
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// MetricOf returns the Metric inside a metric variant.
func MetricOf(p Payload) (Metric, bool) {
	switch v := p.(type) {
	case ValuationMetric:
		return v.Metric, true
	case HealthMetric:
		return v.Metric, true
	case GrowthMetric:
		return v.Metric, true
	default:
		return Metric{}, false
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatMoney(v float64) string {
	switch {
	case v >= 1e12:
		return formatFloat(v/1e12) + "T"
	case v >= 1e9:
		return formatFloat(v/1e9) + "B"
	case v >= 1e6:
		return formatFloat(v/1e6) + "M"
	default:
		return formatFloat(v)
	}
}
