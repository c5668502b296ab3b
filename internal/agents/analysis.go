package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/memory"
	"github.com/fyrsmithlabs/finsight/internal/providers/marketdata"
)

// Metric names emitted by the analyst.
const (
	MetricPrice          = "price"
	MetricMarketCap      = "market_cap"
	MetricPE             = "pe_ratio"
	MetricForwardPE      = "forward_pe"
	MetricPEG            = "peg_ratio"
	MetricPriceToBook    = "price_to_book"
	MetricDividendYield  = "dividend_yield"
	MetricDebtToEquity   = "debt_to_equity"
	MetricCurrentRatio   = "current_ratio"
	MetricROE            = "roe"
	MetricNetMargin      = "net_margin"
	MetricRevenueGrowth  = "revenue_growth"
	MetricEarningsGrowth = "earnings_growth"
	MetricAverageGrowth  = "average_growth"
	MetricMomentum       = "price_momentum_1y"
)

// AnalysisOutput is the analyst's payload.
type AnalysisOutput struct {
	Quote         marketdata.Quote
	Valuation     []finding.ValuationMetric
	Health        []finding.HealthMetric
	Growth        []finding.GrowthMetric
	Risk          finding.RiskScore
	Risks         []string
	Opportunities []string
}

func (*AnalysisOutput) producer() finding.Producer { return finding.ProducerAnalysis }

// Metric returns the named metric from any category.
func (a *AnalysisOutput) Metric(name string) (finding.Metric, bool) {
	for _, m := range a.Metrics() {
		if m.Name == name {
			return m, true
		}
	}
	return finding.Metric{}, false
}

// Metrics returns every metric in report order.
func (a *AnalysisOutput) Metrics() []finding.Metric {
	out := make([]finding.Metric, 0, len(a.Valuation)+len(a.Health)+len(a.Growth))
	for _, m := range a.Valuation {
		out = append(out, m.Metric)
	}
	for _, m := range a.Health {
		out = append(out, m.Metric)
	}
	for _, m := range a.Growth {
		out = append(out, m.Metric)
	}
	return out
}

// Analyst computes ratios, growth and a risk score from raw market data.
// It is deterministic: identical inputs yield identical findings.
type Analyst struct {
	provider marketdata.Provider
	logger   *zap.Logger
}

// NewAnalyst creates the financial analyst agent.
func NewAnalyst(provider marketdata.Provider, logger *zap.Logger) *Analyst {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyst{provider: provider, logger: logger}
}

// Name implements Agent.
func (a *Analyst) Name() finding.Producer { return finding.ProducerAnalysis }

// Execute implements Agent.
func (a *Analyst) Execute(ctx context.Context, ticker string, hints Hints, _ memory.Store) (*Result, error) {
	quote, err := a.provider.GetQuote(ctx, ticker)
	if err != nil {
		if errors.Is(err, marketdata.ErrNotFound) {
			return nil, fmt.Errorf("%w: no quote for %s", finding.ErrDataUnavailable, ticker)
		}
		return nil, fmt.Errorf("fetching quote: %w", err)
	}

	fin, err := a.provider.GetFinancials(ctx, ticker)
	finReason := ""
	if err != nil {
		if !errors.Is(err, marketdata.ErrNotFound) {
			return nil, fmt.Errorf("fetching financials: %w", err)
		}
		// Statements missing leaves statement-derived metrics unavailable.
		finReason = "financial statements unavailable"
		fin = marketdata.Financials{}
	}

	out := Analyze(quote, fin, finReason)

	findings := make([]finding.Finding, 0, 20)
	add := func(p finding.Payload) {
		findings = append(findings, finding.New(ticker, finding.ProducerAnalysis, hints.RunID, p))
	}
	for _, m := range out.Valuation {
		add(m)
	}
	for _, m := range out.Health {
		add(m)
	}
	for _, m := range out.Growth {
		add(m)
	}
	add(out.Risk)
	for _, s := range out.Risks {
		add(finding.RiskItem{Statement: s, Source: "analysis"})
	}
	for _, s := range out.Opportunities {
		add(finding.OpportunityItem{Statement: s, Source: "analysis"})
	}

	a.logger.Debug("analysis complete",
		zap.String("ticker", ticker),
		zap.String("risk_level", out.Risk.Level),
		zap.Float64("risk_score", out.Risk.Score),
		zap.Int("findings", len(findings)))

	return &Result{Agent: finding.ProducerAnalysis, Payload: out, Findings: findings}, nil
}

// Analyze derives every metric from quote and fin. missingReason, when set,
// is the reason given for metrics that need statement fields that are nil.
func Analyze(q marketdata.Quote, fin marketdata.Financials, missingReason string) *AnalysisOutput {
	c := calc{missing: missingReason}
	out := &AnalysisOutput{Quote: q}

	price := q.Price
	shares := q.SharesOutstanding
	growthE := c.growth(fin.NetIncome, fin.PriorNetIncome, "net income")

	// Valuation
	priceM := finding.Metric{Name: MetricPrice, Value: price, Unit: "USD"}
	if price <= 0 {
		priceM = unavailable(MetricPrice, "USD", "non-positive price")
	}

	var mcap finding.Metric
	switch {
	case q.MarketCap != nil && *q.MarketCap > 0:
		mcap = finding.Metric{Name: MetricMarketCap, Value: *q.MarketCap, Unit: "USD"}
	case shares != nil && *shares > 0 && price > 0:
		mcap = finding.Metric{Name: MetricMarketCap, Value: price * *shares, Unit: "USD"}
	default:
		mcap = unavailable(MetricMarketCap, "USD", "market cap and shares outstanding not reported")
	}

	pe := c.ratio(MetricPE, "x", &price, fin.TrailingEPS, "trailing EPS")
	pe.Assessment = assessPE(pe)
	fpe := c.ratio(MetricForwardPE, "x", &price, fin.ForwardEPS, "forward EPS")
	fpe.Assessment = assessPE(fpe)

	var peg finding.Metric
	switch {
	case pe.Unavailable:
		peg = unavailable(MetricPEG, "x", "P/E unavailable: "+pe.Reason)
	case growthE.Unavailable:
		peg = unavailable(MetricPEG, "x", "earnings growth unavailable: "+growthE.Reason)
	case growthE.Value <= 0:
		peg = unavailable(MetricPEG, "x", "non-positive earnings growth")
	default:
		peg = finding.Metric{Name: MetricPEG, Value: pe.Value / (growthE.Value * 100), Unit: "x"}
		peg.Assessment = threshold(peg.Value, []float64{1, 2}, []string{"Attractive", "Reasonable", "Expensive"})
	}

	var pb finding.Metric
	switch {
	case fin.TotalEquity == nil:
		pb = unavailable(MetricPriceToBook, "x", c.reason("total equity"))
	case shares == nil || *shares <= 0:
		pb = unavailable(MetricPriceToBook, "x", "shares outstanding not reported")
	case *fin.TotalEquity <= 0:
		pb = unavailable(MetricPriceToBook, "x", "non-positive book value")
	default:
		bvps := *fin.TotalEquity / *shares
		pb = finding.Metric{Name: MetricPriceToBook, Value: price / bvps, Unit: "x"}
	}

	dy := c.ratio(MetricDividendYield, "%", fin.DividendPerShare, &price, "price")
	if fin.DividendPerShare == nil {
		dy = unavailable(MetricDividendYield, "%", c.reason("dividend per share"))
	}

	for _, m := range []finding.Metric{priceM, mcap, pe, fpe, peg, pb, dy} {
		out.Valuation = append(out.Valuation, finding.ValuationMetric{Metric: m})
	}

	// Health
	de := c.ratio(MetricDebtToEquity, "x", fin.TotalDebt, fin.TotalEquity, "total equity")
	if !de.Unavailable {
		de.Assessment = threshold(de.Value, []float64{0.5, 1}, []string{"Conservative", "Moderate", "High leverage"})
	}
	cr := c.ratio(MetricCurrentRatio, "x", fin.CurrentAssets, fin.CurrentLiabilities, "current liabilities")
	if !cr.Unavailable {
		cr.Assessment = threshold(cr.Value, []float64{1, 2}, []string{"Weak liquidity", "Adequate", "Strong"})
	}
	roe := c.ratio(MetricROE, "%", fin.NetIncome, fin.TotalEquity, "total equity")
	if !roe.Unavailable {
		roe.Assessment = threshold(roe.Value, []float64{0.10, 0.20}, []string{"Below average", "Good", "Excellent"})
	}
	nm := c.ratio(MetricNetMargin, "%", fin.NetIncome, fin.Revenue, "revenue")

	for _, m := range []finding.Metric{de, cr, roe, nm} {
		out.Health = append(out.Health, finding.HealthMetric{Metric: m})
	}

	// Growth
	growthR := c.growth(fin.Revenue, fin.PriorRevenue, "revenue")
	growthR.Name = MetricRevenueGrowth
	growthE.Name = MetricEarningsGrowth

	var avg finding.Metric
	switch {
	case growthR.Unavailable:
		avg = unavailable(MetricAverageGrowth, "%", "revenue growth unavailable")
	case growthE.Unavailable:
		avg = unavailable(MetricAverageGrowth, "%", "earnings growth unavailable")
	default:
		avg = finding.Metric{Name: MetricAverageGrowth, Value: (growthR.Value + growthE.Value) / 2, Unit: "%"}
		avg.Assessment = assessGrowth(avg.Value)
	}

	mom := unavailable(MetricMomentum, "%", "one-year price history not reported")
	if q.PriceChange1Y != nil {
		mom = finding.Metric{Name: MetricMomentum, Value: *q.PriceChange1Y, Unit: "%"}
		mom.Assessment = assessMomentum(mom.Value)
	}

	for _, m := range []finding.Metric{growthR, growthE, avg, mom} {
		out.Growth = append(out.Growth, finding.GrowthMetric{Metric: m})
	}

	out.Risk = riskScore(q, de, cr, growthE)
	out.Risks, out.Opportunities = derivedFactors(pe, peg, de, cr, roe, avg, mom, out.Risk, q.AnalystRecommendation)
	return out
}

type calc struct {
	missing string
}

func (c calc) reason(field string) string {
	if c.missing != "" {
		return c.missing
	}
	return field + " not reported"
}

// ratio computes num/den. A nil or non-positive denominator is unavailable.
func (c calc) ratio(name, unit string, num, den *float64, denName string) finding.Metric {
	switch {
	case den == nil:
		return unavailable(name, unit, c.reason(denName))
	case num == nil:
		return unavailable(name, unit, c.reason("numerator"))
	case *den <= 0:
		return unavailable(name, unit, "non-positive "+denName)
	}
	return finding.Metric{Name: name, Value: *num / *den, Unit: unit}
}

// growth computes (cur-prior)/prior as a fraction.
func (c calc) growth(cur, prior *float64, field string) finding.Metric {
	switch {
	case cur == nil:
		return unavailable("", "%", c.reason(field))
	case prior == nil:
		return unavailable("", "%", c.reason("prior-period "+field))
	case *prior <= 0:
		return unavailable("", "%", "non-positive prior-period "+field)
	}
	return finding.Metric{Value: (*cur - *prior) / *prior, Unit: "%"}
}

func unavailable(name, unit, reason string) finding.Metric {
	return finding.Metric{Name: name, Unit: unit, Unavailable: true, Reason: reason}
}

func threshold(v float64, bounds []float64, labels []string) string {
	for i, b := range bounds {
		if v < b {
			return labels[i]
		}
	}
	return labels[len(labels)-1]
}

func assessPE(m finding.Metric) string {
	if m.Unavailable {
		return ""
	}
	return threshold(m.Value, []float64{15, 25}, []string{"Undervalued", "Fairly valued", "Overvalued"})
}

func assessGrowth(v float64) string {
	switch {
	case v > 0.20:
		return "High"
	case v > 0.10:
		return "Moderate"
	case v > 0:
		return "Slow"
	default:
		return "Negative"
	}
}

func assessMomentum(v float64) string {
	switch {
	case v > 0.20:
		return "Strong upward"
	case v > 0:
		return "Positive"
	case v > -0.20:
		return "Negative"
	default:
		return "Strong downward"
	}
}

func assessVolatility(v float64) string {
	return threshold(v, []float64{20, 40}, []string{"Low", "Moderate", "High"})
}

func assessBeta(v float64) string {
	return threshold(v, []float64{0.8, 1.2}, []string{"Defensive", "Market-correlated", "Aggressive"})
}

// riskScore integrates volatility and beta with leverage, liquidity, the
// analyst recommendation and the earnings trend on a 0-10 scale.
func riskScore(q marketdata.Quote, de, cr, growthE finding.Metric) finding.RiskScore {
	rs := finding.RiskScore{Volatility: q.Volatility, Beta: q.Beta}
	addC := func(name string, points float64, note string) {
		rs.Components = append(rs.Components, finding.RiskComponent{Name: name, Points: points, Note: note})
		rs.Score += points
	}

	if q.Volatility != nil {
		v := *q.Volatility
		points := 1.0
		switch {
		case v >= 40:
			points = 4
		case v >= 20:
			points = 2.5
		}
		addC("volatility", points, fmt.Sprintf("%.1f%% annualized (%s)", v, assessVolatility(v)))
	} else {
		addC("volatility", 2, "not reported, assumed moderate")
	}

	if q.Beta != nil {
		b := *q.Beta
		points := 0.5
		switch {
		case b >= 1.2:
			points = 2.5
		case b >= 0.8:
			points = 1.5
		}
		addC("beta", points, fmt.Sprintf("%.2f (%s)", b, assessBeta(b)))
	} else {
		addC("beta", 1.5, "not reported, assumed market-correlated")
	}

	if !de.Unavailable {
		switch {
		case de.Value >= 1:
			addC("leverage", 1.5, "high leverage")
		case de.Value >= 0.5:
			addC("leverage", 0.75, "moderate leverage")
		default:
			addC("leverage", 0, "conservative leverage")
		}
	}

	if !cr.Unavailable && cr.Value < 1 {
		addC("liquidity", 1, "current ratio below 1")
	}

	switch strings.ToLower(q.AnalystRecommendation) {
	case "sell", "strong_sell", "underperform":
		addC("analyst_recommendation", 1, q.AnalystRecommendation)
	case "hold", "neutral":
		addC("analyst_recommendation", 0.5, q.AnalystRecommendation)
	case "":
	default:
		addC("analyst_recommendation", 0, q.AnalystRecommendation)
	}

	if !growthE.Unavailable && growthE.Value < 0 {
		addC("earnings_trend", 1, "declining earnings")
	}

	rs.Score = roundTo(clamp(rs.Score, 0, 10), 1)

	rs.Level = finding.RiskMedium
	switch {
	case (q.Volatility != nil && *q.Volatility > 40) || (q.Beta != nil && *q.Beta > 1.5):
		rs.Level = finding.RiskHigh
	case q.Volatility != nil && q.Beta != nil && *q.Volatility < 20 && *q.Beta < 0.8:
		rs.Level = finding.RiskLow
	}

	notes := make([]string, 0, len(rs.Components))
	for _, c := range rs.Components {
		notes = append(notes, c.Name+": "+c.Note)
	}
	rs.Rationale = strings.Join(notes, "; ") + "."
	return rs
}

// derivedFactors turns metric assessments into risk and opportunity statements.
func derivedFactors(pe, peg, de, cr, roe, avg, mom finding.Metric, rs finding.RiskScore, rec string) ([]string, []string) {
	var risks, opps []string

	switch pe.Assessment {
	case "Overvalued":
		risks = append(risks, "Valuation looks stretched with P/E at "+pe.Display())
	case "Undervalued":
		opps = append(opps, "Valuation looks undemanding with P/E at "+pe.Display())
	}
	if peg.Assessment == "Attractive" {
		opps = append(opps, "PEG of "+peg.Display()+" suggests growth is not fully priced in")
	}
	switch de.Assessment {
	case "High leverage":
		risks = append(risks, "High leverage with debt-to-equity of "+de.Display())
	case "Conservative":
		opps = append(opps, "Conservative balance sheet with debt-to-equity of "+de.Display())
	}
	switch cr.Assessment {
	case "Weak liquidity":
		risks = append(risks, "Weak liquidity with current ratio of "+cr.Display())
	case "Strong":
		opps = append(opps, "Strong liquidity with current ratio of "+cr.Display())
	}
	if roe.Assessment == "Excellent" {
		opps = append(opps, "Excellent profitability with ROE of "+roe.Display())
	}
	switch avg.Assessment {
	case "High", "Moderate":
		opps = append(opps, avg.Assessment+" growth averaging "+avg.Display())
	case "Negative":
		risks = append(risks, "Negative growth averaging "+avg.Display())
	}
	switch mom.Assessment {
	case "Strong upward":
		opps = append(opps, "Strong one-year price momentum of "+mom.Display())
	case "Strong downward":
		risks = append(risks, "Steep one-year price decline of "+mom.Display())
	}
	if rs.Level == finding.RiskHigh {
		risks = append(risks, "High market risk profile with risk score "+fmt.Sprintf("%.1f/10", rs.Score))
	}
	switch strings.ToLower(rec) {
	case "buy", "strong_buy", "outperform":
		opps = append(opps, "Analyst consensus is "+strings.ReplaceAll(rec, "_", " "))
	case "sell", "strong_sell", "underperform":
		risks = append(risks, "Analyst consensus is "+strings.ReplaceAll(rec, "_", " "))
	}
	return limit(risks, maxItems), limit(opps, maxItems)
}

func roundTo(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return float64(int64(v*p+0.5)) / p
}

var _ Agent = (*Analyst)(nil)
