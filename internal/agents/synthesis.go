package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/memory"
	"github.com/fyrsmithlabs/finsight/internal/providers/llm"
	"github.com/fyrsmithlabs/finsight/internal/report"
)

const synthesisContext = 600

// SynthesisOutput is the synthesis agent's payload.
type SynthesisOutput struct {
	Report report.Report
}

func (*SynthesisOutput) producer() finding.Producer { return finding.ProducerSynthesis }

// Synthesizer composes the final report from gated upstream results.
type Synthesizer struct {
	completer llm.Completer
	logger    *zap.Logger
	now       func() time.Time
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithSynthesisClock overrides the report timestamp source.
func WithSynthesisClock(now func() time.Time) SynthesizerOption {
	return func(s *Synthesizer) { s.now = now }
}

// NewSynthesizer creates the synthesis agent.
func NewSynthesizer(completer llm.Completer, logger *zap.Logger, opts ...SynthesizerOption) *Synthesizer {
	if completer == nil {
		completer = llm.Disabled{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synthesizer{completer: completer, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Agent.
func (s *Synthesizer) Name() finding.Producer { return finding.ProducerSynthesis }

// inputs gathers what each section needs from the upstream results.
type inputs struct {
	ticker   string
	company  string
	tone     report.Tone
	feedback string

	research  *ResearchOutput
	researchF []finding.Finding
	analysis  *AnalysisOutput
	analysisF []finding.Finding
	degraded  map[finding.Producer]string
	grounding string
}

func (in *inputs) reason(p finding.Producer) string {
	if r, ok := in.degraded[p]; ok && r != "" {
		return r
	}
	return string(p) + " results unavailable"
}

// Execute implements Agent.
func (s *Synthesizer) Execute(ctx context.Context, ticker string, hints Hints, mem memory.Store) (*Result, error) {
	in := &inputs{
		ticker:   ticker,
		company:  hints.CompanyName,
		tone:     hints.Tone,
		feedback: hints.Feedback,
		degraded: hints.Degraded,
	}
	if in.tone == "" {
		in.tone = report.ToneNeutral
	}
	if r, ok := hints.Research.Research(); ok {
		in.research, in.researchF = r, hints.Research.Findings
	}
	if a, ok := hints.Analysis.Analysis(); ok {
		in.analysis, in.analysisF = a, hints.Analysis.Findings
		if in.company == "" {
			in.company = a.Quote.CompanyName
		}
	}
	if in.company == "" {
		in.company = ticker
	}
	if mem != nil {
		digest, err := mem.ContextFor(ctx, ticker, synthesisContext)
		if err != nil {
			return nil, fmt.Errorf("reading context: %w", err)
		}
		in.grounding = digest
	}

	sections := []report.Section{
		s.executiveSummary(ctx, in),
		snapshot(in),
		indicators(in),
		newsSentiment(in),
		opportunities(in),
		risks(in),
		s.perspective(ctx, in),
	}
	for i := range sections {
		sections[i].Title = sections[i].Name.Title()
		if sections[i].Citations == nil {
			sections[i].Citations = []string{}
		}
	}

	rep := report.Report{
		RunID:       hints.RunID,
		Ticker:      ticker,
		CompanyName: in.company,
		Tone:        in.tone,
		GeneratedAt: s.now().UTC(),
		Sections:    sections,
	}
	if len(hints.Degraded) > 0 {
		rep.Degraded = make(map[string]string, len(hints.Degraded))
		for p, r := range hints.Degraded {
			rep.Degraded[string(p)] = r
		}
	}

	findings := make([]finding.Finding, 0, len(sections))
	for _, sec := range sections {
		findings = append(findings, finding.New(ticker, finding.ProducerSynthesis, hints.RunID, finding.NarrativeSection{
			Section:     string(sec.Name),
			Title:       sec.Title,
			Body:        sec.Body,
			Unavailable: sec.Unavailable,
			Citations:   append([]string(nil), sec.Citations...),
		}))
	}

	s.logger.Debug("synthesis complete",
		zap.String("ticker", ticker),
		zap.String("tone", string(in.tone)),
		zap.Int("degraded", len(hints.Degraded)))

	return &Result{Agent: finding.ProducerSynthesis, Payload: &SynthesisOutput{Report: rep}, Findings: findings}, nil
}

func unavailableSection(name report.SectionName, reason string) report.Section {
	return report.Section{
		Name:        name,
		Body:        "This section is unavailable: " + reason + ".",
		Unavailable: true,
		Reason:      reason,
	}
}

func metricID(findings []finding.Finding, kind finding.Kind, name string) string {
	return firstID(findings, kind, func(f finding.Finding) bool {
		m, ok := finding.MetricOf(f.Content)
		return ok && m.Name == name && m.Available()
	})
}

func (in *inputs) sentimentID() string {
	return firstID(in.researchF, finding.KindNewsSentiment, nil)
}

func (in *inputs) riskScoreID() string {
	return firstID(in.analysisF, finding.KindRiskScore, nil)
}

func (in *inputs) metric(name string) finding.Metric {
	if in.analysis == nil {
		return finding.Metric{Name: name, Unavailable: true}
	}
	m, ok := in.analysis.Metric(name)
	if !ok {
		return finding.Metric{Name: name, Unavailable: true}
	}
	return m
}

func (s *Synthesizer) executiveSummary(ctx context.Context, in *inputs) report.Section {
	sec := report.Section{Name: report.SectionExecutiveSummary}
	if in.research == nil && in.analysis == nil {
		return unavailableSection(sec.Name, "no upstream research or analysis completed")
	}
	sec.Citations = appendID(sec.Citations, in.sentimentID())
	sec.Citations = appendID(sec.Citations, in.riskScoreID())
	sec.Citations = appendID(sec.Citations, metricID(in.analysisF, finding.KindValuationMetric, MetricPE))

	body := ""
	resp, err := s.completer.Complete(ctx, summaryPrompt(in), in.grounding, 300)
	if err == nil && resp != "" {
		body = resp
	} else {
		if err != nil && ctx.Err() == nil {
			s.logger.Debug("summary completion failed, using template", zap.String("ticker", in.ticker), zap.Error(err))
		}
		body = summaryTemplate(in)
	}
	sec.Body = report.TruncateWords(body, report.MaxSummaryWords)
	return sec
}

func summaryPrompt(in *inputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a concise executive summary (at most %d words) for %s (%s).\n\n", report.MaxSummaryWords, in.company, in.ticker)
	if in.analysis != nil {
		fmt.Fprintf(&b, "Current Price: %s\n", in.metric(MetricPrice).Display())
		fmt.Fprintf(&b, "Valuation: %s\n", orUnknown(in.metric(MetricPE).Assessment))
		fmt.Fprintf(&b, "Growth: %s\n", orUnknown(in.metric(MetricAverageGrowth).Assessment))
		fmt.Fprintf(&b, "Risk Level: %s\n", in.analysis.Risk.Level)
	}
	if in.research != nil {
		fmt.Fprintf(&b, "Market Sentiment: %s\n", in.research.Sentiment.Label)
	}
	for p, r := range in.degraded {
		fmt.Fprintf(&b, "Unavailable: %s (%s)\n", p, r)
	}
	fmt.Fprintf(&b, "\nTone: %s\n", in.tone)
	b.WriteString(`
Focus on:
1. Current market position
2. Key financial metrics
3. Overall sentiment
4. Primary investment consideration

Keep it professional and concise.
`)
	if in.feedback != "" {
		fmt.Fprintf(&b, "\nA previous draft was rejected: %s\n", in.feedback)
	}
	return b.String()
}

func summaryTemplate(in *inputs) string {
	var parts []string
	if in.analysis != nil {
		price := in.metric(MetricPrice)
		pe := in.metric(MetricPE)
		s := fmt.Sprintf("%s (%s) trades at %s", in.company, in.ticker, price.Display())
		if pe.Available() {
			s += fmt.Sprintf(" with a P/E of %s", pe.Display())
			if pe.Assessment != "" {
				s += ", which screens as " + strings.ToLower(pe.Assessment)
			}
		}
		parts = append(parts, s+".")
	} else {
		parts = append(parts, fmt.Sprintf("%s (%s): financial analysis is unavailable (%s).", in.company, in.ticker, in.reason(finding.ProducerAnalysis)))
	}
	if in.research != nil {
		sent := in.research.Sentiment
		parts = append(parts, fmt.Sprintf("News sentiment is %s with a score of %.0f across %d articles.", sent.Label, sent.Score, sent.ArticleCount))
	} else {
		parts = append(parts, fmt.Sprintf("News coverage is unavailable (%s).", in.reason(finding.ProducerResearch)))
	}

	var strengths, concerns string
	if in.analysis != nil {
		if g := in.metric(MetricAverageGrowth); g.Available() {
			strengths = fmt.Sprintf("Average growth of %s is %s.", g.Display(), strings.ToLower(g.Assessment))
		}
		concerns = fmt.Sprintf("Overall risk is %s at %.1f/10.", strings.ToLower(in.analysis.Risk.Level), in.analysis.Risk.Score)
	}
	switch in.tone {
	case report.ToneBearish:
		parts = append(parts, concerns, strengths)
	default:
		parts = append(parts, strengths, concerns)
	}

	switch in.tone {
	case report.ToneBullish:
		parts = append(parts, "The primary consideration is whether current momentum can be sustained.")
	case report.ToneBearish:
		parts = append(parts, "The primary consideration is whether the downside risks are adequately priced.")
	default:
		parts = append(parts, "The primary consideration is the balance between valuation and risk.")
	}
	return joinNonEmpty(parts)
}

func snapshot(in *inputs) report.Section {
	name := report.SectionSnapshot
	if in.analysis == nil {
		return unavailableSection(name, in.reason(finding.ProducerAnalysis))
	}
	q := in.analysis.Quote
	var b strings.Builder
	fmt.Fprintf(&b, "- Company: %s (%s)\n", in.company, in.ticker)
	if q.Sector != "" {
		fmt.Fprintf(&b, "- Sector: %s\n", q.Sector)
	}
	if q.Industry != "" {
		fmt.Fprintf(&b, "- Industry: %s\n", q.Industry)
	}
	fmt.Fprintf(&b, "- Price: %s\n", in.metric(MetricPrice).Display())
	fmt.Fprintf(&b, "- Market Cap: %s\n", in.metric(MetricMarketCap).Display())
	if q.YearLow != nil && q.YearHigh != nil {
		fmt.Fprintf(&b, "- 52-Week Range: $%.2f - $%.2f\n", *q.YearLow, *q.YearHigh)
	}
	if q.AnalystRecommendation != "" {
		fmt.Fprintf(&b, "- Analyst Recommendation: %s", strings.ReplaceAll(q.AnalystRecommendation, "_", " "))
		if q.TargetPrice != nil {
			fmt.Fprintf(&b, " (target $%.2f)", *q.TargetPrice)
		}
		b.WriteString("\n")
	}

	sec := report.Section{Name: name, Body: strings.TrimRight(b.String(), "\n")}
	sec.Citations = appendID(sec.Citations, metricID(in.analysisF, finding.KindValuationMetric, MetricPrice))
	sec.Citations = appendID(sec.Citations, metricID(in.analysisF, finding.KindValuationMetric, MetricMarketCap))
	return sec
}

var metricLabels = map[string]string{
	MetricPrice:          "Price",
	MetricMarketCap:      "Market Cap",
	MetricPE:             "P/E Ratio",
	MetricForwardPE:      "Forward P/E",
	MetricPEG:            "PEG Ratio",
	MetricPriceToBook:    "Price to Book",
	MetricDividendYield:  "Dividend Yield",
	MetricDebtToEquity:   "Debt to Equity",
	MetricCurrentRatio:   "Current Ratio",
	MetricROE:            "Return on Equity",
	MetricNetMargin:      "Net Margin",
	MetricRevenueGrowth:  "Revenue Growth",
	MetricEarningsGrowth: "Earnings Growth",
	MetricAverageGrowth:  "Average Growth",
	MetricMomentum:       "1-Year Momentum",
}

func indicators(in *inputs) report.Section {
	name := report.SectionIndicators
	if in.analysis == nil {
		return unavailableSection(name, in.reason(finding.ProducerAnalysis))
	}
	sec := report.Section{Name: name}
	var b strings.Builder

	group := func(title string, kind finding.Kind, metrics []finding.Metric) {
		fmt.Fprintf(&b, "**%s**\n", title)
		for _, m := range metrics {
			if m.Name == MetricPrice || m.Name == MetricMarketCap {
				continue
			}
			label := metricLabels[m.Name]
			if label == "" {
				label = m.Name
			}
			if m.Unavailable {
				fmt.Fprintf(&b, "- %s: n/a (%s)\n", label, m.Reason)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s", label, m.Display())
			if m.Assessment != "" {
				fmt.Fprintf(&b, " (%s)", m.Assessment)
			}
			b.WriteString("\n")
			sec.Citations = appendID(sec.Citations, metricID(in.analysisF, kind, m.Name))
		}
		b.WriteString("\n")
	}

	a := in.analysis
	valuation := make([]finding.Metric, 0, len(a.Valuation))
	for _, m := range a.Valuation {
		valuation = append(valuation, m.Metric)
	}
	health := make([]finding.Metric, 0, len(a.Health))
	for _, m := range a.Health {
		health = append(health, m.Metric)
	}
	growth := make([]finding.Metric, 0, len(a.Growth))
	for _, m := range a.Growth {
		growth = append(growth, m.Metric)
	}
	group("Valuation", finding.KindValuationMetric, valuation)
	group("Financial Health", finding.KindHealthMetric, health)
	group("Growth", finding.KindGrowthMetric, growth)

	fmt.Fprintf(&b, "**Risk**\n- Score: %.1f/10 (%s)\n", a.Risk.Score, a.Risk.Level)
	if a.Risk.Volatility != nil {
		fmt.Fprintf(&b, "- Volatility: %.1f%% (%s)\n", *a.Risk.Volatility, assessVolatility(*a.Risk.Volatility))
	}
	if a.Risk.Beta != nil {
		fmt.Fprintf(&b, "- Beta: %.2f (%s)\n", *a.Risk.Beta, assessBeta(*a.Risk.Beta))
	}
	sec.Citations = appendID(sec.Citations, in.riskScoreID())
	sec.Body = strings.TrimRight(b.String(), "\n")
	return sec
}

func newsSentiment(in *inputs) report.Section {
	name := report.SectionNewsSentiment
	if in.research == nil {
		return unavailableSection(name, in.reason(finding.ProducerResearch))
	}
	sent := in.research.Sentiment
	var b strings.Builder
	fmt.Fprintf(&b, "Overall sentiment is **%s** with a score of %.0f on a -10 to +10 scale.", sent.Label, sent.Score)
	if sent.Explanation != "" {
		b.WriteString(" ")
		b.WriteString(sent.Explanation)
	}
	fmt.Fprintf(&b, "\n\nArticles analyzed: %d (%d from verified sources).", sent.ArticleCount, sent.VerifiedCount)
	if len(sent.Headlines) > 0 {
		b.WriteString("\n\nRecent headlines:\n")
		for _, h := range sent.Headlines {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	sec := report.Section{Name: name, Body: strings.TrimRight(b.String(), "\n")}
	sec.Citations = appendID(sec.Citations, in.sentimentID())
	return sec
}

type statement struct {
	text string
	id   string
}

// statements collects kind findings from both dimensions. Tone decides
// which dimension leads.
func (in *inputs) statements(kind finding.Kind, newsFirst bool) []statement {
	collect := func(findings []finding.Finding) []statement {
		var out []statement
		for _, f := range findings {
			if f.Kind != kind {
				continue
			}
			switch c := f.Content.(type) {
			case finding.RiskItem:
				out = append(out, statement{text: c.Statement, id: f.ID})
			case finding.OpportunityItem:
				out = append(out, statement{text: c.Statement, id: f.ID})
			}
		}
		return out
	}
	news, fundamentals := collect(in.researchF), collect(in.analysisF)
	if newsFirst {
		return append(news, fundamentals...)
	}
	return append(fundamentals, news...)
}

func bulletSection(in *inputs, name report.SectionName, items []statement, none string) report.Section {
	if in.research == nil && in.analysis == nil {
		return unavailableSection(name, "no upstream research or analysis completed")
	}
	sec := report.Section{Name: name}
	if len(items) == 0 {
		sec.Body = none
		sec.Citations = appendID(sec.Citations, in.sentimentID())
		sec.Citations = appendID(sec.Citations, in.riskScoreID())
		return sec
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s\n", it.text)
		sec.Citations = appendID(sec.Citations, it.id)
	}
	if in.research == nil {
		fmt.Fprintf(&b, "\nNews-derived items unavailable: %s.\n", in.reason(finding.ProducerResearch))
	}
	if in.analysis == nil {
		fmt.Fprintf(&b, "\nFundamentals-derived items unavailable: %s.\n", in.reason(finding.ProducerAnalysis))
	}
	sec.Body = strings.TrimRight(b.String(), "\n")
	return sec
}

func opportunities(in *inputs) report.Section {
	// Bullish reports lead with the news narrative.
	items := in.statements(finding.KindOpportunityItem, in.tone == report.ToneBullish)
	return bulletSection(in, report.SectionOpportunities, items,
		"No material opportunities were identified in the available news or fundamentals.")
}

func risks(in *inputs) report.Section {
	items := in.statements(finding.KindRiskItem, in.tone == report.ToneBearish)
	return bulletSection(in, report.SectionRisks, items,
		"No material risks were identified in the available news or fundamentals.")
}

func (s *Synthesizer) perspective(ctx context.Context, in *inputs) report.Section {
	sec := report.Section{Name: report.SectionPerspective}
	if in.research == nil && in.analysis == nil {
		return unavailableSection(sec.Name, "no upstream research or analysis completed")
	}
	sec.Citations = appendID(sec.Citations, in.riskScoreID())
	sec.Citations = appendID(sec.Citations, in.sentimentID())

	resp, err := s.completer.Complete(ctx, perspectivePrompt(in), in.grounding, 500)
	if err == nil && resp != "" {
		sec.Body = resp
		return sec
	}
	sec.Body = perspectiveTemplate(in)
	return sec
}

func perspectivePrompt(in *inputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a balanced final perspective (2-3 paragraphs) for %s:\n\n", in.ticker)
	if in.analysis != nil {
		fmt.Fprintf(&b, "Valuation: %s\nRisk Level: %s\n", orUnknown(in.metric(MetricPE).Assessment), in.analysis.Risk.Level)
	}
	if in.research != nil {
		fmt.Fprintf(&b, "Sentiment: %s\n", in.research.Sentiment.Label)
	}
	fmt.Fprintf(&b, "Report Tone: %s\n", in.tone)
	b.WriteString(`
Provide:
1. Summary of key points
2. Who might find this investment suitable
3. What to watch for going forward

Be professional and balanced.
`)
	if in.feedback != "" {
		fmt.Fprintf(&b, "\nA previous draft was rejected: %s\n", in.feedback)
	}
	return b.String()
}

func perspectiveTemplate(in *inputs) string {
	valuation, risk, sentiment := "an unassessed", "unassessed", "unavailable"
	if in.analysis != nil {
		if a := in.metric(MetricPE).Assessment; a != "" {
			valuation = "a " + strings.ToLower(a)
		}
		risk = strings.ToLower(in.analysis.Risk.Level)
	}
	if in.research != nil {
		sentiment = string(in.research.Sentiment.Label)
	}
	s := fmt.Sprintf("Based on the analysis, %s presents %s opportunity with %s market sentiment and %s risk.",
		in.ticker, valuation, sentiment, risk)

	switch in.tone {
	case report.ToneBullish:
		s += " Investors comfortable with the current valuation may find the growth profile compelling; watch whether sentiment holds through the next earnings cycle."
	case report.ToneBearish:
		s += " Cautious investors may prefer to wait for a better entry point; watch leverage and any deterioration in news flow."
	default:
		s += " The position suits investors whose risk tolerance matches the profile above; watch valuation, earnings delivery and news flow."
	}
	if len(in.degraded) > 0 {
		dims := make([]string, 0, len(in.degraded))
		for p := range in.degraded {
			dims = append(dims, string(p))
		}
		sort.Strings(dims)
		s += " This perspective omits the " + strings.Join(dims, " and ") + " dimension because it was unavailable."
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func joinNonEmpty(parts []string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

var _ Agent = (*Synthesizer)(nil)
