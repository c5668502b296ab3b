package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/memory"
	"github.com/fyrsmithlabs/finsight/internal/providers/llm"
	"github.com/fyrsmithlabs/finsight/internal/providers/news"
)

const (
	defaultNewsLimit = 10
	maxItems         = 5
	maxHeadlines     = 5
	researchContext  = 400
)

// ResearchOutput is the research agent's payload.
type ResearchOutput struct {
	Sentiment     finding.NewsSentiment
	Risks         []string
	Opportunities []string
	Articles      []news.Article
}

func (*ResearchOutput) producer() finding.Producer { return finding.ProducerResearch }

// Research gathers news and derives sentiment, risks and opportunities.
type Research struct {
	searcher  news.Searcher
	completer llm.Completer
	limit     int
	logger    *zap.Logger
}

// NewResearch creates the research agent. A nil completer means the
// deterministic classifiers are always used.
func NewResearch(searcher news.Searcher, completer llm.Completer, newsLimit int, logger *zap.Logger) *Research {
	if completer == nil {
		completer = llm.Disabled{}
	}
	if newsLimit <= 0 {
		newsLimit = defaultNewsLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Research{searcher: searcher, completer: completer, limit: newsLimit, logger: logger}
}

// Name implements Agent.
func (r *Research) Name() finding.Producer { return finding.ProducerResearch }

// Execute implements Agent.
func (r *Research) Execute(ctx context.Context, ticker string, hints Hints, mem memory.Store) (*Result, error) {
	articles, err := r.searcher.SearchNews(ctx, ticker, r.limit)
	if err != nil {
		return nil, fmt.Errorf("searching news: %w", err)
	}
	if len(articles) == 0 {
		return nil, fmt.Errorf("%w: no news articles found for %s", finding.ErrDataUnavailable, ticker)
	}
	articles = news.Verify(articles)

	grounding := ""
	if mem != nil {
		// Prior findings ground the model; the digest is advisory only.
		if digest, err := mem.ContextFor(ctx, ticker, researchContext); err == nil {
			grounding = digest
		}
	}

	sentiment := r.sentiment(ctx, ticker, articles, grounding, hints.Feedback)
	risks, opportunities := r.riskFactors(ctx, ticker, articles, grounding, hints.Feedback)

	out := &ResearchOutput{
		Sentiment:     sentiment,
		Risks:         risks,
		Opportunities: opportunities,
		Articles:      articles,
	}

	findings := []finding.Finding{finding.New(ticker, finding.ProducerResearch, hints.RunID, sentiment)}
	for _, s := range risks {
		findings = append(findings, finding.New(ticker, finding.ProducerResearch, hints.RunID, finding.RiskItem{Statement: s, Source: "news"}))
	}
	for _, s := range opportunities {
		findings = append(findings, finding.New(ticker, finding.ProducerResearch, hints.RunID, finding.OpportunityItem{Statement: s, Source: "news"}))
	}

	r.logger.Debug("research complete",
		zap.String("ticker", ticker),
		zap.Int("articles", len(articles)),
		zap.String("sentiment", string(sentiment.Label)),
		zap.String("method", sentiment.Method),
		zap.Int("risks", len(risks)),
		zap.Int("opportunities", len(opportunities)))

	return &Result{Agent: finding.ProducerResearch, Payload: out, Findings: findings}, nil
}

func (r *Research) sentiment(ctx context.Context, ticker string, articles []news.Article, grounding, feedback string) finding.NewsSentiment {
	s := finding.NewsSentiment{
		ArticleCount:  len(articles),
		VerifiedCount: news.VerifiedCount(articles),
		Headlines:     headlines(articles),
	}

	resp, err := r.completer.Complete(ctx, sentimentPrompt(ticker, articles, feedback), grounding, 500)
	if err == nil {
		if label, score, explanation, ok := parseSentiment(resp); ok {
			s.Label, s.Score, s.Explanation, s.Method = label, score, explanation, finding.MethodLLM
			return s
		}
		r.logger.Debug("unparsable sentiment response, using lexicon", zap.String("ticker", ticker))
	} else if ctx.Err() == nil {
		r.logger.Debug("sentiment completion failed, using lexicon", zap.String("ticker", ticker), zap.Error(err))
	}

	s.Label, s.Score, s.Explanation = lexiconSentiment(articles)
	s.Method = finding.MethodLexicon
	return s
}

func (r *Research) riskFactors(ctx context.Context, ticker string, articles []news.Article, grounding, feedback string) ([]string, []string) {
	resp, err := r.completer.Complete(ctx, riskPrompt(ticker, articles, feedback), grounding, 800)
	if err == nil {
		risks, opps := parseRiskFactors(resp)
		if len(risks)+len(opps) > 0 {
			return limit(risks, maxItems), limit(opps, maxItems)
		}
	}
	risks, opps := keywordRiskFactors(articles)
	return limit(risks, maxItems), limit(opps, maxItems)
}

func headlines(articles []news.Article) []string {
	out := make([]string, 0, maxHeadlines)
	for _, a := range articles {
		if a.Title == "" {
			continue
		}
		out = append(out, a.Title)
		if len(out) == maxHeadlines {
			break
		}
	}
	return out
}

func formatArticles(articles []news.Article) string {
	var b strings.Builder
	for i, a := range articles {
		fmt.Fprintf(&b, "%d. %s", i+1, a.Title)
		if a.Source != "" {
			fmt.Fprintf(&b, " (%s)", a.Source)
		}
		b.WriteString("\n")
		if a.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", a.Snippet)
		}
	}
	return b.String()
}

func sentimentPrompt(ticker string, articles []news.Article, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the sentiment of the following news articles about %s.\n\n", ticker)
	b.WriteString("News Articles:\n")
	b.WriteString(formatArticles(articles))
	b.WriteString(`
Provide:
1. Overall sentiment (bullish/neutral/bearish)
2. Sentiment score (-10 to +10, where -10 is very bearish and +10 is very bullish)
3. Brief explanation (2-3 sentences) of the key factors driving sentiment

Format your response as:
SENTIMENT: [bullish/neutral/bearish]
SCORE: [number]
EXPLANATION: [your explanation]
`)
	if feedback != "" {
		fmt.Fprintf(&b, "\nA previous answer was rejected: %s\n", feedback)
	}
	return b.String()
}

func riskPrompt(ticker string, articles []news.Article, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Based on the following news articles about %s, identify key RISKS and key OPPORTUNITIES.\n\n", ticker)
	b.WriteString("News Articles:\n")
	b.WriteString(formatArticles(articles))
	b.WriteString(`
List 3-5 risks and 3-5 opportunities. Be specific and concise.

Format:
RISKS:
- [risk 1]
- [risk 2]

OPPORTUNITIES:
- [opportunity 1]
- [opportunity 2]
`)
	if feedback != "" {
		fmt.Fprintf(&b, "\nA previous answer was rejected: %s\n", feedback)
	}
	return b.String()
}

func limit(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

var _ Agent = (*Research)(nil)
