package agents

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/mock"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/memory"
	"github.com/fyrsmithlabs/finsight/internal/providers/marketdata"
	"github.com/fyrsmithlabs/finsight/internal/providers/news"
)

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) SearchNews(ctx context.Context, ticker string, limit int) ([]news.Article, error) {
	args := m.Called(ctx, ticker, limit)
	articles, _ := args.Get(0).([]news.Article)
	return articles, args.Error(1)
}

type mockCompleter struct{ mock.Mock }

func (m *mockCompleter) Complete(ctx context.Context, prompt, grounding string, maxTokens int) (string, error) {
	args := m.Called(ctx, prompt, grounding, maxTokens)
	return args.String(0), args.Error(1)
}

type mockMarket struct{ mock.Mock }

func (m *mockMarket) GetQuote(ctx context.Context, ticker string) (marketdata.Quote, error) {
	args := m.Called(ctx, ticker)
	q, _ := args.Get(0).(marketdata.Quote)
	return q, args.Error(1)
}

func (m *mockMarket) GetFinancials(ctx context.Context, ticker string) (marketdata.Financials, error) {
	args := m.Called(ctx, ticker)
	f, _ := args.Get(0).(marketdata.Financials)
	return f, args.Error(1)
}

// contextMemory serves ContextFor only; other methods are never called by agents.
type contextMemory struct {
	memory.Store
	mock.Mock
}

func (m *contextMemory) ContextFor(ctx context.Context, ticker string, maxTokens int) (string, error) {
	args := m.Called(ctx, ticker, maxTokens)
	return args.String(0), args.Error(1)
}

func appleQuote() marketdata.Quote {
	return marketdata.Quote{
		Ticker:                "AAPL",
		CompanyName:           "Apple Inc.",
		Sector:                "Technology",
		Industry:              "Consumer Electronics",
		Price:                 194.35,
		SharesOutstanding:     marketdata.Float(15.4e9),
		YearHigh:              marketdata.Float(199.62),
		YearLow:               marketdata.Float(164.08),
		PriceChange1Y:         marketdata.Float(0.18),
		Volatility:            marketdata.Float(24.5),
		Beta:                  marketdata.Float(1.21),
		AnalystRecommendation: "buy",
		TargetPrice:           marketdata.Float(215),
	}
}

func appleFinancials() marketdata.Financials {
	return marketdata.Financials{
		TrailingEPS:        marketdata.Float(6.60),
		ForwardEPS:         marketdata.Float(7.20),
		DividendPerShare:   marketdata.Float(0.96),
		Revenue:            marketdata.Float(391e9),
		PriorRevenue:       marketdata.Float(383e9),
		NetIncome:          marketdata.Float(97e9),
		PriorNetIncome:     marketdata.Float(94e9),
		TotalDebt:          marketdata.Float(105e9),
		TotalEquity:        marketdata.Float(62e9),
		CurrentAssets:      marketdata.Float(143e9),
		CurrentLiabilities: marketdata.Float(145e9),
	}
}

func appleNews(n int) []news.Article {
	base := []news.Article{
		{Title: "Apple beats earnings expectations on record iPhone sales", URL: "https://www.reuters.com/a1", Source: "Reuters"},
		{Title: "Apple expands AI partnership with major chipmaker", URL: "https://www.bloomberg.com/a2", Source: "Bloomberg"},
		{Title: "Regulators open antitrust probe into App Store fees", URL: "https://www.cnbc.com/a3", Source: "CNBC"},
		{Title: "Apple services growth surges in latest quarter", URL: "https://example-blog.net/a4", Source: "Blog"},
	}
	out := make([]news.Article, 0, n)
	for i := 0; i < n; i++ {
		a := base[i%len(base)]
		a.URL = fmt.Sprintf("%s-%d", a.URL, i)
		if i >= len(base) {
			a.Title = fmt.Sprintf("%s (%d)", a.Title, i)
		}
		out = append(out, a)
	}
	return out
}

// assignIDs stands in for the orchestrator persisting accepted findings.
func assignIDs(r *Result) *Result {
	for i := range r.Findings {
		r.Findings[i].ID = fmt.Sprintf("%s-%d", r.Agent, i)
	}
	return r
}

func findingsOf(r *Result, kind finding.Kind) []finding.Finding {
	return finding.OfKind(r.Findings, kind)
}
