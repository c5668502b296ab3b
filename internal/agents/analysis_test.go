package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/providers/marketdata"
)

func TestAnalyst_ComputesFromRawFields(t *testing.T) {
	market := &mockMarket{}
	market.On("GetQuote", mock.Anything, "AAPL").Return(appleQuote(), nil)
	market.On("GetFinancials", mock.Anything, "AAPL").Return(appleFinancials(), nil)

	res, err := NewAnalyst(market, zaptest.NewLogger(t)).Execute(context.Background(), "AAPL", Hints{RunID: "run-1"}, nil)
	require.NoError(t, err)
	out, ok := res.Analysis()
	require.True(t, ok)

	pe, ok := out.Metric(MetricPE)
	require.True(t, ok)
	assert.InDelta(t, 29.45, pe.Value, 0.01)
	assert.Equal(t, "Overvalued", pe.Assessment)

	mcap, _ := out.Metric(MetricMarketCap)
	assert.InDelta(t, 194.35*15.4e9, mcap.Value, 1)

	de, _ := out.Metric(MetricDebtToEquity)
	assert.InDelta(t, 1.69, de.Value, 0.01)
	assert.Equal(t, "High leverage", de.Assessment)

	cr, _ := out.Metric(MetricCurrentRatio)
	assert.Equal(t, "Weak liquidity", cr.Assessment)

	roe, _ := out.Metric(MetricROE)
	assert.Equal(t, "Excellent", roe.Assessment)

	avg, _ := out.Metric(MetricAverageGrowth)
	assert.Equal(t, "Slow", avg.Assessment)

	assert.Equal(t, finding.RiskMedium, out.Risk.Level)
	assert.InDelta(t, 7.5, out.Risk.Score, 0.001)

	assert.NotEmpty(t, out.Risks)
	assert.NotEmpty(t, out.Opportunities)
	assert.Len(t, findingsOf(res, finding.KindRiskScore), 1)
	assert.Len(t, findingsOf(res, finding.KindValuationMetric), 7)
	assert.Len(t, findingsOf(res, finding.KindHealthMetric), 4)
	assert.Len(t, findingsOf(res, finding.KindGrowthMetric), 4)
	for _, f := range findingsOf(res, finding.KindRiskItem) {
		assert.Equal(t, "analysis", f.Content.(finding.RiskItem).Source)
	}
}

func TestAnalyst_IsDeterministic(t *testing.T) {
	a := Analyze(appleQuote(), appleFinancials(), "")
	b := Analyze(appleQuote(), appleFinancials(), "")
	assert.Equal(t, a, b)
}

func TestAnalyst_MissingFinancialsMarksUnavailable(t *testing.T) {
	market := &mockMarket{}
	market.On("GetQuote", mock.Anything, "BRK.B").Return(marketdata.Quote{Ticker: "BRK.B", CompanyName: "Berkshire", Price: 410}, nil)
	market.On("GetFinancials", mock.Anything, "BRK.B").Return(marketdata.Financials{}, marketdata.ErrNotFound)

	res, err := NewAnalyst(market, nil).Execute(context.Background(), "BRK.B", Hints{}, nil)
	require.NoError(t, err)
	out, _ := res.Analysis()

	for _, m := range out.Metrics() {
		if m.Name == MetricPrice {
			assert.True(t, m.Available())
			continue
		}
		assert.True(t, m.Unavailable, m.Name)
		assert.NotEmpty(t, m.Reason, m.Name)
	}
	pe, _ := out.Metric(MetricPE)
	assert.Equal(t, "financial statements unavailable", pe.Reason)

	// Missing volatility and beta fall back to assumed points.
	assert.Equal(t, finding.RiskMedium, out.Risk.Level)
	assert.InDelta(t, 3.5, out.Risk.Score, 0.001)
}

func TestAnalyst_QuoteNotFound(t *testing.T) {
	market := &mockMarket{}
	market.On("GetQuote", mock.Anything, "ZZZZ").Return(marketdata.Quote{}, marketdata.ErrNotFound)

	_, err := NewAnalyst(market, nil).Execute(context.Background(), "ZZZZ", Hints{}, nil)
	assert.ErrorIs(t, err, finding.ErrDataUnavailable)
	market.AssertNotCalled(t, "GetFinancials", mock.Anything, mock.Anything)
}

func TestAnalyze_NonPositiveDenominators(t *testing.T) {
	fin := appleFinancials()
	fin.TrailingEPS = marketdata.Float(-1.2)
	fin.TotalEquity = marketdata.Float(0)
	fin.PriorNetIncome = marketdata.Float(120e9)

	out := Analyze(appleQuote(), fin, "")

	pe, _ := out.Metric(MetricPE)
	assert.True(t, pe.Unavailable)
	assert.Contains(t, pe.Reason, "non-positive")

	de, _ := out.Metric(MetricDebtToEquity)
	assert.True(t, de.Unavailable)

	peg, _ := out.Metric(MetricPEG)
	assert.True(t, peg.Unavailable)

	eg, _ := out.Metric(MetricEarningsGrowth)
	require.True(t, eg.Available())
	assert.Less(t, eg.Value, 0.0)

	var trend bool
	for _, c := range out.Risk.Components {
		if c.Name == "earnings_trend" {
			trend = true
		}
	}
	assert.True(t, trend)
}

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		name string
		vol  *float64
		beta *float64
		want string
	}{
		{"high volatility", marketdata.Float(55), marketdata.Float(1.0), finding.RiskHigh},
		{"high beta", marketdata.Float(25), marketdata.Float(1.6), finding.RiskHigh},
		{"low", marketdata.Float(15), marketdata.Float(0.6), finding.RiskLow},
		{"low vol but market beta", marketdata.Float(15), marketdata.Float(1.0), finding.RiskMedium},
		{"unknown", nil, nil, finding.RiskMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := appleQuote()
			q.Volatility, q.Beta = tt.vol, tt.beta
			out := Analyze(q, appleFinancials(), "")
			assert.Equal(t, tt.want, out.Risk.Level)
			assert.GreaterOrEqual(t, out.Risk.Score, 0.0)
			assert.LessOrEqual(t, out.Risk.Score, 10.0)
		})
	}
}
