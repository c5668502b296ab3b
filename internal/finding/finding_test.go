package finding

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UppercasesTickerAndTakesKind(t *testing.T) {
	f := New(" aapl ", ProducerResearch, "run-1", RiskItem{Statement: "supply chain"})

	assert.Equal(t, "AAPL", f.Ticker)
	assert.Equal(t, KindRiskItem, f.Kind)
	assert.Equal(t, "run-1", f.RunID)
	assert.Empty(t, f.ID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		finding Finding
		wantErr bool
	}{
		{"valid", New("AAPL", ProducerAnalysis, "", RiskScore{Level: RiskLow, Score: 2}), false},
		{"empty ticker", New("", ProducerAnalysis, "", RiskScore{Level: RiskLow}), true},
		{"empty kind", Finding{Ticker: "AAPL", Content: RiskItem{}}, true},
		{"unknown kind", Finding{Ticker: "AAPL", Kind: "mood", Content: RiskItem{}}, true},
		{"nil content", Finding{Ticker: "AAPL", Kind: KindRiskItem}, true},
		{"kind mismatch", Finding{Ticker: "AAPL", Kind: KindOpportunityItem, Content: RiskItem{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.finding.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrStore))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFinding_JSONDecodesVariantByKind(t *testing.T) {
	vol := 31.5
	payloads := []Payload{
		NewsSentiment{Label: SentimentBullish, Score: 7, ArticleCount: 10, Method: MethodLLM},
		OpportunityItem{Statement: "services growth"},
		ValuationMetric{Metric{Name: "pe_ratio", Value: 29.45, Unit: "x", Assessment: "Overvalued"}},
		HealthMetric{Metric{Name: "current_ratio", Unavailable: true, Reason: "current liabilities are zero"}},
		RiskScore{Level: RiskMedium, Score: 4.5, Volatility: &vol},
		NarrativeSection{Section: "risks", Title: "Risks", Body: "x", Citations: []string{"a"}},
	}

	for _, p := range payloads {
		t.Run(string(p.Kind()), func(t *testing.T) {
			in := New("MSFT", ProducerAnalysis, "r", p)
			in.ID = "id-1"

			data, err := json.Marshal(in)
			require.NoError(t, err)

			var out Finding
			require.NoError(t, json.Unmarshal(data, &out))
			assert.Equal(t, in.Kind, out.Kind)
			assert.Equal(t, p, out.Content)
		})
	}
}

func TestMetricDisplay(t *testing.T) {
	assert.Equal(t, "29.45", Metric{Value: 29.45, Unit: "x"}.Display())
	assert.Equal(t, "12.50%", Metric{Value: 0.125, Unit: "%"}.Display())
	assert.Equal(t, "$2.75T", Metric{Value: 2.75e12, Unit: "USD"}.Display())
	assert.Equal(t, "n/a", Metric{Unavailable: true}.Display())
}

func TestMetricText_Unavailable(t *testing.T) {
	p := HealthMetric{Metric{Name: "roe", Unavailable: true, Reason: "equity is not positive"}}
	assert.Equal(t, "Health roe unavailable: equity is not positive", p.Text())
}

func TestClone_CopiesPayloadSlices(t *testing.T) {
	beta := 1.2
	tests := []struct {
		name   string
		orig   Payload
		mutate func(Payload)
	}{
		{
			name: "headlines",
			orig: NewsSentiment{Label: SentimentBullish, Headlines: []string{"beat estimates"}},
			mutate: func(p Payload) {
				v := p.(NewsSentiment)
				v.Headlines[0] = "missed estimates"
			},
		},
		{
			name: "components and beta",
			orig: RiskScore{Level: RiskLow, Beta: &beta, Components: []RiskComponent{{Name: "beta", Points: 1}}},
			mutate: func(p Payload) {
				v := p.(RiskScore)
				v.Components[0].Points = 9
				*v.Beta = 3
			},
		},
		{
			name: "citations",
			orig: NarrativeSection{Section: "risks", Citations: []string{"f-1"}},
			mutate: func(p Payload) {
				v := p.(NarrativeSection)
				v.Citations[0] = "f-2"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := json.Marshal(tt.orig)
			require.NoError(t, err)

			f := New("AAPL", ProducerAnalysis, "run-1", tt.orig)
			c := f.Clone()
			tt.mutate(c.Content)

			got, err := json.Marshal(f.Content)
			require.NoError(t, err)
			assert.JSONEq(t, string(want), string(got))
		})
	}
}
