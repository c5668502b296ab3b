// Package marketdata defines the financial-data collaborator and its adapters.
package marketdata

import (
	"context"
	"errors"
	"math"
)

// ErrNotFound means the provider has no security for the ticker.
var ErrNotFound = errors.New("ticker not found")

// Provider fetches quotes and fundamentals.
type Provider interface {
	GetQuote(ctx context.Context, ticker string) (Quote, error)
	GetFinancials(ctx context.Context, ticker string) (Financials, error)
}

// Quote is the market snapshot of a security. Pointer fields are nil when
// the provider does not report them.
type Quote struct {
	Ticker      string `json:"ticker" toml:"ticker" koanf:"ticker"`
	CompanyName string `json:"company_name" toml:"company_name" koanf:"company_name"`
	Sector      string `json:"sector,omitempty" toml:"sector" koanf:"sector"`
	Industry    string `json:"industry,omitempty" toml:"industry" koanf:"industry"`
	Currency    string `json:"currency,omitempty" toml:"currency" koanf:"currency"`

	Price             float64  `json:"price" toml:"price" koanf:"price"`
	MarketCap         *float64 `json:"market_cap,omitempty" toml:"market_cap" koanf:"market_cap"`
	SharesOutstanding *float64 `json:"shares_outstanding,omitempty" toml:"shares_outstanding" koanf:"shares_outstanding"`
	YearHigh          *float64 `json:"year_high,omitempty" toml:"year_high" koanf:"year_high"`
	YearLow           *float64 `json:"year_low,omitempty" toml:"year_low" koanf:"year_low"`

	// PriceChange1Y is the one-year price change as a fraction.
	PriceChange1Y *float64 `json:"price_change_1y,omitempty" toml:"price_change_1y" koanf:"price_change_1y"`

	// Volatility is annualized volatility in percent.
	Volatility *float64 `json:"volatility,omitempty" toml:"volatility" koanf:"volatility"`
	Beta       *float64 `json:"beta,omitempty" toml:"beta" koanf:"beta"`

	// AnalystRecommendation is one of strong_buy, buy, hold, sell, strong_sell.
	AnalystRecommendation string   `json:"analyst_recommendation,omitempty" toml:"analyst_recommendation" koanf:"analyst_recommendation"`
	TargetPrice           *float64 `json:"target_price,omitempty" toml:"target_price" koanf:"target_price"`
}

// Financials are raw statement fields. Metrics are derived by the analyst,
// never taken precomputed from the provider.
type Financials struct {
	TrailingEPS        *float64 `json:"trailing_eps,omitempty" toml:"trailing_eps" koanf:"trailing_eps"`
	ForwardEPS         *float64 `json:"forward_eps,omitempty" toml:"forward_eps" koanf:"forward_eps"`
	DividendPerShare   *float64 `json:"dividend_per_share,omitempty" toml:"dividend_per_share" koanf:"dividend_per_share"`
	Revenue            *float64 `json:"revenue,omitempty" toml:"revenue" koanf:"revenue"`
	PriorRevenue       *float64 `json:"prior_revenue,omitempty" toml:"prior_revenue" koanf:"prior_revenue"`
	NetIncome          *float64 `json:"net_income,omitempty" toml:"net_income" koanf:"net_income"`
	PriorNetIncome     *float64 `json:"prior_net_income,omitempty" toml:"prior_net_income" koanf:"prior_net_income"`
	TotalDebt          *float64 `json:"total_debt,omitempty" toml:"total_debt" koanf:"total_debt"`
	TotalEquity        *float64 `json:"total_equity,omitempty" toml:"total_equity" koanf:"total_equity"`
	CurrentAssets      *float64 `json:"current_assets,omitempty" toml:"current_assets" koanf:"current_assets"`
	CurrentLiabilities *float64 `json:"current_liabilities,omitempty" toml:"current_liabilities" koanf:"current_liabilities"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// AnnualizedVolatility returns the annualized standard deviation of daily
// returns, in percent, for closes in chronological order. It returns nil
// with fewer than three closes.
func AnnualizedVolatility(closes []float64) *float64 {
	if len(closes) < 3 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < 2 {
		return nil
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	vol := math.Sqrt(variance) * math.Sqrt(252) * 100
	return &vol
}
