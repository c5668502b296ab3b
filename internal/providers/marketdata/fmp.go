package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultFMPBaseURL = "https://financialmodelingprep.com/api/v3"

// FMPConfig configures the Financial Modeling Prep client.
type FMPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// FMPClient is a Provider backed by the Financial Modeling Prep REST API.
type FMPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewFMPClient creates an FMP client.
func NewFMPClient(cfg FMPConfig, logger *zap.Logger) (*FMPClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("fmp api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultFMPBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FMPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

type fmpQuote struct {
	Symbol            string   `json:"symbol"`
	Name              string   `json:"name"`
	Price             float64  `json:"price"`
	MarketCap         *float64 `json:"marketCap"`
	SharesOutstanding *float64 `json:"sharesOutstanding"`
	YearHigh          *float64 `json:"yearHigh"`
	YearLow           *float64 `json:"yearLow"`
	EPS               *float64 `json:"eps"`
}

type fmpProfile struct {
	CompanyName string   `json:"companyName"`
	Sector      string   `json:"sector"`
	Industry    string   `json:"industry"`
	Currency    string   `json:"currency"`
	Beta        *float64 `json:"beta"`
	LastDiv     *float64 `json:"lastDiv"`
}

type fmpIncome struct {
	Revenue   *float64 `json:"revenue"`
	NetIncome *float64 `json:"netIncome"`
	EPS       *float64 `json:"eps"`
}

type fmpBalance struct {
	TotalDebt               *float64 `json:"totalDebt"`
	TotalStockholdersEquity *float64 `json:"totalStockholdersEquity"`
	TotalCurrentAssets      *float64 `json:"totalCurrentAssets"`
	TotalCurrentLiabilities *float64 `json:"totalCurrentLiabilities"`
}

type fmpEstimate struct {
	EstimatedEPSAvg *float64 `json:"estimatedEpsAvg"`
}

type fmpHistory struct {
	Historical []struct {
		Date  string  `json:"date"`
		Close float64 `json:"close"`
	} `json:"historical"`
}

type fmpConsensus struct {
	Consensus       string   `json:"consensus"`
	TargetConsensus *float64 `json:"targetConsensus"`
}

// GetQuote implements Provider.
func (c *FMPClient) GetQuote(ctx context.Context, ticker string) (Quote, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	var quotes []fmpQuote
	if err := c.get(ctx, "/quote/"+url.PathEscape(ticker), nil, &quotes); err != nil {
		return Quote{}, err
	}
	if len(quotes) == 0 {
		return Quote{}, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}
	q := quotes[0]

	out := Quote{
		Ticker:            ticker,
		CompanyName:       q.Name,
		Price:             q.Price,
		MarketCap:         q.MarketCap,
		SharesOutstanding: q.SharesOutstanding,
		YearHigh:          q.YearHigh,
		YearLow:           q.YearLow,
	}

	// Profile, history and consensus enrich the quote; their absence is not fatal.
	var profiles []fmpProfile
	if err := c.get(ctx, "/profile/"+url.PathEscape(ticker), nil, &profiles); err != nil {
		c.logger.Debug("fmp profile unavailable", zap.String("ticker", ticker), zap.Error(err))
	} else if len(profiles) > 0 {
		p := profiles[0]
		if p.CompanyName != "" {
			out.CompanyName = p.CompanyName
		}
		out.Sector = p.Sector
		out.Industry = p.Industry
		out.Currency = p.Currency
		out.Beta = p.Beta
	}

	var hist fmpHistory
	if err := c.get(ctx, "/historical-price-full/"+url.PathEscape(ticker), url.Values{"timeseries": {"252"}}, &hist); err != nil {
		c.logger.Debug("fmp history unavailable", zap.String("ticker", ticker), zap.Error(err))
	} else if len(hist.Historical) > 0 {
		// FMP lists newest first.
		closes := make([]float64, len(hist.Historical))
		for i, h := range hist.Historical {
			closes[len(closes)-1-i] = h.Close
		}
		out.Volatility = AnnualizedVolatility(closes)
		if first := closes[0]; first > 0 && len(closes) > 1 {
			out.PriceChange1Y = Float(out.Price/first - 1)
		}
	}

	var consensus []fmpConsensus
	if err := c.get(ctx, "/upgrades-downgrades-consensus", url.Values{"symbol": {ticker}}, &consensus); err != nil {
		c.logger.Debug("fmp consensus unavailable", zap.String("ticker", ticker), zap.Error(err))
	} else if len(consensus) > 0 {
		out.AnalystRecommendation = normalizeRecommendation(consensus[0].Consensus)
		out.TargetPrice = consensus[0].TargetConsensus
	}

	return out, nil
}

// GetFinancials implements Provider.
func (c *FMPClient) GetFinancials(ctx context.Context, ticker string) (Financials, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	var income []fmpIncome
	if err := c.get(ctx, "/income-statement/"+url.PathEscape(ticker), url.Values{"limit": {"2"}}, &income); err != nil {
		return Financials{}, err
	}
	if len(income) == 0 {
		return Financials{}, fmt.Errorf("%w: no income statement for %s", ErrNotFound, ticker)
	}

	out := Financials{
		TrailingEPS: income[0].EPS,
		Revenue:     income[0].Revenue,
		NetIncome:   income[0].NetIncome,
	}
	if len(income) > 1 {
		out.PriorRevenue = income[1].Revenue
		out.PriorNetIncome = income[1].NetIncome
	}

	var balance []fmpBalance
	if err := c.get(ctx, "/balance-sheet-statement/"+url.PathEscape(ticker), url.Values{"limit": {"1"}}, &balance); err != nil {
		c.logger.Debug("fmp balance sheet unavailable", zap.String("ticker", ticker), zap.Error(err))
	} else if len(balance) > 0 {
		b := balance[0]
		out.TotalDebt = b.TotalDebt
		out.TotalEquity = b.TotalStockholdersEquity
		out.CurrentAssets = b.TotalCurrentAssets
		out.CurrentLiabilities = b.TotalCurrentLiabilities
	}

	var profiles []fmpProfile
	if err := c.get(ctx, "/profile/"+url.PathEscape(ticker), nil, &profiles); err == nil && len(profiles) > 0 {
		out.DividendPerShare = profiles[0].LastDiv
	}

	var estimates []fmpEstimate
	if err := c.get(ctx, "/analyst-estimates/"+url.PathEscape(ticker), url.Values{"limit": {"1"}}, &estimates); err == nil && len(estimates) > 0 {
		out.ForwardEPS = estimates[0].EstimatedEPSAvg
	}

	return out, nil
}

func (c *FMPClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fmp request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding fmp %s: %w", path, err)
	}
	return nil
}

// StatusError is a non-2xx response from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func normalizeRecommendation(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

var _ Provider = (*FMPClient)(nil)
