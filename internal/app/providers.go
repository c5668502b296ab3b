package app

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/config"
	"github.com/fyrsmithlabs/finsight/internal/providers/fixtures"
	"github.com/fyrsmithlabs/finsight/internal/providers/llm"
	"github.com/fyrsmithlabs/finsight/internal/providers/marketdata"
	"github.com/fyrsmithlabs/finsight/internal/providers/news"
)

type providerSet struct {
	market marketdata.Provider
	news   news.Searcher
	llm    llm.Completer
}

// newProviders builds the external collaborators. Fixture datasets are
// loaded once per path and shared between market data and news. ctx bounds
// fixture file watchers.
func newProviders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*providerSet, error) {
	datasets := map[string]*fixtures.Dataset{}
	dataset := func(path string) (*fixtures.Dataset, error) {
		key := filepath.Clean(path)
		if d, ok := datasets[key]; ok {
			return d, nil
		}
		d, err := fixtures.Load(path, logger.Named("fixtures"))
		if err != nil {
			return nil, err
		}
		if cfg.MarketData.Watch {
			if err := d.Watch(ctx); err != nil {
				logger.Warn("fixture hot reload unavailable", zap.String("path", path), zap.Error(err))
			}
		}
		datasets[key] = d
		return d, nil
	}

	set := &providerSet{}

	switch cfg.MarketData.Provider {
	case "fmp":
		c, err := marketdata.NewFMPClient(marketdata.FMPConfig{
			BaseURL: cfg.MarketData.BaseURL,
			APIKey:  cfg.MarketData.APIKey.Value(),
			Timeout: cfg.MarketData.Timeout.Duration(),
		}, logger.Named("fmp"))
		if err != nil {
			return nil, fmt.Errorf("initializing market data: %w", err)
		}
		set.market = c
	default:
		d, err := dataset(cfg.MarketData.FixturePath)
		if err != nil {
			return nil, fmt.Errorf("initializing market data: %w", err)
		}
		set.market = d
	}

	searchers := make([]news.Searcher, 0, len(cfg.News.Providers))
	for _, name := range cfg.News.Providers {
		var (
			s   news.Searcher
			err error
		)
		switch name {
		case "tavily":
			s, err = news.NewTavilyClient(news.HTTPConfig{
				BaseURL: cfg.News.Tavily.BaseURL,
				APIKey:  cfg.News.Tavily.APIKey.Value(),
				Timeout: cfg.News.Timeout.Duration(),
			})
		case "serpapi":
			s, err = news.NewSerpAPIClient(news.HTTPConfig{
				BaseURL: cfg.News.SerpAPI.BaseURL,
				APIKey:  cfg.News.SerpAPI.APIKey.Value(),
				Timeout: cfg.News.Timeout.Duration(),
			})
		case "fixture":
			s, err = dataset(cfg.News.FixturePath)
		default:
			err = fmt.Errorf("unknown provider")
		}
		if err != nil {
			return nil, fmt.Errorf("initializing news provider %s: %w", name, err)
		}
		searchers = append(searchers, s)
	}
	set.news = news.NewChain(logger.Named("news"), searchers...)

	completer, err := llm.New(llm.Config{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.Model,
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey.Value(),
		Temperature:       cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		MaxRetries:        cfg.LLM.MaxRetries,
		Timeout:           cfg.LLM.Timeout.Duration(),
	}, logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("initializing llm: %w", err)
	}
	set.llm = completer
	return set, nil
}
