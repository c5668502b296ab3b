package news

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultSerpAPIURL = "https://serpapi.com"

// SerpAPIClient searches Google News through SerpAPI.
type SerpAPIClient struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewSerpAPIClient creates a SerpAPI adapter.
func NewSerpAPIClient(cfg HTTPConfig) (*SerpAPIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("serpapi api key is required")
	}
	cfg.applyDefaults(defaultSerpAPIURL)
	return &SerpAPIClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type serpResponse struct {
	NewsResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Date    string `json:"date"`
		Source  struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"news_results"`
}

// SearchNews implements Searcher.
func (s *SerpAPIClient) SearchNews(ctx context.Context, ticker string, limit int) ([]Article, error) {
	q := url.Values{
		"engine":  {"google_news"},
		"q":       {Query(ticker)},
		"api_key": {s.cfg.APIKey},
	}
	if limit > 0 {
		q.Set("num", strconv.Itoa(limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/search.json?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var parsed serpResponse
	if err := do(s.client, req, &parsed); err != nil {
		return nil, fmt.Errorf("serpapi search: %w", err)
	}

	articles := make([]Article, 0, len(parsed.NewsResults))
	for _, r := range parsed.NewsResults {
		source := r.Source.Name
		if source == "" {
			source = hostOf(r.Link)
		}
		articles = append(articles, Article{
			Title:       r.Title,
			URL:         r.Link,
			Snippet:     r.Snippet,
			Source:      source,
			PublishedAt: r.Date,
		})
		if limit > 0 && len(articles) == limit {
			break
		}
	}
	return articles, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

var _ Searcher = (*SerpAPIClient)(nil)
