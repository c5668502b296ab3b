package news

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTavilyURL = "https://api.tavily.com"

// HTTPConfig configures an HTTP news adapter.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func (c *HTTPConfig) applyDefaults(baseURL string) {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// TavilyClient searches news through the Tavily search API.
type TavilyClient struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewTavilyClient creates a Tavily adapter.
func NewTavilyClient(cfg HTTPConfig) (*TavilyClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tavily api key is required")
	}
	cfg.applyDefaults(defaultTavilyURL)
	return &TavilyClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	Topic       string `json:"topic"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Content       string `json:"content"`
		PublishedDate string `json:"published_date"`
	} `json:"results"`
}

// SearchNews implements Searcher.
func (t *TavilyClient) SearchNews(ctx context.Context, ticker string, limit int) ([]Article, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:      t.cfg.APIKey,
		Query:       Query(ticker),
		Topic:       "news",
		SearchDepth: "advanced",
		MaxResults:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var parsed tavilyResponse
	if err := do(t.client, req, &parsed); err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}

	articles := make([]Article, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		articles = append(articles, Article{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Content,
			Source:      hostOf(r.URL),
			PublishedAt: r.PublishedDate,
		})
	}
	return articles, nil
}

func do(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

var _ Searcher = (*TavilyClient)(nil)
