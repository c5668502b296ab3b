// Package news defines the news/search collaborator, its HTTP adapters and
// a fallback chain across them.
package news

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Article is one news search result.
type Article struct {
	Title       string `json:"title" toml:"title" koanf:"title"`
	URL         string `json:"url" toml:"url" koanf:"url"`
	Snippet     string `json:"snippet,omitempty" toml:"snippet" koanf:"snippet"`
	Source      string `json:"source,omitempty" toml:"source" koanf:"source"`
	PublishedAt string `json:"published_at,omitempty" toml:"published_at" koanf:"published_at"`
	Verified    bool   `json:"verified" toml:"verified" koanf:"verified"`
}

// Searcher finds recent news for a ticker. No results is an empty slice,
// not an error.
type Searcher interface {
	SearchNews(ctx context.Context, ticker string, limit int) ([]Article, error)
}

// Query builds the search phrase used by the HTTP adapters.
func Query(ticker string) string {
	return strings.ToUpper(ticker) + " stock news"
}

// Chain tries each searcher in order and returns the first non-empty result.
type Chain struct {
	searchers []Searcher
	logger    *zap.Logger
}

// NewChain builds a Chain. Nil searchers are skipped.
func NewChain(logger *zap.Logger, searchers ...Searcher) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chain{logger: logger}
	for _, s := range searchers {
		if s != nil {
			c.searchers = append(c.searchers, s)
		}
	}
	return c
}

// SearchNews implements Searcher. Provider errors are logged and skipped;
// when every provider is exhausted the result is empty.
func (c *Chain) SearchNews(ctx context.Context, ticker string, limit int) ([]Article, error) {
	for i, s := range c.searchers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		articles, err := s.SearchNews(ctx, ticker, limit)
		if err != nil {
			c.logger.Warn("news provider failed, trying next",
				zap.Int("provider", i),
				zap.String("ticker", ticker),
				zap.Error(err))
			continue
		}
		if len(articles) == 0 {
			continue
		}
		if limit > 0 && len(articles) > limit {
			articles = articles[:limit]
		}
		return Verify(articles), nil
	}
	return []Article{}, nil
}

// credibleDomains are publishers whose articles count as verified.
var credibleDomains = []string{
	"reuters", "bloomberg", "wsj", "ft", "cnbc", "marketwatch", "seekingalpha",
	"fool", "barrons", "yahoo", "businessinsider", "forbes", "thestreet",
	"investopedia", "benzinga",
}

// IsCredible reports whether rawURL belongs to a credible publisher.
func IsCredible(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	labels := strings.Split(strings.ToLower(u.Hostname()), ".")
	for _, label := range labels {
		for _, d := range credibleDomains {
			if label == d {
				return true
			}
		}
	}
	return false
}

// Verify returns a copy of articles with Verified set from the source URL.
func Verify(articles []Article) []Article {
	out := make([]Article, len(articles))
	for i, a := range articles {
		a.Verified = IsCredible(a.URL)
		out[i] = a
	}
	return out
}

// VerifiedCount returns how many articles are verified.
func VerifiedCount(articles []Article) int {
	n := 0
	for _, a := range articles {
		if a.Verified {
			n++
		}
	}
	return n
}
