// Package fixtures serves market data and news from a local YAML or TOML
// dataset. It backs offline runs, demos and end-to-end tests.
package fixtures

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/providers/marketdata"
	"github.com/fyrsmithlabs/finsight/internal/providers/news"
)

const maxFixtureSize = 8 * 1024 * 1024

// Security is the fixture record for one ticker.
type Security struct {
	Ticker     string                 `koanf:"ticker" toml:"ticker"`
	Quote      marketdata.Quote       `koanf:"quote" toml:"quote"`
	Financials *marketdata.Financials `koanf:"financials" toml:"financials"`
	News       []news.Article         `koanf:"news" toml:"news"`

	// Latency delays every call for this ticker, for timeout drills.
	Latency time.Duration `koanf:"latency" toml:"-"`
}

type document struct {
	Securities []Security `koanf:"securities" toml:"securities"`
}

// Dataset is an in-memory, reloadable fixture set. It implements both
// marketdata.Provider and news.Searcher.
type Dataset struct {
	mu         sync.RWMutex
	securities map[string]Security
	path       string
	logger     *zap.Logger
}

// New builds a Dataset from records.
func New(securities ...Security) *Dataset {
	d := &Dataset{logger: zap.NewNop()}
	d.replace(securities)
	return d
}

// Load reads a dataset file. The format follows the extension: .yaml, .yml
// or .toml.
func Load(path string, logger *zap.Logger) (*Dataset, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	securities, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	d := &Dataset{path: path, logger: logger}
	d.replace(securities)
	logger.Info("fixture dataset loaded",
		zap.String("path", path),
		zap.Int("securities", len(securities)))
	return d, nil
}

func parseFile(path string) ([]Security, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	if info.Size() > maxFixtureSize {
		return nil, fmt.Errorf("fixture %s exceeds %d bytes", path, maxFixtureSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}

	var doc document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(content), &doc); err != nil {
			return nil, fmt.Errorf("parsing toml fixture %s: %w", path, err)
		}
	case ".yaml", ".yml":
		k := koanf.New("::")
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing yaml fixture %s: %w", path, err)
		}
		if err := k.Unmarshal("", &doc); err != nil {
			return nil, fmt.Errorf("decoding yaml fixture %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported fixture format %q", filepath.Ext(path))
	}
	return doc.Securities, nil
}

func (d *Dataset) replace(securities []Security) {
	m := make(map[string]Security, len(securities))
	for _, s := range securities {
		ticker := strings.ToUpper(strings.TrimSpace(s.Ticker))
		if ticker == "" {
			ticker = strings.ToUpper(strings.TrimSpace(s.Quote.Ticker))
		}
		if ticker == "" {
			continue
		}
		s.Ticker = ticker
		s.Quote.Ticker = ticker
		m[ticker] = s
	}
	d.mu.Lock()
	d.securities = m
	d.mu.Unlock()
}

func (d *Dataset) lookup(ctx context.Context, ticker string) (Security, bool, error) {
	d.mu.RLock()
	s, ok := d.securities[strings.ToUpper(strings.TrimSpace(ticker))]
	d.mu.RUnlock()
	if ok && s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return Security{}, false, ctx.Err()
		}
	}
	return s, ok, nil
}

// GetQuote implements marketdata.Provider.
func (d *Dataset) GetQuote(ctx context.Context, ticker string) (marketdata.Quote, error) {
	s, ok, err := d.lookup(ctx, ticker)
	if err != nil {
		return marketdata.Quote{}, err
	}
	if !ok {
		return marketdata.Quote{}, fmt.Errorf("%w: %s", marketdata.ErrNotFound, ticker)
	}
	return s.Quote, nil
}

// GetFinancials implements marketdata.Provider.
func (d *Dataset) GetFinancials(ctx context.Context, ticker string) (marketdata.Financials, error) {
	s, ok, err := d.lookup(ctx, ticker)
	if err != nil {
		return marketdata.Financials{}, err
	}
	if !ok || s.Financials == nil {
		return marketdata.Financials{}, fmt.Errorf("%w: no financials for %s", marketdata.ErrNotFound, ticker)
	}
	return *s.Financials, nil
}

// SearchNews implements news.Searcher.
func (d *Dataset) SearchNews(ctx context.Context, ticker string, limit int) ([]news.Article, error) {
	s, _, err := d.lookup(ctx, ticker)
	if err != nil {
		return nil, err
	}
	articles := append([]news.Article(nil), s.News...)
	if limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}
	return news.Verify(articles), nil
}

// Tickers returns the loaded tickers.
func (d *Dataset) Tickers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.securities))
	for t := range d.securities {
		out = append(out, t)
	}
	return out
}

// Watch reloads the dataset whenever its file changes, until ctx ends. A
// file that fails to parse leaves the previous data in place.
func (d *Dataset) Watch(ctx context.Context) error {
	if d.path == "" {
		return fmt.Errorf("dataset was not loaded from a file")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory; editors replace files by rename.
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", d.path, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(d.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				d.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("fixture watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (d *Dataset) reload() {
	securities, err := parseFile(d.path)
	if err == nil && len(securities) == 0 {
		// Truncate-then-write saves surface as an empty file first.
		err = fmt.Errorf("no securities")
	}
	if err != nil {
		d.logger.Warn("fixture reload failed, keeping previous data",
			zap.String("path", d.path),
			zap.Error(err))
		return
	}
	d.replace(securities)
	d.logger.Info("fixture dataset reloaded",
		zap.String("path", d.path),
		zap.Int("securities", len(securities)))
}

var (
	_ marketdata.Provider = (*Dataset)(nil)
	_ news.Searcher       = (*Dataset)(nil)
)
