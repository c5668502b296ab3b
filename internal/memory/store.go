// Package memory is the shared, queryable store of findings that agents
// write to and downstream stages read from.
//
// A Memory keeps an in-process index for exact-match reads and writes
// every finding through to a vectorstore backend for similarity search and
// durability across restarts.
package memory

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/finsight/internal/finding"
)

// Store is the read/write surface agents and the orchestrator depend on.
type Store interface {
	// Put assigns an id and created_at, embeds, persists and indexes f.
	Put(ctx context.Context, f finding.Finding) (string, error)

	// PutBatch writes each finding independently.
	PutBatch(ctx context.Context, fs []finding.Finding) []PutResult

	// QuerySimilar returns up to k findings ranked by similarity to text.
	QuerySimilar(ctx context.Context, text string, k int, filter Filter) ([]finding.Finding, error)

	GetByTicker(ctx context.Context, ticker string) ([]finding.Finding, error)
	GetByProducer(ctx context.Context, producer finding.Producer) ([]finding.Finding, error)

	// ContextFor renders a digest of the ticker's findings within maxTokens.
	ContextFor(ctx context.Context, ticker string, maxTokens int) (string, error)

	Stats(ctx context.Context) (Stats, error)

	// ClearTicker removes every finding for ticker and returns how many.
	ClearTicker(ctx context.Context, ticker string) (int, error)
}

// PutResult is the outcome of one PutBatch item.
type PutResult struct {
	ID  string
	Err error
}

// Filter restricts a query. Zero fields match everything.
type Filter struct {
	Ticker   string
	Producer finding.Producer
	Kind     finding.Kind
	RunID    string
}

func (f Filter) normalized() Filter {
	f.Ticker = strings.ToUpper(strings.TrimSpace(f.Ticker))
	return f
}

func (f Filter) matches(fd finding.Finding) bool {
	if f.Ticker != "" && fd.Ticker != f.Ticker {
		return false
	}
	if f.Producer != "" && fd.Producer != f.Producer {
		return false
	}
	if f.Kind != "" && fd.Kind != f.Kind {
		return false
	}
	if f.RunID != "" && fd.RunID != f.RunID {
		return false
	}
	return true
}

// where converts the filter to backend metadata equality constraints.
func (f Filter) where() map[string]string {
	w := map[string]string{}
	if f.Ticker != "" {
		w[metaTicker] = f.Ticker
	}
	if f.Producer != "" {
		w[metaProducer] = string(f.Producer)
	}
	if f.Kind != "" {
		w[metaKind] = string(f.Kind)
	}
	if f.RunID != "" {
		w[metaRunID] = f.RunID
	}
	return w
}

// Stats summarizes store contents.
type Stats struct {
	TotalFindings   int                  `json:"total_findings"`
	UniqueTickers   int                  `json:"unique_tickers"`
	UniqueProducers int                  `json:"unique_producers"`
	Tickers         []string             `json:"tickers"`
	Producers       []finding.Producer   `json:"producers"`
	ByKind          map[finding.Kind]int `json:"by_kind"`
}
