package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/finsight/internal/finding"
)

const (
	contextSeparator = "\n---\n"

	// bytesPerToken is the rough size of one model token.
	bytesPerToken = 4
)

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	return (len(s) + bytesPerToken - 1) / bytesPerToken
}

// ContextFor implements Store. Entries are ranked by similarity to the
// ticker and added whole until the next one would exceed maxTokens. When
// not even the first fits, a notice naming the budget is returned instead.
// maxTokens <= 0 disables the budget.
func (m *Memory) ContextFor(ctx context.Context, ticker string, maxTokens int) (string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	ranked, err := m.QuerySimilar(ctx, ticker, m.count(Filter{Ticker: ticker}), Filter{Ticker: ticker})
	if err != nil {
		return "", err
	}
	if len(ranked) == 0 {
		return fmt.Sprintf("No context found for %s", ticker), nil
	}

	var b strings.Builder
	for i, f := range ranked {
		entry := formatEntry(f)
		next := len(entry)
		if i > 0 {
			next += len(contextSeparator)
		}
		if maxTokens > 0 && b.Len()+next > maxTokens*bytesPerToken {
			break
		}
		if i > 0 {
			b.WriteString(contextSeparator)
		}
		b.WriteString(entry)
	}
	if b.Len() == 0 {
		return fmt.Sprintf("Context for %s omitted: %d findings, none fits %d tokens", ticker, len(ranked), maxTokens), nil
	}
	return b.String(), nil
}

func formatEntry(f finding.Finding) string {
	return fmt.Sprintf("[%s/%s - %s]\n%s", f.Producer, f.Kind, f.CreatedAt.UTC().Format(time.RFC3339), f.Text())
}
