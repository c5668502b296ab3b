package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/embeddings"
	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/vectorstore"
)

// Backend metadata keys.
const (
	metaFinding  = "finding"
	metaTicker   = "ticker"
	metaProducer = "producer"
	metaKind     = "kind"
	metaRunID    = "run_id"
)

// Memory implements Store over a vectorstore backend.
type Memory struct {
	backend  vectorstore.Store
	embedder embeddings.Embedder
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.RWMutex
	index map[string]finding.Finding
	order []string
	last  time.Time
}

// Option configures a Memory.
type Option func(*Memory)

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// New opens a Memory and rehydrates its index from the backend.
func New(ctx context.Context, backend vectorstore.Store, embedder embeddings.Embedder, logger *zap.Logger, opts ...Option) (*Memory, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend cannot be nil", finding.ErrStore)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder cannot be nil", finding.ErrStore)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Memory{
		backend:  backend,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
		index:    make(map[string]finding.Finding),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.rehydrate(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Memory) rehydrate(ctx context.Context) error {
	docs, err := m.backend.List(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: loading findings: %v", finding.ErrStore, err)
	}

	loaded := make([]finding.Finding, 0, len(docs))
	for _, doc := range docs {
		var f finding.Finding
		if err := json.Unmarshal([]byte(doc.Metadata[metaFinding]), &f); err != nil {
			m.logger.Warn("skipping undecodable finding",
				zap.String("id", doc.ID),
				zap.Error(err))
			continue
		}
		f.ID = doc.ID
		f.Embedding = doc.Embedding
		loaded = append(loaded, f)
	}
	sort.Slice(loaded, func(i, j int) bool {
		return loaded[i].CreatedAt.Before(loaded[j].CreatedAt)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range loaded {
		m.index[f.ID] = f
		m.order = append(m.order, f.ID)
		if f.CreatedAt.After(m.last) {
			m.last = f.CreatedAt
		}
	}
	storedFindings.Set(float64(len(m.index)))

	if len(loaded) > 0 {
		m.logger.Info("memory rehydrated", zap.Int("findings", len(loaded)))
	}
	return nil
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, f finding.Finding) (id string, err error) {
	defer observe("put", time.Now(), &err)

	f.Ticker = strings.ToUpper(strings.TrimSpace(f.Ticker))
	if f.Kind == "" && f.Content != nil {
		f.Kind = f.Content.Kind()
	}
	if err := f.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", ctxError(err, "storing finding")
	}

	// Embedding happens outside the lock; it may be a network call.
	vec, err := m.embedder.EmbedQuery(ctx, f.Text())
	if err != nil {
		return "", storeError(ctx, "embedding finding", err)
	}

	f.ID = uuid.NewString()
	f.Embedding = vec

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", ctxError(err, "storing finding")
	}

	createdAt := m.now().UTC()
	if !createdAt.After(m.last) {
		createdAt = m.last.Add(time.Nanosecond)
	}
	f.CreatedAt = createdAt

	doc, err := toDocument(f)
	if err != nil {
		return "", err
	}
	if err := m.backend.Upsert(ctx, []vectorstore.Document{doc}); err != nil {
		return "", storeError(ctx, "writing finding", err)
	}

	m.last = createdAt
	m.index[f.ID] = f
	m.order = append(m.order, f.ID)
	storedFindings.Set(float64(len(m.index)))

	m.logger.Debug("finding stored",
		zap.String("id", f.ID),
		zap.String("ticker", f.Ticker),
		zap.String("producer", string(f.Producer)),
		zap.String("kind", string(f.Kind)),
	)
	return f.ID, nil
}

// storeError classifies a backend or embedder failure. A failure caused by
// the caller's context ending is not a store fault.
func storeError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxError(ctxErr, op)
	}
	return fmt.Errorf("%w: %s: %v", finding.ErrStore, op, err)
}

func ctxError(err error, op string) error {
	return fmt.Errorf("%w: %s: %w", finding.ErrDeadlineExceeded, op, err)
}

func toDocument(f finding.Finding) (vectorstore.Document, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return vectorstore.Document{}, fmt.Errorf("%w: encoding finding: %v", finding.ErrStore, err)
	}
	return vectorstore.Document{
		ID:      f.ID,
		Content: f.Text(),
		Metadata: map[string]string{
			metaFinding:  string(raw),
			metaTicker:   f.Ticker,
			metaProducer: string(f.Producer),
			metaKind:     string(f.Kind),
			metaRunID:    f.RunID,
		},
		Embedding: f.Embedding,
	}, nil
}

// PutBatch implements Store.
func (m *Memory) PutBatch(ctx context.Context, fs []finding.Finding) []PutResult {
	results := make([]PutResult, len(fs))
	for i, f := range fs {
		id, err := m.Put(ctx, f)
		results[i] = PutResult{ID: id, Err: err}
	}
	return results
}

// QuerySimilar implements Store.
func (m *Memory) QuerySimilar(ctx context.Context, text string, k int, filter Filter) (_ []finding.Finding, err error) {
	defer observe("query", time.Now(), &err)

	if k <= 0 {
		return []finding.Finding{}, nil
	}
	filter = filter.normalized()

	matching := m.count(filter)
	if matching == 0 {
		return []finding.Finding{}, nil
	}

	vec, err := m.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, storeError(ctx, "embedding query", err)
	}

	// Every match is fetched so ties at the k boundary resolve by recency
	// rather than by backend order.
	hits, err := m.backend.Query(ctx, vec, matching, filter.where())
	if err != nil {
		return nil, storeError(ctx, "querying findings", err)
	}

	type scored struct {
		f     finding.Finding
		score float32
	}
	ranked := make([]scored, 0, len(hits))

	m.mu.RLock()
	for _, h := range hits {
		f, ok := m.index[h.ID]
		if !ok || !filter.matches(f) {
			continue
		}
		ranked = append(ranked, scored{f: f.Clone(), score: h.Score})
	}
	m.mu.RUnlock()

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.f.CreatedAt.Equal(b.f.CreatedAt) {
			return a.f.CreatedAt.After(b.f.CreatedAt)
		}
		return a.f.ID < b.f.ID
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]finding.Finding, len(ranked))
	for i, r := range ranked {
		out[i] = r.f
	}
	return out, nil
}

func (m *Memory) count(filter Filter) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, f := range m.index {
		if filter.matches(f) {
			n++
		}
	}
	return n
}

// GetByTicker implements Store.
func (m *Memory) GetByTicker(_ context.Context, ticker string) ([]finding.Finding, error) {
	return m.selectWhere(Filter{Ticker: ticker}.normalized()), nil
}

// GetByProducer implements Store.
func (m *Memory) GetByProducer(_ context.Context, producer finding.Producer) ([]finding.Finding, error) {
	return m.selectWhere(Filter{Producer: producer}), nil
}

// selectWhere returns clones in insertion order.
func (m *Memory) selectWhere(filter Filter) []finding.Finding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]finding.Finding, 0)
	for _, id := range m.order {
		f := m.index[id]
		if filter.matches(f) {
			out = append(out, f.Clone())
		}
	}
	return out
}

// Stats implements Store.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tickers := map[string]struct{}{}
	producers := map[finding.Producer]struct{}{}
	st := Stats{
		TotalFindings: len(m.index),
		ByKind:        map[finding.Kind]int{},
	}
	for _, f := range m.index {
		tickers[f.Ticker] = struct{}{}
		producers[f.Producer] = struct{}{}
		st.ByKind[f.Kind]++
	}
	for t := range tickers {
		st.Tickers = append(st.Tickers, t)
	}
	for p := range producers {
		st.Producers = append(st.Producers, p)
	}
	sort.Strings(st.Tickers)
	sort.Slice(st.Producers, func(i, j int) bool { return st.Producers[i] < st.Producers[j] })
	st.UniqueTickers = len(st.Tickers)
	st.UniqueProducers = len(st.Producers)
	return st, nil
}

// ClearTicker implements Store.
func (m *Memory) ClearTicker(ctx context.Context, ticker string) (_ int, err error) {
	defer observe("clear", time.Now(), &err)

	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return 0, fmt.Errorf("%w: ticker is required", finding.ErrStore)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.backend.Delete(ctx, map[string]string{metaTicker: ticker}); err != nil {
		return 0, fmt.Errorf("%w: deleting findings: %v", finding.ErrStore, err)
	}

	removed := 0
	kept := m.order[:0]
	for _, id := range m.order {
		if m.index[id].Ticker == ticker {
			delete(m.index, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	storedFindings.Set(float64(len(m.index)))

	m.logger.Info("cleared ticker findings",
		zap.String("ticker", ticker),
		zap.Int("removed", removed))
	return removed, nil
}

// Close releases the backend.
func (m *Memory) Close() error {
	return m.backend.Close()
}

var _ Store = (*Memory)(nil)
