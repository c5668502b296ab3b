package vectorstore

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(v ...float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	n := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

func newTestChromem(t *testing.T, path string) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{Path: path, VectorSize: 3}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s Store) {
	t.Helper()
	docs := []Document{
		{ID: "a", Content: "alpha", Metadata: map[string]string{"ticker": "AAPL", "kind": "risk_item"}, Embedding: unit(1, 0, 0)},
		{ID: "b", Content: "beta", Metadata: map[string]string{"ticker": "AAPL", "kind": "opportunity_item"}, Embedding: unit(1, 1, 0)},
		{ID: "c", Content: "gamma", Metadata: map[string]string{"ticker": "MSFT", "kind": "risk_item"}, Embedding: unit(0, 0, 1)},
	}
	require.NoError(t, s.Upsert(context.Background(), docs))
}

func TestChromemConfig_Validate(t *testing.T) {
	cfg := ChromemConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, "finsight_findings", cfg.Collection)
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.VectorSize = 8
	assert.NoError(t, cfg.Validate())

	cfg.Collection = "Bad-Name"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidCollectionName)
}

func TestChromemStore_QueryRanksAndFilters(t *testing.T) {
	s := newTestChromem(t, "")
	seed(t, s)
	ctx := context.Background()

	results, err := s.Query(ctx, unit(1, 0, 0), 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	assert.Equal(t, "alpha", results[0].Content)

	results, err = s.Query(ctx, unit(1, 0, 0), 10, map[string]string{"ticker": "MSFT"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].ID)
	assert.Equal(t, "risk_item", results[0].Metadata["kind"])

	results, err = s.Query(ctx, unit(1, 0, 0), 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_QueryEmptyCollection(t *testing.T) {
	s := newTestChromem(t, "")
	results, err := s.Query(context.Background(), unit(1, 0, 0), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_UpsertValidates(t *testing.T) {
	s := newTestChromem(t, "")
	ctx := context.Background()

	assert.ErrorIs(t, s.Upsert(ctx, nil), ErrEmptyDocuments)
	assert.ErrorIs(t, s.Upsert(ctx, []Document{{ID: "x"}}), ErrMissingEmbedding)
	assert.ErrorIs(t, s.Upsert(ctx, []Document{{ID: "x", Embedding: unit(1, 0)}}), ErrDimensionMismatch)
}

func TestChromemStore_ListAndDelete(t *testing.T) {
	s := newTestChromem(t, "")
	seed(t, s)
	ctx := context.Background()

	all, err := s.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	aapl, err := s.List(ctx, map[string]string{"ticker": "AAPL"})
	require.NoError(t, err)
	assert.Len(t, aapl, 2)

	_, err = s.Delete(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyFilter)

	n, err := s.Delete(ctx, map[string]string{"ticker": "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChromemStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s := newTestChromem(t, dir)
	seed(t, s)
	require.NoError(t, s.Close())

	reopened := newTestChromem(t, dir)
	count, err := reopened.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	docs, err := reopened.List(context.Background(), map[string]string{"ticker": "MSFT"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "gamma", docs[0].Content)
}
