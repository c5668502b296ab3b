package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/finsight/internal/embeddings"
	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/logging"
	"github.com/fyrsmithlabs/finsight/internal/memory"
	"github.com/fyrsmithlabs/finsight/internal/orchestrator"
	"github.com/fyrsmithlabs/finsight/internal/report"
	"github.com/fyrsmithlabs/finsight/internal/runs"
	"github.com/fyrsmithlabs/finsight/internal/vectorstore"
)

type mockRuns struct {
	mock.Mock
}

func (m *mockRuns) Submit(ctx context.Context, req orchestrator.RunRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockRuns) Get(id string) (runs.Snapshot, error) {
	args := m.Called(id)
	return args.Get(0).(runs.Snapshot), args.Error(1)
}

func (m *mockRuns) Wait(ctx context.Context, id string) (runs.Snapshot, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(runs.Snapshot), args.Error(1)
}

func (m *mockRuns) Cancel(id string) error {
	return m.Called(id).Error(0)
}

func (m *mockRuns) List() []runs.Snapshot {
	return m.Called().Get(0).([]runs.Snapshot)
}

func newTestMemory(t *testing.T) *memory.Memory {
	t.Helper()
	backend, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{VectorSize: 32}, zaptest.NewLogger(t))
	require.NoError(t, err)
	m, err := memory.New(context.Background(), backend, embeddings.NewHashProvider(32), zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

func setupTestServer(t *testing.T, registry Runs, store memory.Store) *Server {
	t.Helper()
	if store == nil {
		store = newTestMemory(t)
	}
	s, err := NewServer(registry, store, nil, zaptest.NewLogger(t), &Config{Version: "test", MaxWait: 50 * time.Millisecond})
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func completedSnapshot(id string) runs.Snapshot {
	return runs.Snapshot{
		ID:     id,
		Ticker: "AAPL",
		Status: runs.StatusCompleted,
		Stage:  orchestrator.StageCompleted,
		State: &orchestrator.RunState{
			RunID:  id,
			Ticker: "AAPL",
			Stage:  orchestrator.StageCompleted,
			Report: &report.Report{
				RunID:       id,
				Ticker:      "AAPL",
				CompanyName: "Apple Inc.",
				Tone:        report.ToneNeutral,
				Sections: []report.Section{{
					Name:  report.SectionSnapshot,
					Title: report.SectionSnapshot.Title(),
					Body:  "Apple trades at 194.35 USD.",
				}},
			},
		},
	}
}

func TestNewServer(t *testing.T) {
	store := newTestMemory(t)

	t.Run("requires a registry", func(t *testing.T) {
		_, err := NewServer(nil, store, nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "run registry")
	})
	t.Run("requires a store", func(t *testing.T) {
		_, err := NewServer(&mockRuns{}, nil, nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "memory store")
	})
	t.Run("requires a logger", func(t *testing.T) {
		_, err := NewServer(&mockRuns{}, store, nil, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})
	t.Run("defaults config", func(t *testing.T) {
		s, err := NewServer(&mockRuns{}, store, nil, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, 8080, s.config.Port)
		assert.Equal(t, 5*time.Minute, s.config.MaxWait)
	})
}

func TestHandleHealth(t *testing.T) {
	s := setupTestServer(t, &mockRuns{}, nil)
	rec := do(s, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.False(t, resp.Telemetry.Enabled)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestHandleMetrics(t *testing.T) {
	s := setupTestServer(t, &mockRuns{}, nil)
	rec := do(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleSubmitRun(t *testing.T) {
	t.Run("accepts and forwards the request", func(t *testing.T) {
		m := &mockRuns{}
		m.On("Submit", mock.Anything, orchestrator.RunRequest{
			Ticker:   "aapl",
			Tone:     report.ToneBullish,
			Mode:     orchestrator.ModeSequential,
			Deadline: 90 * time.Second,
		}).Return("run-1", nil)
		s := setupTestServer(t, m, nil)

		rec := do(s, http.MethodPost, "/api/v1/runs", SubmitRunRequest{Ticker: "aapl", Tone: "Bullish", Mode: "SEQUENTIAL", Timeout: "90s"})

		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		var resp SubmitRunResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "run-1", resp.RunID)
		assert.Equal(t, runs.StatusPending, resp.Status)
		assert.Equal(t, "/api/v1/runs/run-1", rec.Header().Get(echo.HeaderLocation))
		m.AssertExpectations(t)
	})

	t.Run("request id reaches the registry context", func(t *testing.T) {
		m := &mockRuns{}
		m.On("Submit", mock.MatchedBy(func(ctx context.Context) bool {
			return logging.RequestIDFromContext(ctx) != ""
		}), mock.Anything).Return("run-2", nil)
		s := setupTestServer(t, m, nil)

		rec := do(s, http.MethodPost, "/api/v1/runs", SubmitRunRequest{Ticker: "MSFT"})
		assert.Equal(t, http.StatusAccepted, rec.Code)
		m.AssertExpectations(t)
	})

	tests := []struct {
		name string
		body SubmitRunRequest
	}{
		{"missing ticker", SubmitRunRequest{Ticker: "  "}},
		{"unknown tone", SubmitRunRequest{Ticker: "AAPL", Tone: "ecstatic"}},
		{"unknown mode", SubmitRunRequest{Ticker: "AAPL", Mode: "round-robin"}},
		{"bad timeout", SubmitRunRequest{Ticker: "AAPL", Timeout: "soon"}},
		{"negative timeout", SubmitRunRequest{Ticker: "AAPL", Timeout: "-1s"}},
		{"huge timeout", SubmitRunRequest{Ticker: "AAPL", Timeout: "24h"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockRuns{}
			s := setupTestServer(t, m, nil)
			rec := do(s, http.MethodPost, "/api/v1/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			m.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
		})
	}

	t.Run("registry closed", func(t *testing.T) {
		m := &mockRuns{}
		m.On("Submit", mock.Anything, mock.Anything).Return("", runs.ErrClosed)
		s := setupTestServer(t, m, nil)
		rec := do(s, http.MethodPost, "/api/v1/runs", SubmitRunRequest{Ticker: "AAPL"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleGetRun(t *testing.T) {
	t.Run("snapshot", func(t *testing.T) {
		m := &mockRuns{}
		m.On("Get", "run-1").Return(runs.Snapshot{ID: "run-1", Ticker: "AAPL", Status: runs.StatusRunning, Stage: orchestrator.StageResearching}, nil)
		s := setupTestServer(t, m, nil)

		rec := do(s, http.MethodGet, "/api/v1/runs/run-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var snap runs.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, runs.StatusRunning, snap.Status)
		assert.Equal(t, orchestrator.StageResearching, snap.Stage)
	})

	t.Run("unknown run", func(t *testing.T) {
		m := &mockRuns{}
		m.On("Get", "nope").Return(runs.Snapshot{}, runs.ErrNotFound)
		s := setupTestServer(t, m, nil)
		assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/v1/runs/nope", nil).Code)
	})

	t.Run("wait returns the finished run", func(t *testing.T) {
		m := &mockRuns{}
		m.On("Wait", mock.Anything, "run-1").Return(completedSnapshot("run-1"), nil)
		s := setupTestServer(t, m, nil)

		rec := do(s, http.MethodGet, "/api/v1/runs/run-1?wait=true", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var snap runs.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, runs.StatusCompleted, snap.Status)
		m.AssertNotCalled(t, "Get", mock.Anything)
	})

	t.Run("wait deadline returns latest snapshot", func(t *testing.T) {
		m := &mockRuns{}
		m.On("Wait", mock.MatchedBy(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			return ok
		}), "run-1").Return(runs.Snapshot{ID: "run-1", Status: runs.StatusRunning}, context.DeadlineExceeded)
		s := setupTestServer(t, m, nil)

		rec := do(s, http.MethodGet, "/api/v1/runs/run-1?wait=true", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"running"`)
	})
}

func TestHandleListAndCancel(t *testing.T) {
	m := &mockRuns{}
	m.On("List").Return([]runs.Snapshot(nil))
	m.On("Cancel", "run-1").Return(nil)
	m.On("Cancel", "gone").Return(runs.ErrNotFound)
	s := setupTestServer(t, m, nil)

	rec := do(s, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusAccepted, do(s, http.MethodDelete, "/api/v1/runs/run-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodDelete, "/api/v1/runs/gone", nil).Code)
}

func TestHandleGetReport(t *testing.T) {
	m := &mockRuns{}
	m.On("Get", "done").Return(completedSnapshot("done"), nil)
	m.On("Get", "busy").Return(runs.Snapshot{ID: "busy", Status: runs.StatusRunning}, nil)
	m.On("Get", "broken").Return(runs.Snapshot{ID: "broken", Status: runs.StatusFailed, Error: "invalid ticker"}, nil)
	s := setupTestServer(t, m, nil)

	t.Run("markdown by default", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/api/v1/runs/done/report", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/markdown")
		assert.Contains(t, rec.Body.String(), "Apple trades at 194.35 USD.")
	})

	t.Run("json", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/api/v1/runs/done/report?format=json", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var rep report.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
		assert.Equal(t, "AAPL", rep.Ticker)
		require.Len(t, rep.Sections, 1)
	})

	t.Run("unknown format", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/runs/done/report?format=pdf", nil).Code)
	})

	t.Run("still running", func(t *testing.T) {
		assert.Equal(t, http.StatusConflict, do(s, http.MethodGet, "/api/v1/runs/busy/report", nil).Code)
	})

	t.Run("failed run", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/api/v1/runs/broken/report", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid ticker")
	})
}

func TestHandleMemory(t *testing.T) {
	store := newTestMemory(t)
	ctx := context.Background()
	_, err := store.Put(ctx, finding.New("AAPL", finding.ProducerResearch, "run-1", finding.RiskItem{Statement: "Supply chain concentration", Source: "news"}))
	require.NoError(t, err)
	_, err = store.Put(ctx, finding.New("AAPL", finding.ProducerResearch, "run-1", finding.OpportunityItem{Statement: "Services growth", Source: "news"}))
	require.NoError(t, err)
	_, err = store.Put(ctx, finding.New("MSFT", finding.ProducerResearch, "run-2", finding.RiskItem{Statement: "Cloud pricing pressure"}))
	require.NoError(t, err)

	s := setupTestServer(t, &mockRuns{}, store)

	t.Run("stats", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/api/v1/memory/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var stats memory.Stats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
		assert.Equal(t, 3, stats.TotalFindings)
		assert.Equal(t, 2, stats.UniqueTickers)
	})

	t.Run("ticker findings", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/api/v1/memory/aapl", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp TickerFindingsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "AAPL", resp.Ticker)
		assert.Equal(t, 2, resp.Count)
		for _, f := range resp.Findings {
			assert.Equal(t, "AAPL", f.Ticker)
		}
	})

	t.Run("producer filter", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/api/v1/memory/AAPL?producer=analysis", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":0`)
		assert.Contains(t, rec.Body.String(), `"findings":[]`)
	})

	t.Run("clear", func(t *testing.T) {
		rec := do(s, http.MethodDelete, "/api/v1/memory/AAPL", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ticker":"AAPL","removed":2}`, rec.Body.String())

		left, err := store.GetByTicker(ctx, "AAPL")
		require.NoError(t, err)
		assert.Empty(t, left)
	})
}

