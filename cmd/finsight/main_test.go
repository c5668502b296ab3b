package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// fakeServer answers the finsightd routes the CLI uses.
func fakeServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, "submit "+body["ticker"]+" "+body["tone"]+" "+body["timeout"])
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"run_id":"run-42","status":"pending"}`))
	})
	mux.HandleFunc("GET /api/v1/runs", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"runs":[{"run_id":"run-42","ticker":"AAPL","status":"running","stage":"researching","submitted_at":"2026-10-01T12:00:00Z"}]}`))
	})
	mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "get "+r.PathValue("id")+" wait="+r.URL.Query().Get("wait"))
		if r.PathValue("id") == "bad" {
			_, _ = w.Write([]byte(`{"run_id":"bad","ticker":"ZZZZ","status":"failed","stage":"failed","error":"invalid ticker"}`))
			return
		}
		_, _ = w.Write([]byte(`{"run_id":"run-42","ticker":"AAPL","status":"completed","stage":"completed"}`))
	})
	mux.HandleFunc("GET /api/v1/runs/{id}/report", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "run-42" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"run not found: ` + r.PathValue("id") + `"}`))
			return
		}
		_, _ = w.Write([]byte("# Financial Research Report: AAPL\nformat=" + r.URL.Query().Get("format")))
	})
	mux.HandleFunc("GET /api/v1/memory/stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"total_findings":5,"unique_tickers":1,"unique_producers":2,"tickers":["AAPL"],"producers":["analysis","research"],"by_kind":{"risk_item":2,"valuation_metric":3}}`))
	})
	mux.HandleFunc("DELETE /api/v1/memory/{ticker}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ticker":"` + strings.ToUpper(r.PathValue("ticker")) + `","removed":5}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestSubmit(t *testing.T) {
	srv, calls := fakeServer(t)
	out, err := execute(t, "--server", srv.URL, "submit", "AAPL", "--tone", "bullish", "--deadline", "90s")
	require.NoError(t, err)
	assert.Equal(t, "run-42\n", out)
	assert.Equal(t, []string{"submit AAPL bullish 1m30s"}, *calls)
}

func TestStatus(t *testing.T) {
	srv, calls := fakeServer(t)

	out, err := execute(t, "--server", srv.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "RUN ID")
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "researching")

	out, err = execute(t, "--server", srv.URL, "status", "run-42", "--wait")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:  completed")
	assert.Contains(t, *calls, "get run-42 wait=true")

	out, err = execute(t, "--server", srv.URL, "status", "bad")
	require.Error(t, err)
	assert.Contains(t, out, "invalid ticker")
}

func TestReport(t *testing.T) {
	srv, _ := fakeServer(t)

	out, err := execute(t, "--server", srv.URL, "report", "run-42", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "format=json")

	_, err = execute(t, "--server", srv.URL, "report", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "run not found")
}

func TestMemory(t *testing.T) {
	srv, _ := fakeServer(t)

	out, err := execute(t, "--server", srv.URL, "memory", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Findings:  5")
	assert.Contains(t, out, "valuation_metric")

	out, err = execute(t, "--server", srv.URL, "memory", "clear", "aapl")
	require.NoError(t, err)
	assert.Equal(t, "Removed 5 finding(s) for AAPL\n", out)
}

func TestServerUnreachable(t *testing.T) {
	_, err := execute(t, "--server", "http://127.0.0.1:1", "memory", "stats")
	assert.Error(t, err)
}

func TestRun_InProcess(t *testing.T) {
	fixture, err := filepath.Abs("../../fixtures/securities.yaml")
	require.NoError(t, err)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("market_data:\n  fixture_path: "+fixture+"\nembeddings:\n  dimension: 32\n"), 0o600))
	reportPath := filepath.Join(dir, "aapl.md")

	_, err = execute(t, "--config", cfgPath, "run", "AAPL", "--tone", "bullish", "-o", reportPath)
	require.NoError(t, err)

	body, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# Financial Research Report: Apple Inc. (AAPL)")
	assert.Contains(t, string(body), "not investment advice")
}

func TestRun_RejectsBadFlags(t *testing.T) {
	_, err := execute(t, "run", "AAPL", "--tone", "giddy")
	assert.Error(t, err)
	_, err = execute(t, "run")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "finsight dev\n", out)
}
