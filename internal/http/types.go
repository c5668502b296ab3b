package http

import (
	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/runs"
	"github.com/fyrsmithlabs/finsight/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Telemetry telemetry.HealthStatus `json:"telemetry"`
}

// SubmitRunRequest is the request body for POST /api/v1/runs.
type SubmitRunRequest struct {
	Ticker string `json:"ticker"`
	Tone   string `json:"tone,omitempty"`
	Mode   string `json:"mode,omitempty"`

	// Timeout is a Go duration string such as "90s".
	Timeout string `json:"timeout,omitempty"`
}

// SubmitRunResponse is the response body for POST /api/v1/runs.
type SubmitRunResponse struct {
	RunID  string      `json:"run_id"`
	Status runs.Status `json:"status"`
}

// ListRunsResponse is the response body for GET /api/v1/runs.
type ListRunsResponse struct {
	Runs []runs.Snapshot `json:"runs"`
}

// TickerFindingsResponse is the response body for GET /api/v1/memory/:ticker.
type TickerFindingsResponse struct {
	Ticker   string            `json:"ticker"`
	Count    int               `json:"count"`
	Findings []finding.Finding `json:"findings"`
}

// ClearResponse is the response body for DELETE /api/v1/memory/:ticker.
type ClearResponse struct {
	Ticker  string `json:"ticker"`
	Removed int    `json:"removed"`
}
