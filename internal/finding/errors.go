package finding

import "errors"

// Run error taxonomy. Stage errors wrap these so callers can use errors.Is.
var (
	// ErrInvalidTicker means the ticker does not resolve to a known security.
	// Fatal, never retried.
	ErrInvalidTicker = errors.New("invalid ticker")

	// ErrDataUnavailable means a collaborator had nothing to return.
	// The affected dimension is degraded instead of failing the run.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrRejectedByGate means the quality gate rejected an agent result.
	ErrRejectedByGate = errors.New("rejected by quality gate")

	// ErrDeadlineExceeded means the run deadline passed with work outstanding.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrStore means a memory store read or write failed.
	ErrStore = errors.New("store error")
)
