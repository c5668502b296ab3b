package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/orchestrator"
	"github.com/fyrsmithlabs/finsight/internal/report"
	"github.com/fyrsmithlabs/finsight/internal/runs"
)

const maxRunTimeout = 30 * time.Minute

func (s *Server) handleSubmitRun(c echo.Context) error {
	var body SubmitRunRequest
	if err := c.Bind(&body); err != nil {
		s.logger.Warn("invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(body.Ticker) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ticker field is required")
	}
	tone, err := report.ParseTone(body.Tone)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	mode, err := orchestrator.ParseMode(strings.ToLower(body.Mode))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var deadline time.Duration
	if body.Timeout != "" {
		deadline, err = time.ParseDuration(body.Timeout)
		if err != nil || deadline <= 0 || deadline > maxRunTimeout {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("timeout must be a positive duration up to %s", maxRunTimeout))
		}
	}

	id, err := s.runs.Submit(c.Request().Context(), orchestrator.RunRequest{
		Ticker:   body.Ticker,
		Tone:     tone,
		Mode:     mode,
		Deadline: deadline,
	})
	if err != nil {
		return httpError(err)
	}
	s.metrics.RecordSubmission(c.Request().Context(), mode, tone)
	s.logger.Debug("run accepted", zap.String("run_id", id), zap.String("ticker", body.Ticker))
	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/runs/"+id)
	return c.JSON(http.StatusAccepted, SubmitRunResponse{RunID: id, Status: runs.StatusPending})
}

func (s *Server) handleListRuns(c echo.Context) error {
	list := s.runs.List()
	if list == nil {
		list = []runs.Snapshot{}
	}
	return c.JSON(http.StatusOK, ListRunsResponse{Runs: list})
}

// handleGetRun returns a run snapshot. With ?wait=true it blocks until the
// run finishes, the client goes away or MaxWait passes, and then returns
// whatever the latest snapshot is.
func (s *Server) handleGetRun(c echo.Context) error {
	id := c.Param("id")
	wait, _ := strconv.ParseBool(c.QueryParam("wait"))
	if !wait {
		snap, err := s.runs.Get(id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, snap)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.MaxWait)
	defer cancel()
	snap, err := s.runs.Wait(ctx, id)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleCancelRun(c echo.Context) error {
	if err := s.runs.Cancel(c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleGetReport(c echo.Context) error {
	format, err := report.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap, err := s.runs.Get(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	switch {
	case !snap.Status.Done():
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("run %s is still %s", snap.ID, snap.Status))
	case snap.Status == runs.StatusFailed:
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("run %s failed: %s", snap.ID, snap.Error))
	case snap.State == nil || snap.State.Report == nil:
		return echo.NewHTTPError(http.StatusNotFound, "run has no report")
	}

	body, err := report.Export(*snap.State.Report, format)
	if err != nil {
		return httpError(err)
	}
	contentType := "text/markdown; charset=utf-8"
	if format == report.FormatJSON {
		contentType = echo.MIMEApplicationJSONCharsetUTF8
	}
	return c.Blob(http.StatusOK, contentType, body)
}

func (s *Server) handleMemoryStats(c echo.Context) error {
	stats, err := s.memory.Stats(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleMemoryTicker(c echo.Context) error {
	ticker := strings.ToUpper(c.Param("ticker"))
	found, err := s.memory.GetByTicker(c.Request().Context(), ticker)
	if err != nil {
		return httpError(err)
	}
	if producer := c.QueryParam("producer"); producer != "" {
		var filtered []finding.Finding
		for _, f := range found {
			if string(f.Producer) == producer {
				filtered = append(filtered, f)
			}
		}
		found = filtered
	}
	if found == nil {
		found = []finding.Finding{}
	}
	return c.JSON(http.StatusOK, TickerFindingsResponse{Ticker: ticker, Count: len(found), Findings: found})
}

func (s *Server) handleMemoryClear(c echo.Context) error {
	ticker := strings.ToUpper(c.Param("ticker"))
	n, err := s.memory.ClearTicker(c.Request().Context(), ticker)
	if err != nil {
		return httpError(err)
	}
	s.logger.Info("cleared ticker findings", zap.String("ticker", ticker), zap.Int("removed", n))
	return c.JSON(http.StatusOK, ClearResponse{Ticker: ticker, Removed: n})
}
