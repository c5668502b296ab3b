// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout and OpenTelemetry)
//   - Context field injection (trace_id, run_id, ticker, stage, request_id)
//   - Secret redaction by field name and value pattern
//   - Per-level sampling (errors never sampled)
//
// # Usage
//
//	logger, err := logging.NewLogger(&cfg.Logging, provider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithTicker(ctx, "AAPL")
//	logger.Info(ctx, "run accepted", zap.String("mode", "parallel"))
//
// Output:
//
//	{"ts":"2026-10-14T10:15:30Z","level":"info","msg":"run accepted",
//	 "service":"finsight","run_id":"9f0c...","ticker":"AAPL","mode":"parallel"}
//
// Components below the surfaces take a plain *zap.Logger; use Underlying
// to hand them one.
//
// # Testing
//
//	logger := logging.NewTestLogger()
//	doWork(logger.Underlying())
//	logger.AssertLogged(t, zapcore.WarnLevel, "dimension degraded")
package logging
