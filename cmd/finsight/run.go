package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/finsight/internal/app"
	"github.com/fyrsmithlabs/finsight/internal/config"
	"github.com/fyrsmithlabs/finsight/internal/orchestrator"
	"github.com/fyrsmithlabs/finsight/internal/report"
)

type runFlags struct {
	tone     string
	mode     string
	format   string
	deadline time.Duration
	output   string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run TICKER",
		Short: "Run a research report in-process",
		Long: `Run a research report in-process and print the export.

Examples:
  # Offline run against the bundled fixtures
  finsight run AAPL

  # Bullish tone, sequential dispatch, JSON output to a file
  finsight run MSFT --tone bullish --mode sequential --format json -o msft.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.tone, "tone", "neutral", "report tone: neutral, bullish or bearish")
	cmd.Flags().StringVar(&f.mode, "mode", "parallel", "dispatch mode: parallel or sequential")
	cmd.Flags().StringVar(&f.format, "format", "markdown", "export format: markdown or json")
	cmd.Flags().DurationVar(&f.deadline, "deadline", 0, "run deadline (default from config)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func runLocal(cmd *cobra.Command, ticker string, f runFlags) error {
	tone, err := report.ParseTone(f.tone)
	if err != nil {
		return err
	}
	mode, err := orchestrator.ParseMode(f.mode)
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(f.format)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Keep stdout for the report.
	cfg.Logging.Output.Stdout = false
	cfg.Logging.Output.OTEL = true

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.WithVersion(version))
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	a.Executor.OnProgress(func(p orchestrator.Progress) {
		if p.Agent != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s: %s\n", p.Stage, p.Agent, p.Message)
			return
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", p.Stage, p.Message)
	})

	state, err := a.Executor.Run(ctx, orchestrator.RunRequest{
		RunID:    uuid.New().String(),
		Ticker:   ticker,
		Tone:     tone,
		Mode:     mode,
		Deadline: f.deadline,
	})
	if err != nil {
		return fmt.Errorf("run failed at %s: %w", state.FailedStage, err)
	}
	if names := state.DegradedNames(); len(names) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "degraded: %v\n", names)
	}

	body, err := report.Export(*state.Report, format)
	if err != nil {
		return err
	}
	if f.output != "" {
		return os.WriteFile(f.output, body, 0o644)
	}
	_, err = cmd.OutOrStdout().Write(body)
	return err
}
