package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	apihttp "github.com/fyrsmithlabs/finsight/internal/http"
	"github.com/fyrsmithlabs/finsight/internal/memory"
	"github.com/fyrsmithlabs/finsight/internal/runs"
)

func newSubmitCmd() *cobra.Command {
	var req apihttp.SubmitRunRequest
	var deadline time.Duration
	cmd := &cobra.Command{
		Use:   "submit TICKER",
		Short: "Submit a run to the server",
		Long: `Submit a run to finsightd and print its run id.

Examples:
  finsight submit AAPL
  finsight submit NVDA --tone bearish --deadline 90s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Ticker = args[0]
			if deadline > 0 {
				req.Timeout = deadline.String()
			}
			body, err := newAPIClient(serverURL, requestTimeout).do(http.MethodPost, "/api/v1/runs", req)
			if err != nil {
				return err
			}
			var resp apihttp.SubmitRunResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.RunID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Tone, "tone", "", "report tone: neutral, bullish or bearish")
	cmd.Flags().StringVar(&req.Mode, "mode", "", "dispatch mode: parallel or sequential")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "run deadline (default from server config)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "status [RUN_ID]",
		Short: "Show run status",
		Long: `Show one run, or list retained runs when no id is given.

Examples:
  finsight status
  finsight status 3f0c... --wait`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL, requestTimeout)
			if len(args) == 0 {
				var list apihttp.ListRunsResponse
				if err := client.getJSON("/api/v1/runs", &list); err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "RUN ID\tTICKER\tSTATUS\tSTAGE\tSUBMITTED")
				for _, s := range list.Runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Ticker, s.Status, s.Stage, s.SubmittedAt.Format(time.RFC3339))
				}
				return w.Flush()
			}

			path := "/api/v1/runs/" + url.PathEscape(args[0])
			if wait {
				// Waiting holds the request open, so lift the client timeout.
				client.http.Timeout = 0
				path += "?wait=true"
			}
			var snap runs.Snapshot
			if err := client.getJSON(path, &snap); err != nil {
				return err
			}
			printSnapshot(cmd, snap)
			if snap.Status == runs.StatusFailed {
				return fmt.Errorf("run %s failed", snap.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the run finishes")
	return cmd
}

func printSnapshot(cmd *cobra.Command, s runs.Snapshot) {
	fmt.Fprintf(cmd.OutOrStdout(), "Run:     %s\n", s.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "Ticker:  %s\n", s.Ticker)
	fmt.Fprintf(cmd.OutOrStdout(), "Status:  %s\n", s.Status)
	fmt.Fprintf(cmd.OutOrStdout(), "Stage:   %s\n", s.Stage)
	if s.Message != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Message: %s\n", s.Message)
	}
	if s.Error != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Error:   %s\n", s.Error)
	}
	if s.State != nil {
		if names := s.State.DegradedNames(); len(names) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Degraded: %s\n", strings.Join(names, ", "))
		}
	}
}

func newReportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "report RUN_ID",
		Short: "Print the report of a finished run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/runs/%s/report?format=%s", url.PathEscape(args[0]), url.QueryEscape(format))
			body, err := newAPIClient(serverURL, requestTimeout).do(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "export format: markdown or json")
	return cmd
}

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect the shared findings store",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var s memory.Stats
			if err := newAPIClient(serverURL, requestTimeout).getJSON("/api/v1/memory/stats", &s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Findings:  %d\n", s.TotalFindings)
			fmt.Fprintf(cmd.OutOrStdout(), "Tickers:   %d %v\n", s.UniqueTickers, s.Tickers)
			fmt.Fprintf(cmd.OutOrStdout(), "Producers: %d %v\n", s.UniqueProducers, s.Producers)
			kinds := make([]string, 0, len(s.ByKind))
			for k := range s.ByKind {
				kinds = append(kinds, string(k))
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-18s %d\n", k, s.ByKind[finding.Kind(k)])
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear TICKER",
		Short: "Delete every finding for a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newAPIClient(serverURL, requestTimeout).do(http.MethodDelete, "/api/v1/memory/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			var resp apihttp.ClearResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finding(s) for %s\n", resp.Removed, resp.Ticker)
			return nil
		},
	}

	cmd.AddCommand(stats, clearCmd)
	return cmd
}
