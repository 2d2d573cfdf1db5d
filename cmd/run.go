package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
	"github.com/JakeFAU/billboard-chart-crawler/internal/id/uuid"
	"github.com/JakeFAU/billboard-chart-crawler/internal/orchestrator"
)

// errNothingIngested is returned when every unit of a batch failed.
var errNothingIngested = errors.New("no chart week was ingested")

func newRunCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingests every configured chart for one week",
		Long: `Fetches each configured chart for the given date, uploads the weekly
snapshot, merges it into the historical dataset and publishes a new dataset
version. Without --date the current date in ingest.timezone is used.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			day := appInstance.Today()
			if date != "" {
				var err error
				if day, err = chart.ParseDate(date); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			report, err := appInstance.Run(cmd.Context(), day)
			return finishBatch(cmd.OutOrStdout(), appInstance.Logger(), report, err)
		}),
	}
	cmd.Flags().StringVar(&date, "date", "", "chart date as YYYY-MM-DD")
	return cmd
}

// finishBatch prints the per-unit outcome and decides the exit status. Partial
// failures are reported but do not fail the command.
func finishBatch(w io.Writer, logger *zap.Logger, report orchestrator.Report, err error) error {
	printReport(w, report)
	if err != nil {
		return fmt.Errorf("batch %s: %w", report.RunID, err)
	}
	failed := report.Failed()
	if len(failed) > 0 {
		logger.Warn("Batch finished with failures",
			zap.String("run_id", report.RunID),
			zap.Int("failed", len(failed)),
			zap.Int("succeeded", report.Succeeded()),
		)
	}
	if report.Succeeded() == 0 && len(failed) > 0 {
		return errNothingIngested
	}
	return nil
}

func printReport(w io.Writer, report orchestrator.Report) {
	if started, err := uuid.StartedAt(report.RunID); err == nil {
		_, _ = fmt.Fprintf(w, "batch %s started %s\n", report.RunID, started.Format(time.RFC3339))
	}
	for _, u := range report.Units {
		line := fmt.Sprintf("%-20s %s %-7s rows=%d", u.ChartID, chart.FormatDate(u.Date), u.Status, u.Rows)
		if u.Err != nil {
			line += fmt.Sprintf(" stage=%s err=%v", u.Stage, u.Err)
		}
		_, _ = fmt.Fprintln(w, line)
	}
	if report.Published {
		_, _ = fmt.Fprintf(w, "published: %s\n", report.Note)
	}
}
