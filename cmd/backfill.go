package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
)

func newBackfillCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Ingests every week between two dates",
		Long: `Walks from --start to --end in seven-day steps and ingests every
configured chart for each week, oldest first. The dataset is published once
at the end.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			from, err := chart.ParseDate(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			to, err := chart.ParseDate(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			report, err := appInstance.Backfill(cmd.Context(), from, to)
			return finishBatch(cmd.OutOrStdout(), appInstance.Logger(), report, err)
		}),
	}
	cmd.Flags().StringVar(&start, "start", "", "first chart date as YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last chart date as YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
