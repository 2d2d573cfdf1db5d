package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP trigger API",
		Long: `Starts the HTTP server exposing health probes, Prometheus metrics and
the /v1 endpoints that start runs and backfills. Stops on SIGINT or SIGTERM.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			return appInstance.Serve(cmd.Context())
		}),
	}
}
