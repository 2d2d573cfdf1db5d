// Package cmd defines and implements the CLI commands for the chartcrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/billboard-chart-crawler/internal/config"
	"github.com/JakeFAU/billboard-chart-crawler/internal/orchestrator"
	"github.com/JakeFAU/billboard-chart-crawler/internal/server"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application container.
type App interface {
	Run(ctx context.Context, date time.Time) (orchestrator.Report, error)
	Backfill(ctx context.Context, start, end time.Time) (orchestrator.Report, error)
	Serve(ctx context.Context) error
	Today() time.Time
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// newApp is the application factory. Tests replace it with a fake.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return server.Build(ctx, &cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chartcrawler",
		Short: "Ingests weekly Billboard charts into historical CSV datasets.",
		Long: `chartcrawler fetches weekly chart pages, extracts their rows, appends
each week to the chart's historical CSV in the object store and republishes
the consolidated datasets.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and CHARTS_* environment when empty)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newBackfillCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp resolves the App for fn and closes it afterwards, also when fn fails.
func withApp(fn func(cmd *cobra.Command, app App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) (err error) {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := appInstance.Close(context.WithoutCancel(cmd.Context())); closeErr != nil && err == nil {
				err = fmt.Errorf("close application: %w", closeErr)
			}
		}()
		return fn(cmd, appInstance)
	}
}
