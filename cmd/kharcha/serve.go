package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/daemon"
)

var noWatchdog bool

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve the HTTP API with the stuck-sync watchdog",
	Annotations: map[string]string{logsAnnotation: "production"},
	Long: `Serve the HTTP control surface.

Without an AMQP URL the sync workers run inside this process, so a single
'kharcha serve' is a complete deployment. With AMQP configured, run one or
more 'kharcha worker' processes next to it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *daemon.App) error {
			return app.Run(ctx, daemon.Mode{API: true, Watchdog: !noWatchdog})
		})
	},
}

var workerCmd = &cobra.Command{
	Use:         "worker",
	Short:       "Consume queued sync tasks",
	Annotations: map[string]string{logsAnnotation: "production"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *daemon.App) error {
			return app.Run(ctx, daemon.Mode{Worker: true})
		})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noWatchdog, "no-watchdog", false, "do not sweep stuck sync locks from this process")
	rootCmd.AddCommand(serveCmd, workerCmd)
}
