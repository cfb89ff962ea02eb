// Command kharcha turns bank and wallet notification mail into expense
// approvals and books approved ones to a ledger.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/daemon"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/config"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/logging"
)

// logsAnnotation marks long-running commands that log through
// logging.ProductionConfig.
const logsAnnotation = "logs"

// Version is set via ldflags at build time.
var Version = "dev"

var (
	configPath string
	inMemory   bool
	jsonLogs   bool
	jsonOutput bool
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "kharcha",
	Short:         "kharcha - expense capture from transaction mail",
	Long:          "Kharcha syncs mailboxes, classifies financial mail, extracts transactions and queues them for approval.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := logging.DefaultConfig()
		if cmd.Annotations[logsAnnotation] == "production" {
			cfg = logging.ProductionConfig()
		}
		if jsonLogs {
			cfg.JSON = true
		}
		logger = logging.Setup(cfg)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kharcha version %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides $KHARCHA_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "memory", false, "use the in-process store instead of PostgreSQL")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable output")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		if err := os.Setenv(config.FileEnv, configPath); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// withApp builds the application, runs fn and closes the application.
func withApp(fn func(ctx context.Context, app *daemon.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, err := daemon.Build(ctx, cfg, daemon.Options{Logger: logger, InMemory: inMemory})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}
