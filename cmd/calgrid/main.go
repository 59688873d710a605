package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"calgrid/internal/config"
	appLog "calgrid/internal/log"
)

const version = "0.1.0"

var (
	// Global flags
	configPath string
	verbose    bool

	// cfg is loaded once in PersistentPreRunE.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "calgrid",
	Short: "Month and week calendar grids from ICS, CalDAV and local events",
	Long: `calgrid merges subscribed ICS feeds, CalDAV calendars and locally stored
events, lays multi-day events out in week lanes, and serves the result as
JSON, SVG and a headless-browser PNG capture.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		level := appLog.ParseLevel(cfg.LogLevel)
		if verbose {
			level = appLog.LevelDebug
		}
		if err := appLog.Setup(level, verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = appLog.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/calgrid/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(serveCmd, weekCmd, renderCmd, captureCmd)
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
