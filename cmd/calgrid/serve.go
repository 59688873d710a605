package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"calgrid/internal/agenda"
	"calgrid/internal/capture"
	"calgrid/internal/config"
	appLog "calgrid/internal/log"
	"calgrid/internal/scheduler"
	"calgrid/internal/storage"
	"calgrid/internal/web"
)

var (
	serveListen string
	serveOnce   bool
	serveDebug  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the refresh schedule",
	Long: `Run the HTTP server, refresh calendar sources on the configured cron
schedule and capture the preview PNG after each refresh when capture is
enabled. The config file is watched and reloaded on change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config if set)")
	serveCmd.Flags().BoolVar(&serveOnce, "once", false, "Run one refresh+capture cycle and exit")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Verify every computed layout")
}

func runServe(ctx context.Context) error {
	// CLI --listen overrides config file listen if provided.
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	appLog.Info("calgrid starting",
		"version", version,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"week_start", cfg.WeekStart,
		"refresh", cfg.RefreshCron,
		"ics_count", len(cfg.ICS),
		"caldav_count", len(cfg.CalDAV),
		"capture", cfg.Capture.Enabled,
		"once", serveOnce,
	)

	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	svc := agenda.FromConfig(cfg, store)

	srv, err := web.NewServer(cfg, svc, store, serveDebug)
	if err != nil {
		return err
	}

	var current atomic.Pointer[config.Config]
	current.Store(cfg)
	sched := scheduler.New(cfg.RefreshCron, cfg.Location(), svc, func(ctx context.Context) error {
		c := current.Load()
		if !c.Capture.Enabled {
			return nil
		}
		return capture.CalendarPNG(ctx, capture.OptionsFromConfig(c))
	})

	// The capture step loads the local page, so the listener is bound
	// before any cycle runs.
	ln, err := web.Listen(cfg.Listen)
	if err != nil {
		return err
	}

	if serveOnce {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(runCtx, ln) }()
		sched.RunNow(ctx)
		cancel()
		return <-errCh
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	g.Go(func() error {
		defer sched.Stop()
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return config.Watch(gctx, configPath, func(next *config.Config) {
			// Listen and the refresh schedule need a restart to change.
			prev := current.Load()
			next.Listen = prev.Listen
			next.RefreshCron = prev.RefreshCron
			if err := srv.SetConfig(next); err != nil {
				appLog.Error("config reload rejected", err)
				return
			}
			svc.Configure(agenda.SettingsFromConfig(next), agenda.SourcesFromConfig(next))
			appLog.SetLevel(appLog.ParseLevel(next.LogLevel))
			current.Store(next)
			appLog.Info("config reloaded", "ics_count", len(next.ICS), "caldav_count", len(next.CalDAV))
		})
	})

	err = g.Wait()
	appLog.Info("calgrid exiting")
	return err
}
