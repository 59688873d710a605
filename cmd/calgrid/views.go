package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"calgrid/internal/agenda"
	"calgrid/internal/capture"
	appLog "calgrid/internal/log"
	"calgrid/internal/render"
	"calgrid/internal/storage"
	"calgrid/internal/termview"
)

var (
	weekColumns int
	weekLanes   int

	renderOut  string
	renderWeek string
)

var weekCmd = &cobra.Command{
	Use:   "week [YYYY-MM-DD]",
	Short: "Print the lane layout of a week to the terminal",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := refreshedAgenda(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		day := svc.Now()
		if len(args) == 1 {
			if day, err = time.ParseInLocation("2006-01-02", args[0], day.Location()); err != nil {
				return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
			}
		}

		wl, err := svc.Week(cmd.Context(), day, weekLanes)
		if err != nil {
			return err
		}
		labels, err := render.NewLabels(cfg.Language)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), termview.New(labels, weekColumns).Render(wl, svc.Now()))
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render [YYYY-MM]",
	Short: "Render a month (or with --week, one week) as SVG",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, closeStore, err := refreshedAgenda(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		labels, err := render.NewLabels(cfg.Language)
		if err != nil {
			return err
		}
		r := render.New(labels, cfg.Capture.Width, cfg.Capture.Height)

		out := cmd.OutOrStdout()
		if renderOut != "" && renderOut != "-" {
			f, err := os.Create(renderOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		now := svc.Now()
		if renderWeek != "" {
			day, err := time.ParseInLocation("2006-01-02", renderWeek, now.Location())
			if err != nil {
				return fmt.Errorf("--week must be YYYY-MM-DD: %w", err)
			}
			wl, err := svc.Week(ctx, day, 0)
			if err != nil {
				return err
			}
			return r.Week(out, wl, now)
		}

		year, month := now.Year(), now.Month()
		if len(args) == 1 {
			t, err := time.Parse("2006-01", args[0])
			if err != nil {
				return fmt.Errorf("month must be YYYY-MM: %w", err)
			}
			year, month = t.Year(), t.Month()
		}
		mv, err := svc.Month(ctx, year, month, 0)
		if err != nil {
			return err
		}
		if err := r.Month(out, year, month, mv.Weeks, now); err != nil {
			return err
		}
		if renderOut != "" && renderOut != "-" {
			appLog.Info("svg written", "path", renderOut, "month", fmt.Sprintf("%04d-%02d", year, month))
		}
		return nil
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Screenshot the calendar page of a running server to PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		return capture.CalendarPNG(cmd.Context(), capture.OptionsFromConfig(cfg))
	},
}

func init() {
	weekCmd.Flags().IntVar(&weekColumns, "columns", 14, "Terminal width of one day column")
	weekCmd.Flags().IntVar(&weekLanes, "max-lanes", 0, "Visible lanes (0 uses the config value)")

	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "-", "Output file (- for stdout)")
	renderCmd.Flags().StringVar(&renderWeek, "week", "", "Render the week containing YYYY-MM-DD instead of a month")
}

// refreshedAgenda opens the local store and refreshes every source once.
// Failing sources are logged; the remaining ones are still shown.
func refreshedAgenda(ctx context.Context) (*agenda.Service, func(), error) {
	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, nil, err
	}
	svc := agenda.FromConfig(cfg, store)
	if err := svc.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			_ = store.Close()
			return nil, nil, err
		}
		appLog.Warn("some sources failed", "error", err.Error())
	}
	return svc, func() { _ = store.Close() }, nil
}
