package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"calgrid/internal/config"
	appLog "calgrid/internal/log"
)

// readySelector matches the root element of a finished calendar render.
const readySelector = `[data-ready="true"]`

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/calendar.svg".
	URL string

	// OutputPath is where the PNG screenshot is written, e.g.
	// "/var/lib/calgrid/preview.png".
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// config.DefaultCaptureWidth / DefaultCaptureHeight are used.
	Width  int
	Height int

	// Timeout bounds the entire capture operation.
	Timeout time.Duration

	// Username and Password are sent as HTTP Basic credentials when set.
	Username string
	Password string
}

// OptionsFromConfig builds capture options for the configured server.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		URL:        cfg.CaptureURL(),
		OutputPath: cfg.PreviewPath(),
		Width:      cfg.Capture.Width,
		Height:     cfg.Capture.Height,
		Timeout:    time.Duration(cfg.Capture.TimeoutSeconds) * time.Second,
	}
	if cfg.BasicAuth != nil {
		opts.Username = cfg.BasicAuth.Username
		opts.Password = cfg.BasicAuth.Password
	}
	return opts
}

func (o Options) withDefaults() (Options, error) {
	if o.URL == "" {
		return o, errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return o, errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = config.DefaultCaptureWidth
	}
	if o.Height <= 0 {
		o.Height = config.DefaultCaptureHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = config.DefaultCaptureTimeout * time.Second
	}
	return o, nil
}

// CalendarPNG launches a headless Chromium via chromedp, opens opts.URL,
// waits for the rendered calendar to expose data-ready="true" and writes a
// full-page PNG screenshot to opts.OutputPath.
func CalendarPNG(parentCtx context.Context, opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
	}
	if opts.Username != "" {
		tasks = append(tasks,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Authorization": basicAuth(opts.Username, opts.Password)}),
		)
	}
	tasks = append(tasks,
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		// Small extra delay to allow final paints.
		chromedp.Sleep(500*time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	)

	start := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := writeFileAtomic(opts.OutputPath, png); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	appLog.Info("capture completed", "url", opts.URL, "output", opts.OutputPath, "bytes", len(png), "took", time.Since(start).String())
	return nil
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// writeFileAtomic replaces path through a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".preview-*.png")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
