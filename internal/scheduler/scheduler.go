package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calgrid/internal/log"
)

// Refresher reloads calendar data. *agenda.Service implements it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// CaptureFunc renders the preview image after a refresh.
type CaptureFunc func(ctx context.Context) error

// Scheduler runs the refresh (and optional capture) on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	spec      string
	refresher Refresher
	capture   CaptureFunc

	// runMu keeps a manual RunNow and a cron tick from overlapping.
	runMu sync.Mutex
}

// New creates a scheduler for spec in loc. capture may be nil.
func New(spec string, loc *time.Location, refresher Refresher, capture CaptureFunc) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{
		cron:      c,
		spec:      spec,
		refresher: refresher,
		capture:   capture,
	}
}

// Start runs one cycle immediately, then on every tick of the schedule.
// It blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunNow(ctx) }); err != nil {
		return fmt.Errorf("add refresh job %q: %w", s.spec, err)
	}

	s.RunNow(ctx)

	s.cron.Start()
	appLog.Info("scheduler started", "spec", s.spec, "capture", s.capture != nil)

	<-ctx.Done()
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	appLog.Info("scheduler stopped")
}

// RunNow performs one refresh and, when configured, one capture.
// Errors are logged; a failed refresh still captures the previous snapshot.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	if err := s.refresher.Refresh(ctx); err != nil {
		appLog.Error("scheduled refresh failed", err)
	}
	if s.capture == nil || ctx.Err() != nil {
		return
	}
	if err := s.capture(ctx); err != nil {
		appLog.Error("scheduled capture failed", err)
	}
}

// cronLogger routes cron's own messages to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
