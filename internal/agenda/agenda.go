// Package agenda owns the merged view of all calendar sources and turns it
// into week and month layouts.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"calgrid/internal/config"
	"calgrid/internal/ics"
	"calgrid/internal/layout"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FeedFetcher downloads ICS feeds. *ics.Fetcher implements it.
type FeedFetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// Remote is a calendar queried by time range, such as *ics.CalDAVSource.
type Remote interface {
	ID() string
	Events(ctx context.Context, from, to time.Time) ([]ics.ParsedEvent, error)
}

// LocalStore is the user-editable event store. *storage.Storage implements it.
type LocalStore interface {
	ListRange(ctx context.Context, from, to time.Time) ([]model.Event, error)
}

// Settings are the view parameters taken from configuration.
type Settings struct {
	Location        *time.Location
	FirstDay        time.Weekday
	MaxVisibleLanes int
	HorizonDays     int
	BackfillDays    int
}

// SettingsFromConfig extracts Settings from a normalized config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Location:        cfg.Location(),
		FirstDay:        cfg.FirstWeekday(),
		MaxVisibleLanes: cfg.MaxVisibleLanes,
		HorizonDays:     cfg.HorizonDays,
		BackfillDays:    cfg.BackfillDays,
	}
}

// Sources lists the remote inputs of a refresh.
type Sources struct {
	Feeds   []ics.Source
	Remotes []Remote
}

// SourcesFromConfig builds ICS feeds and CalDAV remotes from cfg.
func SourcesFromConfig(cfg *config.Config) Sources {
	var s Sources
	for _, c := range cfg.ICS {
		s.Feeds = append(s.Feeds, ics.Source{ID: c.SourceID(), Name: c.Name, URL: c.URL, Color: c.Color})
	}
	for _, c := range cfg.CalDAV {
		src := ics.Source{ID: c.SourceID(), Name: c.Name, URL: c.URL, Color: c.Color}
		s.Remotes = append(s.Remotes, ics.NewCalDAVSource(src, c.Username, c.Password, c.Calendar))
	}
	return s
}

// Snapshot is the result of the last successful refresh.
type Snapshot struct {
	Events      []model.Event `json:"events"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	RefreshedAt time.Time     `json:"refreshed_at"`
	// Errors lists sources that failed during the refresh.
	Errors []string `json:"errors,omitempty"`
}

// MonthView is a month grid: one week layout per row.
type MonthView struct {
	Year  int                 `json:"year"`
	Month time.Month          `json:"month"`
	Weeks []layout.WeekLayout `json:"weeks"`
}

// Service merges remote calendars and the local store. Reads never block;
// Refresh swaps in a new snapshot when it completes.
type Service struct {
	fetcher FeedFetcher
	store   LocalStore
	clock   Clock

	settings atomic.Pointer[Settings]
	sources  atomic.Pointer[Sources]
	snap     atomic.Pointer[Snapshot]

	// refreshMu serializes refreshes.
	refreshMu sync.Mutex
}

// New creates a Service. store and fetcher may be nil.
func New(fetcher FeedFetcher, store LocalStore, clock Clock, settings Settings, sources Sources) *Service {
	if clock == nil {
		clock = RealClock{}
	}
	s := &Service{fetcher: fetcher, store: store, clock: clock}
	s.Configure(settings, sources)
	return s
}

// FromConfig wires a Service with an on-disk ICS fetcher.
func FromConfig(cfg *config.Config, store LocalStore) *Service {
	return New(ics.NewFetcher(cfg.CacheDir()), store, RealClock{}, SettingsFromConfig(cfg), SourcesFromConfig(cfg))
}

// Configure replaces settings and sources. It takes effect for the next
// read or refresh.
func (s *Service) Configure(settings Settings, sources Sources) {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	s.settings.Store(&settings)
	s.sources.Store(&sources)
}

func (s *Service) Settings() Settings {
	return *s.settings.Load()
}

// Snapshot returns the last refreshed snapshot, or nil before the first one.
func (s *Service) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Refresh fetches every source, expands recurrences over
// [today-backfill, today+horizon] and replaces the snapshot. Failing sources
// are reported in the returned error and the snapshot; the others still
// refresh.
func (s *Service) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	st := s.Settings()
	srcs := *s.sources.Load()

	now := s.clock.Now().In(st.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, st.Location)
	from := today.AddDate(0, 0, -st.BackfillDays)
	to := today.AddDate(0, 0, st.HorizonDays)

	parsed, errs := s.collect(ctx, srcs, from, to)
	if err := ctx.Err(); err != nil {
		return err
	}

	exp, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		DisplayLocation: st.Location,
		RangeStart:      from,
		RangeEnd:        to,
	})
	if err != nil {
		return fmt.Errorf("expand: %w", err)
	}

	events := make([]model.Event, 0, len(exp.Occurrences))
	for _, occ := range exp.Occurrences {
		events = append(events, occ.Event())
	}
	events = model.Dedup(events)
	model.SortByStart(events)

	snap := &Snapshot{
		Events:      events,
		From:        from,
		To:          to,
		RefreshedAt: s.clock.Now(),
	}
	for _, e := range errs {
		snap.Errors = append(snap.Errors, e.Error())
	}
	s.snap.Store(snap)

	appLog.Info("agenda refreshed",
		"events", len(events),
		"feeds", len(srcs.Feeds),
		"remotes", len(srcs.Remotes),
		"failed", len(errs),
		"from", from.Format("2006-01-02"),
		"to", to.Format("2006-01-02"),
	)
	return errors.Join(errs...)
}

func (s *Service) collect(ctx context.Context, srcs Sources, from, to time.Time) ([]ics.ParsedEvent, []error) {
	var (
		mu     sync.Mutex
		parsed []ics.ParsedEvent
		errs   []error
	)

	if s.fetcher != nil && len(srcs.Feeds) > 0 {
		results, fetchErrs := s.fetcher.FetchAll(ctx, srcs.Feeds)
		errs = append(errs, fetchErrs...)
		for _, res := range results {
			evs, err := ics.ParseICS(res.Source, res.Body)
			if err != nil {
				errs = append(errs, fmt.Errorf("parse %s: %w", res.Source.ID, err))
				continue
			}
			parsed = append(parsed, evs...)
		}
	}

	remoteEvents := make([][]ics.ParsedEvent, len(srcs.Remotes))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range srcs.Remotes {
		g.Go(func() error {
			evs, err := r.Events(gctx, from, to)
			if err != nil {
				appLog.Error("remote calendar failed", err, "id", r.ID())
				mu.Lock()
				errs = append(errs, fmt.Errorf("remote %s: %w", r.ID(), err))
				mu.Unlock()
				return nil
			}
			remoteEvents[i] = evs
			return nil
		})
	}
	_ = g.Wait()

	for _, evs := range remoteEvents {
		parsed = append(parsed, evs...)
	}
	return parsed, errs
}

// Events returns snapshot and local events whose inclusive span intersects
// [from, to], in the configured timezone and ordered by start.
func (s *Service) Events(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	st := s.Settings()
	out := make([]model.Event, 0)

	if snap := s.snap.Load(); snap != nil {
		for _, ev := range snap.Events {
			if ev.Overlaps(from, to) {
				out = append(out, ev)
			}
		}
	}

	if s.store != nil {
		local, err := s.store.ListRange(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("local events: %w", err)
		}
		for _, ev := range local {
			ev.Start = ev.Start.In(st.Location)
			ev.End = ev.End.In(st.Location)
			out = append(out, ev)
		}
	}

	out = model.Dedup(out)
	model.SortByStart(out)
	return out, nil
}

// Week lays out the week containing t. maxLanes <= 0 uses the configured cap.
func (s *Service) Week(ctx context.Context, t time.Time, maxLanes int) (layout.WeekLayout, error) {
	st := s.Settings()
	week := layout.WeekOf(t, st.Location, st.FirstDay)

	events, err := s.Events(ctx, week.Start, endOfDay(week.End))
	if err != nil {
		return layout.WeekLayout{}, err
	}
	return layout.LayoutWeek(events, week, s.options(st, maxLanes)), nil
}

// Month lays out every week row of the given month.
func (s *Service) Month(ctx context.Context, year int, month time.Month, maxLanes int) (MonthView, error) {
	st := s.Settings()
	weeks := layout.MonthWeeks(year, month, st.Location, st.FirstDay)

	events, err := s.Events(ctx, weeks[0].Start, endOfDay(weeks[len(weeks)-1].End))
	if err != nil {
		return MonthView{}, err
	}
	return MonthView{
		Year:  year,
		Month: month,
		Weeks: layout.LayoutMonth(events, weeks, s.options(st, maxLanes)),
	}, nil
}

// Now is the clock time in the configured timezone.
func (s *Service) Now() time.Time {
	return s.clock.Now().In(s.Settings().Location)
}

func (s *Service) options(st Settings, maxLanes int) layout.Options {
	if maxLanes <= 0 {
		maxLanes = st.MaxVisibleLanes
	}
	return layout.Options{MaxVisibleLanes: maxLanes}
}

func endOfDay(day time.Time) time.Time {
	return day.AddDate(0, 0, 1).Add(-time.Nanosecond)
}
