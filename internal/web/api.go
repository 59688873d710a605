package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"calgrid/internal/layout"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events          []model.Event `json:"events"`
	RangeStart      time.Time     `json:"range_start"`
	RangeEnd        time.Time     `json:"range_end"`
	DisplayTimeZone string        `json:"display_timezone"`
	WeekStart       string        `json:"week_start"`
	RefreshedAt     *time.Time    `json:"refreshed_at,omitempty"`
}

type statusResponse struct {
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
	EventCount  int        `json:"event_count"`
	RangeStart  *time.Time `json:"range_start,omitempty"`
	RangeEnd    *time.Time `json:"range_end,omitempty"`
	Errors      []string   `json:"errors,omitempty"`
	Feeds       int        `json:"feeds"`
	CalDAV      int        `json:"caldav"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.config()
	resp := statusResponse{Feeds: len(cfg.ICS), CalDAV: len(cfg.CalDAV)}
	if snap := s.agenda.Snapshot(); snap != nil {
		resp.RefreshedAt = &snap.RefreshedAt
		resp.EventCount = len(snap.Events)
		resp.RangeStart = &snap.From
		resp.RangeEnd = &snap.To
		resp.Errors = snap.Errors
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents returns merged events within a window around today.
//
// GET /api/events?days=7&backfill=1
//   - days:     days ahead to include (default 7)
//   - backfill: days back to include (default 1)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	now := s.agenda.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	rangeStart := today.AddDate(0, 0, -backfill)
	rangeEnd := today.AddDate(0, 0, days+1).Add(-time.Nanosecond)

	appLog.Debug("api events request",
		"days", days,
		"backfill", backfill,
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)

	events, err := s.agenda.Events(r.Context(), rangeStart, rangeEnd)
	if err != nil {
		appLog.Error("api events failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	cfg := s.config()
	resp := eventsResponse{
		Events:          events,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: now.Location().String(),
		WeekStart:       cfg.WeekStart,
	}
	if snap := s.agenda.Snapshot(); snap != nil {
		resp.RefreshedAt = &snap.RefreshedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWeek returns the lane layout of one week.
//
// GET /api/week?date=2025-01-08&max_lanes=3
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day := s.agenda.Now()
	if v := q.Get("date"); v != "" {
		d, err := parseDate(v, day.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		day = d
	}

	wl, err := s.agenda.Week(r.Context(), day, parseIntDefault(q.Get("max_lanes"), 0))
	if err != nil {
		appLog.Error("api week failed", err)
		writeError(w, http.StatusInternalServerError, "failed to build week layout")
		return
	}
	s.verify(wl)
	writeJSON(w, http.StatusOK, wl)
}

// handleMonth returns the week layouts of a month grid.
//
// GET /api/month?month=2025-01&max_lanes=3
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, month, err := s.monthParam(q.Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mv, err := s.agenda.Month(r.Context(), year, month, parseIntDefault(q.Get("max_lanes"), 0))
	if err != nil {
		appLog.Error("api month failed", err)
		writeError(w, http.StatusInternalServerError, "failed to build month layout")
		return
	}
	for _, wl := range mv.Weeks {
		s.verify(wl)
	}
	writeJSON(w, http.StatusOK, mv)
}

// handleRefresh re-reads every calendar source. Failing sources are
// reported but do not fail the request.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.agenda.Refresh(r.Context())
	s.invalidate()

	type refreshResponse struct {
		OK     bool     `json:"ok"`
		Events int      `json:"events"`
		Errors []string `json:"errors,omitempty"`
	}
	resp := refreshResponse{OK: err == nil}
	if snap := s.agenda.Snapshot(); snap != nil {
		resp.Events = len(snap.Events)
		resp.Errors = snap.Errors
	}
	if err != nil && r.Context().Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "refresh canceled")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) verify(wl layout.WeekLayout) {
	if !s.debug {
		return
	}
	if err := layout.Verify(wl); err != nil {
		appLog.Error("layout verification failed", err, "week", wl.Week.String())
	}
}

// monthParam parses YYYY-MM, defaulting to the current month.
func (s *Server) monthParam(v string) (int, time.Month, error) {
	if v == "" {
		now := s.agenda.Now()
		return now.Year(), now.Month(), nil
	}
	t, err := time.Parse("2006-01", v)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: month must be YYYY-MM", errInvalidDate)
	}
	return t.Year(), t.Month(), nil
}

// parseDate parses YYYY-MM-DD as midnight in loc.
func parseDate(v string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(v), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", errInvalidDate)
	}
	return t, nil
}

// parseTime accepts RFC 3339 or YYYY-MM-DD (midnight in loc). The second
// result reports whether v was a plain date.
func parseTime(v string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), false, nil
	}
	t, err := parseDate(v, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %q is neither RFC 3339 nor YYYY-MM-DD", errInvalidDate, v)
	}
	return t, true, nil
}
