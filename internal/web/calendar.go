package web

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"calgrid/internal/ics"
	appLog "calgrid/internal/log"
	"calgrid/internal/render"
)

// handleCalendarSVG renders the month grid captured for the preview image.
//
// GET /calendar.svg?month=2025-01
func (s *Server) handleCalendarSVG(w http.ResponseWriter, r *http.Request) {
	year, month, err := s.monthParam(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.config()
	today := s.agenda.Now()

	var refreshed time.Time
	if snap := s.agenda.Snapshot(); snap != nil {
		refreshed = snap.RefreshedAt
	}
	key := fmt.Sprintf("%04d-%02d|%s|%s|%d", year, month, today.Format("2006-01-02"),
		refreshed.Format(time.RFC3339Nano), s.localVersion.Load())

	s.svgMu.RLock()
	sc := s.svgCache
	s.svgMu.RUnlock()
	if sc != nil && sc.key == key {
		writeSVG(w, sc.body)
		return
	}

	mv, err := s.agenda.Month(r.Context(), year, month, 0)
	if err != nil {
		appLog.Error("calendar svg: month layout failed", err)
		writeError(w, http.StatusInternalServerError, "failed to build month layout")
		return
	}
	for _, wl := range mv.Weeks {
		s.verify(wl)
	}

	var buf bytes.Buffer
	renderer := render.New(s.labels.Load(), cfg.Capture.Width, cfg.Capture.Height)
	if err := renderer.Month(&buf, year, month, mv.Weeks, today); err != nil {
		appLog.Error("calendar svg: render failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render calendar")
		return
	}

	s.svgMu.Lock()
	s.svgCache = &svgCache{key: key, body: buf.Bytes()}
	s.svgMu.Unlock()

	writeSVG(w, buf.Bytes())
}

func writeSVG(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleCalendarICS exports the local events as an iCalendar feed.
func (s *Server) handleCalendarICS(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.List(r.Context())
	if err != nil {
		appLog.Error("calendar ics: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	loc := s.config().Location()
	for i := range events {
		events[i].Start = events[i].Start.In(loc)
		events[i].End = events[i].End.In(loc)
	}

	var buf bytes.Buffer
	if err := ics.EncodeCalendar(&buf, events, time.Now()); err != nil {
		appLog.Error("calendar ics: encode failed", err)
		writeError(w, http.StatusInternalServerError, "failed to encode calendar")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calgrid.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
