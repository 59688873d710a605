package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/storage"
)

// localEventRequest is the body of POST and PUT /api/local-events.
// start/end accept RFC 3339 or YYYY-MM-DD; a plain date start makes the
// event all-day unless all_day is given explicitly. A timed end is exclusive
// and a date end includes that whole day.
type localEventRequest struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Color    string `json:"color"`
	AllDay   *bool  `json:"all_day"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

func (s *Server) decodeLocalEvent(w http.ResponseWriter, r *http.Request) (model.Event, error) {
	var req localEventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return model.Event{}, errors.New("invalid JSON body")
	}

	loc := s.config().Location()
	start, dateOnly, err := parseTime(req.Start, loc)
	if err != nil {
		return model.Event{}, err
	}

	ev := model.Event{
		Title:    req.Title,
		Category: req.Category,
		Color:    req.Color,
		AllDay:   dateOnly,
		Start:    start,
	}
	if req.AllDay != nil {
		ev.AllDay = *req.AllDay
	}

	if req.End != "" {
		end, endDateOnly, err := parseTime(req.End, loc)
		if err != nil {
			return model.Event{}, err
		}
		switch {
		case endDateOnly:
			// A date end means the whole of that day.
			end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		case end.After(start):
			// A timed end is exclusive, like DTEND.
			end = model.InclusiveEnd(start, end)
		}
		ev.End = end
	}
	return ev, nil
}

func (s *Server) handleListLocal(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.List(r.Context())
	if err != nil {
		appLog.Error("list local events failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCreateLocal(w http.ResponseWriter, r *http.Request) {
	ev, err := s.decodeLocalEvent(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.store.Create(r.Context(), ev)
	if err != nil {
		s.writeStoreError(w, "create", err)
		return
	}
	s.invalidate()
	appLog.Info("local event created", "id", created.ID, "start", created.Start.Format(time.RFC3339))
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetLocal(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleUpdateLocal(w http.ResponseWriter, r *http.Request) {
	ev, err := s.decodeLocalEvent(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev.ID = r.PathValue("id")

	updated, err := s.store.Update(r.Context(), ev)
	if err != nil {
		s.writeStoreError(w, "update", err)
		return
	}
	s.invalidate()
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteLocal(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, "delete", err)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, storage.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("local event "+op+" failed", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op+" event")
	}
}
