package ics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	eical "github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	appLog "calgrid/internal/log"
)

// CalDAVSource reads VEVENTs from one CalDAV calendar collection.
type CalDAVSource struct {
	Source   Source
	Username string
	Password string
	// Calendar is the collection path. When empty the first calendar in the
	// user's home set is used.
	Calendar string

	httpClient *http.Client
	client     *caldav.Client
}

// NewCalDAVSource creates a source for src.URL (the CalDAV endpoint).
func NewCalDAVSource(src Source, username, password, calendar string) *CalDAVSource {
	return &CalDAVSource{
		Source:     src,
		Username:   username,
		Password:   password,
		Calendar:   calendar,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *CalDAVSource) ID() string { return s.Source.ID }

func (s *CalDAVSource) connect() (*caldav.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	var hc webdav.HTTPClient = s.httpClient
	if s.Username != "" || s.Password != "" {
		hc = webdav.HTTPClientWithBasicAuth(s.httpClient, s.Username, s.Password)
	}
	c, err := caldav.NewClient(hc, s.Source.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}
	s.client = c
	return c, nil
}

func (s *CalDAVSource) calendarPath(ctx context.Context, c *caldav.Client) (string, error) {
	if s.Calendar != "" {
		return s.Calendar, nil
	}
	principal, err := c.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := c.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find home set: %w", err)
	}
	cals, err := c.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("find calendars: %w", err)
	}
	if len(cals) == 0 {
		return "", errors.New("no calendars found")
	}
	s.Calendar = cals[0].Path
	appLog.Info("caldav calendar discovered", "id", s.Source.ID, "path", s.Calendar, "name", cals[0].Name)
	return s.Calendar, nil
}

// Events queries VEVENTs overlapping [from, to] and converts them to
// ParsedEvent so recurring ones go through the regular expansion.
func (s *CalDAVSource) Events(ctx context.Context, from, to time.Time) ([]ParsedEvent, error) {
	c, err := s.connect()
	if err != nil {
		return nil, err
	}
	path, err := s.calendarPath(ctx, c)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: from.UTC(),
				End:   to.UTC(),
			}},
		},
	}

	objects, err := c.QueryCalendar(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var out []ParsedEvent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		out = append(out, ParseCalendar(s.Source, obj.Data)...)
	}
	appLog.Info("caldav query completed", "id", s.Source.ID, "objects", len(objects), "event_count", len(out))
	return out, nil
}

// ParseCalendar converts the VEVENTs of a decoded iCalendar object.
// Events that cannot be converted are logged and skipped.
func ParseCalendar(src Source, cal *eical.Calendar) []ParsedEvent {
	var out []ParsedEvent
	for _, comp := range cal.Children {
		if comp.Name != eical.CompEvent {
			continue
		}
		ev, err := fromComponent(src, comp)
		if err != nil {
			appLog.Error("caldav vevent parse failed", err, "id", src.ID)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func fromComponent(src Source, comp *eical.Component) (ParsedEvent, error) {
	out := ParsedEvent{Source: src, Color: src.Color}

	uid := comp.Props.Get(eical.PropUID)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := comp.Props.Get(eical.PropSummary); p != nil {
		out.Summary = p.Value
	}
	if p := comp.Props.Get(eical.PropDescription); p != nil {
		out.Description = p.Value
	}
	if p := comp.Props.Get(eical.PropLocation); p != nil {
		out.Location = p.Value
	}
	if p := comp.Props.Get(eical.PropCategories); p != nil {
		out.Category = firstCategory(p.Value)
	}
	if p := comp.Props.Get("COLOR"); p != nil && strings.TrimSpace(p.Value) != "" {
		out.Color = strings.TrimSpace(p.Value)
	}

	startProp := comp.Props.Get(eical.PropDateTimeStart)
	if startProp == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = startProp.ValueType() == eical.ValueDate
	out.StartTZ = startProp.Params.Get(eical.ParamTimezoneID)

	ev := eical.Event{Component: comp}
	start, err := ev.DateTimeStart(time.UTC)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	end, err := ev.DateTimeEnd(time.UTC)
	if err != nil {
		return out, fmt.Errorf("DTEND: %w", err)
	}
	if !end.After(start) {
		end = start
		if out.AllDay {
			end = start.AddDate(0, 0, 1)
		}
	}
	out.Start, out.End = start, end

	if p := comp.Props.Get(eical.PropRecurrenceRule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range comp.Props[eical.PropExceptionDates] {
		loc := propLocation(p, start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := comp.Props.Get(eical.PropRecurrenceID); p != nil {
		if t, err := parseICSTime(p.Value, propLocation(*p, start.Location())); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

func propLocation(p eical.Prop, fallback *time.Location) *time.Location {
	if tzid := p.Params.Get(eical.ParamTimezoneID); tzid != "" {
		if loc, err := time.LoadLocation(tzid); err == nil {
			return loc
		}
	}
	return fallback
}
