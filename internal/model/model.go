package model

import (
	"sort"
	"time"
)

// Event is the unit the lane layout works on. End is inclusive; a zero End
// means the event ends when it starts.
type Event struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id,omitempty"`

	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	// Color is a CSS color (e.g. "#d33") used for the rendered bar.
	Color string `json:"color,omitempty"`

	AllDay bool `json:"all_day"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// EffectiveEnd returns End, or Start when End is unset or before Start.
func (e Event) EffectiveEnd() time.Time {
	if e.End.IsZero() || e.End.Before(e.Start) {
		return e.Start
	}
	return e.End
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string
	Category    string
	Color       string

	AllDay bool

	// Start / End are in the configured display timezone. End is exclusive,
	// as in iCalendar DTEND.
	Start time.Time
	End   time.Time
}

// Event converts an occurrence into a layout event. The exclusive iCalendar
// end becomes an inclusive one, so an all-day occurrence ending at the next
// midnight covers a single day.
func (o Occurrence) Event() Event {
	return Event{
		ID:       o.SourceID + "/" + o.UID + "/" + o.InstanceKey,
		SourceID: o.SourceID,
		Title:    o.Summary,
		Category: o.Category,
		Color:    o.Color,
		AllDay:   o.AllDay,
		Start:    o.Start,
		End:      InclusiveEnd(o.Start, o.End),
	}
}

// InclusiveEnd turns an exclusive end (iCalendar DTEND, an API "end") into
// the inclusive End of Event. An end at or before start yields start.
func InclusiveEnd(start, end time.Time) time.Time {
	if !end.After(start) {
		return start
	}
	return end.Add(-time.Nanosecond)
}

// Dedup drops events whose ID was already seen, keeping the first one.
func Dedup(events []Event) []Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	return out
}

// SortByStart orders events by start, then ID.
func SortByStart(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
}

// Overlaps reports whether the event's inclusive [Start, EffectiveEnd]
// intersects [from, to].
func (e Event) Overlaps(from, to time.Time) bool {
	return !e.Start.After(to) && !e.EffectiveEnd().Before(from)
}
