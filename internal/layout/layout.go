// Package layout packs calendar events into the horizontal lanes of a week
// row, the way month-view calendars stack multi-day event bars.
//
// The computation is pure: it takes a snapshot of events and a week window
// and returns a fresh layout. Lane numbers are only meaningful within a
// single result.
package layout

import (
	"sort"

	"calgrid/internal/model"
)

// Variant describes how an event's true span relates to the week it is
// drawn in. Renderers use it to decide which bar ends are rounded.
type Variant string

const (
	// VariantSingle: the event starts and ends inside the week.
	VariantSingle Variant = "single"
	// VariantStart: the event starts this week and continues into the next.
	VariantStart Variant = "start"
	// VariantMiddle: the event started before the week and continues after it.
	VariantMiddle Variant = "middle"
	// VariantEnd: the event started before the week and ends in it.
	VariantEnd Variant = "end"
)

// Options tunes a layout computation.
type Options struct {
	// MaxVisibleLanes caps the lanes returned in WeekLayout.Entries.
	// Entries in higher lanes are moved to WeekLayout.Hidden. Zero or
	// negative means no cap.
	MaxVisibleLanes int
}

// Entry is the placement of one event in one week.
type Entry struct {
	Event model.Event `json:"event"`

	// StartIndex and EndIndex are inclusive day columns (0-6).
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`

	Lane    int     `json:"lane"`
	Span    int     `json:"span"`
	Variant Variant `json:"variant"`
}

// Covers reports whether the entry occupies the given day column.
func (e Entry) Covers(day int) bool {
	return e.StartIndex <= day && day <= e.EndIndex
}

// WeekLayout is the result of LayoutWeek.
type WeekLayout struct {
	Week Week `json:"week"`

	// Entries holds the visible entries ordered by StartIndex, EndIndex.
	Entries []Entry `json:"entries"`
	// Hidden holds entries whose lane is at or above MaxVisibleLanes.
	Hidden []Entry `json:"hidden,omitempty"`

	// LaneCount is the number of lanes used by all entries, hidden or not.
	LaneCount int `json:"lane_count"`

	// DayTotals counts every entry (visible or hidden) covering each day.
	DayTotals [DaysPerWeek]int `json:"day_totals"`
	// HiddenPerDay counts hidden entries covering each day; this drives the
	// "+N more" label.
	HiddenPerDay [DaysPerWeek]int `json:"hidden_per_day"`
}

// All returns visible and hidden entries in layout order.
func (l WeekLayout) All() []Entry {
	all := make([]Entry, 0, len(l.Entries)+len(l.Hidden))
	all = append(all, l.Entries...)
	all = append(all, l.Hidden...)
	sortEntries(all)
	return all
}

// VisibleLanes is the number of lanes that appear in Entries.
func (l WeekLayout) VisibleLanes() int {
	n := 0
	for _, e := range l.Entries {
		if e.Lane+1 > n {
			n = e.Lane + 1
		}
	}
	return n
}

// candidate is an event clamped to the week before lane assignment.
type candidate struct {
	ev           model.Event
	start, end   int
	clampedStart bool
	clampedEnd   bool
}

// LayoutWeek assigns lanes to the events intersecting week.
//
// Events are clamped to the week, ordered by first day then last day, and
// placed first-fit into the lowest lane whose previous occupant ended on an
// earlier day. Two events touching the same day never share a lane.
//
// Event times must be valid; the caller filters unparseable dates.
func LayoutWeek(events []model.Event, week Week, opts Options) WeekLayout {
	loc := week.Location()
	weekStart := truncateDay(week.Start, loc)
	weekEnd := truncateDay(week.End, loc)

	out := WeekLayout{Week: Week{Start: weekStart, End: weekEnd}}

	cands := make([]candidate, 0, len(events))
	for _, ev := range events {
		s := truncateDay(ev.Start, loc)
		e := truncateDay(ev.EffectiveEnd(), loc)
		if s.After(weekEnd) || e.Before(weekStart) {
			continue
		}

		c := candidate{ev: ev}
		if s.Before(weekStart) {
			s = weekStart
			c.clampedStart = true
		}
		if e.After(weekEnd) {
			e = weekEnd
			c.clampedEnd = true
		}
		c.start = daysBetween(weekStart, s)
		c.end = daysBetween(weekStart, e)
		cands = append(cands, c)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return candidateLess(cands[i], cands[j])
	})

	// laneEnds[i] is the last day index occupied in lane i.
	laneEnds := make([]int, 0, 4)
	entries := make([]Entry, 0, len(cands))

	for _, c := range cands {
		lane := -1
		for i, end := range laneEnds {
			if end < c.start {
				lane = i
				break
			}
		}
		if lane < 0 {
			lane = len(laneEnds)
			laneEnds = append(laneEnds, c.end)
		} else {
			laneEnds[lane] = c.end
		}

		entries = append(entries, Entry{
			Event:      c.ev,
			StartIndex: c.start,
			EndIndex:   c.end,
			Lane:       lane,
			Span:       c.end - c.start + 1,
			Variant:    classify(c.clampedStart, c.clampedEnd),
		})
	}

	out.LaneCount = len(laneEnds)
	out.Entries = make([]Entry, 0, len(entries))

	for _, e := range entries {
		hidden := opts.MaxVisibleLanes > 0 && e.Lane >= opts.MaxVisibleLanes
		for d := e.StartIndex; d <= e.EndIndex; d++ {
			out.DayTotals[d]++
			if hidden {
				out.HiddenPerDay[d]++
			}
		}
		if hidden {
			out.Hidden = append(out.Hidden, e)
		} else {
			out.Entries = append(out.Entries, e)
		}
	}

	return out
}

// LayoutMonth lays out each week row independently.
func LayoutMonth(events []model.Event, weeks []Week, opts Options) []WeekLayout {
	out := make([]WeekLayout, 0, len(weeks))
	for _, w := range weeks {
		out = append(out, LayoutWeek(events, w, opts))
	}
	return out
}

func classify(clampedStart, clampedEnd bool) Variant {
	switch {
	case clampedStart && clampedEnd:
		return VariantMiddle
	case clampedStart:
		return VariantEnd
	case clampedEnd:
		return VariantStart
	default:
		return VariantSingle
	}
}

// candidateLess orders by (start, end). The remaining keys only make the
// result independent of input order.
func candidateLess(a, b candidate) bool {
	if a.start != b.start {
		return a.start < b.start
	}
	if a.end != b.end {
		return a.end < b.end
	}
	return eventLess(a.ev, b.ev)
}

func eventLess(a, b model.Event) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.EffectiveEnd().Before(b.EffectiveEnd())
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.StartIndex != b.StartIndex {
			return a.StartIndex < b.StartIndex
		}
		if a.EndIndex != b.EndIndex {
			return a.EndIndex < b.EndIndex
		}
		return eventLess(a.Event, b.Event)
	})
}
