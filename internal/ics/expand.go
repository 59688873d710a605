package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// DefaultMaxOccurrences caps the instances produced by one recurring event.
const DefaultMaxOccurrences = 5000

// ExpandConfig bounds an expansion.
type ExpandConfig struct {
	// DisplayLocation is the zone occurrences are converted to (time.Local
	// when nil).
	DisplayLocation *time.Location

	// RangeStart and RangeEnd are inclusive. An occurrence is kept when any
	// part of it falls inside.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent defaults to DefaultMaxOccurrences.
	MaxOccurrencesPerEvent int
}

type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents lists UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// series is every VEVENT sharing a source and UID: the base definitions and
// the RECURRENCE-ID overrides that replace single instances.
type series struct {
	sourceID  string
	uid       string
	bases     []ParsedEvent
	overrides []ParsedEvent
}

// ExpandOccurrences turns parsed events into concrete occurrences inside the
// configured window. RRULE instances are generated with rrule-go, EXDATEs
// removed and overridden instances replaced. All-day dates keep their
// calendar date in the display zone. Output is ordered by start, source,
// then UID.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = DefaultMaxOccurrences
	}

	for _, sr := range groupSeries(events) {
		truncated := false
		for _, base := range sr.bases {
			occ, capped := sr.expand(base, cfg)
			truncated = truncated || capped
			result.Occurrences = append(result.Occurrences, occ...)
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, sr.uid)
			appLog.Warn("recurrence truncated", "source", sr.sourceID, "uid", sr.uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	sort.SliceStable(result.Occurrences, func(i, j int) bool {
		a, b := result.Occurrences[i], result.Occurrences[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.UID < b.UID
	})
	return result, nil
}

// groupSeries groups events by source and UID in first-seen order. A series
// made only of overrides produces nothing.
func groupSeries(events []ParsedEvent) []*series {
	type key struct{ source, uid string }
	index := make(map[key]*series)
	var out []*series

	for _, ev := range events {
		k := key{ev.Source.ID, ev.UID}
		sr, ok := index[k]
		if !ok {
			sr = &series{sourceID: k.source, uid: k.uid}
			index[k] = sr
			out = append(out, sr)
		}
		if ev.IsOverride && ev.Recurrence != nil {
			sr.overrides = append(sr.overrides, ev)
		} else {
			sr.bases = append(sr.bases, ev)
		}
	}
	return out
}

// expand produces the occurrences of one base event and reports whether the
// cap cut the instance list.
func (sr *series) expand(ev ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" {
		start, end := ev.Start, ev.End
		if o, ok := findOverrideForStart(sr.overrides, start); ok {
			ev, start, end = o, o.Start, o.End
		}
		occ := makeOccurrence(ev, start, end, cfg.DisplayLocation)
		if !timeRangesOverlap(occ.Start, occ.End, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		return []model.Occurrence{occ}, false
	}

	starts, capped, err := instanceStarts(ev, cfg)
	if err != nil {
		appLog.Error("invalid RRULE, event skipped", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}

	dur := max(ev.End.Sub(ev.Start), 0)
	days := 0
	if ev.AllDay {
		days = max(calendarDays(ev.Start, ev.End), 1)
	}

	var out []model.Occurrence
	for _, instStart := range starts {
		instEnd := instStart.Add(dur)
		if ev.AllDay {
			instEnd = instStart.AddDate(0, 0, days)
		}

		src, start, end := ev, instStart, instEnd
		if o, ok := findOverrideForStart(sr.overrides, instStart); ok {
			src, start, end = o, o.Start, o.End
		}

		occ := makeOccurrence(src, start, end, cfg.DisplayLocation)
		// The key follows the original slot, so a moved instance keeps it.
		occ.InstanceKey = instStart.In(cfg.DisplayLocation).Format(time.RFC3339)
		if timeRangesOverlap(occ.Start, occ.End, cfg.RangeStart, cfg.RangeEnd) {
			out = append(out, occ)
		}
	}
	return out, capped
}

// instanceStarts lists RRULE instance starts minus EXDATEs. The window is
// widened by the event duration so an instance already running at
// RangeStart is included.
func instanceStarts(ev ParsedEvent, cfg ExpandConfig) ([]time.Time, bool, error) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		return nil, false, err
	}
	loc := ev.Start.Location()
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(loc))
	}

	dur := max(ev.End.Sub(ev.Start), 0)
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		return starts[:cfg.MaxOccurrencesPerEvent], true, nil
	}
	return starts, false, nil
}

// findOverrideForStart finds an override event whose RECURRENCE-ID matches
// the given instance start with exact time equality.
func findOverrideForStart(overrides []ParsedEvent, instanceStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(instanceStart) {
			return ov, true
		}
		// All-day RECURRENCE-IDs are plain dates.
		if ov.AllDay && sameDate(*ov.Recurrence, instanceStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeOccurrence converts a (possibly overridden) ParsedEvent + specific
// start/end time into a model.Occurrence normalized into displayLoc.
// All-day dates are re-anchored at midnight in displayLoc instead of being
// converted, so a date never moves to a neighboring day.
func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	var startLocal, endLocal time.Time
	if ev.AllDay {
		startLocal = anchorDate(start, displayLoc)
		endLocal = anchorDate(end, displayLoc)
		if !endLocal.After(startLocal) {
			endLocal = startLocal.AddDate(0, 0, 1)
		}
	} else {
		startLocal = start.In(displayLoc)
		endLocal = end.In(displayLoc)
	}

	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: startLocal.Format(time.RFC3339),
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Category:    ev.Category,
		Color:       ev.Color,
		AllDay:      ev.AllDay,
		Start:       startLocal,
		End:         endLocal,
	}
}

func anchorDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// calendarDays counts dates from a to b in their own wall clocks.
func calendarDays(a, b time.Time) int {
	ua := anchorDate(a, time.UTC)
	ub := anchorDate(b, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// timeRangesOverlap treats [aStart, aEnd) as half-open, with zero-length
// events counted at their start instant.
func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		return !aStart.Before(bStart) && !aStart.After(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
