package layout

import (
	"errors"
	"fmt"
)

// ErrInvalidLayout is returned by Verify for a layout that breaks the
// packing rules.
var ErrInvalidLayout = errors.New("layout: invalid week layout")

// Verify checks that no two entries share a lane on the same day, that day
// indices are inside the week and that the per-day counters match the
// entries.
func Verify(l WeekLayout) error {
	all := make([]Entry, 0, len(l.Entries)+len(l.Hidden))
	all = append(all, l.Entries...)
	all = append(all, l.Hidden...)

	// occupied[lane][day] holds 1 + the index in all of the occupant.
	occupied := make(map[int]*[DaysPerWeek]int)
	var totals, hidden [DaysPerWeek]int

	for i, e := range all {
		if e.StartIndex < 0 || e.EndIndex >= DaysPerWeek || e.StartIndex > e.EndIndex {
			return fmt.Errorf("%w: event %q has day range %d..%d", ErrInvalidLayout, e.Event.ID, e.StartIndex, e.EndIndex)
		}
		if e.Lane < 0 || e.Lane >= l.LaneCount {
			return fmt.Errorf("%w: event %q in lane %d of %d", ErrInvalidLayout, e.Event.ID, e.Lane, l.LaneCount)
		}
		if e.Span != e.EndIndex-e.StartIndex+1 {
			return fmt.Errorf("%w: event %q span %d does not match %d..%d", ErrInvalidLayout, e.Event.ID, e.Span, e.StartIndex, e.EndIndex)
		}

		row := occupied[e.Lane]
		if row == nil {
			row = new([DaysPerWeek]int)
			occupied[e.Lane] = row
		}
		for d := e.StartIndex; d <= e.EndIndex; d++ {
			if prev := row[d]; prev != 0 {
				return fmt.Errorf("%w: events %q and %q overlap in lane %d on day %d",
					ErrInvalidLayout, all[prev-1].Event.ID, e.Event.ID, e.Lane, d)
			}
			row[d] = i + 1
			totals[d]++
			if i >= len(l.Entries) {
				hidden[d]++
			}
		}
	}

	if totals != l.DayTotals {
		return fmt.Errorf("%w: day totals %v, entries cover %v", ErrInvalidLayout, l.DayTotals, totals)
	}
	if hidden != l.HiddenPerDay {
		return fmt.Errorf("%w: hidden per day %v, hidden entries cover %v", ErrInvalidLayout, l.HiddenPerDay, hidden)
	}
	return nil
}
