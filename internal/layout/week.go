package layout

import (
	"fmt"
	"strings"
	"time"
)

// DaysPerWeek is the number of day columns in a week row.
const DaysPerWeek = 7

// Week is a window of seven calendar days. Start and End are midnight of the
// first and last day in the viewing timezone (Start.Location()).
type Week struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWeek builds the week whose first day is the day containing start.
func NewWeek(start time.Time) Week {
	s := truncateDay(start, start.Location())
	return Week{Start: s, End: s.AddDate(0, 0, DaysPerWeek-1)}
}

// WeekOf returns the week containing t, viewed in loc, beginning on firstDay.
func WeekOf(t time.Time, loc *time.Location, firstDay time.Weekday) Week {
	if loc == nil {
		loc = time.Local
	}
	d := truncateDay(t, loc)
	offset := (int(d.Weekday()) - int(firstDay) + DaysPerWeek) % DaysPerWeek
	return NewWeek(d.AddDate(0, 0, -offset))
}

// Location is the viewing timezone of the week.
func (w Week) Location() *time.Location {
	return w.Start.Location()
}

// Days returns midnight of each day in the week.
func (w Week) Days() []time.Time {
	days := make([]time.Time, DaysPerWeek)
	for i := range days {
		days[i] = w.Start.AddDate(0, 0, i)
	}
	return days
}

func (w Week) Next() Week {
	return NewWeek(w.Start.AddDate(0, 0, DaysPerWeek))
}

func (w Week) Prev() Week {
	return NewWeek(w.Start.AddDate(0, 0, -DaysPerWeek))
}

// Contains reports whether t falls on one of the week's days.
func (w Week) Contains(t time.Time) bool {
	_, ok := w.DayIndex(t)
	return ok
}

// DayIndex returns the 0-based column of the day containing t.
func (w Week) DayIndex(t time.Time) (int, bool) {
	idx := daysBetween(w.Start, truncateDay(t, w.Location()))
	if idx < 0 || idx >= DaysPerWeek {
		return idx, false
	}
	return idx, true
}

func (w Week) String() string {
	return w.Start.Format("2006-01-02") + ".." + w.End.Format("2006-01-02")
}

// MonthWeeks returns the week rows of a month grid: every week that holds
// at least one day of the month (four to six rows).
func MonthWeeks(year int, month time.Month, loc *time.Location, firstDay time.Weekday) []Week {
	if loc == nil {
		loc = time.Local
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1)

	weeks := make([]Week, 0, 6)
	for w := WeekOf(first, loc, firstDay); !w.Start.After(last); w = w.Next() {
		weeks = append(weeks, w)
	}
	return weeks
}

// ParseWeekday accepts English weekday names ("monday", "Sun", ...).
func ParseWeekday(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if len(n) >= 3 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			full := strings.ToLower(d.String())
			if n == full || n == full[:3] {
				return d, nil
			}
		}
	}
	return time.Sunday, fmt.Errorf("layout: unknown weekday %q", name)
}

func truncateDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days from a to b using their wall-clock dates,
// so DST transitions never shift the result.
func daysBetween(a, b time.Time) int {
	return int(civilDay(b) - civilDay(a))
}

func civilDay(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
