package layout

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calgrid/internal/model"
)

// Monday 2025-01-06 .. Sunday 2025-01-12.
var monday = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func testWeek() Week {
	return NewWeek(monday)
}

// span builds an event from day offsets relative to monday (inclusive),
// 09:00 on the first day to 17:00 on the last.
func span(id string, startDay, endDay int) model.Event {
	return model.Event{
		ID:    id,
		Title: "event " + id,
		Start: monday.AddDate(0, 0, startDay).Add(9 * time.Hour),
		End:   monday.AddDate(0, 0, endDay).Add(17 * time.Hour),
	}
}

func entriesByID(l WeekLayout) map[string]Entry {
	out := make(map[string]Entry)
	for _, e := range l.All() {
		out[e.Event.ID] = e
	}
	return out
}

func TestLayoutWeek_ThreeEventScenario(t *testing.T) {
	events := []model.Event{
		span("A", 0, 1),
		span("B", 0, 2),
		span("C", 2, 2),
	}

	l := LayoutWeek(events, testWeek(), Options{})
	require.NoError(t, Verify(l))

	got := entriesByID(l)
	assert.Equal(t, 0, got["A"].Lane)
	assert.Equal(t, 1, got["B"].Lane, "B overlaps A on day 0")
	assert.Equal(t, 0, got["C"].Lane, "lane 0 is free again after A ends on day 1")
	assert.Equal(t, 2, l.LaneCount)

	assert.Equal(t, 0, got["B"].StartIndex)
	assert.Equal(t, 2, got["B"].EndIndex)
	assert.Equal(t, 3, got["B"].Span)
}

func TestLayoutWeek_SameDayEventsGetDistinctLanes(t *testing.T) {
	var events []model.Event
	for i := 1; i <= 5; i++ {
		events = append(events, span(fmt.Sprintf("e%d", i), 3, 3))
	}

	l := LayoutWeek(events, testWeek(), Options{})
	require.NoError(t, Verify(l))
	require.Len(t, l.Entries, 5)

	lanes := make(map[int]bool)
	for _, e := range l.Entries {
		assert.Equal(t, 3, e.StartIndex)
		assert.Equal(t, 3, e.EndIndex)
		assert.False(t, lanes[e.Lane], "lane %d used twice", e.Lane)
		lanes[e.Lane] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true}, lanes)
	assert.Equal(t, 5, l.LaneCount)
}

func TestLayoutWeek_VisibilityCap(t *testing.T) {
	var events []model.Event
	for i := 1; i <= 5; i++ {
		events = append(events, span(fmt.Sprintf("e%d", i), 3, 3))
	}

	l := LayoutWeek(events, testWeek(), Options{MaxVisibleLanes: 2})
	require.NoError(t, Verify(l))

	require.Len(t, l.Entries, 2)
	for _, e := range l.Entries {
		assert.Less(t, e.Lane, 2)
	}
	assert.Len(t, l.Hidden, 3)
	assert.Equal(t, 3, l.HiddenPerDay[3])
	assert.Equal(t, 5, l.DayTotals[3])
	assert.Equal(t, 5, l.LaneCount, "hidden entries still count towards lanes")
	assert.Equal(t, 2, l.VisibleLanes())

	for d := 0; d < DaysPerWeek; d++ {
		if d == 3 {
			continue
		}
		assert.Zero(t, l.HiddenPerDay[d], "day %d", d)
		assert.Zero(t, l.DayTotals[d], "day %d", d)
	}
}

func TestLayoutWeek_HiddenCountsScanCoveredDays(t *testing.T) {
	// A long event pushed into a hidden lane must count on every day it
	// covers, not only on its first day.
	events := []model.Event{
		span("a", 0, 6),
		span("b", 0, 6),
		span("c", 1, 4),
	}

	l := LayoutWeek(events, testWeek(), Options{MaxVisibleLanes: 2})
	require.NoError(t, Verify(l))
	require.Len(t, l.Hidden, 1)
	assert.Equal(t, "c", l.Hidden[0].Event.ID)
	assert.Equal(t, [DaysPerWeek]int{0, 1, 1, 1, 1, 0, 0}, l.HiddenPerDay)
	assert.Equal(t, [DaysPerWeek]int{2, 3, 3, 3, 3, 2, 2}, l.DayTotals)
}

func TestLayoutWeek_Variants(t *testing.T) {
	tests := []struct {
		name       string
		ev         model.Event
		variant    Variant
		start, end int
	}{
		{
			name:    "inside the week",
			ev:      span("mon-wed", 0, 2),
			variant: VariantSingle,
			start:   0, end: 2,
		},
		{
			name:    "continues into next week",
			ev:      span("fri-tue", 4, 8),
			variant: VariantStart,
			start:   4, end: 6,
		},
		{
			name:    "started the week before",
			ev:      span("thu-mon", -4, 0),
			variant: VariantEnd,
			start:   0, end: 0,
		},
		{
			name:    "covers the week and beyond",
			ev:      span("long", -5, 14),
			variant: VariantMiddle,
			start:   0, end: 6,
		},
		{
			name:    "zero duration",
			ev:      model.Event{ID: "point", Start: monday.AddDate(0, 0, 5).Add(10 * time.Hour)},
			variant: VariantSingle,
			start:   5, end: 5,
		},
		{
			name:    "zero duration on the last day",
			ev:      model.Event{ID: "sunday", Start: monday.AddDate(0, 0, 6).Add(23 * time.Hour)},
			variant: VariantSingle,
			start:   6, end: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := LayoutWeek([]model.Event{tt.ev}, testWeek(), Options{})
			require.Len(t, l.Entries, 1)
			e := l.Entries[0]
			assert.Equal(t, tt.variant, e.Variant)
			assert.Equal(t, tt.start, e.StartIndex)
			assert.Equal(t, tt.end, e.EndIndex)
			assert.Equal(t, tt.end-tt.start+1, e.Span)
			assert.Equal(t, 0, e.Lane)
		})
	}
}

func TestLayoutWeek_FiltersEventsOutsideWeek(t *testing.T) {
	events := []model.Event{
		span("before", -3, -1),
		span("after", 7, 9),
		span("inside", 2, 2),
		span("ends-first-day", -2, 0),
		span("starts-last-day", 6, 7),
	}

	l := LayoutWeek(events, testWeek(), Options{})
	got := entriesByID(l)
	assert.NotContains(t, got, "before")
	assert.NotContains(t, got, "after")
	assert.Contains(t, got, "inside")
	assert.Contains(t, got, "ends-first-day")
	assert.Contains(t, got, "starts-last-day")
}

func TestLayoutWeek_EmptyInput(t *testing.T) {
	l := LayoutWeek(nil, testWeek(), Options{MaxVisibleLanes: 3})
	assert.Empty(t, l.Entries)
	assert.Empty(t, l.Hidden)
	assert.Zero(t, l.LaneCount)
	assert.Equal(t, [DaysPerWeek]int{}, l.DayTotals)
	assert.NoError(t, Verify(l))
}

func TestLayoutWeek_MissingEndDefaultsToStart(t *testing.T) {
	ev := model.Event{ID: "x", Start: monday.AddDate(0, 0, 2).Add(8 * time.Hour)}
	l := LayoutWeek([]model.Event{ev}, testWeek(), Options{})
	require.Len(t, l.Entries, 1)
	assert.Equal(t, 2, l.Entries[0].StartIndex)
	assert.Equal(t, 2, l.Entries[0].EndIndex)
}

func TestLayoutWeek_TruncatesInViewingTimezone(t *testing.T) {
	pst := time.FixedZone("PST", -8*3600)
	week := NewWeek(time.Date(2025, 1, 6, 0, 0, 0, 0, pst))

	// 02:00 UTC on Monday is still Sunday evening in PST.
	early := model.Event{ID: "early", Start: time.Date(2025, 1, 6, 2, 0, 0, 0, time.UTC)}
	// 10:00 UTC on Monday is Monday 02:00 in PST.
	late := model.Event{ID: "late", Start: time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)}

	l := LayoutWeek([]model.Event{early, late}, week, Options{})
	got := entriesByID(l)
	assert.NotContains(t, got, "early")
	require.Contains(t, got, "late")
	assert.Equal(t, 0, got["late"].StartIndex)
}

func TestLayoutWeek_DaylightSavingWeek(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("timezone data unavailable:", err)
	}

	// DST starts Sunday 2025-03-09 in New York; that week only has 167 hours.
	week := WeekOf(time.Date(2025, 3, 5, 12, 0, 0, 0, ny), ny, time.Monday)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, ny), week.Start)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, ny), week.End)

	events := []model.Event{
		{ID: "sun", Start: time.Date(2025, 3, 9, 23, 30, 0, 0, ny)},
		{ID: "span", Start: time.Date(2025, 3, 7, 9, 0, 0, 0, ny), End: time.Date(2025, 3, 10, 9, 0, 0, 0, ny)},
	}
	l := LayoutWeek(events, week, Options{})
	got := entriesByID(l)
	assert.Equal(t, 6, got["sun"].StartIndex)
	assert.Equal(t, 4, got["span"].StartIndex)
	assert.Equal(t, 6, got["span"].EndIndex)
	assert.Equal(t, VariantStart, got["span"].Variant)

	next := LayoutWeek(events, week.Next(), Options{})
	gotNext := entriesByID(next)
	assert.NotContains(t, gotNext, "sun")
	assert.Equal(t, VariantEnd, gotNext["span"].Variant)
	assert.Equal(t, 0, gotNext["span"].EndIndex)
}

type assignment struct {
	Lane, Start, End int
}

func assignments(l WeekLayout) map[string]assignment {
	out := make(map[string]assignment)
	for _, e := range l.All() {
		out[e.Event.ID] = assignment{Lane: e.Lane, Start: e.StartIndex, End: e.EndIndex}
	}
	return out
}

func TestLayoutWeek_DeterministicAcrossInputOrder(t *testing.T) {
	events := []model.Event{
		span("a", 0, 1),
		span("b", 0, 1),
		span("c", 0, 2),
		span("d", 1, 3),
		span("e", 2, 2),
		span("f", -3, 8),
		span("g", 5, 9),
		span("h", 3, 3),
	}
	want := assignments(LayoutWeek(events, testWeek(), Options{}))

	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]model.Event(nil), events...)
		rnd.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := assignments(LayoutWeek(shuffled, testWeek(), Options{}))
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("layout changed with input order (-want +got):\n%s", diff)
		}
	}
}

func TestLayoutWeek_DuplicatesAreIdempotent(t *testing.T) {
	a := span("a", 1, 2)
	once := LayoutWeek(model.Dedup([]model.Event{a, a}), testWeek(), Options{})
	require.Len(t, once.Entries, 1)

	twice := LayoutWeek([]model.Event{a, a}, testWeek(), Options{})
	require.NoError(t, Verify(twice))
	assert.Equal(t, LayoutWeek([]model.Event{a, a}, testWeek(), Options{}), twice)
}

func TestLayoutWeek_RandomizedInvariants(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	week := testWeek()

	for iter := 0; iter < 300; iter++ {
		n := rnd.Intn(30)
		events := make([]model.Event, 0, n)
		for i := 0; i < n; i++ {
			startDay := rnd.Intn(26) - 10
			length := rnd.Intn(10)
			start := monday.AddDate(0, 0, startDay).Add(time.Duration(rnd.Intn(24*60)) * time.Minute)
			end := monday.AddDate(0, 0, startDay+length).Add(time.Duration(rnd.Intn(24*60)) * time.Minute)
			if end.Before(start) {
				end = start
			}
			events = append(events, model.Event{ID: fmt.Sprintf("%d-%d", iter, i), Start: start, End: end})
		}
		maxLanes := rnd.Intn(5)

		l := LayoutWeek(events, week, Options{MaxVisibleLanes: maxLanes})
		require.NoError(t, Verify(l), "iteration %d", iter)

		// Coverage: exactly one entry per intersecting event.
		seen := make(map[string]int)
		for _, e := range l.All() {
			seen[e.Event.ID]++
		}
		for _, ev := range events {
			first := truncateDay(ev.Start, time.UTC)
			last := truncateDay(ev.EffectiveEnd(), time.UTC)
			intersects := !first.After(week.End) && !last.Before(week.Start)
			if intersects {
				assert.Equal(t, 1, seen[ev.ID], "iteration %d event %s", iter, ev.ID)
			} else {
				assert.Zero(t, seen[ev.ID], "iteration %d event %s", iter, ev.ID)
			}
		}

		// Lanes never exceed the busiest day.
		busiest := 0
		for _, n := range l.DayTotals {
			if n > busiest {
				busiest = n
			}
		}
		assert.LessOrEqual(t, l.LaneCount, busiest, "iteration %d", iter)

		if maxLanes > 0 {
			for _, e := range l.Entries {
				assert.Less(t, e.Lane, maxLanes)
			}
			for _, e := range l.Hidden {
				assert.GreaterOrEqual(t, e.Lane, maxLanes)
			}
		} else {
			assert.Empty(t, l.Hidden)
		}
	}
}

func TestLayoutWeek_EntriesOrdered(t *testing.T) {
	events := []model.Event{span("late", 4, 5), span("long", 0, 3), span("short", 0, 0)}
	l := LayoutWeek(events, testWeek(), Options{})
	require.Len(t, l.Entries, 3)
	assert.Equal(t, "short", l.Entries[0].Event.ID)
	assert.Equal(t, "long", l.Entries[1].Event.ID)
	assert.Equal(t, "late", l.Entries[2].Event.ID)
}

func TestLayoutMonth(t *testing.T) {
	weeks := MonthWeeks(2025, time.January, time.UTC, time.Monday)
	require.Len(t, weeks, 5)

	events := []model.Event{span("cross", 5, 8)} // Sat Jan 11 .. Tue Jan 14
	rows := LayoutMonth(events, weeks, Options{})
	require.Len(t, rows, 5)

	var variants []Variant
	for _, row := range rows {
		for _, e := range row.Entries {
			variants = append(variants, e.Variant)
		}
	}
	assert.Equal(t, []Variant{VariantStart, VariantEnd}, variants)
}

func TestVerifyDetectsOverlap(t *testing.T) {
	bad := WeekLayout{
		Week:      testWeek(),
		LaneCount: 1,
		Entries: []Entry{
			{Event: model.Event{ID: "x"}, StartIndex: 0, EndIndex: 2, Span: 3, Lane: 0},
			{Event: model.Event{ID: "y"}, StartIndex: 2, EndIndex: 3, Span: 2, Lane: 0},
		},
		DayTotals: [DaysPerWeek]int{1, 1, 2, 1},
	}
	err := Verify(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidLayout)
	assert.Contains(t, err.Error(), `"x" and "y"`)
}

func TestVerifyDetectsCounterMismatch(t *testing.T) {
	l := LayoutWeek([]model.Event{span("a", 0, 1)}, testWeek(), Options{})
	l.DayTotals[5] = 4
	assert.ErrorIs(t, Verify(l), ErrInvalidLayout)
}
