package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOccurrenceEventAllDayCoversOneDay(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	occ := Occurrence{
		SourceID:    "team",
		UID:         "abc",
		InstanceKey: "k1",
		Summary:     "Offsite",
		AllDay:      true,
		Start:       day,
		End:         day.AddDate(0, 0, 1),
	}

	ev := occ.Event()
	assert.Equal(t, "team/abc/k1", ev.ID)
	assert.Equal(t, "Offsite", ev.Title)
	assert.Equal(t, day, ev.Start)
	assert.Equal(t, 10, ev.End.Day(), "exclusive end must not spill into the next day")
}

func TestOccurrenceEventZeroDuration(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ev := Occurrence{Start: at, End: at}.Event()
	assert.Equal(t, at, ev.End)
}

func TestInclusiveEnd(t *testing.T) {
	start := time.Date(2025, 1, 6, 22, 0, 0, 0, time.UTC)
	midnight := time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)

	end := InclusiveEnd(start, midnight)
	assert.Equal(t, midnight.Add(-time.Nanosecond), end)
	assert.Equal(t, 6, end.Day())

	assert.Equal(t, start, InclusiveEnd(start, start))
	assert.Equal(t, start, InclusiveEnd(start, start.Add(-time.Hour)))
}

func TestEffectiveEnd(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, at, Event{Start: at}.EffectiveEnd())
	assert.Equal(t, at, Event{Start: at, End: at.Add(-time.Hour)}.EffectiveEnd())
	assert.Equal(t, at.Add(time.Hour), Event{Start: at, End: at.Add(time.Hour)}.EffectiveEnd())
}

func TestDedupKeepsFirst(t *testing.T) {
	in := []Event{{ID: "a", Title: "first"}, {ID: "b"}, {ID: "a", Title: "second"}}
	out := Dedup(in)
	assert.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Title)
}

func TestOverlapsIsInclusive(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	ev := Event{Start: start, End: start.Add(2 * time.Hour)}

	assert.True(t, ev.Overlaps(start.Add(2*time.Hour), start.Add(3*time.Hour)))
	assert.False(t, ev.Overlaps(start.Add(3*time.Hour), start.Add(4*time.Hour)))
	assert.True(t, ev.Overlaps(start.Add(-time.Hour), start))
}

func TestSortByStart(t *testing.T) {
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: "c", Start: base.Add(time.Hour)},
		{ID: "b", Start: base},
		{ID: "a", Start: base},
	}
	SortByStart(events)
	assert.Equal(t, []string{"a", "b", "c"}, []string{events[0].ID, events[1].ID, events[2].ID})
}
