package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestExpandRecurringWithExdateAndOverride(t *testing.T) {
	overrideAt := utc(2025, 1, 20, 9, 0)
	events := []ParsedEvent{
		{
			Source:   testSource,
			UID:      "weekly",
			Summary:  "Weekly",
			Start:    utc(2025, 1, 6, 9, 0),
			End:      utc(2025, 1, 6, 10, 0),
			RawRRule: "FREQ=WEEKLY;COUNT=4",
			ExDates:  []time.Time{utc(2025, 1, 13, 9, 0)},
		},
		{
			Source:     testSource,
			UID:        "weekly",
			Summary:    "Weekly (moved)",
			Start:      utc(2025, 1, 20, 15, 0),
			End:        utc(2025, 1, 20, 16, 0),
			Recurrence: &overrideAt,
			IsOverride: true,
		},
	}

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      utc(2025, 1, 1, 0, 0),
		RangeEnd:        utc(2025, 2, 28, 0, 0),
	})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 3)

	assert.True(t, res.Occurrences[0].Start.Equal(utc(2025, 1, 6, 9, 0)))
	assert.Equal(t, "Weekly", res.Occurrences[0].Summary)

	moved := res.Occurrences[1]
	assert.True(t, moved.Start.Equal(utc(2025, 1, 20, 15, 0)))
	assert.Equal(t, "Weekly (moved)", moved.Summary)
	// The instance key stays tied to the original slot.
	assert.Equal(t, "2025-01-20T09:00:00Z", moved.InstanceKey)

	assert.True(t, res.Occurrences[2].Start.Equal(utc(2025, 1, 27, 9, 0)))
	assert.Empty(t, res.TruncatedEvents)
}

func TestExpandAllDayKeepsDate(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	events := []ParsedEvent{{
		Source:  testSource,
		UID:     "trip",
		Summary: "Trip",
		AllDay:  true,
		Start:   utc(2025, 1, 10, 0, 0),
		End:     utc(2025, 1, 12, 0, 0),
	}}

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: seoul,
		RangeStart:      time.Date(2025, 1, 1, 0, 0, 0, 0, seoul),
		RangeEnd:        time.Date(2025, 1, 31, 0, 0, 0, 0, seoul),
	})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)

	occ := res.Occurrences[0]
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, seoul), occ.Start)
	assert.Equal(t, time.Date(2025, 1, 12, 0, 0, 0, 0, seoul), occ.End)

	ev := occ.Event()
	assert.Equal(t, 11, ev.End.Day())
	assert.True(t, ev.AllDay)
}

func TestExpandRecurringAllDay(t *testing.T) {
	events := []ParsedEvent{{
		Source:   testSource,
		UID:      "bins",
		Summary:  "Bins",
		AllDay:   true,
		Start:    utc(2025, 1, 1, 0, 0),
		End:      utc(2025, 1, 2, 0, 0),
		RawRRule: "FREQ=DAILY;INTERVAL=7",
	}}

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      utc(2025, 1, 10, 0, 0),
		RangeEnd:        utc(2025, 1, 31, 0, 0),
	})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 3)
	for _, occ := range res.Occurrences {
		assert.Equal(t, 24*time.Hour, occ.End.Sub(occ.Start))
	}
	assert.Equal(t, 15, res.Occurrences[0].Start.Day())
}

func TestExpandIncludesInstanceRunningIntoRange(t *testing.T) {
	events := []ParsedEvent{{
		Source:   testSource,
		UID:      "night",
		Start:    utc(2025, 1, 1, 22, 0),
		End:      utc(2025, 1, 2, 2, 0),
		RawRRule: "FREQ=DAILY;COUNT=3",
	}}

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      utc(2025, 1, 2, 0, 0),
		RangeEnd:        utc(2025, 1, 2, 12, 0),
	})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)
	assert.True(t, res.Occurrences[0].Start.Equal(utc(2025, 1, 1, 22, 0)))
}

func TestExpandCapsOccurrences(t *testing.T) {
	events := []ParsedEvent{{
		Source:   testSource,
		UID:      "hourly",
		Start:    utc(2025, 1, 1, 0, 0),
		End:      utc(2025, 1, 1, 0, 30),
		RawRRule: "FREQ=HOURLY",
	}}

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation:        time.UTC,
		RangeStart:             utc(2025, 1, 1, 0, 0),
		RangeEnd:               utc(2025, 1, 3, 0, 0),
		MaxOccurrencesPerEvent: 5,
	})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 5)
	assert.Equal(t, []string{"hourly"}, res.TruncatedEvents)
}

func TestExpandSingleOutsideRange(t *testing.T) {
	events := []ParsedEvent{{
		Source: testSource,
		UID:    "old",
		Start:  utc(2024, 6, 1, 9, 0),
		End:    utc(2024, 6, 1, 10, 0),
	}}

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      utc(2025, 1, 1, 0, 0),
		RangeEnd:        utc(2025, 2, 1, 0, 0),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Occurrences)
}

func TestExpandBadInput(t *testing.T) {
	_, err := ExpandOccurrences(nil, ExpandConfig{
		RangeStart: utc(2025, 2, 1, 0, 0),
		RangeEnd:   utc(2025, 1, 1, 0, 0),
	})
	assert.Error(t, err)

	res, err := ExpandOccurrences([]ParsedEvent{{
		Source:   testSource,
		UID:      "broken",
		Start:    utc(2025, 1, 1, 0, 0),
		End:      utc(2025, 1, 1, 1, 0),
		RawRRule: "FREQ=NEVER",
	}}, ExpandConfig{
		RangeStart: utc(2025, 1, 1, 0, 0),
		RangeEnd:   utc(2025, 2, 1, 0, 0),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Occurrences)
}

func TestTimeRangesOverlap(t *testing.T) {
	from, to := utc(2025, 1, 1, 0, 0), utc(2025, 1, 2, 0, 0)

	assert.True(t, timeRangesOverlap(utc(2024, 12, 31, 23, 0), utc(2025, 1, 1, 1, 0), from, to))
	assert.False(t, timeRangesOverlap(utc(2024, 12, 31, 0, 0), from, from, to))
	assert.True(t, timeRangesOverlap(from, from, from, to))
	assert.False(t, timeRangesOverlap(utc(2025, 1, 3, 0, 0), utc(2025, 1, 3, 0, 0), from, to))
}
