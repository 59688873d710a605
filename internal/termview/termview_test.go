package termview

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"calgrid/internal/layout"
	"calgrid/internal/model"
)

type plainLabels struct{}

func (plainLabels) Weekday(d time.Weekday) string { return d.String()[:3] }
func (plainLabels) More(n int) string             { return fmt.Sprintf("+%d", n) }

func lines(s string) []string {
	out := strings.Split(s, "\n")
	for i := range out {
		out[i] = strings.TrimRight(out[i], " ")
	}
	return out
}

func TestRenderWeek(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	events := []model.Event{
		{ID: "offsite", Title: "Offsite", AllDay: true, Start: day(6), End: day(8)},
		{ID: "sync", Title: "Sync", Start: day(7).Add(9 * time.Hour)},
		{ID: "trip", Title: "Trip", AllDay: true, Start: day(11), End: day(15)},
	}
	wl := layout.LayoutWeek(events, layout.NewWeek(day(6)), layout.Options{})

	v := New(plainLabels{}, 8)
	got := lines(v.Render(wl, day(7)))

	assert.Equal(t, []string{
		"2025-01-06..2025-01-12",
		"Mon 06  Tue 07  Wed 08  Thu 09  Fri 10  Sat 11  Sun 12",
		"Offsite                                 Trip →",
		"        Sync",
	}, got)
}

func TestRenderHiddenCounts(t *testing.T) {
	day := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	events := []model.Event{
		{ID: "a", Title: "A", Start: day},
		{ID: "b", Title: "B", Start: day},
		{ID: "c", Title: "C", Start: day},
	}
	wl := layout.LayoutWeek(events, layout.WeekOf(day, time.UTC, time.Monday), layout.Options{MaxVisibleLanes: 1})

	got := lines(New(plainLabels{}, 6).Render(wl, time.Time{}))
	assert.Len(t, got, 4)
	assert.Equal(t, "            A", got[2])
	assert.Equal(t, "            +2", got[3])
}

func TestBarTextVariants(t *testing.T) {
	e := layout.Entry{Event: model.Event{Title: "X"}}

	e.Variant = layout.VariantSingle
	assert.Equal(t, "X", barText(e))
	e.Variant = layout.VariantStart
	assert.Equal(t, "X →", barText(e))
	e.Variant = layout.VariantEnd
	assert.Equal(t, "← X", barText(e))
	e.Variant = layout.VariantMiddle
	assert.Equal(t, "← X →", barText(e))
}

func TestFit(t *testing.T) {
	assert.Equal(t, "abc  ", fit("abc", 5))
	assert.Equal(t, "abcd", fit("abcdef", 4))
	// Hangul takes two cells per rune.
	assert.Equal(t, "회의 ", fit("회의실", 5))
}
