// Package termview prints a week layout as lane rows in the terminal.
package termview

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"calgrid/internal/layout"
)

// Labels provides the translated strings. *render.Labels implements it.
type Labels interface {
	Weekday(d time.Weekday) string
	More(n int) string
}

type Styles struct {
	Header lipgloss.Style
	Day    lipgloss.Style
	Today  lipgloss.Style
	Bar    lipgloss.Style
	More   lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().Bold(true),
		Day:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Bold(true),
		Today:  lipgloss.NewStyle().Underline(true).Bold(true),
		Bar:    lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("63")),
		More:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true),
	}
}

// View renders week layouts with fixed-width day columns.
type View struct {
	ColumnWidth int
	Styles      Styles
	Labels      Labels
}

func New(labels Labels, columnWidth int) *View {
	if columnWidth < 4 {
		columnWidth = 4
	}
	return &View{ColumnWidth: columnWidth, Styles: DefaultStyles(), Labels: labels}
}

// Render returns the header, one line per visible lane and a "+N more" line
// when entries are hidden.
func (v *View) Render(wl layout.WeekLayout, today time.Time) string {
	var lines []string
	lines = append(lines, v.Styles.Header.Render(wl.Week.String()))

	var head strings.Builder
	for _, day := range wl.Week.Days() {
		cell := fit(fmt.Sprintf("%s %02d", v.Labels.Weekday(day.Weekday()), day.Day()), v.ColumnWidth)
		style := v.Styles.Day
		if !today.IsZero() && sameDay(day, today) {
			style = v.Styles.Today
		}
		head.WriteString(style.Render(cell))
	}
	lines = append(lines, head.String())

	lanes := make([][]layout.Entry, wl.VisibleLanes())
	for _, e := range wl.Entries {
		lanes[e.Lane] = append(lanes[e.Lane], e)
	}
	for _, entries := range lanes {
		lines = append(lines, v.lane(entries))
	}

	var more strings.Builder
	hidden := false
	for _, n := range wl.HiddenPerDay {
		cell := ""
		if n > 0 {
			cell = v.Labels.More(n)
			hidden = true
		}
		more.WriteString(fit(cell, v.ColumnWidth))
	}
	if hidden {
		lines = append(lines, v.Styles.More.Render(strings.TrimRight(more.String(), " ")))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// lane draws the entries of one lane; they never overlap.
func (v *View) lane(entries []layout.Entry) string {
	var b strings.Builder
	col := 0
	for _, e := range entries {
		b.WriteString(strings.Repeat(" ", (e.StartIndex-col)*v.ColumnWidth))

		width := e.Span*v.ColumnWidth - 1
		style := v.Styles.Bar
		if e.Event.Color != "" && strings.HasPrefix(e.Event.Color, "#") {
			style = style.Background(lipgloss.Color(e.Event.Color))
		}
		b.WriteString(style.Render(fit(barText(e), width)))
		b.WriteString(" ")
		col = e.EndIndex + 1
	}
	return strings.TrimRight(b.String(), " ")
}

// barText marks ends that continue into a neighboring week with arrows.
func barText(e layout.Entry) string {
	title := e.Event.Title
	switch e.Variant {
	case layout.VariantStart:
		return title + " →"
	case layout.VariantEnd:
		return "← " + title
	case layout.VariantMiddle:
		return "← " + title + " →"
	default:
		return title
	}
}

// fit cuts or pads s to exactly width terminal cells.
func fit(s string, width int) string {
	for lipgloss.Width(s) > width {
		r := []rune(s)
		s = string(r[:len(r)-1])
	}
	return s + strings.Repeat(" ", width-lipgloss.Width(s))
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
