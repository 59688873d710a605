// Package render draws week layouts as an SVG calendar grid.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"calgrid/internal/layout"
)

const (
	headerHeight  = 72
	weekdayHeight = 32
	dayNumHeight  = 28
	laneHeight    = 24
	laneGap       = 3
	barRadius     = 5
	barInset      = 2
	fontSize      = 14
	moreHeight    = 14

	defaultColor = "#3b6ea5"
)

// Renderer draws calendar grids of a fixed size.
type Renderer struct {
	labels *Labels
	width  int
	height int
}

// New returns a renderer producing width x height SVG documents.
func New(labels *Labels, width, height int) *Renderer {
	return &Renderer{labels: labels, width: width, height: height}
}

// Month writes a month grid. Days outside month are dimmed and today, when
// it falls in the grid, is highlighted.
func (r *Renderer) Month(w io.Writer, year int, month time.Month, weeks []layout.WeekLayout, today time.Time) error {
	svg := r.grid(r.labels.MonthTitle(year, month), weeks, month, today)
	_, err := io.WriteString(w, svg)
	return err
}

// Week writes a single week row.
func (r *Renderer) Week(w io.Writer, wl layout.WeekLayout, today time.Time) error {
	svg := r.grid(r.labels.WeekTitle(wl.Week.Start), []layout.WeekLayout{wl}, 0, today)
	_, err := io.WriteString(w, svg)
	return err
}

func (r *Renderer) grid(title string, weeks []layout.WeekLayout, month time.Month, today time.Time) string {
	var svg strings.Builder

	svg.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg width="%d" height="%d" viewBox="0 0 %d %d" xmlns="http://www.w3.org/2000/svg" data-ready="true">
<defs>
<style>
.title { font-family: sans-serif; font-size: 32px; font-weight: bold; fill: #111; }
.weekday { font-family: sans-serif; font-size: 16px; font-weight: bold; fill: #444; }
.day { font-family: sans-serif; font-size: 16px; fill: #111; }
.day.dim { fill: #aaa; }
.bar { font-family: sans-serif; font-size: %dpx; fill: #fff; }
.more { font-family: sans-serif; font-size: 13px; fill: #555; }
</style>
</defs>
<rect width="100%%" height="100%%" fill="#fff"/>
`, r.width, r.height, r.width, r.height, fontSize))

	svg.WriteString(fmt.Sprintf(`<text class="title" x="%d" y="%d">%s</text>`+"\n",
		16, headerHeight-24, escapeXML(title)))

	colW := r.width / layout.DaysPerWeek
	if len(weeks) == 0 {
		svg.WriteString("</svg>\n")
		return svg.String()
	}

	for i, day := range weeks[0].Week.Days() {
		svg.WriteString(fmt.Sprintf(`<text class="weekday" x="%d" y="%d" text-anchor="middle">%s</text>`+"\n",
			i*colW+colW/2, headerHeight+weekdayHeight-10, escapeXML(r.labels.Weekday(day.Weekday()))))
	}

	top := headerHeight + weekdayHeight
	rowH := (r.height - top) / len(weeks)
	for i, wl := range weeks {
		r.drawRow(&svg, wl, top+i*rowH, colW, rowH, month, today)
	}

	svg.WriteString("</svg>\n")
	return svg.String()
}

func (r *Renderer) drawRow(svg *strings.Builder, wl layout.WeekLayout, y, colW, rowH int, month time.Month, today time.Time) {
	svg.WriteString(fmt.Sprintf(`<line x1="0" y1="%d" x2="%d" y2="%d" stroke="#ccc" stroke-width="1"/>`+"\n",
		y, r.width, y))

	for i, day := range wl.Week.Days() {
		x := i * colW
		if i > 0 {
			svg.WriteString(fmt.Sprintf(`<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#eee" stroke-width="1"/>`+"\n",
				x, y, x, y+rowH))
		}

		class := "day"
		if month != 0 && day.Month() != month {
			class = "day dim"
		}
		if !today.IsZero() && sameDay(day, today) {
			svg.WriteString(fmt.Sprintf(`<circle cx="%d" cy="%d" r="13" fill="#ffd54f"/>`+"\n",
				x+colW-18, y+dayNumHeight/2+1))
		}
		svg.WriteString(fmt.Sprintf(`<text class="%s" x="%d" y="%d" text-anchor="middle">%d</text>`+"\n",
			class, x+colW-18, y+dayNumHeight/2+6, day.Day()))
	}

	// Lanes that do not fit the row join the "+N more" count.
	fit := max((rowH-dayNumHeight-moreHeight)/(laneHeight+laneGap), 0)
	hidden := wl.HiddenPerDay
	drawn := 0
	for _, e := range wl.Entries {
		if e.Lane >= fit {
			for d := e.StartIndex; d <= e.EndIndex; d++ {
				hidden[d]++
			}
			continue
		}
		drawBar(svg, e, y, colW)
		drawn = max(drawn, e.Lane+1)
	}

	moreY := y + dayNumHeight + drawn*(laneHeight+laneGap) + moreHeight
	for d, n := range hidden {
		if n == 0 {
			continue
		}
		svg.WriteString(fmt.Sprintf(`<text class="more" x="%d" y="%d">%s</text>`+"\n",
			d*colW+6, moreY, escapeXML(r.labels.More(n))))
	}
}

func drawBar(svg *strings.Builder, e layout.Entry, rowY, colW int) {
	x := e.StartIndex*colW + barInset
	y := rowY + dayNumHeight + e.Lane*(laneHeight+laneGap)
	w := e.Span*colW - 2*barInset

	color := e.Event.Color
	if color == "" {
		color = defaultColor
	}

	roundLeft, roundRight := corners(e.Variant)
	svg.WriteString(fmt.Sprintf(`<path class="bar-%s" d="%s" fill="%s"/>`+"\n",
		e.Variant, barPath(x, y, w, laneHeight, barRadius, roundLeft, roundRight), escapeXML(color)))

	label := e.Event.Title
	if !e.Event.AllDay && e.Variant == layout.VariantSingle && e.Span == 1 {
		label = e.Event.Start.Format("15:04") + " " + label
	}
	maxChars := (w - 12) * 10 / (fontSize * 6)
	svg.WriteString(fmt.Sprintf(`<text class="bar" x="%d" y="%d">%s</text>`+"\n",
		x+6, y+laneHeight-7, escapeXML(truncate(label, maxChars))))
}

// corners reports which bar ends are rounded: an end is square where the
// event continues into the neighboring week.
func corners(v layout.Variant) (left, right bool) {
	switch v {
	case layout.VariantSingle:
		return true, true
	case layout.VariantStart:
		return true, false
	case layout.VariantEnd:
		return false, true
	default:
		return false, false
	}
}

// barPath outlines a rectangle whose left and/or right corners are rounded.
func barPath(x, y, w, h, radius int, roundLeft, roundRight bool) string {
	rl, rr := 0, 0
	if roundLeft {
		rl = radius
	}
	if roundRight {
		rr = radius
	}

	var p strings.Builder
	fmt.Fprintf(&p, "M%d,%d H%d", x+rl, y, x+w-rr)
	if rr > 0 {
		fmt.Fprintf(&p, " A%d,%d 0 0 1 %d,%d", rr, rr, x+w, y+rr)
	}
	fmt.Fprintf(&p, " V%d", y+h-rr)
	if rr > 0 {
		fmt.Fprintf(&p, " A%d,%d 0 0 1 %d,%d", rr, rr, x+w-rr, y+h)
	}
	fmt.Fprintf(&p, " H%d", x+rl)
	if rl > 0 {
		fmt.Fprintf(&p, " A%d,%d 0 0 1 %d,%d", rl, rl, x, y+h-rl)
	}
	fmt.Fprintf(&p, " V%d", y+rl)
	if rl > 0 {
		fmt.Fprintf(&p, " A%d,%d 0 0 1 %d,%d", rl, rl, x+rl, y)
	}
	p.WriteString(" Z")
	return p.String()
}

func truncate(s string, maxChars int) string {
	if maxChars < 1 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	if maxChars == 1 {
		return "…"
	}
	return string(runes[:maxChars-1]) + "…"
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// escapeXML escapes special XML characters for text and attribute values.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
