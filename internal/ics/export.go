package ics

import (
	"bytes"
	"fmt"
	"io"
	"time"

	eical "github.com/emersion/go-ical"

	"calgrid/internal/model"
)

const (
	prodID = "-//calgrid//calgrid 0.1//EN"

	// emptyCalendar is written when there are no events to encode.
	emptyCalendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:" + prodID + "\r\nEND:VCALENDAR\r\n"
)

// EncodeCalendar writes events as an iCalendar stream. All-day events are
// encoded as VALUE=DATE with an exclusive DTEND; timed events use UTC.
func EncodeCalendar(w io.Writer, events []model.Event, now time.Time) error {
	if len(events) == 0 {
		_, err := io.WriteString(w, emptyCalendar)
		return err
	}

	cal := eical.NewCalendar()
	cal.Props.SetText(eical.PropVersion, "2.0")
	cal.Props.SetText(eical.PropProductID, prodID)

	for _, e := range events {
		cal.Children = append(cal.Children, toVEvent(e, now).Component)
	}

	var buf bytes.Buffer
	if err := eical.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func toVEvent(e model.Event, now time.Time) *eical.Event {
	vevent := eical.NewEvent()
	vevent.Props.SetText(eical.PropUID, e.ID)
	vevent.Props.SetText(eical.PropSummary, e.Title)
	vevent.Props.SetDateTime(eical.PropDateTimeStamp, now.UTC())
	if e.Category != "" {
		vevent.Props.SetText(eical.PropCategories, e.Category)
	}
	if e.Color != "" {
		vevent.Props.SetText("COLOR", e.Color)
	}

	end := e.EffectiveEnd()
	if e.AllDay {
		vevent.Props.SetDate(eical.PropDateTimeStart, e.Start)
		// Inclusive last day becomes the exclusive next date.
		vevent.Props.SetDate(eical.PropDateTimeEnd, anchorDate(end, e.Start.Location()).AddDate(0, 0, 1))
		return vevent
	}

	vevent.Props.SetDateTime(eical.PropDateTimeStart, e.Start.UTC())
	if end.After(e.Start) {
		// Stored ends are inclusive; round the trailing nanosecond back up.
		vevent.Props.SetDateTime(eical.PropDateTimeEnd, end.Add(time.Nanosecond).Truncate(time.Second).UTC())
	} else {
		vevent.Props.SetDateTime(eical.PropDateTimeEnd, e.Start.UTC())
	}
	return vevent
}
