package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"icalsynchub/internal/model"
)

// ProductID identifies the merged calendar artifact.
const ProductID = "-//Merged Calendar//Example//EN"

// Merge combines normalized events from all sources into one calendar
// document, stamping every component with stamp (DTSTAMP). Events are
// concatenated as-is: UID collisions across sources are preserved as
// distinct components and nothing is deduplicated, because cross-calendar
// identity cannot be reliably inferred. An empty input still produces a
// structurally valid calendar.
func Merge(groups [][]model.Event, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetVersion("2.0")

	stamp = stamp.UTC()
	for _, events := range groups {
		for _, ev := range events {
			appendEvent(cal, ev, stamp)
		}
	}
	return cal
}

func appendEvent(cal *ical.Calendar, ev model.Event, stamp time.Time) {
	ve := cal.AddEvent(ev.UID)
	ve.SetDtStampTime(stamp)

	if ev.AllDay {
		ve.SetAllDayStartAt(ev.Start)
		ve.SetAllDayEndAt(ev.End)
	} else {
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
	}

	ve.SetSummary(ev.Summary)
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	if ev.RRule != "" {
		ve.AddProperty(ical.ComponentPropertyRrule, ev.RRule)
	}
	for _, ex := range ev.ExDates {
		ve.AddProperty(ical.ComponentPropertyExdate, ex)
	}
	// An overridden instance must keep its RECURRENCE-ID: it is what
	// distinguishes it from the base event sharing the same UID.
	if ev.RecurrenceID != "" {
		ve.AddProperty("RECURRENCE-ID", ev.RecurrenceID)
	}
}
