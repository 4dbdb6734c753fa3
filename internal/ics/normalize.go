package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "icalsynchub/internal/log"
	"icalsynchub/internal/model"
	"icalsynchub/internal/source"
)

// Options controls normalization of fetched feeds.
type Options struct {
	// ShowDetails keeps summaries, descriptions and locations. When false
	// every event is anonymized with the source label (or DefaultLabel).
	ShowDetails bool
	// DefaultLabel is the anonymization summary for sources without a
	// per-source label.
	DefaultLabel string

	// FilterByDate restricts events to the window
	// [now-PastDays, now+FutureMonths] where FutureMonths is calendar
	// month arithmetic, not a fixed day count.
	FilterByDate bool
	PastDays     int
	FutureMonths int

	// Location is the reference zone for window arithmetic. Nil means
	// host local time.
	Location *time.Location

	// Now is the time source; nil means time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) label(src source.Descriptor) string {
	if src.Label != "" {
		return src.Label
	}
	if o.DefaultLabel != "" {
		return o.DefaultLabel
	}
	return source.DefaultLabel
}

// Normalize parses one fetched feed into events, applying anonymization and
// the date window. A failed fetch or an unparseable feed yields an empty
// slice; per-source failure never aborts the cycle.
func Normalize(feed RawFeed, opts Options) []model.Event {
	if !feed.OK() {
		return nil
	}

	events, err := parseFeed(feed)
	if err != nil {
		appLog.Error("ics parse failed, skipping source", err, "url", redactURL(feed.Source.URL))
		return nil
	}

	if !opts.ShowDetails {
		label := opts.label(feed.Source)
		for i := range events {
			anonymize(&events[i], label)
		}
	}

	if opts.FilterByDate {
		loc := opts.Location
		if loc == nil {
			loc = time.Local
		}
		now := opts.now().In(loc)
		windowStart := now.AddDate(0, 0, -opts.PastDays)
		windowEnd := now.AddDate(0, opts.FutureMonths, 0)

		kept := events[:0]
		for _, ev := range events {
			if inWindow(ev, windowStart, windowEnd) {
				kept = append(kept, ev)
			}
		}
		events = kept
	}

	appLog.Info("ics normalize completed", "url", redactURL(feed.Source.URL), "event_count", len(events))
	return events
}

// anonymize irreversibly strips event details, keeping only the time bounds
// and a placeholder summary.
func anonymize(ev *model.Event, label string) {
	ev.Summary = label
	ev.Description = ""
	ev.Location = ""
}

// inWindow reports whether the event intersects [windowStart, windowEnd].
// Recurring events are kept when the rule produces any occurrence inside the
// window; the base interval alone would wrongly drop old recurring events
// that still repeat into the window.
func inWindow(ev model.Event, windowStart, windowEnd time.Time) bool {
	if ev.RRule == "" {
		return !ev.End.Before(windowStart) && !ev.Start.After(windowEnd)
	}

	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Error("unparseable RRULE, falling back to interval check", err, "uid", ev.UID)
		return !ev.End.Before(windowStart) && !ev.Start.After(windowEnd)
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, raw := range ev.ExDates {
		for _, part := range strings.Split(raw, ",") {
			if t, perr := parseICSTime(strings.TrimSpace(part), nil); perr == nil {
				set.ExDate(t.In(ev.Start.Location()))
			}
		}
	}

	occs := set.Between(windowStart.In(ev.Start.Location()), windowEnd.In(ev.Start.Location()), true)
	return len(occs) > 0
}

// parseFeed parses raw iCal bytes into events. Individual malformed VEVENTs
// are skipped; only a whole-feed parse failure is returned as an error.
func parseFeed(feed RawFeed) ([]model.Event, error) {
	if len(feed.Body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(feed.Body))
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(feed.Source, ve)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "url", redactURL(feed.Source.URL))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(src source.Descriptor, ve *ical.VEvent) (model.Event, error) {
	var out model.Event
	out.SourceURL = src.URL

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parseEventTime(dtStart)
	if err != nil {
		return out, err
	}
	out.Start = start
	out.AllDay = allDay

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && dtEnd.Value != "" {
		end, _, eerr := parseEventTime(dtEnd)
		if eerr != nil {
			return out, eerr
		}
		out.End = end
	}
	switch {
	case out.End.IsZero() && out.AllDay:
		out.End = out.Start.Add(24 * time.Hour)
	case out.End.IsZero(), out.End.Before(out.Start):
		out.End = out.Start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		if p.Value != "" {
			out.ExDates = append(out.ExDates, p.Value)
		}
	}
	// Raw property name: the library's constant spelling has varied.
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		out.RecurrenceID = p.Value
	}

	return out, nil
}

// parseEventTime resolves a DTSTART/DTEND property into a concrete instant.
// TZID parameters are honored; UTC values keep their zone; floating values
// are read as host local time. Date-only values mark the event all-day.
func parseEventTime(p *ical.IANAProperty) (time.Time, bool, error) {
	var loc *time.Location
	if params := p.ICalParameters; params != nil {
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			if l, err := time.LoadLocation(tzs[0]); err == nil {
				loc = l
			}
		}
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			t, err := parseICSTime(p.Value, loc)
			return t, true, err
		}
	}

	if !strings.Contains(p.Value, "T") {
		t, err := parseICSTime(p.Value, loc)
		return t, true, err
	}
	t, err := parseICSTime(p.Value, loc)
	return t, false, err
}

// parseICSTime parses a basic ICS date/date-time string. loc overrides the
// zone for non-UTC forms; nil means host local.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}

	// UTC form, e.g. 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	// Zoned or floating date-time, e.g. 20250101T090000
	if strings.Contains(v, "T") {
		const layout = "20060102T150405"
		return time.ParseInLocation(layout, v, loc)
	}

	// Date-only (all-day), e.g. 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, loc)
}
