package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "freeslots/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary string

	Start time.Time
	End   time.Time

	// AllDay is set for VALUE=DATE starts; Floating for date-times with
	// neither TZID nor a trailing Z. Both carry wall-clock values that are
	// re-anchored in the display timezone during expansion.
	AllDay   bool
	Floating bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT is an override for a recurring instance
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - An empty payload is an empty calendar.
//   - Only VEVENT components are considered.
//   - DTEND may be replaced by DURATION; a VEVENT with neither, or without
//     DTSTART, is skipped, not an error.
//   - It records RRULE/EXDATE/RECURRENCE-ID but does not expand recurrences;
//     expansion is done in expand.go.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		appLog.Debug("ics body empty", "id", src.ID, "url", RedactURL(src.URL))
		return nil, nil
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", RedactURL(src.URL))
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	vevents := cal.Events()
	events := make([]ParsedEvent, 0, len(vevents))
	skipped := 0

	for i, comp := range vevents {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Debug("ics vevent skipped", "id", src.ID, "index", i, "reason", perr.Error())
			skipped++
			continue
		}
		if ev.UID == "" {
			ev.UID = "anon-" + strconv.Itoa(i)
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", RedactURL(src.URL), "event_count", len(events), "skipped", skipped)
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}

	// SEQUENCE (optional, used for overrides/versioning)
	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd)
	var dur *icsDuration
	if dtEnd == nil {
		durProp := ve.GetProperty("DURATION")
		if durProp == nil {
			return out, errors.New("missing DTEND and DURATION")
		}
		d, err := parseICSDuration(durProp.Value)
		if err != nil {
			return out, fmt.Errorf("DURATION: %w", err)
		}
		dur = &d
	}

	out.AllDay = isDateValue(dtStart)
	out.Floating = !out.AllDay && isFloating(dtStart)

	if out.AllDay {
		start, err := parseICSTime(dtStart.Value, nil)
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		out.Start = start
		if dur != nil {
			out.End = dur.addTo(start)
		} else {
			end, err := parseICSTime(dtEnd.Value, nil)
			if err != nil {
				return out, fmt.Errorf("DTEND: %w", err)
			}
			out.End = end
		}
	} else {
		// The library resolves TZID/UTC forms into proper time.Time values.
		start, err := ve.GetStartAt()
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		out.Start = start
		if dur != nil {
			out.End = dur.addTo(start)
		} else {
			end, err := ve.GetEndAt()
			if err != nil {
				return out, fmt.Errorf("DTEND: %w", err)
			}
			out.End = end
		}
	}

	// RRULE (we only keep raw string here; expansion will be in expand.go).
	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE (can appear multiple times, each possibly comma-separated)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := tzidLocation(&p.BaseProperty)
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	// RECURRENCE-ID (overridden instance)
	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, err := parseICSTime(ridProp.Value, tzidLocation(&ridProp.BaseProperty)); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// isDateValue reports VALUE=DATE or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func isFloating(p *ical.IANAProperty) bool {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 && tzs[0] != "" {
		return false
	}
	return !strings.HasSuffix(strings.TrimSpace(p.Value), "Z")
}

func tzidLocation(p *ical.BaseProperty) *time.Location {
	tzs, ok := p.ICalParameters["TZID"]
	if !ok || len(tzs) == 0 {
		return nil
	}
	loc, err := time.LoadLocation(strings.Trim(tzs[0], `"`))
	if err != nil {
		return nil
	}
	return loc
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
// Non-UTC values are interpreted in loc, or UTC wall time when loc is nil;
// callers re-anchor floating values later.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.UTC
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}

// icsDuration is an RFC 5545 dur-value. Days and weeks are nominal
// (calendar days), the time part is exact.
type icsDuration struct {
	days     int
	clock    time.Duration
	negative bool
}

func (d icsDuration) addTo(t time.Time) time.Time {
	if d.negative {
		return t.AddDate(0, 0, -d.days).Add(-d.clock)
	}
	return t.AddDate(0, 0, d.days).Add(d.clock)
}

// parseICSDuration parses values such as "PT1H30M", "P1D", "P2W" or "-PT15M".
func parseICSDuration(v string) (icsDuration, error) {
	var d icsDuration

	s := strings.ToUpper(strings.TrimSpace(v))
	switch {
	case strings.HasPrefix(s, "-"):
		d.negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return d, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var (
		num       string
		inTime    bool
		parts     int
		timeParts int
	)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			if inTime || num != "" {
				return d, fmt.Errorf("invalid duration %q", v)
			}
			inTime = true
		default:
			if num == "" {
				return d, fmt.Errorf("invalid duration %q", v)
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				return d, fmt.Errorf("invalid duration %q: %w", v, err)
			}
			num = ""

			switch {
			case !inTime && r == 'W':
				d.days += 7 * n
			case !inTime && r == 'D':
				d.days += n
			case inTime && r == 'H':
				d.clock += time.Duration(n) * time.Hour
			case inTime && r == 'M':
				d.clock += time.Duration(n) * time.Minute
			case inTime && r == 'S':
				d.clock += time.Duration(n) * time.Second
			default:
				return d, fmt.Errorf("invalid duration %q", v)
			}
			parts++
			if inTime {
				timeParts++
			}
		}
	}
	if num != "" || parts == 0 || (inTime && timeParts == 0) {
		return d, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}
