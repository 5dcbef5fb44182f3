package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "freeslots/internal/log"
	"freeslots/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all busy intervals are
	// converted and in which all-day/floating values are anchored.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the time window of interest. Intervals
	// that merely overlap the window are kept.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int

	// BaseInstancesOnly ignores RRULEs and keeps only each event's own
	// DTSTART/DTEND instance.
	BaseInstancesOnly bool
}

// ExpandResult wraps the list of busy intervals and optionally
// information about truncation.
type ExpandResult struct {
	Busy []model.BusyInterval
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandBusy takes a list of ParsedEvent and expands them into concrete busy
// intervals within the given time range. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence (DAILY/WEEKLY/MONTHLY/YEARLY, etc.)
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides
//   - All-day and floating times
func ExpandBusy(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID, keeping first-seen order so
	// output is deterministic.
	var uids []string
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)

	for _, ev := range events {
		if _, seen := baseByUID[ev.UID]; !seen {
			if _, seenOv := overridesByUID[ev.UID]; !seenOv {
				uids = append(uids, ev.UID)
			}
		}
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	busy := make([]model.BusyInterval, 0, len(events))

	for _, uid := range uids {
		ov := overridesByUID[uid]
		baseEvents, hasBase := baseByUID[uid]
		if !hasBase {
			// Orphan overrides (base event outside the feed) still occupy time.
			for _, o := range ov {
				busy = append(busy, expandSingleEvent(o, nil, cfg)...)
			}
			continue
		}

		truncated := false
		for _, ev := range baseEvents {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			busy = append(busy, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Busy = busy
	return result, nil
}

// expandEvent expands a single ParsedEvent (base event) with its possible
// overrides, returning busy intervals and whether the cap was hit.
func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.BusyInterval, bool) {
	if ev.RawRRule == "" || cfg.BaseInstancesOnly {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.BusyInterval {
	// Apply any override whose RECURRENCE-ID matches this start.
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		ev = o
	}

	start := anchor(ev, ev.Start, cfg.DisplayLocation)
	end := anchor(ev, ev.End, cfg.DisplayLocation)
	if !timeRangesOverlap(start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.BusyInterval{makeBusy(ev, start, end, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.BusyInterval, bool) {
	out := make([]model.BusyInterval, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE; using base instance", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return expandSingleEvent(ev, overrides, cfg), false
	}

	// Ensure Dtstart is set to the event's DTSTART.
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)

	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event duration so instances that start
	// before the range but run into it are not lost. Anchored events are
	// evaluated in their own wall-clock frame, padded by a day for zone skew.
	dur := ev.End.Sub(ev.Start)
	pad := dur
	if ev.AllDay || ev.Floating {
		pad += 24 * time.Hour
	}
	rangeStart := cfg.RangeStart.Add(-pad).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.Add(pad).In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	spanDays := 0
	if ev.AllDay {
		spanDays = int(dur.Round(24*time.Hour) / (24 * time.Hour))
		if spanDays < 1 {
			spanDays = 1
		}
	}

	for _, occStart := range occTimes {
		baseEv := ev
		var start, end time.Time

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			baseEv = o
			start = anchor(o, o.Start, cfg.DisplayLocation)
			end = anchor(o, o.End, cfg.DisplayLocation)
		} else {
			start = anchor(ev, occStart, cfg.DisplayLocation)
			if ev.AllDay {
				end = start.AddDate(0, 0, spanDays)
			} else {
				// Preserve original duration.
				end = start.Add(dur)
			}
		}

		if !timeRangesOverlap(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeBusy(baseEv, start, end, cfg.DisplayLocation))
	}

	return out, hitCap
}

// findOverrideForStart finds an override event whose RECURRENCE-ID matches
// the given start instant.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// anchor re-interprets all-day and floating wall-clock values in loc.
// Zoned values are returned unchanged.
func anchor(ev ParsedEvent, t time.Time, loc *time.Location) time.Time {
	if !ev.AllDay && !ev.Floating {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// makeBusy converts a (possibly overridden) ParsedEvent + specific
// start/end time into a model.BusyInterval normalized into displayLoc.
func makeBusy(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.BusyInterval {
	return model.BusyInterval{
		UID:     ev.UID,
		Summary: ev.Summary,
		AllDay:  ev.AllDay,
		Start:   start.In(displayLoc),
		End:     end.In(displayLoc),
	}
}

// timeRangesOverlap reports whether [aStart, aEnd) and [bStart, bEnd)
// share any instant.
func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
