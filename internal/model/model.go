package model

import "time"

// WorkingHours describes when the calendar owner is willing to meet.
type WorkingHours struct {
	// Days holds ISO weekday numbers, Monday=1 ... Sunday=7.
	Days []int

	// StartHour is 0–23. EndHour is 1–24 where 24 means midnight of the
	// following day. EndHour <= StartHour yields no windows at all.
	StartHour int
	EndHour   int

	// Location is the zone all windows are computed in.
	Location *time.Location
}

// IncludesWeekday reports whether t falls on one of the configured days.
func (w WorkingHours) IncludesWeekday(t time.Time) bool {
	iso := ISOWeekday(t)
	for _, d := range w.Days {
		if d == iso {
			return true
		}
	}
	return false
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// TimeWindow is a contiguous [Start, End) span of time.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the window has no duration.
func (w TimeWindow) Empty() bool {
	return !w.Start.Before(w.End)
}

func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// BusyInterval represents a single concrete busy occurrence of a calendar
// event (after recurrence expansion and timezone normalization).
type BusyInterval struct {
	UID     string
	Summary string
	AllDay  bool

	// Start / End are in the display timezone.
	Start time.Time
	End   time.Time
}

// Valid reports whether both instants are set and End is after Start.
func (b BusyInterval) Valid() bool {
	if b.Start.IsZero() || b.End.IsZero() {
		return false
	}
	return b.End.After(b.Start)
}
