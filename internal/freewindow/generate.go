// Package freewindow turns working-hour settings and busy calendar
// intervals into the list of free time windows offered to the assistant.
package freewindow

import (
	"time"

	"freeslots/internal/model"
)

// DefaultHorizonDays is the number of days (today included) scanned when
// the caller does not ask for a specific horizon.
const DefaultHorizonDays = 30

// Generate produces one candidate window per qualifying day in
// [now, now+horizonDays). Windows are computed in wh.Location (now's own
// location when nil), never start before now and are never empty.
func Generate(wh model.WorkingHours, now time.Time, horizonDays int) []model.TimeWindow {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	loc := wh.Location
	if loc == nil {
		loc = now.Location()
	}
	now = now.In(loc)

	windows := make([]model.TimeWindow, 0, horizonDays)
	if wh.EndHour <= wh.StartHour {
		return windows
	}

	for i := 0; i < horizonDays; i++ {
		day := now.AddDate(0, 0, i)
		if !wh.IncludesWeekday(day) {
			continue
		}

		start := atHour(day, wh.StartHour)
		end := atHour(day, wh.EndHour)

		if !end.After(now) {
			continue
		}
		if start.Before(now) {
			start = now
		}
		if !start.Before(end) {
			continue
		}
		windows = append(windows, model.TimeWindow{Start: start, End: end})
	}
	return windows
}

// atHour returns day's calendar date at hour:00:00.000 in day's location.
// Hour 24 is the first instant of the following day.
func atHour(day time.Time, hour int) time.Time {
	y, m, d := day.Date()
	if hour == 24 {
		return time.Date(y, m, d+1, 0, 0, 0, 0, day.Location())
	}
	return time.Date(y, m, d, hour, 0, 0, 0, day.Location())
}
