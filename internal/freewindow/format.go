package freewindow

import (
	"strings"

	"freeslots/internal/model"
)

const (
	dayLayout  = "Monday (2 Jan)"
	timeLayout = "3:04 PM"
)

// FormatGaps renders one "<Weekday> (<d> <Mon>): <h:mm AM> - <h:mm PM>"
// line per window, in window order. Same-day windows are not merged.
func FormatGaps(windows []model.TimeWindow) string {
	lines := make([]string, 0, len(windows))
	for _, w := range windows {
		lines = append(lines, FormatWindow(w))
	}
	return strings.Join(lines, "\n")
}

func FormatWindow(w model.TimeWindow) string {
	return w.Start.Format(dayLayout) + ": " + w.Start.Format(timeLayout) + " - " + w.End.Format(timeLayout)
}
