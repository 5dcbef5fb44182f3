package freewindow

import (
	"freeslots/internal/model"
)

// Subtract removes busy from every window it overlaps and returns a new
// slice; windows is not modified. A window fully covered by busy is dropped,
// one strictly containing it is split in two. Touching endpoints do not
// count as overlap.
func Subtract(windows []model.TimeWindow, busy model.BusyInterval) []model.TimeWindow {
	out := make([]model.TimeWindow, 0, len(windows)+1)
	if !busy.Valid() {
		return append(out, windows...)
	}

	for _, w := range windows {
		loc := w.Start.Location()
		bStart := busy.Start.In(loc)
		bEnd := busy.End.In(loc)

		if !bStart.Before(w.End) || !bEnd.After(w.Start) {
			out = append(out, w)
			continue
		}
		if w.Start.Before(bStart) {
			out = append(out, model.TimeWindow{Start: w.Start, End: bStart})
		}
		if w.End.After(bEnd) {
			out = append(out, model.TimeWindow{Start: bEnd, End: w.End})
		}
	}
	return out
}

// SubtractAll folds Subtract over busy, one interval at a time. The result
// does not depend on the order of busy.
func SubtractAll(windows []model.TimeWindow, busy []model.BusyInterval) []model.TimeWindow {
	acc := append([]model.TimeWindow(nil), windows...)
	for _, b := range busy {
		acc = Subtract(acc, b)
	}
	return acc
}
