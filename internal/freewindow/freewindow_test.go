package freewindow

import (
	"sort"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freeslots/internal/model"
)

// 2025-03-03 is a Monday.
func at(loc *time.Location, day, hour, min int) time.Time {
	return time.Date(2025, 3, day, hour, min, 0, 0, loc)
}

func weekdays(loc *time.Location, start, end int) model.WorkingHours {
	return model.WorkingHours{
		Days:      []int{1, 2, 3, 4, 5},
		StartHour: start,
		EndHour:   end,
		Location:  loc,
	}
}

func busy(start, end time.Time) model.BusyInterval {
	return model.BusyInterval{Start: start, End: end}
}

func TestGenerateMondayMorning(t *testing.T) {
	loc := time.UTC
	now := at(loc, 3, 8, 0)

	windows := Generate(weekdays(loc, 9, 18), now, 30)

	require.NotEmpty(t, windows)
	assert.Equal(t, at(loc, 3, 9, 0), windows[0].Start)
	assert.Equal(t, at(loc, 3, 18, 0), windows[0].End)
	// Mon 3 Mar .. Tue 1 Apr: four full weeks plus Mon and Tue.
	assert.Len(t, windows, 22)

	for i := 1; i < len(windows); i++ {
		assert.True(t, windows[i-1].End.Before(windows[i].Start), "windows must be ordered and disjoint")
	}
}

func TestGenerateClampsToNow(t *testing.T) {
	loc := time.UTC
	now := at(loc, 3, 11, 30)

	windows := Generate(weekdays(loc, 9, 18), now, 1)

	require.Len(t, windows, 1)
	assert.Equal(t, now, windows[0].Start)
	assert.Equal(t, at(loc, 3, 18, 0), windows[0].End)
}

func TestGenerateSkipsFinishedDay(t *testing.T) {
	loc := time.UTC

	windows := Generate(weekdays(loc, 9, 18), at(loc, 3, 18, 0), 2)
	require.Len(t, windows, 1)
	assert.Equal(t, at(loc, 4, 9, 0), windows[0].Start)
}

func TestGenerateSkipsNonWorkingDays(t *testing.T) {
	loc := time.UTC
	// Saturday 8 Mar.
	windows := Generate(weekdays(loc, 9, 18), at(loc, 8, 7, 0), 2)
	assert.Empty(t, windows)
}

func TestGenerateEmptyHoursYieldNothing(t *testing.T) {
	loc := time.UTC
	now := at(loc, 3, 0, 0)

	assert.Empty(t, Generate(weekdays(loc, 9, 9), now, 30))
	assert.Empty(t, Generate(weekdays(loc, 17, 9), now, 30))
}

func TestGenerateHour24EndsAtNextMidnight(t *testing.T) {
	loc := time.UTC
	windows := Generate(weekdays(loc, 20, 24), at(loc, 3, 8, 0), 1)

	require.Len(t, windows, 1)
	assert.Equal(t, at(loc, 3, 20, 0), windows[0].Start)
	assert.Equal(t, at(loc, 4, 0, 0), windows[0].End)
}

func TestGenerateAcrossDSTStart(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	wh := model.WorkingHours{Days: []int{7}, StartHour: 0, EndHour: 24, Location: loc}
	// Sunday 9 Mar 2025 is the spring-forward day in New York.
	windows := Generate(wh, time.Date(2025, 3, 8, 12, 0, 0, 0, loc), 7)

	require.Len(t, windows, 1)
	assert.Equal(t, 23*time.Hour, windows[0].Duration())
}

func TestGenerateUsesConfiguredZone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 23:00 UTC Sunday is 08:00 Monday in Tokyo.
	now := time.Date(2025, 3, 2, 23, 0, 0, 0, time.UTC)
	windows := Generate(weekdays(tokyo, 9, 18), now, 1)

	require.Len(t, windows, 1)
	assert.Equal(t, time.Date(2025, 3, 3, 9, 0, 0, 0, tokyo), windows[0].Start)
	assert.Equal(t, tokyo, windows[0].Start.Location())
}

func TestGenerateStaysInsideBounds(t *testing.T) {
	loc := time.UTC
	wh := model.WorkingHours{Days: []int{1, 2, 3, 4, 5, 6, 7}, StartHour: 9, EndHour: 17, Location: loc}

	for hour := 0; hour < 24; hour++ {
		now := at(loc, 5, hour, 17)
		for _, w := range Generate(wh, now, 10) {
			assert.True(t, w.Start.Before(w.End))
			assert.False(t, w.Start.Before(now))
			assert.True(t, w.Start.Hour() >= 9 || w.Start.Equal(now))
			assert.True(t, !w.End.After(atHour(w.Start, 17)))
		}
	}
}

func TestGenerateDefaultHorizon(t *testing.T) {
	loc := time.UTC
	wh := model.WorkingHours{Days: []int{1, 2, 3, 4, 5, 6, 7}, StartHour: 9, EndHour: 17, Location: loc}

	assert.Len(t, Generate(wh, at(loc, 3, 8, 0), 0), DefaultHorizonDays)
}

func TestSubtractInnerEventSplits(t *testing.T) {
	loc := time.UTC
	windows := Generate(weekdays(loc, 9, 18), at(loc, 3, 8, 0), 1)

	got := Subtract(windows, busy(at(loc, 3, 10, 0), at(loc, 3, 11, 0)))

	require.Len(t, got, 2)
	assert.Equal(t, model.TimeWindow{Start: at(loc, 3, 9, 0), End: at(loc, 3, 10, 0)}, got[0])
	assert.Equal(t, model.TimeWindow{Start: at(loc, 3, 11, 0), End: at(loc, 3, 18, 0)}, got[1])
	// The input is untouched.
	require.Len(t, windows, 1)
	assert.Equal(t, at(loc, 3, 18, 0), windows[0].End)
}

func TestSubtractCoveringEventRemovesWindow(t *testing.T) {
	loc := time.UTC
	windows := Generate(weekdays(loc, 9, 18), at(loc, 3, 8, 0), 2)
	require.Len(t, windows, 2)

	got := Subtract(windows, busy(at(loc, 3, 8, 0), at(loc, 3, 19, 0)))

	require.Len(t, got, 1)
	assert.Equal(t, windows[1], got[0])
}

func TestSubtractExactCoverRemovesWindow(t *testing.T) {
	loc := time.UTC
	w := []model.TimeWindow{{Start: at(loc, 3, 9, 0), End: at(loc, 3, 18, 0)}}

	assert.Empty(t, Subtract(w, busy(at(loc, 3, 9, 0), at(loc, 3, 18, 0))))
}

func TestSubtractPartialOverlap(t *testing.T) {
	loc := time.UTC
	w := []model.TimeWindow{{Start: at(loc, 3, 9, 0), End: at(loc, 3, 18, 0)}}

	left := Subtract(w, busy(at(loc, 3, 17, 0), at(loc, 3, 20, 0)))
	assert.Equal(t, []model.TimeWindow{{Start: at(loc, 3, 9, 0), End: at(loc, 3, 17, 0)}}, left)

	right := Subtract(w, busy(at(loc, 3, 7, 0), at(loc, 3, 9, 30)))
	assert.Equal(t, []model.TimeWindow{{Start: at(loc, 3, 9, 30), End: at(loc, 3, 18, 0)}}, right)
}

func TestSubtractDisjointAndTouchingEventsKeepWindows(t *testing.T) {
	loc := time.UTC
	w := []model.TimeWindow{{Start: at(loc, 3, 9, 0), End: at(loc, 3, 18, 0)}}

	assert.Equal(t, w, Subtract(w, busy(at(loc, 3, 18, 0), at(loc, 3, 19, 0))))
	assert.Equal(t, w, Subtract(w, busy(at(loc, 3, 8, 0), at(loc, 3, 9, 0))))
	assert.Equal(t, w, Subtract(w, busy(at(loc, 4, 9, 0), at(loc, 4, 10, 0))))
}

func TestSubtractIgnoresInvalidIntervals(t *testing.T) {
	loc := time.UTC
	w := []model.TimeWindow{{Start: at(loc, 3, 9, 0), End: at(loc, 3, 18, 0)}}

	assert.Equal(t, w, Subtract(w, busy(at(loc, 3, 10, 0), at(loc, 3, 10, 0))))
	assert.Equal(t, w, Subtract(w, busy(at(loc, 3, 11, 0), at(loc, 3, 10, 0))))
	assert.Equal(t, w, Subtract(w, model.BusyInterval{End: at(loc, 3, 10, 0)}))
}

func TestSubtractConvertsEventZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	w := []model.TimeWindow{{Start: time.Date(2025, 3, 3, 9, 0, 0, 0, berlin), End: time.Date(2025, 3, 3, 18, 0, 0, 0, berlin)}}

	// 09:00-10:00 UTC is 10:00-11:00 in Berlin (CET).
	got := Subtract(w, busy(at(time.UTC, 3, 9, 0), at(time.UTC, 3, 10, 0)))

	require.Len(t, got, 2)
	assert.Equal(t, time.Date(2025, 3, 3, 10, 0, 0, 0, berlin), got[0].End)
	assert.Equal(t, berlin, got[1].Start.Location())
	assert.Equal(t, time.Date(2025, 3, 3, 11, 0, 0, 0, berlin), got[1].Start)
}

func TestSubtractIsIdempotent(t *testing.T) {
	loc := time.UTC
	windows := Generate(weekdays(loc, 9, 18), at(loc, 3, 8, 0), 7)
	ev := busy(at(loc, 4, 12, 0), at(loc, 4, 13, 30))

	once := Subtract(windows, ev)
	twice := Subtract(once, ev)
	assert.Equal(t, once, twice)
}

func TestSubtractAllIsOrderIndependent(t *testing.T) {
	loc := time.UTC
	windows := Generate(weekdays(loc, 9, 18), at(loc, 3, 8, 0), 7)
	events := []model.BusyInterval{
		busy(at(loc, 3, 10, 0), at(loc, 3, 11, 0)),
		busy(at(loc, 3, 10, 30), at(loc, 3, 12, 0)),
		busy(at(loc, 4, 17, 0), at(loc, 5, 10, 0)),
		busy(at(loc, 6, 8, 0), at(loc, 6, 19, 0)),
	}

	want := SubtractAll(windows, events)
	for _, perm := range permutations(events) {
		got := SubtractAll(windows, perm)
		assert.Equal(t, sortWindows(want), sortWindows(got))
	}

	// Sanity: the multi-day event trims Tuesday evening and Wednesday morning.
	assert.Contains(t, want, model.TimeWindow{Start: at(loc, 4, 9, 0), End: at(loc, 4, 17, 0)})
	assert.Contains(t, want, model.TimeWindow{Start: at(loc, 5, 10, 0), End: at(loc, 5, 18, 0)})
	assert.Contains(t, want, model.TimeWindow{Start: at(loc, 3, 12, 0), End: at(loc, 3, 18, 0)})
}

func TestSubtractInnerSplitReconstructsWindow(t *testing.T) {
	loc := time.UTC
	orig := model.TimeWindow{Start: at(loc, 3, 9, 0), End: at(loc, 3, 18, 0)}
	ev := busy(at(loc, 3, 13, 15), at(loc, 3, 14, 45))

	got := Subtract([]model.TimeWindow{orig}, ev)

	require.Len(t, got, 2)
	assert.Equal(t, orig.Start, got[0].Start)
	assert.Equal(t, ev.Start, got[0].End)
	assert.Equal(t, ev.End, got[1].Start)
	assert.Equal(t, orig.End, got[1].End)
	assert.Equal(t, orig.Duration(), got[0].Duration()+ev.End.Sub(ev.Start)+got[1].Duration())
}

func TestFormatGaps(t *testing.T) {
	loc := time.UTC
	windows := []model.TimeWindow{
		{Start: at(loc, 3, 9, 0), End: at(loc, 3, 10, 0)},
		{Start: at(loc, 3, 11, 30), End: at(loc, 3, 18, 0)},
		{Start: at(loc, 4, 20, 0), End: at(loc, 5, 0, 0)},
	}

	want := "Monday (3 Mar): 9:00 AM - 10:00 AM\n" +
		"Monday (3 Mar): 11:30 AM - 6:00 PM\n" +
		"Tuesday (4 Mar): 8:00 PM - 12:00 AM"
	assert.Equal(t, want, FormatGaps(windows))
	assert.Equal(t, "", FormatGaps(nil))
}

func TestPipelineScenarios(t *testing.T) {
	loc := time.UTC
	now := at(loc, 3, 8, 0)
	windows := Generate(weekdays(loc, 9, 18), now, 1)

	t.Run("no busy events", func(t *testing.T) {
		assert.Equal(t, "Monday (3 Mar): 9:00 AM - 6:00 PM", FormatGaps(SubtractAll(windows, nil)))
	})
	t.Run("meeting inside the day", func(t *testing.T) {
		got := SubtractAll(windows, []model.BusyInterval{busy(at(loc, 3, 10, 0), at(loc, 3, 11, 0))})
		assert.Equal(t, "Monday (3 Mar): 9:00 AM - 10:00 AM\nMonday (3 Mar): 11:00 AM - 6:00 PM", FormatGaps(got))
	})
	t.Run("meeting covering the day", func(t *testing.T) {
		got := SubtractAll(windows, []model.BusyInterval{busy(at(loc, 3, 8, 0), at(loc, 3, 19, 0))})
		assert.Empty(t, got)
	})
}

func permutations(in []model.BusyInterval) [][]model.BusyInterval {
	if len(in) <= 1 {
		return [][]model.BusyInterval{append([]model.BusyInterval(nil), in...)}
	}
	var out [][]model.BusyInterval
	for i := range in {
		rest := make([]model.BusyInterval, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]model.BusyInterval{in[i]}, p...))
		}
	}
	return out
}

func sortWindows(in []model.TimeWindow) []model.TimeWindow {
	out := append([]model.TimeWindow(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
