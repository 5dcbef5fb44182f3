// Package slots turns a calendar link, working hours and a free-text prompt
// into the final slot text: fetch, parse, expand, generate windows, subtract
// busy intervals, format gaps and hand them to the assistant.
package slots

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"freeslots/internal/assistant"
	"freeslots/internal/freewindow"
	"freeslots/internal/ics"
	appLog "freeslots/internal/log"
	"freeslots/internal/metrics"
	"freeslots/internal/model"
)

var (
	// ErrCalendarFetch means the ICS link could not be retrieved.
	ErrCalendarFetch = errors.New("calendar fetch failed")
	// ErrCalendarParse means the feed was retrieved but is not usable ICS.
	ErrCalendarParse = errors.New("calendar parse failed")
)

// Fetcher retrieves a calendar feed. *ics.Fetcher implements it.
type Fetcher interface {
	FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

type Options struct {
	// HorizonDays is the number of days scanned, today included.
	HorizonDays int
	// ExpandRecurrences resolves RRULE sets; false keeps base instances only.
	ExpandRecurrences      bool
	MaxOccurrencesPerEvent int
}

type Request struct {
	ICSLink      string
	WorkingHours model.WorkingHours
	Prompt       string
}

type Result struct {
	Slots       string
	Gaps        string
	WindowCount int
	BusyCount   int
}

type Service struct {
	fetcher   Fetcher
	assistant assistant.Assistant
	opts      Options
	metrics   *metrics.Metrics

	// Now is the clock used for "today"; defaults to time.Now.
	Now func() time.Time
}

func NewService(fetcher Fetcher, asst assistant.Assistant, opts Options, m *metrics.Metrics) *Service {
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = freewindow.DefaultHorizonDays
	}
	return &Service{
		fetcher:   fetcher,
		assistant: asst,
		opts:      opts,
		metrics:   m,
		Now:       time.Now,
	}
}

// Generate runs the whole pipeline for one request.
func (s *Service) Generate(ctx context.Context, req Request) (Result, error) {
	var res Result

	loc := req.WorkingHours.Location
	if loc == nil {
		loc = time.UTC
		req.WorkingHours.Location = loc
	}

	link := NormalizeLink(req.ICSLink)
	fetched, err := s.fetcher.FetchOne(ctx, ics.Source{ID: "request", URL: link})
	if err != nil {
		s.metrics.CalendarFetchFailed()
		return res, fmt.Errorf("%w: %w", ErrCalendarFetch, err)
	}

	events, err := ics.ParseICS(fetched.Source, fetched.Body)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrCalendarParse, err)
	}

	now := s.Now().In(loc)
	expanded, err := ics.ExpandBusy(events, ics.ExpandConfig{
		DisplayLocation:        loc,
		RangeStart:             now,
		RangeEnd:               now.AddDate(0, 0, s.opts.HorizonDays),
		MaxOccurrencesPerEvent: s.opts.MaxOccurrencesPerEvent,
		BaseInstancesOnly:      !s.opts.ExpandRecurrences,
	})
	if err != nil {
		return res, fmt.Errorf("expand busy intervals: %w", err)
	}
	if len(expanded.TruncatedEvents) > 0 {
		appLog.Warn("recurrence expansion truncated", "events", len(expanded.TruncatedEvents))
	}

	windows := freewindow.Generate(req.WorkingHours, now, s.opts.HorizonDays)
	free := freewindow.SubtractAll(windows, expanded.Busy)
	gaps := freewindow.FormatGaps(free)

	res.Gaps = gaps
	res.WindowCount = len(free)
	res.BusyCount = len(expanded.Busy)
	s.metrics.ObserveComputation(res.WindowCount, res.BusyCount)

	appLog.Debug("free windows computed",
		"url", ics.RedactURL(link),
		"from_cache", fetched.FromCache,
		"events", len(events),
		"busy", res.BusyCount,
		"candidate_windows", len(windows),
		"free_windows", res.WindowCount,
	)

	slots, err := s.assistant.FormatSlots(ctx, assistant.Request{Prompt: req.Prompt, Gaps: gaps})
	if err != nil {
		return res, err
	}
	res.Slots = slots
	return res, nil
}

// NormalizeLink rewrites webcal:// subscription links to https://.
func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if strings.EqualFold(u.Scheme, "webcal") || strings.EqualFold(u.Scheme, "webcals") {
		u.Scheme = "https"
		return u.String()
	}
	return link
}
