package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freeslots/internal/assistant"
	"freeslots/internal/config"
	"freeslots/internal/ics"
	"freeslots/internal/metrics"
	"freeslots/internal/slots"
	"freeslots/internal/usagelog"
)

type fakeGenerator struct {
	mu    sync.Mutex
	got   []slots.Request
	res   slots.Result
	err   error
	panic bool
}

func (f *fakeGenerator) Generate(_ context.Context, req slots.Request) (slots.Result, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()
	if f.panic {
		panic("boom")
	}
	return f.res, f.err
}

type memStore struct {
	mu      sync.Mutex
	entries []usagelog.Entry
	err     error
}

func (m *memStore) Append(_ context.Context, e usagelog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) Close() error { return nil }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.RateLimit.RequestsPerMinute = 0
	return cfg
}

func validBody() map[string]any {
	return map[string]any{
		"icsLink":      "https://calendar.example.com/cal.ics",
		"workingDays":  []int{1, 2, 3, 4, 5},
		"workingHours": map[string]any{"start": 9, "end": 17},
		"timezone":     "Europe/London",
		"prompt":       "next 3 working days",
	}
}

func post(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(http.MethodPost, "/api/generate-slots", &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := NewServer(testConfig(), &fakeGenerator{}, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := NewServer(testConfig(), &fakeGenerator{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestStaticIndex(t *testing.T) {
	s := NewServer(testConfig(), &fakeGenerator{}, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/generate-slots")
}

func TestUnknownAPIRouteIsJSON404(t *testing.T) {
	s := NewServer(testConfig(), &fakeGenerator{}, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decodeError(t, rec).Message)
}

func TestGenerateSuccess(t *testing.T) {
	gen := &fakeGenerator{res: slots.Result{Slots: "* Monday (3 Mar): 9 a.m.-5 p.m."}}
	store := &memStore{}
	rec := usagelog.NewRecorder(store, time.Second)
	s := NewServer(testConfig(), gen, rec, nil)

	resp := post(t, s.Handler(), validBody())
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out generateResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "* Monday (3 Mar): 9 a.m.-5 p.m.", out.Slots)

	require.Len(t, gen.got, 1)
	got := gen.got[0]
	assert.Equal(t, "https://calendar.example.com/cal.ics", got.ICSLink)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got.WorkingHours.Days)
	assert.Equal(t, 9, got.WorkingHours.StartHour)
	assert.Equal(t, 17, got.WorkingHours.EndHour)
	assert.Equal(t, "Europe/London", got.WorkingHours.Location.String())
	assert.Equal(t, "next 3 working days", got.Prompt)

	rec.Wait()
	require.Len(t, store.entries, 1)
	assert.Equal(t, "Europe/London", store.entries[0].Timezone)
	assert.Equal(t, "next 3 working days", store.entries[0].Prompt)
}

func TestGenerateAcceptsHourZeroAndTwentyFour(t *testing.T) {
	gen := &fakeGenerator{res: slots.Result{Slots: "ok"}}
	s := NewServer(testConfig(), gen, nil, nil)

	body := validBody()
	body["workingHours"] = map[string]any{"start": 0, "end": 24}
	resp := post(t, s.Handler(), body)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, 0, gen.got[0].WorkingHours.StartHour)
	assert.Equal(t, 24, gen.got[0].WorkingHours.EndHour)
}

func TestGenerateValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(b map[string]any)
		field   string
		message string
	}{
		{"invalid url", func(b map[string]any) { b["icsLink"] = "not a url" }, "icsLink", "Must be a valid URL"},
		{"missing url", func(b map[string]any) { delete(b, "icsLink") }, "icsLink", "Must be a valid URL"},
		{"no working days", func(b map[string]any) { b["workingDays"] = []int{} }, "workingDays", "Select at least one working day"},
		{"missing working days", func(b map[string]any) { delete(b, "workingDays") }, "workingDays", "Select at least one working day"},
		{"day out of range", func(b map[string]any) { b["workingDays"] = []int{1, 8} }, "workingDays.1", "Working days must be between 1 and 7"},
		{"missing start", func(b map[string]any) { b["workingHours"] = map[string]any{"end": 17} }, "workingHours.start", "Start hour is required"},
		{"start too late", func(b map[string]any) { b["workingHours"] = map[string]any{"start": 24, "end": 24} }, "workingHours.start", "Start hour must be between 0 and 23"},
		{"end too late", func(b map[string]any) { b["workingHours"] = map[string]any{"start": 9, "end": 25} }, "workingHours.end", "End hour must be between 0 and 24"},
		{"negative end", func(b map[string]any) { b["workingHours"] = map[string]any{"start": 9, "end": -1} }, "workingHours.end", "End hour must be between 0 and 24"},
		{"missing timezone", func(b map[string]any) { delete(b, "timezone") }, "timezone", "Timezone is required"},
		{"unknown timezone", func(b map[string]any) { b["timezone"] = "Mars/Olympus_Mons" }, "timezone", "Invalid timezone"},
		{"empty prompt", func(b map[string]any) { b["prompt"] = "" }, "prompt", "Prompt is required"},
		{"wrong type", func(b map[string]any) { b["workingHours"] = map[string]any{"start": "nine", "end": 17} }, "workingHours.start", "Expected integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{}
			store := &memStore{}
			rec := usagelog.NewRecorder(store, time.Second)
			s := NewServer(testConfig(), gen, rec, nil)

			body := validBody()
			tt.mutate(body)
			resp := post(t, s.Handler(), body)

			require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
			out := decodeError(t, resp)
			assert.Equal(t, tt.field, out.Field)
			assert.Equal(t, tt.message, out.Message)
			assert.Empty(t, gen.got)

			rec.Wait()
			assert.Empty(t, store.entries)
		})
	}
}

func TestGenerateMalformedJSON(t *testing.T) {
	s := NewServer(testConfig(), &fakeGenerator{}, nil, nil)

	resp := post(t, s.Handler(), `{"icsLink": `)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Invalid JSON body", decodeError(t, resp).Message)
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "fetch failure",
			err:     fmt.Errorf("%w: %w", slots.ErrCalendarFetch, &ics.FetchError{URL: "https://x", StatusCode: 404}),
			status:  http.StatusBadRequest,
			message: msgFetchFailed,
		},
		{
			name:    "parse failure",
			err:     fmt.Errorf("%w: bad", slots.ErrCalendarParse),
			status:  http.StatusInternalServerError,
			message: msgInternal,
		},
		{
			name:    "assistant failure",
			err:     fmt.Errorf("%w: quota", assistant.ErrAssistant),
			status:  http.StatusInternalServerError,
			message: msgInternal,
		},
		{
			name:    "unexpected",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			message: msgInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(testConfig(), &fakeGenerator{err: tt.err}, nil, nil)
			resp := post(t, s.Handler(), validBody())

			assert.Equal(t, tt.status, resp.Code)
			out := decodeError(t, resp)
			assert.Equal(t, tt.message, out.Message)
			assert.Empty(t, out.Field)
		})
	}
}

func TestUsageLogFailureDoesNotAffectResponse(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	rec := usagelog.NewRecorder(store, time.Second)
	m := metrics.New()
	rec.OnError = func(error) { m.UsageLogFailed() }

	s := NewServer(testConfig(), &fakeGenerator{res: slots.Result{Slots: "ok"}}, rec, m)
	resp := post(t, s.Handler(), validBody())
	rec.Wait()

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, scrapeMetrics(t, s), "freeslots_usage_log_failures_total 1")
}

func TestPanicIsRecovered(t *testing.T) {
	s := NewServer(testConfig(), &fakeGenerator{panic: true}, nil, nil)

	resp := post(t, s.Handler(), validBody())
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, msgInternal, decodeError(t, resp).Message)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestsPerMinute = 1
	cfg.RateLimit.Burst = 2
	s := NewServer(cfg, &fakeGenerator{res: slots.Result{Slots: "ok"}}, nil, nil)

	assert.Equal(t, http.StatusOK, post(t, s.Handler(), validBody()).Code)
	assert.Equal(t, http.StatusOK, post(t, s.Handler(), validBody()).Code)

	resp := post(t, s.Handler(), validBody())
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.NotEmpty(t, decodeError(t, resp).Message)

	// health is not limited
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPLimiterPrune(t *testing.T) {
	l := newIPLimiter(60, 1, nil)
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.2", now.Add(9*time.Minute)))

	assert.Equal(t, 1, l.prune(5*time.Minute, now.Add(10*time.Minute)))
	assert.Len(t, l.limiters, 1)

	var disabled *ipLimiter
	assert.True(t, disabled.allow("x", now))
	assert.Zero(t, disabled.prune(time.Minute, now))
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	s := NewServer(testConfig(), &fakeGenerator{res: slots.Result{Slots: "ok"}}, nil, m)

	post(t, s.Handler(), validBody())
	out := scrapeMetrics(t, s)
	assert.Contains(t, out, `freeslots_slot_requests_total{outcome="ok"} 1`)
	assert.Contains(t, out, `route="/api/generate-slots"`)
}

func TestFieldPath(t *testing.T) {
	assert.Equal(t, "workingHours.start", fieldPath("generateRequest.workingHours.start"))
	assert.Equal(t, "workingDays.3", fieldPath("generateRequest.workingDays[3]"))
	assert.Equal(t, "prompt", fieldPath("generateRequest.prompt"))
}

func scrapeMetrics(t *testing.T, s *Server) string {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, s.cfg.Metrics.Path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return strings.TrimSpace(rec.Body.String())
}
