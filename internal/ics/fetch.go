package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appLog "freeslots/internal/log"
)

const (
	defaultFetchTimeout = 15 * time.Second
	// maxBodyBytes bounds how much of a feed is read into memory.
	maxBodyBytes = 10 << 20
)

// ErrFeedTooLarge is reported when a feed exceeds the body size limit.
var ErrFeedTooLarge = errors.New("ics feed too large")

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an identifier used only for logging.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused the cached body
}

// FetchError reports that a feed could not be retrieved. A cached copy is
// never substituted. StatusCode is zero for transport-level failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ics fetch %s: unexpected status %d", RedactURL(e.URL), e.StatusCode)
	}
	return fmt.Sprintf("ics fetch %s: %v", RedactURL(e.URL), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher is responsible for fetching ICS feeds with HTTP caching
// (ETag / Last-Modified) backed by a pluggable Cache.
type Fetcher struct {
	client  *http.Client
	cache   Cache
	maxBody int64
}

// NewFetcher creates a new ICS Fetcher. A nil cache disables conditional
// requests; timeout <= 0 uses 15s.
func NewFetcher(cache Cache, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		cache:   cache,
		maxBody: maxBodyBytes,
	}
}

// FetchOne fetches a single ICS source, honoring ETag and Last-Modified.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, &FetchError{URL: src.URL, Err: errors.New("source URL is empty")}
	}

	var (
		meta       CacheEntry
		cachedBody []byte
	)
	if f.cache != nil {
		var err error
		meta, cachedBody, err = f.cache.Load(ctx, src.URL)
		if err != nil && !errors.Is(err, ErrCacheMiss) {
			appLog.Error("ics cache load failed", err, "id", src.ID, "url", RedactURL(src.URL))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, &FetchError{URL: src.URL, Err: err}
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.5")

	// Conditional headers only make sense when we can serve the cached body.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", RedactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, &FetchError{URL: src.URL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
		if readErr != nil {
			return FetchResult{}, &FetchError{URL: src.URL, Err: readErr}
		}
		if int64(len(body)) > f.maxBody {
			return FetchResult{}, &FetchError{URL: src.URL, Err: ErrFeedTooLarge}
		}

		if f.cache != nil {
			newMeta := CacheEntry{
				URL:          src.URL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				UpdatedAt:    time.Now().UTC(),
			}
			if err := f.cache.Save(ctx, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("ics cache save failed", err, "id", src.ID, "url", RedactURL(src.URL))
			}
		}

		appLog.Info("ics fetch success", "id", src.ID, "url", RedactURL(src.URL), "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case resp.StatusCode == http.StatusNotModified && len(cachedBody) > 0:
		appLog.Info("ics fetch not modified; using cache", "id", src.ID, "url", RedactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		return FetchResult{}, &FetchError{URL: src.URL, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}
}

// RedactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	// Find scheme separator.
	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}

	host := u[i:j]
	if at := strings.LastIndex(host, "@"); at >= 0 {
		// Drop userinfo credentials.
		host = host[at+1:]
	}
	return u[:i] + host + redactedSuffix
}
