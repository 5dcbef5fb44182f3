// Package usagelog keeps an append-only record of slot requests (timezone,
// prompt, timestamp). Writes are best-effort and never block a response.
package usagelog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"freeslots/internal/config"
	appLog "freeslots/internal/log"
)

// Entry is one usage record.
type Entry struct {
	ID        string
	Timezone  string
	Prompt    string
	CreatedAt time.Time
}

// Store persists entries.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// NopStore discards every entry.
type NopStore struct{}

func (NopStore) Append(context.Context, Entry) error { return nil }
func (NopStore) Close() error                        { return nil }

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.UsageLogConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.UsageLogNone:
		return NopStore{}, nil
	case config.UsageLogPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	case config.UsageLogSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	case config.UsageLogMongo:
		return OpenMongo(ctx, cfg.DSN, cfg.Database)
	default:
		return nil, fmt.Errorf("usagelog: unknown driver %q", cfg.Driver)
	}
}

// Recorder writes entries in the background. Failures are logged and
// reported through OnError, never returned to the caller.
type Recorder struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup

	// OnError, if set, is called once per failed write.
	OnError func(error)
}

func NewRecorder(store Store, timeout time.Duration) *Recorder {
	if store == nil {
		store = NopStore{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{store: store, timeout: timeout, now: time.Now}
}

// Record schedules e for writing and returns immediately. The write
// outlives ctx cancellation but is bounded by the recorder timeout.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if err := r.store.Append(writeCtx, e); err != nil {
			appLog.Error("usage log write failed", err, "id", e.ID, "timezone", e.Timezone)
			if r.OnError != nil {
				r.OnError(err)
			}
		}
	}()
}

// Wait blocks until all scheduled writes have finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
