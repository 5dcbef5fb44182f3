package ics

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "freeslots/internal/log"
)

// SchedulePrune registers a job on c that removes disk cache entries older
// than maxAge according to the cron spec (e.g. "0 * * * *").
func SchedulePrune(c *cron.Cron, cache *DiskCache, spec string, maxAge time.Duration) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		removed, err := cache.Prune(maxAge, time.Now())
		if err != nil {
			appLog.Error("ics cache prune failed", err, "dir", cache.Dir)
			return
		}
		appLog.Info("ics cache pruned", "dir", cache.Dir, "removed", removed, "max_age", maxAge.String())
	})
	if err != nil {
		return 0, fmt.Errorf("schedule ics cache prune %q: %w", spec, err)
	}
	return id, nil
}
