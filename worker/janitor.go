package worker

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner removes expired entries and reports how many went away.
type Cleaner interface {
	Cleanup() (int, error)
}

// CacheJanitor periodically cleans the newsletter and audio caches and
// forgets finished podcast jobs.
type CacheJanitor struct {
	Cleaners map[string]Cleaner
	Interval time.Duration
}

func (w *CacheJanitor) Start(ctx context.Context) error {
	if w.Interval <= 0 {
		w.Interval = 30 * time.Minute
	}
	// run immediately then on interval
	w.runOnce()

	t := time.NewTicker(w.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.runOnce()
		}
	}
}

func (w *CacheJanitor) runOnce() {
	for name, c := range w.Cleaners {
		n, err := c.Cleanup()
		if err != nil {
			slog.Error("janitor: cleanup failed", "cache", name, "err", err)
			continue
		}
		if n > 0 {
			slog.Info("janitor: removed expired entries", "cache", name, "count", n)
		}
	}
}
