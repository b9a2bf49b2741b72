package state

import (
	"context"
	"log/slog"
	"time"
)

const defaultCleanupInterval = time.Hour

// Cleaner periodically removes the rows left behind by Clear.
type Cleaner struct {
	records  RecordStore
	log      *slog.Logger
	interval time.Duration
}

// NewCleaner constructs a Cleaner instance.
func NewCleaner(records RecordStore, log *slog.Logger, interval time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = defaultCleanupInterval
	}

	return &Cleaner{
		records:  records,
		log:      log,
		interval: interval,
	}
}

// Run starts the cleanup loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.records == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			reason := ctx.Err()
			if reason != nil {
				c.log.Info("state cleaner stopped", slog.String("reason", reason.Error()))
			} else {
				c.log.Info("state cleaner stopped")
			}
			return
		case <-ticker.C:
			c.Cleanup(ctx)
		}
	}
}

// Cleanup prunes empty rows once and returns how many were removed.
func (c *Cleaner) Cleanup(ctx context.Context) int64 {
	if ctx.Err() != nil {
		return 0
	}

	removed, err := c.records.Prune(ctx)
	if err != nil {
		c.log.Error("state cleaner prune failed", slog.Any("error", err))
		return 0
	}

	if removed > 0 {
		c.log.Info("state cleaner removed empty sessions", slog.Int64("count", removed))
	}

	return removed
}
