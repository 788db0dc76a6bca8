package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	conflictMaxRetries = 3
	conflictBaseDelay  = 50 * time.Millisecond
)

// isSQLiteConflictError reports SQLITE_BUSY and "database is locked" errors,
// the two SQLite concurrency errors worth retrying.
func isSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withConflictRetry runs op, retrying SQLite conflicts with exponential backoff.
func withConflictRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < conflictMaxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isSQLiteConflictError(err) || i == conflictMaxRetries-1 {
			break
		}

		delay := conflictBaseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("store operation hit SQLITE_BUSY, retrying",
			"op", name,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}
