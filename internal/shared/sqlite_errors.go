// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError checks if the error is either a SQLITE_BUSY
// or "database is locked" error.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// Retry policy for SQLite lock conflicts.
var (
	MaxConflictRetries = 3
	ConflictBaseDelay  = 50 * time.Millisecond
)

// RetryOnConflict runs op, retrying with exponential backoff (50ms, 100ms, ...)
// while it fails with a SQLite lock conflict. Other errors return immediately.
func RetryOnConflict(ctx context.Context, opName string, op func() error) error {
	var err error
	for i := 0; i < MaxConflictRetries; i++ {
		err = op()
		if err == nil || !IsSQLiteConflictError(err) {
			return err
		}
		if i == MaxConflictRetries-1 {
			break
		}

		delay := ConflictBaseDelay * time.Duration(1<<i)
		slog.Debug("Database locked, retrying",
			"op", opName,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
