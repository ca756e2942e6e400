// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/amumu-chat/amumu/internal/domain"
)

// Repository persists devices and their string-keyed entries. It is the
// server-side stand-in for a browser's local storage: every device owns an
// independent set of key/value pairs.
type Repository interface {
	// GetDevice retrieves a device by ID. Returns nil, nil when it does not exist.
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)

	// EnsureDevice creates the device if needed and records activity at seenAt.
	EnsureDevice(ctx context.Context, deviceID string, seenAt time.Time) error

	// GetItems returns every entry stored for a device.
	GetItems(ctx context.Context, deviceID string) (map[string]string, error)

	// SetItems writes each entry immediately, replacing existing values.
	// The device must already exist (see EnsureDevice).
	SetItems(ctx context.Context, deviceID string, items map[string]string) error

	// DeleteIdleDevices removes devices (and their entries) inactive for longer
	// than ttl and returns their IDs.
	DeleteIdleDevices(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
