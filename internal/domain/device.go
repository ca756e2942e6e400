// Package domain contains core domain types for the Amumu chat server.
package domain

import (
	"time"
)

// Device is one anonymous browser. All persisted chat state is scoped to it.
type Device struct {
	DeviceID   string    `json:"device_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// IdleFor returns how long the device has been inactive as of now.
// Returns 0 if the last activity is in the future.
func (d *Device) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(d.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}
