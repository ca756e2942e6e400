// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/amumu-chat/amumu/internal/store"
)

const (
	DeviceCookieName      = "amumu_device_id"
	SessionHeaderName     = "X-Amumu-Session-ID"
	DefaultSessionIDValue = "default"
	deviceCookieMaxAge    = 365 * 24 * time.Hour
	returningAfter        = 24 * time.Hour
)

type contextKey int

const (
	deviceIDKey contextKey = iota
	sessionIDKey
)

var (
	deviceIDPattern  = regexp.MustCompile(`^dev_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// DeviceIDFromContext extracts the device ID from the request context.
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithDevice returns a context carrying the given identity.
func WithDevice(ctx context.Context, deviceID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, deviceIDKey, deviceID)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func generateDeviceID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return "dev_" + hex.EncodeToString(buf), nil
}

func isValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func setDeviceCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// getOrCreateDeviceID returns the device ID and whether it was just issued.
func getOrCreateDeviceID(w http.ResponseWriter, r *http.Request, isDev bool) (string, bool, error) {
	if c, err := r.Cookie(DeviceCookieName); err == nil && isValidDeviceID(c.Value) {
		setDeviceCookie(w, c.Value, isDev)
		return c.Value, false, nil
	}

	id, err := generateDeviceID()
	if err != nil {
		return "", false, err
	}
	setDeviceCookie(w, id, isDev)
	return id, true, nil
}

// logReturning notes devices coming back after a long pause or after
// their state was purged.
func logReturning(ctx context.Context, repo store.Repository, deviceID string, now time.Time) {
	d, err := repo.GetDevice(ctx, deviceID)
	switch {
	case err != nil:
		slog.Warn("Failed to look up device", "device_id", deviceID, "error", err)
	case d == nil:
		slog.Info("Known cookie without stored device, starting fresh", "device_id", deviceID)
	case d.IdleFor(now) >= returningAfter:
		slog.Info("Device returned", "device_id", deviceID, "idle", d.IdleFor(now).Round(time.Minute))
	}
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the anonymous device identity and per-tab session ID,
// creating the device record on first sight.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, issued, err := getOrCreateDeviceID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish device identity"}`, http.StatusInternalServerError)
				return
			}

			now := time.Now()
			if issued {
				slog.Info("New device", "device_id", deviceID)
			} else {
				logReturning(r.Context(), repo, deviceID, now)
			}

			if err := repo.EnsureDevice(r.Context(), deviceID, now); err != nil {
				slog.Error("Failed to record device", "device_id", deviceID, "error", err)
				http.Error(w, `{"error":"failed to initialize device"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithDevice(r.Context(), deviceID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
