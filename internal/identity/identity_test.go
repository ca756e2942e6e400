package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/amumu-chat/amumu/internal/domain"
)

type fakeRepo struct {
	mu      sync.Mutex
	devices map[string]time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{devices: make(map[string]time.Time)}
}

func (f *fakeRepo) GetDevice(_ context.Context, id string) (*domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen, ok := f.devices[id]
	if !ok {
		return nil, nil
	}
	return &domain.Device{DeviceID: id, LastSeenAt: seen}, nil
}

func (f *fakeRepo) EnsureDevice(_ context.Context, id string, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[id] = seenAt
	return nil
}

func (f *fakeRepo) GetItems(context.Context, string) (map[string]string, error) { return nil, nil }
func (f *fakeRepo) SetItems(context.Context, string, map[string]string) error { return nil }
func (f *fakeRepo) DeleteIdleDevices(context.Context, time.Duration) ([]string, error) {
	return nil, nil
}
func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error { return nil }

func serve(repo *fakeRepo, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	var deviceID, sessionID string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID = DeviceIDFromContext(r.Context())
		sessionID = SessionIDFromContext(r.Context())
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, deviceID, sessionID
}

func TestMiddlewareIssuesDeviceCookie(t *testing.T) {
	repo := newFakeRepo()
	rr, deviceID, sessionID := serve(repo, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	if !isValidDeviceID(deviceID) {
		t.Fatalf("expected generated device id, got %q", deviceID)
	}
	if sessionID != DefaultSessionIDValue {
		t.Fatalf("expected default session, got %q", sessionID)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != deviceID {
		t.Fatalf("expected device cookie to be set, got %+v", cookies)
	}
	if d, _ := repo.GetDevice(context.Background(), deviceID); d == nil {
		t.Fatal("expected device to be recorded")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	repo := newFakeRepo()
	existing := "dev_0123456789abcdef0123456789abcdef"

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: existing})
	req.Header.Set(SessionHeaderName, "tab-1")
	_, deviceID, sessionID := serve(repo, req)

	if deviceID != existing {
		t.Fatalf("expected %q, got %q", existing, deviceID)
	}
	if sessionID != "tab-1" {
		t.Fatalf("expected tab-1, got %q", sessionID)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: "../../etc/passwd"})
	_, deviceID, _ := serve(newFakeRepo(), req)

	if deviceID == "../../etc/passwd" || !isValidDeviceID(deviceID) {
		t.Fatalf("expected a fresh device id, got %q", deviceID)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	if got := sanitizeSessionID("  "); got != DefaultSessionIDValue {
		t.Fatalf("expected default, got %q", got)
	}
	if got := sanitizeSessionID("bad id!"); got != DefaultSessionIDValue {
		t.Fatalf("expected default, got %q", got)
	}
	if got := sanitizeSessionID("tab:42"); got != "tab:42" {
		t.Fatalf("expected tab:42, got %q", got)
	}
}

func TestMiddlewareTouchesReturningDevice(t *testing.T) {
	repo := newFakeRepo()
	existing := "dev_fedcba9876543210fedcba9876543210"
	before := time.Now().Add(-72 * time.Hour)
	repo.devices[existing] = before

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: existing})
	serve(repo, req)

	d, _ := repo.GetDevice(context.Background(), existing)
	if d == nil || !d.LastSeenAt.After(before) {
		t.Fatalf("expected last seen to be refreshed, got %+v", d)
	}
	if d.IdleFor(time.Now()) > time.Minute {
		t.Fatalf("expected device to be freshly active, idle %s", d.IdleFor(time.Now()))
	}
}
