package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	SPAHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestSPAHandlerServesIndex(t *testing.T) {
	rr := get(t, "/")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `id="messages"`) {
		t.Fatal("Expected chat markup in index.html")
	}
}

func TestSPAHandlerServesAvatars(t *testing.T) {
	for _, path := range []string{"/amumu-avatar.svg", "/user-avatar.svg"} {
		rr := get(t, path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "<svg") {
			t.Fatalf("%s: expected svg content", path)
		}
	}
}

func TestSPAHandlerFallsBackToIndex(t *testing.T) {
	rr := get(t, "/some/client/route")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `id="messages"`) {
		t.Fatal("Expected index.html fallback")
	}
}

func TestSPAHandlerDoesNotShadowAPI(t *testing.T) {
	if rr := get(t, "/api/unknown"); rr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for API path, got %d", rr.Code)
	}
}
