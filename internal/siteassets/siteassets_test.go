package siteassets

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/relaygate/relaygate/internal/auth"
	"github.com/relaygate/relaygate/internal/metrics"
)

func TestMetricsRequiresAuthorizationWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, nil, auth.Table{"Basic x": "alice"}, metrics.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMetricsServesWhenAuthorized(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, nil, auth.Table{"Basic x": "alice"}, metrics.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Basic x")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", w.Code, w.Body.String())
	}
}

func TestNetstatEndpointsAreNotImplemented(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, nil, nil, metrics.NewRegistry())

	for _, path := range []string{"/nt", "/net", "/netx", "/net.json"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusNotImplemented {
			t.Errorf("%s: status = %d, want 501", path, w.Code)
		}
	}
}

func TestServeStaticRejectsImageWithoutMatchingReferer(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pic.png"), []byte("pixels"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(dir, []string{"my-site.example"}, nil, metrics.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/pic.png", nil)
	req.Header.Set("Referer", "https://other.example/")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestServeStaticAllowsImageWithMatchingReferer(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pic.png"), []byte("pixels"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(dir, []string{"my-site.example"}, nil, metrics.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/pic.png", nil)
	req.Header.Set("Referer", "https://my-site.example/page")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestServeStaticAllowsNonImageRegardlessOfReferer(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "page.html"), []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(dir, []string{"my-site.example"}, nil, metrics.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/page.html", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
