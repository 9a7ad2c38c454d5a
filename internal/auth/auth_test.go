package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckEmptyTableAlwaysPasses(t *testing.T) {
	var table Table
	username, ok := table.Check("anything")
	if !ok || username != "" {
		t.Fatalf("got (%q, %v), want (\"\", true)", username, ok)
	}
}

func TestCheckExactMatch(t *testing.T) {
	table := Table{"Basic YWxpY2U6c2VjcmV0": "alice"}

	if username, ok := table.Check("Basic YWxpY2U6c2VjcmV0"); !ok || username != "alice" {
		t.Errorf("got (%q, %v), want (\"alice\", true)", username, ok)
	}
	if _, ok := table.Check("Basic wrong"); ok {
		t.Error("expected mismatch to fail")
	}
	if _, ok := table.Check(""); ok {
		t.Error("expected empty header to fail when table is non-empty")
	}
}

func TestCheckRequestReadsNamedHeader(t *testing.T) {
	table := Table{"Basic YWxpY2U6c2VjcmV0": "alice"}
	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	req.Header.Set("Proxy-Authorization", "Basic YWxpY2U6c2VjcmV0")

	username, ok := table.CheckRequest(req, "Proxy-Authorization")
	if !ok || username != "alice" {
		t.Fatalf("got (%q, %v), want (\"alice\", true)", username, ok)
	}
}

func TestBuildAuthenticateResponse(t *testing.T) {
	const wantRealm = `Basic realm="are you kidding me"`

	status, header, value, body := BuildAuthenticateResponse(true)
	if status != http.StatusProxyAuthRequired || header != "Proxy-Authenticate" {
		t.Errorf("proxy case: got %d %s %q", status, header, value)
	}
	if value != wantRealm {
		t.Errorf("proxy realm = %q, want %q", value, wantRealm)
	}

	status, header, value, body = BuildAuthenticateResponse(false)
	if status != http.StatusUnauthorized || header != "WWW-Authenticate" {
		t.Errorf("web case: got %d %s", status, header)
	}
	if value != wantRealm {
		t.Errorf("web realm = %q, want %q", value, wantRealm)
	}
	if body == "" {
		t.Error("expected a non-empty body")
	}
}
