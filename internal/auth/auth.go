// Package auth implements C5, the Basic-auth check shared by forward
// proxying (Proxy-Authorization) and the internal web surface
// (Authorization). Grounded on the Rust original's check_auth in
// proxy.rs: a byte-exact lookup against a precomputed "Basic <b64>" ->
// username table, never a base64-decode-then-compare (spec.md §4.5,
// Invariant 2: "credential comparison never branches on partial byte
// matches").
package auth

import "net/http"

// Table is the precomputed header-value -> username map built by
// internal/proxyconfig.Load.
type Table map[string]string

// Check looks up headerValue (the full "Basic ..." string) in the table
// and reports the matching username. An empty table means auth is
// disabled entirely and Check always succeeds with an empty username,
// matching spec.md §6's "no -u flags given" case.
func (t Table) Check(headerValue string) (username string, ok bool) {
	if len(t) == 0 {
		return "", true
	}
	if headerValue == "" {
		return "", false
	}
	username, ok = t[headerValue]
	return username, ok
}

// CheckRequest reads header (http.CanonicalHeaderKey("Proxy-Authorization")
// for forward/CONNECT requests, "Authorization" for the internal web
// surface) off req and runs Check against it.
func (t Table) CheckRequest(req *http.Request, header string) (username string, ok bool) {
	return t.Check(req.Header.Get(header))
}

// BuildAuthenticateResponse returns the status, challenge header name and
// value, and body of the 407/401 response used when Check fails; the
// caller writes them. Mirrors the Rust original's
// build_authenticate_resp (proxy.rs).
func BuildAuthenticateResponse(forProxy bool) (status int, header string, headerValue string, body string) {
	if forProxy {
		return http.StatusProxyAuthRequired, "Proxy-Authenticate", realmChallenge, "407 Proxy Authentication Required\n"
	}
	return http.StatusUnauthorized, "WWW-Authenticate", realmChallenge, "401 Unauthorized\n"
}

// realmChallenge is the exact literal both challenge paths in the Rust
// original use (proxy.rs's Proxy-Authenticate path and axum_handler.rs's
// WWW-Authenticate path).
const realmChallenge = `Basic realm="are you kidding me"`
