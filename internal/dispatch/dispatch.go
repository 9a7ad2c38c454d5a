// Package dispatch implements C6, the per-request routing decision that
// the Rust original's ProxyHandler::proxy makes before handing off to
// CONNECT tunneling, reverse proxying, forwarding, or the static web
// surface. Grounded directly on that function's branch order (proxy.rs):
// reverse-proxy rules are checked before authentication (a site owner's
// own visitors need no proxy credentials), then a direct, non-proxy
// request either serves static content or is refused outright to avoid
// fingerprinting an auth-gated proxy as a website, and only a genuine
// absolute-URI proxy request reaches the Proxy-Authorization check.
package dispatch

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/auth"
	"github.com/relaygate/relaygate/internal/forward"
	"github.com/relaygate/relaygate/internal/supervisor"
	"github.com/relaygate/relaygate/internal/tunnel"
)

// SiteHandler serves the internal static-asset/monitoring surface
// (spec.md §4.10); relaygate's siteassets package implements this.
type SiteHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Deps are the dependencies Handle needs. cmd/relaygate wires
// ReverseProxy, Forward/TunnelDeps and Site as closures bound to the
// process Config.
type Deps struct {
	BasicAuth       auth.Table
	NeverAskForAuth bool

	// ReverseProxy returns true if it served req.
	ReverseProxy func(w http.ResponseWriter, r *http.Request) bool
	Site         SiteHandler
	TunnelDeps   func(username string) tunnel.Deps
	ForwardDeps  func(username string) forward.Deps

	Log *zap.Logger
}

// Handle routes req according to the decision order described above.
func Handle(w http.ResponseWriter, req *http.Request, d Deps) {
	if sc := supervisor.FromContext(req.Context()); sc != nil {
		sc.Refresh()
	}

	if req.Method == http.MethodConnect {
		handleConnect(w, req, d)
		return
	}

	if d.ReverseProxy != nil && d.ReverseProxy(w, req) {
		return
	}

	isDirect := req.URL.Host == ""
	if isDirect {
		if len(d.BasicAuth) > 0 && d.NeverAskForAuth {
			closeConnection(w)
			return
		}
		if d.Site != nil {
			d.Site.ServeHTTP(w, req)
		} else {
			http.NotFound(w, req)
		}
		return
	}

	username, authed := d.BasicAuth.CheckRequest(req, "Proxy-Authorization")
	if !authed {
		denyAuth(w, d)
		return
	}

	for _, h := range []string{"Proxy-Authorization", "Proxy-Connection"} {
		req.Header.Del(h)
	}

	var fd forward.Deps
	if d.ForwardDeps != nil {
		fd = d.ForwardDeps(username)
	}
	forward.Handle(w, req, fd)
}

func handleConnect(w http.ResponseWriter, req *http.Request, d Deps) {
	username, authed := d.BasicAuth.CheckRequest(req, "Proxy-Authorization")
	if !authed {
		denyAuth(w, d)
		return
	}

	var td tunnel.Deps
	if d.TunnelDeps != nil {
		td = d.TunnelDeps(username)
	}
	td.Supervisor = supervisor.FromContext(req.Context())
	tunnel.Handle(w, req, td)
}

// denyAuth implements spec.md §4.5: a silent connection close when
// --never-ask-for-auth is set (so an unauthenticated scanner sees a
// closed TCP connection, not a proxy banner), or a 407 challenge
// otherwise.
func denyAuth(w http.ResponseWriter, d Deps) {
	if d.NeverAskForAuth {
		closeConnection(w)
		return
	}
	status, header, value, body := auth.BuildAuthenticateResponse(true)
	w.Header().Set(header, value)
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// closeConnection hijacks and closes the underlying connection without
// writing any response, so an unauthenticated scanner sees a closed TCP
// connection rather than a proxy banner (spec.md §4.5, §4.6.c). When w
// cannot be hijacked it answers 500 with no body instead.
func closeConnection(w http.ResponseWriter) {
	if hijacker, ok := w.(http.Hijacker); ok {
		if conn, _, err := hijacker.Hijack(); err == nil {
			conn.Close()
			return
		}
	}
	w.WriteHeader(http.StatusInternalServerError)
}
