// Package siteassets is the small internal web surface relaygate serves
// on direct (non-proxy) requests: static files, /metrics, and a stub for
// the Linux-only netstat endpoints the Rust original exposes (/nt, /net,
// /netx, /net.json) which spec.md marks out of scope — they answer 501 Not
// Implemented rather than silently vanish, so an operator hitting an old
// bookmark gets a clear signal instead of a generic 404 page.
//
// Grounded on the Rust original's axum_handler.rs router and check_auth,
// and on web_func::serve_http_request's Referer-based hotlink check
// (config.rs's --referer-keywords-to-self).
package siteassets

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaygate/relaygate/internal/auth"
	"github.com/relaygate/relaygate/internal/metrics"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg"}

// Handler serves relaygate's internal web surface.
type Handler struct {
	WebContentPath        string
	RefererKeywordsToSelf []string
	BasicAuth             auth.Table
	Metrics               *metrics.Registry

	fileServer http.Handler
}

// NewHandler builds a ready Handler.
func NewHandler(webContentPath string, refererKeywords []string, basicAuth auth.Table, reg *metrics.Registry) *Handler {
	return &Handler{
		WebContentPath:        webContentPath,
		RefererKeywordsToSelf: refererKeywords,
		BasicAuth:             basicAuth,
		Metrics:               reg,
		fileServer:            http.FileServer(http.Dir(webContentPath)),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
		return
	case "/nt", "/net", "/netx", "/net.json":
		http.Error(w, "not implemented", http.StatusNotImplemented)
		return
	}
	h.serveStatic(w, r)
}

// serveMetrics requires Authorization (not Proxy-Authorization — this is
// a direct request to the web surface) when basic auth is configured,
// mirroring axum_handler.rs's check_auth.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.BasicAuth.CheckRequest(r, "Authorization"); !ok {
		status, header, value, body := auth.BuildAuthenticateResponse(false)
		w.Header().Set(header, value)
		w.WriteHeader(status)
		w.Write([]byte(body))
		return
	}
	if h.Metrics == nil {
		http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		return
	}
	promhttp.HandlerFor(h.Metrics.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// serveStatic implements the Referer hotlink check for image requests
// (spec.md §6, "--referer-keywords-to-self") before falling through to
// the plain file server.
func (h *Handler) serveStatic(w http.ResponseWriter, r *http.Request) {
	if len(h.RefererKeywordsToSelf) > 0 && isImageRequest(r.URL.Path) {
		referer := r.Header.Get("Referer")
		if !refererContainsAny(referer, h.RefererKeywordsToSelf) {
			if h.Metrics != nil {
				h.Metrics.RequestFromOut(referer, r.URL.Path)
			}
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}
	h.fileServer.ServeHTTP(w, r)
}

func isImageRequest(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, img := range imageExtensions {
		if ext == img {
			return true
		}
	}
	return false
}

func refererContainsAny(referer string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(referer, kw) {
			return true
		}
	}
	return false
}
