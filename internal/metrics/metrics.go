// Package metrics defines relaygate's Prometheus counters, grounded on the
// teacher's own promauto.NewCounterVec pattern (metrics.go) and the Rust
// original's prom_label::Label / AccessLabel types (spec.md §3).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AccessLabel is the {client, target, username} triple attached to every
// byte counter on a proxied stream (spec.md §3, "Access label").
type AccessLabel struct {
	Client   string
	Target   string
	Username string
}

// Registry owns every counter relaygate exposes at /metrics, plus the
// 2-hourly reset of the access counters (spec.md §3: "Counters of kind
// 'access' are reset every 2 hours ... Counters of kind 'request' live
// for the process lifetime").
type Registry struct {
	reg *prometheus.Registry

	mu           sync.RWMutex
	requestTotal *prometheus.CounterVec
	accessTotal  *prometheus.CounterVec
	netBytes     *prometheus.CounterVec
}

// NewRegistry builds a Registry with its three counter families
// registered: req_from_out (request label), proxy_traffic (access label),
// net_bytes (direction label).
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{reg: reg}
	r.requestTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "req_from_out",
		Help: "Number of HTTP requests received from outside referers",
	}, []string{"referer", "path"})
	r.accessTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_traffic",
		Help: "Bytes proxied per client/target/username",
	}, []string{"client", "target", "username"})
	r.netBytes = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "net_bytes",
		Help: "Total bytes proxied, by direction",
	}, []string{"direction"})
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// RequestFromOut increments the request-label counter used to flag
// traffic whose Referer did not contain any of the configured
// referer-keywords-to-self (spec.md §6, "外链访问监控").
func (r *Registry) RequestFromOut(referer, path string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.requestTotal.WithLabelValues(referer, path).Inc()
}

// AccessCounter returns a streamio.ByteRecorder bound to label that feeds
// both the per-connection access counter and the system-wide net
// direction counter from every byte observed on a wrapped stream
// (spec.md Invariant 1).
func (r *Registry) AccessCounter(label AccessLabel) *AccessCounter {
	return &AccessCounter{registry: r, label: label}
}

// AccessCounter implements streamio.ByteRecorder.
type AccessCounter struct {
	registry *Registry
	label    AccessLabel
}

func (a *AccessCounter) AddRx(n int) { a.add(n, "rx") }
func (a *AccessCounter) AddTx(n int) { a.add(n, "tx") }

func (a *AccessCounter) add(n int, direction string) {
	if n <= 0 {
		return
	}
	r := a.registry
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.accessTotal.WithLabelValues(a.label.Client, a.label.Target, a.label.Username).Add(float64(n))
	r.netBytes.WithLabelValues(direction).Add(float64(n))
}

// StartAccessResetLoop clears the access-label counter every interval
// until stop is closed. The request-label counter is intentionally left
// alone: it lives for the process lifetime (spec.md §3).
func (r *Registry) StartAccessResetLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.mu.Lock()
				r.accessTotal.Reset()
				r.mu.Unlock()
			}
		}
	}()
}
