package tlsaccept

import (
	"time"

	"go.uber.org/zap"
)

// Refresher periodically calls Acceptor.Reload on a fixed interval (C10,
// spec.md §3's RefreshInterval). A reload failure — e.g. the cert file is
// mid-write by an ACME client at the moment we read it — is logged and
// the previous config stays active; it is never fatal (spec.md §7,
// category 2: "a transient file error must not take the listener down").
type Refresher struct {
	acceptor          *Acceptor
	certFile, keyFile string
	interval          time.Duration
	log               *zap.Logger
}

// NewRefresher builds a Refresher bound to acceptor.
func NewRefresher(acceptor *Acceptor, certFile, keyFile string, interval time.Duration, log *zap.Logger) *Refresher {
	return &Refresher{acceptor: acceptor, certFile: certFile, keyFile: keyFile, interval: interval, log: log}
}

// Run blocks, reloading on every tick, until stop is closed.
func (r *Refresher) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := r.acceptor.Reload(r.certFile, r.keyFile); err != nil {
				r.log.Warn("tls reload failed, keeping previous certificate",
					zap.Error(err))
				continue
			}
			r.log.Info("tls certificate reloaded")
		}
	}
}
