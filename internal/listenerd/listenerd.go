// Package listenerd implements C11, the per-port listener orchestrator.
// Grounded on the Rust original's serve() (main.rs): one accept loop per
// configured port, each connection handed its own idle watcher, with a
// TLS branch that re-reads the current certificate on every accept
// instead of once at listener creation (so C10's hot reload takes effect
// without restarting the listener).
package listenerd

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/relaygate/relaygate/internal/supervisor"
	"github.com/relaygate/relaygate/internal/tlsaccept"
)

// Server runs one accept loop for one listening port.
type Server struct {
	Addr        string
	Handler     http.Handler
	IdleTimeout time.Duration
	OverTLS     bool
	TLS         *tlsaccept.Acceptor
	Log         *zap.Logger

	mu      sync.Mutex
	watched map[net.Conn]*watchedConn
}

// watchedConn is what ConnState needs to find for a given net.Conn: the
// per-connection supervisor state (so StateActive/StateIdle can pause and
// resume the idle watcher) and the channel that tells its watcher
// goroutine the connection is gone.
type watchedConn struct {
	sc   *supervisor.Context
	done chan struct{}
}

// ListenAndServe binds Addr and serves Handler until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	if s.OverTLS {
		ln = newReloadingTLSListener(ln, s.TLS)
	}

	s.watched = make(map[net.Conn]*watchedConn)

	handler := s.Handler
	if !s.OverTLS {
		// Plain-text listeners still accept HTTP/2 via prior-knowledge
		// (h2c), the way a reverse-proxied upstream speaking h2c would
		// expect; TLS listeners negotiate h2 through ALPN instead, wired
		// below via http2.ConfigureServer.
		handler = h2c.NewHandler(s.Handler, &http2.Server{})
	}

	httpServer := &http.Server{
		Handler: handler,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			sc := supervisor.NewContext()
			done := make(chan struct{})
			s.mu.Lock()
			s.watched[c] = &watchedConn{sc: sc, done: done}
			s.mu.Unlock()

			watcher := &supervisor.Watcher{Context: sc, Idle: s.IdleTimeout}
			go watcher.Run(done, func() {
				s.Log.Info("idle connection closed",
					zap.String("remote", c.RemoteAddr().String()),
					zap.String("conn_id", sc.ID()),
				)
				c.Close()
			})

			return supervisor.IntoContext(ctx, sc)
		},
		// StateActive/StateIdle mark exactly when a request is in flight on
		// this connection, so the idle watcher never closes it mid-request
		// (spec.md §4.11: idle shutdown happens between requests, not
		// during one) no matter how long that request's handling takes.
		ConnState: func(c net.Conn, state http.ConnState) {
			s.mu.Lock()
			wc, ok := s.watched[c]
			s.mu.Unlock()
			if !ok {
				return
			}
			switch state {
			case http.StateActive:
				wc.sc.MarkActive()
			case http.StateIdle:
				wc.sc.MarkIdle()
			case http.StateClosed, http.StateHijacked:
				s.mu.Lock()
				delete(s.watched, c)
				s.mu.Unlock()
				close(wc.done)
			}
		},
	}

	if s.OverTLS {
		// ALPN-negotiated h2 over the reloading TLS listener (the
		// listener itself performs tls.Server per Accept, so this only
		// needs to register "h2" in TLSNextProto for conn.serve to find).
		if err := http2.ConfigureServer(httpServer, &http2.Server{}); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// reloadingTLSListener wraps a net.Listener and, on each Accept, wraps the
// connection in a TLS server conn bound to whatever *tls.Config is current
// at that moment (tlsaccept.Acceptor.Config), rather than one fixed at
// listener-creation time. The handshake itself runs when net/http first
// serves the connection.
type reloadingTLSListener struct {
	net.Listener
	acceptor *tlsaccept.Acceptor
}

func newReloadingTLSListener(ln net.Listener, acceptor *tlsaccept.Acceptor) net.Listener {
	return &reloadingTLSListener{Listener: ln, acceptor: acceptor}
}

func (l *reloadingTLSListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return tls.Server(conn, l.acceptor.Config()), nil
}
