// Package forward implements C8, plain (non-CONNECT) HTTP forwarding.
// Grounded on the Rust original's non-CONNECT branch of ProxyHandler::proxy
// (proxy.rs): one fresh TCP connection per request, proxy-only headers
// stripped, the request written through unmodified and the response
// streamed back byte for byte — not an http.Transport-pooled client,
// which would let an upstream see requests for different access labels
// share one counted connection.
package forward

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"

	"github.com/relaygate/relaygate/internal/streamio"
)

// Dialer opens a connection to the forwarded request's target.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Deps are the dependencies Handle needs beyond the request itself.
type Deps struct {
	Dial     Dialer
	Recorder streamio.ByteRecorder
}

// hopByHopHeaders are stripped before forwarding, matching the Rust
// original's removal of Proxy-Authorization and Proxy-Connection plus
// the standard RFC 7230 §6.1 connection-specific headers.
var hopByHopHeaders = []string{
	"Proxy-Authorization",
	"Proxy-Connection",
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"TE",
	"Trailer",
	"Upgrade",
}

// Handle dials req's target, forwards the request as-is, and streams the
// response back to w.
func Handle(w http.ResponseWriter, r *http.Request, d Deps) {
	addr := r.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "80")
	}

	dial := d.Dial
	if dial == nil {
		dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, network, addr)
		}
	}

	conn, err := dial(r.Context(), "tcp", addr)
	if err != nil {
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer conn.Close()

	if d.Recorder != nil {
		conn = streamio.NewCountingConn(conn, d.Recorder)
	}

	outReq := r.Clone(r.Context())
	for _, h := range hopByHopHeaders {
		outReq.Header.Del(h)
	}
	outReq.RequestURI = ""

	if err := outReq.Write(conn); err != nil {
		http.Error(w, "failed writing request upstream", http.StatusBadGateway)
		return
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), outReq)
	if err != nil {
		http.Error(w, "failed reading response from upstream", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	dst := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
