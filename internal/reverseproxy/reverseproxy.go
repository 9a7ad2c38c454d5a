package reverseproxy

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/metrics"
	"github.com/relaygate/relaygate/internal/proxyconfig"
)

// Deps are the dependencies Handle needs beyond the request and the
// matched rule.
type Deps struct {
	Rules    proxyconfig.HostRules
	Metrics  *metrics.Registry
	Config   TransportConfig
	Username string
	Log      *zap.Logger
}

// Handle matches req's Host/path against rules and, on a match, forwards
// the request to the configured upstream, rewriting the path prefix and
// the Host header (spec.md §4.9). It reports whether a rule matched; the
// caller falls through to static-site or forward handling when it did not
// (CONNECT requests are routed before this is consulted).
func Handle(w http.ResponseWriter, req *http.Request, d Deps) bool {
	authority := req.Host
	loc, ok := d.Rules.Match(authority, req.URL.Path)
	if !ok {
		return false
	}

	scheme, host, port, err := proxyconfig.UpstreamSchemeHostPort(loc.Upstream.SchemeAndAuthority)
	if err != nil {
		http.Error(w, "misconfigured upstream", http.StatusInternalServerError)
		return true
	}
	target := net.JoinHostPort(host, port)

	outURL := *req.URL
	outURL.Scheme = scheme
	outURL.Host = target
	outURL.Path = loc.Upstream.Replacement + strings.TrimPrefix(req.URL.Path, loc.Location)

	hasFraming := req.Header.Get("Content-Length") != "" || req.Header.Get("Transfer-Encoding") != ""

	outReq := req.Clone(req.Context())
	outReq.URL = &outURL
	outReq.RequestURI = ""
	outReq.Host = target
	for _, h := range hopByHopHeaders {
		outReq.Header.Del(h)
	}
	if !hasFraming {
		// spec.md §4.9 step 5: the HTTP/1.1 engine needs one of
		// Content-Length/Transfer-Encoding to frame the body. net/http
		// writes the framing from the TransferEncoding field and drops a
		// Transfer-Encoding header set on Header.
		outReq.TransferEncoding = []string{"chunked"}
	}

	transport := NewTransport(d.Config, clientAddrOf(req), target, d.Username)
	resp, err := transport.RoundTrip(outReq)
	if err != nil {
		if d.Log != nil {
			d.Log.Warn("reverse proxy round trip failed",
				zap.String("upstream", loc.Upstream.SchemeAndAuthority), zap.Error(err))
		}
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return true
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	flushCopy(w, resp)
	return true
}

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func flushCopy(w http.ResponseWriter, resp *http.Response) {
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func clientAddrOf(req *http.Request) net.Addr {
	host, portStr, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	port := 0
	for _, c := range portStr {
		if c < '0' || c > '9' {
			port = 0
			break
		}
		port = port*10 + int(c-'0')
	}
	return &net.TCPAddr{IP: ip, Port: port}
}
