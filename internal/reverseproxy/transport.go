// Package reverseproxy implements C9, path-prefix reverse proxying to
// configured upstreams. transport.go adapts the teacher's HTTPTransport
// (modules/caddyhttp/reverseproxy/httptransport.go): the DialContext hook
// that optionally writes a PROXY protocol v1/v2 header before handing the
// connection to net/http, and the tcpRWTimeoutConn idea (here delegated
// to internal/streamio, which already generalizes it — see DESIGN.md).
package reverseproxy

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/mastercactapus/proxyprotocol"

	"github.com/relaygate/relaygate/internal/metrics"
	"github.com/relaygate/relaygate/internal/streamio"
)

// ProxyProtocolVersion selects which PROXY protocol header, if any, is
// written to the upstream connection before the HTTP request begins
// (spec.md §6, "--send-proxy-protocol").
type ProxyProtocolVersion string

const (
	ProxyProtocolNone ProxyProtocolVersion = ""
	ProxyProtocolV1   ProxyProtocolVersion = "v1"
	ProxyProtocolV2   ProxyProtocolVersion = "v2"
)

// upstreamIdleTimeout is the idle limit NewTransport applies to every
// upstream connection via streamio.IdleConn.
const upstreamIdleTimeout = 60 * time.Second

// TransportConfig configures NewTransport.
type TransportConfig struct {
	ProxyProtocol   ProxyProtocolVersion
	DialTimeout     time.Duration
	TLSClientConfig *tls.Config
	Metrics         *metrics.Registry
}

// NewTransport builds an *http.Transport whose DialContext optionally
// prefixes the upstream connection with a PROXY protocol header carrying
// the original client address (clientAddr), then wraps the connection in
// a streamio.CountingConn bound to an access label for client/target so
// reverse-proxied bytes are counted exactly like every other proxied
// byte (spec.md Invariant 1), and in a streamio.IdleConn with a 60 s
// idle timeout.
func NewTransport(cfg TransportConfig, clientAddr net.Addr, target string, username string) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		if cfg.ProxyProtocol != ProxyProtocolNone {
			if err := writeProxyProtocolHeader(conn, cfg.ProxyProtocol, clientAddr); err != nil {
				conn.Close()
				return nil, err
			}
		}

		if cfg.Metrics != nil {
			client := "unknown"
			if clientAddr != nil {
				if host, _, splitErr := net.SplitHostPort(clientAddr.String()); splitErr == nil {
					client = host
				} else {
					client = clientAddr.String()
				}
			}
			rec := cfg.Metrics.AccessCounter(metrics.AccessLabel{Client: client, Target: target, Username: username})
			conn = streamio.NewCountingConn(conn, rec)
		}
		conn = streamio.NewIdleConn(conn, upstreamIdleTimeout)

		return conn, nil
	}

	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dial,
		DialTLSContext:        tlsDialer(dial, cfg.TLSClientConfig),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func tlsDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error), tlsConfig *tls.Config) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		rawConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		cfg := tlsConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg = cfg.Clone()
			if host, _, splitErr := net.SplitHostPort(addr); splitErr == nil {
				cfg.ServerName = host
			}
		}
		tlsConn := tls.Client(rawConn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
}

// writeProxyProtocolHeader sends a v1 or v2 PROXY protocol preamble
// describing clientAddr as the connection's true source, exactly as the
// teacher's dialContext does for its ProxyProtocol-enabled upstreams.
func writeProxyProtocolHeader(conn net.Conn, version ProxyProtocolVersion, clientAddr net.Addr) error {
	tcpAddr, ok := clientAddr.(*net.TCPAddr)
	if !ok {
		return nil
	}
	destIP := net.IPv4zero
	if tcpAddr.IP.To4() == nil {
		destIP = net.IPv6zero
	}

	switch version {
	case ProxyProtocolV1:
		header := proxyprotocol.HeaderV1{
			SrcIP:    tcpAddr.IP,
			SrcPort:  tcpAddr.Port,
			DestIP:   destIP,
			DestPort: 0,
		}
		_, err := header.WriteTo(conn)
		return err
	case ProxyProtocolV2:
		header := proxyprotocol.HeaderV2{
			Command: proxyprotocol.CmdProxy,
			Src:     tcpAddr,
			Dest:    &net.TCPAddr{IP: destIP, Port: 0},
		}
		_, err := header.WriteTo(conn)
		return err
	default:
		return nil
	}
}
