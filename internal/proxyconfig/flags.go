package proxyconfig

import "github.com/spf13/cobra"

// ExitCodeFailedStartup is returned by cmd/relaygate on any fatal startup
// error: bind failure, log init failure, or a malformed reverse-proxy
// config file.
const ExitCodeFailedStartup = 1

// RawParams mirrors the CLI surface named in spec.md §6, bound onto a
// cobra.Command's flag set by RegisterFlags. It is the direct analogue of
// the Rust original's clap-derived Param struct.
type RawParams struct {
	LogDir     string
	LogFile    string
	Ports      []int
	Cert       string
	Key        string
	Users      []string
	WebContent string
	Referer    []string

	NeverAskForAuth bool
	OverTLS         bool
	Hostname        string

	ReverseProxyConfigFile string
	EnableGithubProxy      bool
	AppendUpstreamURL      []string

	SendProxyProtocol string

	Debug bool
}

// RegisterFlags adds every relaygate flag to cmd and returns the struct
// that will hold their parsed values once cmd.Execute runs.
func RegisterFlags(cmd *cobra.Command) *RawParams {
	p := &RawParams{}
	fs := cmd.Flags()

	fs.StringVar(&p.LogDir, "log-dir", "/tmp", "directory for the log file")
	fs.StringVar(&p.LogFile, "log-file", "proxy.log", "log file name")
	fs.IntSliceVarP(&p.Ports, "port", "p", []int{3128}, "listen port; repeatable")
	fs.StringVarP(&p.Cert, "cert", "c", "cert.pem", "TLS certificate file")
	fs.StringVarP(&p.Key, "key", "k", "privkey.pem", "TLS private key file")
	fs.StringSliceVarP(&p.Users, "users", "u", nil, "user:pass credential; repeatable")
	fs.StringVarP(&p.WebContent, "web-content-path", "w", "/usr/share/nginx/html", "static content root")
	fs.StringSliceVarP(&p.Referer, "referer-keywords-to-self", "r", nil, "referer keyword that marks a request as self-originated; repeatable")
	fs.BoolVar(&p.NeverAskForAuth, "never-ask-for-auth", false, "never send 407/401, close unauthenticated connections instead")
	fs.BoolVarP(&p.OverTLS, "over-tls", "o", false, "listen with TLS enabled")
	fs.StringVar(&p.Hostname, "hostname", "", "advertised hostname, overridden by $HOSTNAME or hostname(1)")
	fs.StringVar(&p.ReverseProxyConfigFile, "reverse-proxy-config-file", "", "YAML file mapping authorities to reverse-proxy rules")
	fs.BoolVar(&p.EnableGithubProxy, "enable-github-proxy", false, "preload reverse-proxy rules for common GitHub content hosts")
	fs.StringSliceVar(&p.AppendUpstreamURL, "append-upstream-url", nil, "append a default_host rule '/'+url -> url; repeatable")
	fs.StringVar(&p.SendProxyProtocol, "send-proxy-protocol", "", "PROXY protocol version to send to dialed upstreams: v1, v2, or empty to disable")
	fs.BoolVar(&p.Debug, "debug", false, "enable debug-level logging and shorter idle timeouts")

	return p
}
