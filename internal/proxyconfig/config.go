// Package proxyconfig builds the process-wide, immutable Config described
// in spec.md §3 from CLI flags, environment, and an optional YAML
// reverse-proxy rules file.
package proxyconfig

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// IdleTimeout is the connection-idle threshold used by the supervisor
// (C4) and, independently, by the CONNECT tunnel (C7) — see spec.md's
// Design Notes §9, Open Question #3: these are two distinct parameters
// that happen to share a default.
func IdleTimeout(debug bool) time.Duration {
	if debug {
		return 5 * time.Second
	}
	return 120 * time.Second
}

// RefreshInterval is how often the TLS refresh scheduler (C10) re-reads
// the cert/key pair from disk.
const RefreshInterval = time.Hour

// Config is the process-wide configuration, built once at startup and
// never mutated afterward (spec.md §3).
type Config struct {
	Cert string
	Key  string

	BasicAuth map[string]string

	WebContentPath        string
	RefererKeywordsToSelf []string

	NeverAskForAuth bool
	OverTLS         bool
	Debug           bool

	Hostname string
	Ports    []int

	ReverseProxyConfig HostRules

	SendProxyProtocol string

	LogDir  string
	LogFile string
}

// Load parses raw into a validated Config. Any error here is fatal at
// startup (spec.md §7, category 4); the caller should exit with
// ExitCodeFailedStartup.
func Load(raw *RawParams) (*Config, error) {
	for _, p := range raw.Ports {
		if p < 0 || p > 65535 {
			return nil, fmt.Errorf("invalid port %d", p)
		}
	}

	basicAuth := buildBasicAuth(raw.Users)

	rules, err := loadReverseProxyConfig(raw.ReverseProxyConfigFile)
	if err != nil {
		return nil, err
	}

	appendUpstreamURLs := append([]string{}, raw.AppendUpstreamURL...)
	if raw.EnableGithubProxy {
		appendUpstreamURLs = append(appendUpstreamURLs, githubBaseURLs...)
	}
	appendUpstreamRules(rules, appendUpstreamURLs)

	for authority, locations := range rules {
		for _, loc := range locations {
			if err := validateUpstream(loc.Upstream); err != nil {
				return nil, fmt.Errorf("host %q: %w", authority, err)
			}
		}
		sortLocations(rules[authority])
	}

	switch raw.SendProxyProtocol {
	case "", "v1", "v2":
	default:
		return nil, fmt.Errorf("invalid --send-proxy-protocol %q: must be v1, v2, or empty", raw.SendProxyProtocol)
	}

	hostname := resolveHostname(raw.Hostname)

	return &Config{
		Cert:                  raw.Cert,
		Key:                   raw.Key,
		BasicAuth:             basicAuth,
		WebContentPath:        raw.WebContent,
		RefererKeywordsToSelf: raw.Referer,
		NeverAskForAuth:       raw.NeverAskForAuth,
		OverTLS:               raw.OverTLS,
		Debug:                 raw.Debug,
		Hostname:              hostname,
		Ports:                 raw.Ports,
		ReverseProxyConfig:    rules,
		SendProxyProtocol:     raw.SendProxyProtocol,
		LogDir:                raw.LogDir,
		LogFile:               raw.LogFile,
	}, nil
}

// buildBasicAuth turns "user:pass" strings into the "Basic <b64>" ->
// username table described in spec.md §3. Entries with an empty user or
// password are dropped, matching the Rust original.
func buildBasicAuth(users []string) map[string]string {
	table := make(map[string]string, len(users))
	for _, raw := range users {
		idx := strings.IndexByte(raw, ':')
		if idx < 0 {
			continue
		}
		username, password := raw[:idx], raw[idx+1:]
		if username == "" || password == "" {
			continue
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(raw))
		table["Basic "+encoded] = username
	}
	return table
}

// resolveHostname implements spec.md §6: --hostname is overridden by
// $HOSTNAME or, failing that, hostname(1) on unix.
func resolveHostname(flagValue string) string {
	if env := os.Getenv("HOSTNAME"); env != "" {
		return env
	}
	if runtime.GOOS != "windows" {
		if out, err := exec.Command("hostname").Output(); err == nil {
			if h := strings.TrimSpace(string(out)); h != "" {
				return h
			}
		}
	}
	if flagValue != "" {
		return flagValue
	}
	return "unknown"
}

// PortStrings renders Config.Ports as their decimal string form, useful
// for log lines and net.Listen addresses.
func (c *Config) PortStrings() []string {
	out := make([]string, len(c.Ports))
	for i, p := range c.Ports {
		out[i] = strconv.Itoa(p)
	}
	return out
}
