package proxyconfig

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultHost is the sentinel authority key used by reverse-proxy rules
// that should apply regardless of the inbound Host/:authority.
const DefaultHost = "default_host"

// UpstreamVersion is the HTTP version relaygate should prefer on the
// upstream leg of a reverse-proxied request. Currently always resolves to
// HTTP/1.1 in practice (spec.md §4.9); the field is parsed and carried for
// a future ALPN negotiation (see DESIGN.md, Open Question #2).
type UpstreamVersion string

const (
	VersionHTTP11 UpstreamVersion = "HTTP_1_1"
	VersionHTTP2  UpstreamVersion = "HTTP_2"
	VersionAuto   UpstreamVersion = "Auto"
)

func (v *UpstreamVersion) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch UpstreamVersion(raw) {
	case VersionHTTP11, VersionHTTP2, VersionAuto, "":
		*v = UpstreamVersion(raw)
		if *v == "" {
			*v = VersionAuto
		}
		return nil
	default:
		return fmt.Errorf("unknown upstream version %q", raw)
	}
}

// Upstream describes where a matched location should be forwarded.
type Upstream struct {
	SchemeAndAuthority string          `yaml:"scheme_and_authority"`
	Replacement        string          `yaml:"replacement"`
	Version            UpstreamVersion `yaml:"version"`
}

// Location is one reverse-proxy rule: a path prefix and where it goes.
type Location struct {
	Location string   `yaml:"location"`
	Upstream Upstream `yaml:"upstream"`
}

// HostRules maps an authority (or DefaultHost) to its ordered location
// rules, longest Location prefix first.
type HostRules map[string][]Location

// Match returns the first rule in rules whose Location is a prefix of
// path, or ok=false if none match. rules must already be sorted by
// sortLocations (Load does this once at startup).
func (hr HostRules) Match(authority, path string) (Location, bool) {
	rules, ok := hr[authority]
	if !ok {
		rules, ok = hr[DefaultHost]
	}
	if !ok {
		return Location{}, false
	}
	for _, loc := range rules {
		if strings.HasPrefix(path, loc.Location) {
			return loc, true
		}
	}
	return Location{}, false
}

func sortLocations(rules []Location) {
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].Location) > len(rules[j].Location)
	})
}

func loadReverseProxyConfig(path string) (HostRules, error) {
	if path == "" {
		return HostRules{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading reverse proxy config: %w", err)
	}
	var rules HostRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing reverse proxy config: %w", err)
	}
	if rules == nil {
		rules = HostRules{}
	}
	return rules, nil
}

// githubBaseURLs mirrors the Rust original's --enable-github-proxy preload:
// five GitHub content hosts frequently reverse-proxied from restricted
// networks.
var githubBaseURLs = []string{
	"https://github.com",
	"https://gist.githubusercontent.com",
	"https://gist.github.com",
	"https://objects.githubusercontent.com",
	"https://raw.githubusercontent.com",
}

func appendUpstreamRules(rules HostRules, urls []string) {
	if len(urls) == 0 {
		return
	}
	for _, u := range urls {
		rules[DefaultHost] = append(rules[DefaultHost], Location{
			Location: "/" + u,
			Upstream: Upstream{
				SchemeAndAuthority: u,
				Replacement:        "",
				Version:            VersionAuto,
			},
		})
	}
}

// validateUpstream enforces the load-time rules from spec.md §6: the
// scheme_and_authority must parse with a non-empty scheme and authority,
// it must carry no path (since it must not end in a slash, url.Parse
// leaves Path empty), and it must carry no query string. Unlike the Rust original (see DESIGN.md, Open
// Question #1) this never lets an empty scheme_and_authority through.
func validateUpstream(u Upstream) error {
	if u.SchemeAndAuthority == "" {
		return fmt.Errorf("upstream.scheme_and_authority must not be empty")
	}
	parsed, err := url.Parse(u.SchemeAndAuthority)
	if err != nil {
		return fmt.Errorf("parsing upstream.scheme_and_authority %q: %w", u.SchemeAndAuthority, err)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("wrong scheme_and_authority: %q --- scheme is empty", u.SchemeAndAuthority)
	}
	if parsed.Host == "" {
		return fmt.Errorf("wrong scheme_and_authority: %q --- authority is empty", u.SchemeAndAuthority)
	}
	if strings.HasSuffix(u.SchemeAndAuthority, "/") {
		return fmt.Errorf("wrong scheme_and_authority: %q --- must not end with '/'", u.SchemeAndAuthority)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("wrong scheme_and_authority: %q --- path is not empty", u.SchemeAndAuthority)
	}
	if parsed.RawQuery != "" {
		return fmt.Errorf("wrong scheme_and_authority: %q --- query is not empty", u.SchemeAndAuthority)
	}
	return nil
}

// UpstreamSchemeHostPort splits a validated scheme_and_authority into its
// scheme, host, and port, defaulting the port to 80 for http and 443 for
// https when the authority carries none.
func UpstreamSchemeHostPort(schemeAndAuthority string) (scheme, host, port string, err error) {
	parsed, err := url.Parse(schemeAndAuthority)
	if err != nil {
		return "", "", "", err
	}
	scheme = parsed.Scheme
	host = parsed.Hostname()
	port = parsed.Port()
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return scheme, host, port, nil
}
