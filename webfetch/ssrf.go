// Package webfetch resolves and fetches remote content for ingestion
// while blocking SSRF targets. Blocked ranges and hostnames come from
// configuration, are compiled once at startup, and are never mutated at
// request time. Validation runs against post-DNS-resolution addresses
// so rebinding tricks cannot slip a public-looking hostname past the
// guard.
package webfetch

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/softonit/textract/ingest"
)

// Blocklist is the immutable set of blocked IP ranges and hostnames,
// shared read-only by every fetch in the process.
type Blocklist struct {
	cidrs     []*net.IPNet
	hostnames map[string]struct{}
	suffixes  []string
}

// NewBlocklist compiles CIDR strings and hostname entries. Hostname
// entries starting with a dot block the whole suffix (".internal"
// blocks anything under it).
func NewBlocklist(cidrs, hostnames []string) (*Blocklist, error) {
	b := &Blocklist{hostnames: make(map[string]struct{})}

	for _, c := range cidrs {
		_, network, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked CIDR %q: %w", c, err)
		}
		b.cidrs = append(b.cidrs, network)
	}
	for _, h := range hostnames {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if strings.HasPrefix(h, ".") {
			b.suffixes = append(b.suffixes, h)
			continue
		}
		b.hostnames[h] = struct{}{}
	}
	return b, nil
}

// BlockedIP reports whether an IP falls in any blocked range. IPv4
// addresses mapped into IPv6 are unmapped before matching.
func (b *Blocklist) BlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, network := range b.cidrs {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// BlockedHostname reports whether a hostname is explicitly blocked.
func (b *Blocklist) BlockedHostname(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if _, blocked := b.hostnames[host]; blocked {
		return true
	}
	for _, suffix := range b.suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// ValidateURL performs the pre-resolution checks: scheme, blocked
// hostname, and literal-IP ranges. Resolved addresses are re-checked in
// the dialer, so passing here is necessary but not sufficient.
func (b *Blocklist) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ingest.Wrap(ingest.ReasonUpstreamFetchFailed, err, "invalid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ingest.Errorf(ingest.ReasonSSRFBlocked, "only http and https URLs are allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return ingest.Errorf(ingest.ReasonUpstreamFetchFailed, "URL has no host")
	}
	if b.BlockedHostname(host) {
		return ingest.Errorf(ingest.ReasonSSRFBlocked, "hostname is on the blocked list")
	}
	if ip := net.ParseIP(host); ip != nil && b.BlockedIP(ip) {
		return ingest.Errorf(ingest.ReasonSSRFBlocked, "address is in a blocked range")
	}
	return nil
}

// ValidateResolved runs ValidateURL and then resolves the hostname,
// checking every returned address against the blocked ranges. It is the
// gate for requests whose dialing we do not control, such as browser
// sub-resource loads.
func (b *Blocklist) ValidateResolved(ctx context.Context, rawURL string) error {
	if err := b.ValidateURL(rawURL); err != nil {
		return err
	}

	parsed, _ := url.Parse(rawURL)
	host := parsed.Hostname()
	if net.ParseIP(host) != nil {
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return ingest.Wrap(ingest.ReasonUpstreamFetchFailed, err, "hostname could not be resolved")
	}
	for _, addr := range addrs {
		if b.BlockedIP(addr.IP) {
			return ingest.Errorf(ingest.ReasonSSRFBlocked, "hostname resolves to a blocked range")
		}
	}
	return nil
}
