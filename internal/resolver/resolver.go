// Package resolver implements the DNS lookup used to turn a target domain
// name into a list of candidate addresses, plus the LookupThen pattern that
// tries each candidate in turn against a caller-supplied operation.
//
// Grounded on shadowsocks-rust's dns_resolver/trust_dns_resolver.rs: the
// explicit-config / system-config / public-resolver-fallback decision and
// the ipv6_first strategy override, expressed here with a Go
// net.Resolver-based shape instead of trust-dns.
package resolver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// publicNameservers is the last-resort fallback when no system resolver
// configuration can be found, mirroring trust-dns's ResolverConfig::google().
var publicNameservers = []string{"8.8.8.8:53", "8.8.4.4:53"}

// Config is the explicit-config mode input: a fixed nameserver list plus a
// per-query timeout. A nil Config selects system-config mode.
type Config struct {
	Nameservers []string
	Timeout     time.Duration
}

// Resolver resolves domain names to IP addresses. It wraps net.Resolver,
// either pointed at the platform's stub resolver or at an explicit/fallback
// nameserver list, with ipv6_first applied uniformly on top of either path.
type Resolver struct {
	net       *net.Resolver
	ipv6First bool
}

// New builds a Resolver. A nil or nameserver-less cfg selects system-config
// mode: read the platform stub resolver configuration (/etc/resolv.conf on
// Unix) and use it verbatim; if none is found, fall back to the public
// resolver list. A non-empty cfg.Nameservers always wins (explicit-config
// mode). ipv6First is the only knob applied identically regardless of which
// path was taken.
func New(cfg *Config, ipv6First bool) *Resolver {
	var nameservers []string
	var timeout time.Duration

	if cfg != nil && len(cfg.Nameservers) > 0 {
		nameservers = cfg.Nameservers
		timeout = cfg.Timeout
	} else {
		nameservers = systemNameservers()
		if len(nameservers) == 0 {
			nameservers = publicNameservers
		}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Resolver{
		net:       newNetResolver(nameservers, timeout),
		ipv6First: ipv6First,
	}
}

// Default builds a Resolver in pure system-config mode with no ipv6_first
// override, for callers that have no explicit dns configuration block.
func Default() *Resolver {
	return New(nil, false)
}

func newNetResolver(nameservers []string, timeout time.Duration) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var lastErr error
			for _, ns := range nameservers {
				d := net.Dialer{Timeout: timeout}
				conn, err := d.DialContext(ctx, network, ns)
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			if lastErr == nil {
				lastErr = fmt.Errorf("no nameservers configured")
			}
			return nil, lastErr
		},
	}
}

// systemNameservers reads nameserver lines out of /etc/resolv.conf. It
// returns nil when the file is absent or carries no nameserver entries,
// signalling the caller to fall back to the public resolver — the Go
// analogue of trust-dns's read_system_conf() failing over to
// ResolverConfig::google().
func systemNameservers() []string {
	f, err := os.Open("/etc/resolv.conf")
	if err != nil {
		return nil
	}
	defer f.Close()

	var ns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "nameserver" {
			addr := fields[1]
			if net.ParseIP(addr) != nil {
				if strings.Contains(addr, ":") {
					addr = "[" + addr + "]"
				}
				ns = append(ns, addr+":53")
			}
		}
	}
	return ns
}

// Resolve looks up host and returns its addresses ordered by the configured
// address-family strategy: ipv6First moves AAAA results ahead of A results
// without otherwise re-sorting either group, keeping the resolver's own
// ordering within each family. port is carried only to make error messages
// identify the full destination being dialed, not just the bare hostname.
func (r *Resolver) Resolve(ctx context.Context, host string, port uint16) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	ips, err := r.net.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("dns resolve %s:%d error: %w", host, port, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("dns resolve %s:%d error: no addresses found", host, port)
	}

	if r.ipv6First {
		partitionIPv6First(ips)
	}
	return ips, nil
}

func partitionIPv6First(ips []net.IP) {
	out := make([]net.IP, 0, len(ips))
	for _, ip := range ips {
		if ip.To4() == nil {
			out = append(out, ip)
		}
	}
	for _, ip := range ips {
		if ip.To4() != nil {
			out = append(out, ip)
		}
	}
	copy(ips, out)
}
