// Package acl compiles the inbound/outbound allow-list configuration into
// the predicate functions the relay core consumes: the core consumes a
// predicate, it does not own configuration.
//
// CIDR and domain-suffix rules are both supported, since a shadowsocks
// target is as often a domain name as a literal address.
package acl

import (
	"fmt"
	"net"
	"strings"
)

// List is a compiled set of CIDR and domain-suffix rules. An empty List
// allows everything: a shadowsocks server that carries no acl block is
// expected to relay any destination, matching shadowsocks-rust's
// un-configured AccessControl. A List is immutable after Compile and safe
// for concurrent use by many connections.
type List struct {
	nets    []*net.IPNet
	domains []string
}

// Compile parses a mix of CIDR strings ("10.0.0.0/8", "2001:db8::/32") and
// domain suffix patterns ("example.com", ".example.com") into a List.
func Compile(rules []string) (*List, error) {
	l := &List{}
	for _, rule := range rules {
		if _, ipnet, err := net.ParseCIDR(rule); err == nil {
			l.nets = append(l.nets, ipnet)
			continue
		}
		if ip := net.ParseIP(rule); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			l.nets = append(l.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		if err := validateDomainPattern(rule); err != nil {
			return nil, fmt.Errorf("acl rule %q: %w", rule, err)
		}
		l.domains = append(l.domains, strings.ToLower(strings.TrimPrefix(rule, ".")))
	}
	return l, nil
}

// MatchIP reports whether ip falls within any compiled CIDR rule.
func (l *List) MatchIP(ip net.IP) bool {
	if l == nil || (len(l.nets) == 0 && len(l.domains) == 0) {
		return true
	}
	for _, n := range l.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// MatchDomain reports whether domain matches any compiled suffix rule
// ("example.com" matches both "example.com" and "api.example.com").
func (l *List) MatchDomain(domain string) bool {
	if l == nil || (len(l.nets) == 0 && len(l.domains) == 0) {
		return true
	}
	domain = strings.ToLower(domain)
	for _, suffix := range l.domains {
		if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
			return true
		}
	}
	return false
}

func validateDomainPattern(pattern string) error {
	p := strings.TrimPrefix(pattern, ".")
	if p == "" {
		return fmt.Errorf("empty domain pattern")
	}
	for _, r := range p {
		if !isValidDomainChar(r) {
			return fmt.Errorf("invalid character %q in domain pattern", r)
		}
	}
	return nil
}

func isValidDomainChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '-' || r == '_':
		return true
	default:
		return false
	}
}
