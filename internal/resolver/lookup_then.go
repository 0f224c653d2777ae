package resolver

import (
	"context"
	"fmt"
	"net"
)

// LookupThen resolves host with r, then calls f against each resolved
// address in turn — in the order Resolve returned them, never re-sorted
// here — until one succeeds. On total failure it returns the *last*
// attempt's error, not the first, since later candidates are usually a
// better diagnostic (the first address in a list is often a stale or
// rarely-used record). Mirrors shadowsocks-rust's lookup_then! macro.
func LookupThen[T any](ctx context.Context, r *Resolver, host string, port uint16, f func(ctx context.Context, addr *net.TCPAddr) (T, error)) (*net.TCPAddr, T, error) {
	var zero T

	ips, err := r.Resolve(ctx, host, port)
	if err != nil {
		return nil, zero, err
	}

	var lastErr error
	for _, ip := range ips {
		addr := &net.TCPAddr{IP: ip, Port: int(port)}
		result, err := f(ctx, addr)
		if err == nil {
			return addr, result, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("lookup %s:%d: resolver returned no addresses", host, port)
	}
	return nil, zero, lastErr
}

// ResolveUDP resolves host to an ordered list of UDP addresses at port,
// used by internal/manager when a manager address is a domain name.
func (r *Resolver) ResolveUDP(ctx context.Context, host string, port uint16) ([]*net.UDPAddr, error) {
	ips, err := r.Resolve(ctx, host, port)
	if err != nil {
		return nil, err
	}
	addrs := make([]*net.UDPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, &net.UDPAddr{IP: ip, Port: int(port)})
	}
	return addrs, nil
}
