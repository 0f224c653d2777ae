//go:build linux

// Package sockopt tunes the raw socket options the relay depends on for
// reasonable TCP behavior: fast reuse of listening addresses and keepalive
// on outbound dials, since a Shadowsocks server outlives many short-lived
// client connections.
//
// Grounded directly on Ealireza-SuperProxy's sockopt_linux.go/
// sockopt_other.go build-tag split; the option set and values are carried
// over unchanged.
package sockopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Control configures TCP performance options on the raw socket fd. Pass it
// as net.Dialer.Control or net.ListenConfig.Control.
func Control(network, address string, c syscall.RawConn) error {
	var sysErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 30); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3); e != nil {
			sysErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sysErr
}

// SetNoDelay toggles TCP_NODELAY on an already-connected socket, used by
// the relay core's no_delay config knob (Context.NoDelay) where Control ran
// at dial/listen time but the caller wants to flip it per connection
// afterward.
func SetNoDelay(conn interface{ SetNoDelay(bool) error }, on bool) error {
	return conn.SetNoDelay(on)
}
