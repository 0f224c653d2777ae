//go:build !linux

package sockopt

import "syscall"

// Control is a no-op on non-Linux platforms. The Linux-specific version in
// sockopt_linux.go sets SO_REUSEADDR, TCP_NODELAY, and keepalive options.
func Control(network, address string, c syscall.RawConn) error {
	return nil
}

// SetNoDelay toggles TCP_NODELAY on an already-connected socket.
func SetNoDelay(conn interface{ SetNoDelay(bool) error }, on bool) error {
	return conn.SetNoDelay(on)
}
