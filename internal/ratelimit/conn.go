// Package ratelimit applies an optional aggregate throughput cap to a
// relayed connection's flow-counted socket, the per-server bandwidth knob
// shadowsocks-rust's ServerConfig carries.
//
// It wraps the flow-counted net.Conn, never the cipher framing, so the
// limiter never perturbs chunk boundaries on the wire.
package ratelimit

import (
	"context"
	"net"

	"golang.org/x/time/rate"
)

// Conn wraps a net.Conn with a shared *rate.Limiter capping bytes per
// second across every connection on the owning ServerInstance.
type Conn struct {
	net.Conn
	limiter *rate.Limiter
}

// New wraps conn with limiter. A nil limiter makes New a no-op passthrough,
// so callers can wrap unconditionally regardless of whether an instance
// configured a limit.
func New(conn net.Conn, limiter *rate.Limiter) net.Conn {
	if limiter == nil {
		return conn
	}
	return &Conn{Conn: conn, limiter: limiter}
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		waitN(c.limiter, n)
	}
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		waitN(c.limiter, n)
	}
	return n, err
}

// waitN blocks until limiter admits n bytes' worth of tokens. A count larger
// than the limiter's burst is split here into burst-sized WaitN calls, since
// WaitN rejects any single request above the burst.
func waitN(limiter *rate.Limiter, n int) {
	burst := limiter.Burst()
	if burst <= 0 {
		burst = n
	}
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		_ = limiter.WaitN(context.Background(), chunk)
		n -= chunk
	}
}
