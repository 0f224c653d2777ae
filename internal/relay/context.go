// Package relay implements the core of the encrypted TCP relay: the
// per-instance acceptor loop, the per-connection state machine (handshake,
// address decode, ACL check, outbound connect, bidirectional copy), and the
// flow-counting wrapper that feeds byte totals back to the metrics layer.
//
// The state machine and concurrency model follow shadowsocks-rust's
// relay/tcprelay/server.rs — in particular its first-direction-completes-
// wins relay loop and its "re-fetch server config by index inside the
// spawned task" pattern, kept here as a deliberate concurrency property
// rather than the more common wait-for-both-directions shape.
package relay

import (
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/adteven/shadowrelay/internal/acl"
	"github.com/adteven/shadowrelay/internal/cipher"
	"github.com/adteven/shadowrelay/internal/resolver"
)

// Recorder receives every metric-worthy event a connection produces: byte
// counts off the flow-counted socket, plus accept/close/error/dial outcomes
// at the decision points in handleConnection and acceptLoop. Implementations
// must be safe for concurrent use: every connection on every instance
// shares one.
type Recorder interface {
	AddTx(instance string, n int64)
	AddRx(instance string, n int64)

	RecordAccept(instance string)
	RecordClose(instance string)
	RecordConnectionError(instance, errorType string)
	RecordHandshakeFailure(instance string)
	RecordACLBlock(direction string)
	RecordDial(instance string, latencySeconds float64, err error)
}

// nopRecorder discards every event; used when a Context is built without a
// metrics backend (e.g. in tests).
type nopRecorder struct{}

func (nopRecorder) AddTx(string, int64)                  {}
func (nopRecorder) AddRx(string, int64)                  {}
func (nopRecorder) RecordAccept(string)                  {}
func (nopRecorder) RecordClose(string)                   {}
func (nopRecorder) RecordConnectionError(string, string) {}
func (nopRecorder) RecordHandshakeFailure(string)        {}
func (nopRecorder) RecordACLBlock(string)                {}
func (nopRecorder) RecordDial(string, float64, error)    {}

// ServerInstance is one configured listener: its bind address, cipher
// method and pre-shared key, and the timeouts and optional throughput cap
// that apply to every connection accepted on it.
type ServerInstance struct {
	// Name identifies the instance in logs and metrics; defaults to
	// BindAddr if empty.
	Name string

	BindAddr string
	Method   cipher.Method
	PresharedKey []byte

	// ConnectTimeout bounds the whole outbound connect step: name
	// resolution and the attempts against every resolved candidate share
	// one deadline, so a candidate that times out leaves no time for the
	// candidates after it.
	ConnectTimeout time.Duration
	// IdleTimeout bounds inactivity on the client-facing socket only; the
	// outbound half is never subject to it once connected.
	IdleTimeout time.Duration

	// Limiter optionally caps aggregate throughput for every connection
	// on this instance combined.
	Limiter *rate.Limiter
}

func (s *ServerInstance) name() string {
	if s.Name != "" {
		return s.Name
	}
	return s.BindAddr
}

// Context is the shared, read-only configuration every connection and
// acceptor consults, plus the resolver and ACL predicates the core
// receives rather than constructs itself.
type Context struct {
	Instances []*ServerInstance

	// LocalAddr optionally binds outbound dials to a specific local
	// address, e.g. for multi-homed egress.
	LocalAddr *net.TCPAddr

	Resolver *resolver.Resolver

	InboundACL  *acl.List // applied to the client's peer address
	OutboundACL *acl.List // applied to the decoded target address

	NoDelay bool

	Flow   Recorder
	Logger *slog.Logger
}

// instanceAt re-reads Instances[idx] each time it's called rather than
// capturing a *ServerInstance in a closure, so a connection handler started
// inside an acceptor goroutine always observes the instance as currently
// configured. Mirrors run()'s `context.server_config(idx)` call made fresh
// inside the spawned task in the original Rust source, not hoisted from the
// accept loop.
func (c *Context) instanceAt(idx int) *ServerInstance {
	if idx < 0 || idx >= len(c.Instances) {
		return nil
	}
	return c.Instances[idx]
}

func (c *Context) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Context) flow() Recorder {
	if c.Flow != nil {
		return c.Flow
	}
	return nopRecorder{}
}
