package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/adteven/shadowrelay/internal/acl"
	"github.com/adteven/shadowrelay/internal/cipher"
	"github.com/adteven/shadowrelay/internal/logging"
	"github.com/adteven/shadowrelay/internal/ratelimit"
	"github.com/adteven/shadowrelay/internal/recovery"
	"github.com/adteven/shadowrelay/internal/resolver"
	"github.com/adteven/shadowrelay/internal/sockopt"
	"github.com/adteven/shadowrelay/internal/socksaddr"
)

// handleConnection runs one accepted connection through the full state
// machine: handshake, address decode (with the anti-probing defensive
// branch on failure), ACL check, outbound resolve+connect, and the
// first-direction-completes-wins bidirectional relay. Every error is
// logged here and never propagated to the caller, matching
// shadowsocks-rust's "error is ignored because it is already logged".
func handleConnection(ctx *Context, inst *ServerInstance, raw net.Conn, peerAddr net.Addr) {
	logger := ctx.logger().With("component", "relay", "instance", inst.name(), "peer", peerAddr.String())
	defer raw.Close()

	if ctx.NoDelay {
		if tc, ok := raw.(*net.TCPConn); ok {
			if err := sockopt.SetNoDelay(tc, true); err != nil {
				logger.Warn("set TCP_NODELAY failed", "error", err)
			}
		}
	}

	clientConn := net.Conn(raw)
	clientConn = cipher.WithIdleTimeout(clientConn, inst.IdleTimeout)
	clientConn = newFlowConn(clientConn, inst.name(), ctx.flow())
	clientConn = ratelimit.New(clientConn, inst.Limiter)
	clientConn = cipher.NewConn(clientConn, inst.Method, inst.PresharedKey)

	target, err := socksaddr.ReadFrom(clientConn)
	if err != nil {
		logger.Error("failed to decode address, may be wrong method or key", "error", err)
		ctx.flow().RecordHandshakeFailure(inst.name())
		ctx.flow().RecordConnectionError(inst.name(), "handshake")
		// Hold the connection open and drain it until the client gives
		// up, rather than closing immediately — an immediate close on
		// decode failure is a free oracle for an active prober to
		// fingerprint this server.
		holdAndDrain(raw)
		return
	}

	logger.Debug("relay establishing", "target", target.String())

	if !aclAllowsTarget(ctx.OutboundACL, target) {
		logger.Warn("outbound target blocked by ACL", "target", target.String())
		ctx.flow().RecordACLBlock("outbound")
		return
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout(inst))
	defer cancel()

	dialStart := time.Now()
	remoteConn, resolvedAddr, err := dialTarget(dialCtx, ctx, inst, target)
	ctx.flow().RecordDial(inst.name(), time.Since(dialStart).Seconds(), err)
	if err != nil {
		logger.Error("failed to connect to target", "target", target.String(), "error", err)
		ctx.flow().RecordConnectionError(inst.name(), "dial")
		return
	}
	defer remoteConn.Close()

	logger.Debug("relay established", "target", target.String(), "resolved", resolvedAddr)

	relayBidirectional(logger, clientConn, remoteConn, peerAddr, target)

	logger.Debug("relay closing", "target", target.String())
}

func dialTimeout(inst *ServerInstance) time.Duration {
	if inst.ConnectTimeout > 0 {
		return inst.ConnectTimeout
	}
	return 10 * time.Second
}

// aclAllowsTarget checks target against the outbound ACL: an IPv4/IPv6
// literal is matched against the CIDR rules, a domain name against the
// suffix rules. A nil list (List.MatchIP/MatchDomain handle this directly)
// allows everything.
func aclAllowsTarget(list *acl.List, target socksaddr.Address) bool {
	if target.Domain != "" {
		return list.MatchDomain(target.Domain)
	}
	return list.MatchIP(target.IP)
}

// dialTarget connects to target, either directly (literal address) or by
// resolving the domain name and trying each candidate in order, keeping the
// *last* attempt's error on total failure — a later candidate having
// actually timed out or been refused is usually more informative than a
// transient DNS hiccup on the first.
func dialTarget(ctx context.Context, relayCtx *Context, inst *ServerInstance, target socksaddr.Address) (net.Conn, string, error) {
	dialer := &net.Dialer{Control: sockopt.Control}
	if relayCtx.LocalAddr != nil {
		dialer.LocalAddr = relayCtx.LocalAddr
	}

	if target.Domain == "" {
		addr := &net.TCPAddr{IP: target.IP, Port: int(target.Port)}
		conn, err := dialer.DialContext(ctx, "tcp", addr.String())
		if err != nil {
			return nil, "", err
		}
		return conn, addr.String(), nil
	}

	host, err := target.LookupHost()
	if err != nil {
		return nil, "", err
	}

	addr, conn, err := resolver.LookupThen(ctx, relayCtx.Resolver, host, target.Port, func(ctx context.Context, candidate *net.TCPAddr) (net.Conn, error) {
		c, err := dialer.DialContext(ctx, "tcp", candidate.String())
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("connect %s:%d: %w", host, target.Port, err)
	}
	return conn, addr.String(), nil
}

// holdAndDrain reads and discards from conn until the peer closes it,
// giving an active prober no signal that decoding failed. No deadline is
// set here: the server must never be the side that initiates the close on
// this path, even against a peer that never sends and never closes — that
// connection is abandoned when the process shuts down, not before.
func holdAndDrain(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)
}

// relayBidirectional copies bytes in both directions and returns as soon as
// either direction finishes — it does not wait for both, unlike a
// sync.WaitGroup-based relay. A still-open direction is implicitly
// abandoned when the deferred Close calls in handleConnection run.
// Grounded on shadowsocks-rust's future::select(rhalf, whalf).
type relayResult struct {
	direction string
	err       error
}

func relayBidirectional(logger *slog.Logger, client, remote net.Conn, peerAddr net.Addr, target socksaddr.Address) {
	done := make(chan relayResult, 2)

	go func() {
		defer recovery.RecoverWithLog(logger, "relay.copyClientToTarget")
		_, err := io.Copy(remote, client)
		if tc, ok := remote.(interface{ CloseWrite() error }); ok {
			_ = tc.CloseWrite()
		}
		done <- relayResult{"client->target", err}
	}()
	go func() {
		defer recovery.RecoverWithLog(logger, "relay.copyTargetToClient")
		_, err := io.Copy(client, remote)
		if tc, ok := client.(interface{ CloseWrite() error }); ok {
			_ = tc.CloseWrite()
		}
		done <- relayResult{"target->client", err}
	}()

	first := <-done
	logRelayResult(logger, first, peerAddr, target)
}

func logRelayResult(logger *slog.Logger, r relayResult, peerAddr net.Addr, target socksaddr.Address) {
	if r.err == nil || errors.Is(r.err, io.EOF) {
		logger.Debug("relay direction closed", "direction", r.direction, "peer", peerAddr.String(), "target", target.String())
		return
	}
	var netErr net.Error
	if errors.As(r.err, &netErr) && netErr.Timeout() {
		logging.Trace(logger, "relay direction closed on timeout", "direction", r.direction, "peer", peerAddr.String(), "target", target.String(), "error", r.err)
		return
	}
	logger.Debug("relay direction closed with error", "direction", r.direction, "peer", peerAddr.String(), "target", target.String(), "error", r.err)
}
