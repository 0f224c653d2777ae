package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adteven/shadowrelay/internal/recovery"
	"github.com/adteven/shadowrelay/internal/sockopt"
)

// Server runs one accept loop per configured ServerInstance concurrently,
// following shadowsocks-rust's relay/tcprelay/server.rs run(): one acceptor
// goroutine per instance, a 1-second sleep-retry on accept error, and an
// "exited unexpectedly" failure if any acceptor loop ever returns.
type Server struct {
	ctx *Context

	mu        sync.Mutex
	listeners []net.Listener
	stopped   bool

	active sync.Map // instance name -> *int64, active connection count
}

// ConnectionsByInstance reports the current active connection count per
// instance, satisfying internal/manager.StatSource for the "stat" control
// request.
func (s *Server) ConnectionsByInstance() map[string]int64 {
	out := make(map[string]int64)
	s.active.Range(func(key, value any) bool {
		out[key.(string)] = atomic.LoadInt64(value.(*int64))
		return true
	})
	return out
}

func (s *Server) connCounter(instance string) *int64 {
	v, _ := s.active.LoadOrStore(instance, new(int64))
	return v.(*int64)
}

// NewServer builds a Server bound to ctx's instances. Call Run to start
// accepting; call Close to stop all acceptors and release their listeners.
func NewServer(ctx *Context) *Server {
	return &Server{ctx: ctx}
}

// Run binds every configured instance and blocks until one of the acceptor
// loops exits — which should never happen in normal operation, matching
// the "unreachable" expectation in the original source — returning that as
// an error, or until Close is called, in which case it returns nil.
func (s *Server) Run() error {
	if len(s.ctx.Instances) == 0 {
		return fmt.Errorf("relay server: no server instances configured")
	}

	exited := make(chan error, len(s.ctx.Instances))

	lc := net.ListenConfig{Control: sockopt.Control}

	for idx := range s.ctx.Instances {
		inst := s.ctx.Instances[idx]
		ln, err := lc.Listen(context.Background(), "tcp", inst.BindAddr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("listen on %s (%s): %w", inst.name(), inst.BindAddr, err)
		}
		s.mu.Lock()
		s.listeners = append(s.listeners, ln)
		s.mu.Unlock()

		s.ctx.logger().Info("shadowsocks TCP listening", "instance", inst.name(), "address", ln.Addr().String())

		idx := idx
		go s.acceptLoop(idx, ln, exited)
	}

	err := <-exited
	s.closeListeners()
	if s.isStopped() {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("relay server: acceptor loop exited unexpectedly")
	}
	return err
}

// acceptLoop accepts connections for the instance at idx. The instance is
// read from the Context by index inside each dispatched goroutine rather
// than closing over a *ServerInstance captured before the loop started. See
// Context.instanceAt's doc comment.
func (s *Server) acceptLoop(idx int, ln net.Listener, exited chan<- error) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isStopped() {
				exited <- nil
				return
			}
			s.ctx.logger().Error("accept failed", "error", err)
			time.Sleep(1 * time.Second)
			continue
		}

		peerAddr := conn.RemoteAddr()
		if !s.ctx.InboundACL.MatchIP(addrIP(peerAddr)) {
			s.ctx.logger().Warn("client blocked by ACL", "peer", peerAddr.String())
			s.ctx.flow().RecordACLBlock("inbound")
			conn.Close()
			continue
		}

		go func() {
			defer recovery.RecoverWithLog(s.ctx.logger(), "relay.handleConnection")
			inst := s.ctx.instanceAt(idx)
			counter := s.connCounter(inst.name())
			atomic.AddInt64(counter, 1)
			s.ctx.flow().RecordAccept(inst.name())
			defer func() {
				atomic.AddInt64(counter, -1)
				s.ctx.flow().RecordClose(inst.name())
			}()
			handleConnection(s.ctx, inst, conn, peerAddr)
		}()
	}
}

func addrIP(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Close stops every acceptor loop by closing its listener; in-flight
// connections are left to finish on their own.
func (s *Server) Close() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return s.closeListeners()
}

func (s *Server) closeListeners() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, ln := range s.listeners {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.listeners = nil
	return firstErr
}
