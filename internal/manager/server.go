package manager

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
)

// StatSource reports the current relay state for a "stat" request: active
// connection counts keyed by instance name.
type StatSource interface {
	ConnectionsByInstance() map[string]int64
}

// Server answers requests on a bound Datagram: "ping" gets a "pong" reply,
// "stat" gets a JSON snapshot from the configured StatSource. Any other
// payload is ignored, matching the original ManagerDatagram's role as a
// thin transport with no command parsing of its own — the request verbs
// here are this repo's own minimal control surface, not a wire format
// carried over from the original source.
type Server struct {
	dg     *Datagram
	stats  StatSource
	logger *slog.Logger
}

// NewServer wraps an already-bound Datagram with a request loop.
func NewServer(dg *Datagram, stats StatSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dg: dg, stats: stats, logger: logger}
}

// Serve reads requests until the Datagram is closed, replying to each
// sender in turn. It returns nil when the underlying socket is closed out
// from under it (the normal shutdown path) and any other error otherwise.
func (s *Server) Serve() error {
	buf := make([]byte, 4096)
	for {
		n, from, err := s.dg.RecvFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		reply := s.handle(strings.TrimSpace(string(buf[:n])))
		if reply == nil {
			continue
		}
		if _, err := s.dg.SendTo(reply, from); err != nil {
			s.logger.Warn("manager: failed to reply", "peer", from.String(), "error", err)
		}
	}
}

func (s *Server) handle(req string) []byte {
	switch req {
	case "ping":
		return []byte("pong")
	case "stat":
		payload, err := json.Marshal(s.stats.ConnectionsByInstance())
		if err != nil {
			s.logger.Warn("manager: failed to marshal stat reply", "error", err)
			return nil
		}
		return payload
	default:
		s.logger.Debug("manager: ignoring unrecognized request", "request", req)
		return nil
	}
}

// Close releases the underlying socket, unblocking a concurrent Serve call.
func (s *Server) Close() error {
	return s.dg.Close()
}
