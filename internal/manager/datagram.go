// Package manager implements the datagram transport used to talk to an
// external process manager: a small control channel a supervisor can use to
// send ping/stat requests to a running relay. It is not part of the
// client-facing wire protocol.
package manager

import (
	"fmt"
	"net"
	"os"
)

// Addr identifies a manager endpoint: either a UDP socket address, a
// domain name to be resolved, or (Unix only) a filesystem path for a
// Unix-domain datagram socket.
type Addr struct {
	// UDP is set when the manager lives at a fixed host:port.
	UDP *net.UDPAddr
	// Domain/Port are set when the manager address must be resolved first.
	Domain string
	Port   uint16
	// UnixPath is set when the manager is reached over a Unix-domain socket.
	UnixPath string
}

func (a Addr) String() string {
	switch {
	case a.UnixPath != "":
		return a.UnixPath
	case a.Domain != "":
		return fmt.Sprintf("%s:%d", a.Domain, a.Port)
	case a.UDP != nil:
		return a.UDP.String()
	default:
		return "<unset manager address>"
	}
}

// SocketAddr is the tagged union returned by RecvFrom: the sender of a
// datagram, as either a UDP socket address or a Unix-domain one.
type SocketAddr struct {
	udp  *net.UDPAddr
	unix *net.UnixAddr
}

// IsUnnamed reports whether a Unix-domain address carries no path, the
// case for an unbound sender socket. Always false for UDP addresses.
func (s SocketAddr) IsUnnamed() bool {
	return s.unix != nil && s.unix.Name == ""
}

func (s SocketAddr) String() string {
	switch {
	case s.unix != nil:
		return s.unix.String()
	case s.udp != nil:
		return s.udp.String()
	default:
		return "<unset>"
	}
}

// resolveFunc resolves a domain name to an ordered list of addresses; it is
// supplied by the caller (normally internal/resolver.LookupThen's backing
// resolver) so this package stays free of a direct dependency on it.
type resolveFunc func(host string, port uint16) ([]*net.UDPAddr, error)

// Datagram is a tagged union over a UDP socket and, on platforms that
// support it, a Unix-domain datagram socket. Exactly one of the two
// underlying connections is non-nil at any time.
//
// Grounded directly on shadowsocks-rust's ManagerDatagram: the same
// operations (bind, connect, recv, recvFrom, send, sendTo, sendToManager,
// localAddr) exist here, with the Unix-domain branch compiled only where
// the platform supports it.
type Datagram struct {
	udp  *net.UDPConn
	unix unixDatagram
}

// Bind creates a Datagram listening at addr, ready to receive requests
// from the manager. For a domain-name address, every resolved candidate is
// tried in order; the caller passes resolve for that purpose.
func Bind(addr Addr, resolve resolveFunc) (*Datagram, error) {
	switch {
	case addr.UnixPath != "":
		return bindUnix(addr.UnixPath)

	case addr.Domain != "":
		candidates, err := resolve(addr.Domain, addr.Port)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, c := range candidates {
			conn, err := net.ListenUDP(udpNetwork(c), c)
			if err != nil {
				lastErr = err
				continue
			}
			return &Datagram{udp: conn}, nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("manager bind %s:%d: no addresses resolved", addr.Domain, addr.Port)
		}
		return nil, lastErr

	case addr.UDP != nil:
		conn, err := net.ListenUDP(udpNetwork(addr.UDP), addr.UDP)
		if err != nil {
			return nil, err
		}
		return &Datagram{udp: conn}, nil

	default:
		return nil, fmt.Errorf("manager bind: address not set")
	}
}

// Connect creates a Datagram suitable for sending requests to the manager
// and receiving its replies. For UDP targets it binds an unspecified local
// address of the matching family and connects it to the target, the same
// way shadowsocks-rust's connect_socket_addr does. Unix-domain targets need
// no local bind: the manager never replies to an unnamed sender.
func Connect(addr Addr, resolve resolveFunc) (*Datagram, error) {
	switch {
	case addr.UnixPath != "":
		return connectUnix()

	case addr.Domain != "":
		candidates, err := resolve(addr.Domain, addr.Port)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, c := range candidates {
			d, err := connectUDP(c)
			if err != nil {
				lastErr = err
				continue
			}
			return d, nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("manager connect %s:%d: no addresses resolved", addr.Domain, addr.Port)
		}
		return nil, lastErr

	case addr.UDP != nil:
		return connectUDP(addr.UDP)

	default:
		return nil, fmt.Errorf("manager connect: address not set")
	}
}

func connectUDP(target *net.UDPAddr) (*Datagram, error) {
	local := &net.UDPAddr{IP: net.IPv4zero, Port: 0}
	if target.IP.To4() == nil {
		local = &net.UDPAddr{IP: net.IPv6unspecified, Port: 0}
	}
	conn, err := net.ListenUDP(udpNetwork(local), local)
	if err != nil {
		return nil, err
	}
	if err := conn.Close(); err != nil {
		return nil, err
	}
	dialed, err := net.DialUDP(udpNetwork(target), local, target)
	if err != nil {
		return nil, err
	}
	return &Datagram{udp: dialed}, nil
}

func udpNetwork(a *net.UDPAddr) string {
	if a.IP != nil && a.IP.To4() == nil {
		return "udp6"
	}
	return "udp4"
}

// Recv reads one datagram into buf.
func (d *Datagram) Recv(buf []byte) (int, error) {
	if d.udp != nil {
		return d.udp.Read(buf)
	}
	return d.unix.recv(buf)
}

// RecvFrom reads one datagram into buf and reports who sent it.
func (d *Datagram) RecvFrom(buf []byte) (int, SocketAddr, error) {
	if d.udp != nil {
		n, addr, err := d.udp.ReadFromUDP(buf)
		return n, SocketAddr{udp: addr}, err
	}
	return d.unix.recvFrom(buf)
}

// Send writes buf to the connected peer.
func (d *Datagram) Send(buf []byte) (int, error) {
	if d.udp != nil {
		return d.udp.Write(buf)
	}
	return d.unix.send(buf)
}

// SendTo writes buf to target. Mixing socket kinds (a UDP datagram sending
// to a Unix-domain target, or vice-versa) is an invalid-input error, exactly
// as in the Rust original: the two transports are never interchangeable.
func (d *Datagram) SendTo(buf []byte, target SocketAddr) (int, error) {
	if d.udp != nil {
		if target.udp == nil {
			return 0, fmt.Errorf("%w: udp datagram requires IP address target", errInvalidInput)
		}
		return d.udp.WriteToUDP(buf, target.udp)
	}
	if target.unix == nil {
		return 0, fmt.Errorf("%w: unix datagram requires path address target", errInvalidInput)
	}
	if target.unix.Name == "" {
		return 0, fmt.Errorf("%w: target address must not be unnamed", errInvalidInput)
	}
	return d.unix.sendTo(buf, target.unix)
}

// SendToManager writes buf to the manager at addr, resolving a domain name
// target through resolve first and trying candidates in order (mirrors
// lookup_then! in the original).
func (d *Datagram) SendToManager(buf []byte, addr Addr, resolve resolveFunc) (int, error) {
	switch {
	case addr.UnixPath != "":
		if d.unix.conn == nil {
			return 0, fmt.Errorf("%w: unix datagram requires path address target", errInvalidInput)
		}
		return d.unix.sendTo(buf, &net.UnixAddr{Name: addr.UnixPath, Net: "unixgram"})

	case addr.Domain != "":
		if d.udp == nil {
			return 0, fmt.Errorf("%w: udp datagram requires IP address target", errInvalidInput)
		}
		candidates, err := resolve(addr.Domain, addr.Port)
		if err != nil {
			return 0, err
		}
		var lastErr error
		for _, c := range candidates {
			n, err := d.udp.WriteToUDP(buf, c)
			if err != nil {
				lastErr = err
				continue
			}
			return n, nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("manager send %s:%d: no addresses resolved", addr.Domain, addr.Port)
		}
		return 0, lastErr

	case addr.UDP != nil:
		if d.udp == nil {
			return 0, fmt.Errorf("%w: udp datagram requires IP address target", errInvalidInput)
		}
		return d.udp.WriteToUDP(buf, addr.UDP)

	default:
		return 0, fmt.Errorf("manager sendToManager: address not set")
	}
}

// LocalAddr returns the address this Datagram is bound to.
func (d *Datagram) LocalAddr() SocketAddr {
	if d.udp != nil {
		if a, ok := d.udp.LocalAddr().(*net.UDPAddr); ok {
			return SocketAddr{udp: a}
		}
	}
	return d.unix.localAddr()
}

// Close releases the underlying socket. A Unix-domain path it was bound to
// stays on the filesystem; the next Bind at that path removes it first.
func (d *Datagram) Close() error {
	if d.udp != nil {
		return d.udp.Close()
	}
	return d.unix.close()
}

var errInvalidInput = os.ErrInvalid
