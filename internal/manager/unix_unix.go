//go:build unix

package manager

import (
	"fmt"
	"net"
	"os"
	"syscall"
)

// unixDatagram wraps a Unix-domain datagram socket, the Unix-only half of
// Datagram. Grounded on manager/datagram.rs's UnixDatagram branch.
type unixDatagram struct {
	conn *net.UnixConn
}

func bindUnix(path string) (*Datagram, error) {
	_ = os.Remove(path)

	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("bind manager unix socket %s: %w", path, err)
	}
	return &Datagram{unix: unixDatagram{conn: conn}}, nil
}

// connectUnix returns an unbound Unix-domain datagram socket: the manager
// never replies to an unnamed sender, so there is nothing to bind or dial.
func connectUnix() (*Datagram, error) {
	fd, err := syscall.Socket(syscall.AF_UNIX, syscall.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("create unbound unix datagram: %w", err)
	}
	syscall.CloseOnExec(fd)
	f := os.NewFile(uintptr(fd), "unixgram")
	defer f.Close()
	fc, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("create unbound unix datagram: %w", err)
	}
	conn, ok := fc.(*net.UnixConn)
	if !ok {
		fc.Close()
		return nil, fmt.Errorf("create unbound unix datagram: unexpected conn type %T", fc)
	}
	return &Datagram{unix: unixDatagram{conn: conn}}, nil
}

func (u unixDatagram) recv(buf []byte) (int, error) {
	return u.conn.Read(buf)
}

func (u unixDatagram) recvFrom(buf []byte) (int, SocketAddr, error) {
	n, addr, err := u.conn.ReadFromUnix(buf)
	if err == nil && addr == nil {
		// An unbound sender has no address; report it as unnamed.
		addr = &net.UnixAddr{Net: "unixgram"}
	}
	return n, SocketAddr{unix: addr}, err
}

func (u unixDatagram) send(buf []byte) (int, error) {
	return u.conn.Write(buf)
}

func (u unixDatagram) sendTo(buf []byte, target *net.UnixAddr) (int, error) {
	return u.conn.WriteToUnix(buf, target)
}

func (u unixDatagram) localAddr() SocketAddr {
	if a, ok := u.conn.LocalAddr().(*net.UnixAddr); ok {
		// An unbound socket has an empty path, which Go renders as "@".
		if a.Name == "@" {
			return SocketAddr{unix: &net.UnixAddr{Net: a.Net}}
		}
		return SocketAddr{unix: a}
	}
	return SocketAddr{}
}

func (u unixDatagram) close() error {
	return u.conn.Close()
}

func unixSocketsSupported() bool {
	return true
}
