//go:build !unix

package manager

import (
	"fmt"
	"net"
)

// unixDatagram is a stub on platforms without Unix-domain datagram
// sockets: every operation reports the feature as unsupported, mirroring
// the Rust original compiling the whole UnixDatagram variant out of the
// enum on non-unix targets.
type unixDatagram struct {
	conn *net.UnixConn
}

var errUnsupported = fmt.Errorf("unix-domain manager socket unsupported on this platform")

func bindUnix(path string) (*Datagram, error) {
	return nil, errUnsupported
}

func connectUnix() (*Datagram, error) {
	return nil, errUnsupported
}

func (u unixDatagram) recv(buf []byte) (int, error) {
	return 0, errUnsupported
}

func (u unixDatagram) recvFrom(buf []byte) (int, SocketAddr, error) {
	return 0, SocketAddr{}, errUnsupported
}

func (u unixDatagram) send(buf []byte) (int, error) {
	return 0, errUnsupported
}

func (u unixDatagram) sendTo(buf []byte, target *net.UnixAddr) (int, error) {
	return 0, errUnsupported
}

func (u unixDatagram) localAddr() SocketAddr {
	return SocketAddr{}
}

func (u unixDatagram) close() error {
	return nil
}

func unixSocketsSupported() bool {
	return false
}
