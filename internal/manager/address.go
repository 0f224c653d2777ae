package manager

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseAddr parses a manager address configured as a plain string: either
// "unix:/path/to.sock" for a Unix-domain datagram socket, or "host:port"
// for a UDP one. A literal IP host resolves immediately into Addr.UDP; a
// named host is left for the caller to resolve via Addr.Domain/Addr.Port,
// the same split Bind and Connect already expect.
func ParseAddr(s string) (Addr, error) {
	if path, ok := strings.CutPrefix(s, "unix:"); ok {
		if path == "" {
			return Addr{}, fmt.Errorf("manager address %q: empty unix path", s)
		}
		return Addr{UnixPath: path}, nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, fmt.Errorf("manager address %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("manager address %q: invalid port: %w", s, err)
	}

	if ip := net.ParseIP(host); ip != nil {
		return Addr{UDP: &net.UDPAddr{IP: ip, Port: int(port)}}, nil
	}
	return Addr{Domain: host, Port: uint16(port)}, nil
}
