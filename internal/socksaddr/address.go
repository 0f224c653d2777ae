// Package socksaddr implements the target-address wire frame the client
// sends immediately after the cipher handshake: a one-byte type tag
// (IPv4 / domain name / IPv6), the address itself, and a big-endian port.
//
// The AddrType constants and byte-layout decode loop follow the same
// type-tagged address encoding used for SOCKS5 CONNECT requests and UDP
// datagram headers, reused here for the TCP frame instead.
package socksaddr

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

const (
	TypeIPv4   byte = 0x01
	TypeDomain byte = 0x03
	TypeIPv6   byte = 0x04
)

const maxDomainLen = 255

// Address is a decoded target-address frame.
type Address struct {
	Type   byte
	IP     net.IP // set when Type is TypeIPv4 or TypeIPv6
	Domain string // set when Type is TypeDomain; the raw bytes as sent, unmodified
	Port   uint16
}

// Host returns the string a dialer or resolver should use: the IP's string
// form, or the domain name as received.
func (a Address) Host() string {
	if a.Domain != "" {
		return a.Domain
	}
	return a.IP.String()
}

// LookupHost returns the name to hand to a DNS resolver: the domain name
// normalized to Unicode NFC and converted to ASCII/punycode form, closing
// the homograph-domain ambiguity a plain byte comparison leaves open. The
// wire bytes themselves (Domain) are never altered or forwarded; this is
// purely the string used for the resolver call. String, and so the logs,
// show Domain as received.
func (a Address) LookupHost() (string, error) {
	if a.Domain == "" {
		return a.IP.String(), nil
	}
	normalized := norm.NFC.String(a.Domain)
	ascii, err := idna.Lookup.ToASCII(normalized)
	if err != nil {
		return "", fmt.Errorf("normalize domain %q: %w", a.Domain, err)
	}
	return ascii, nil
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.Port)))
}

// ReadFrom decodes one address frame from r. A malformed frame returns an
// error without having consumed a well-defined number of bytes from r — the
// caller (internal/relay) is responsible for the anti-probing defensive
// read-until-close behavior this failure triggers; this package only
// decodes.
func ReadFrom(r io.Reader) (Address, error) {
	var typeBuf [1]byte
	if _, err := io.ReadFull(r, typeBuf[:]); err != nil {
		return Address{}, fmt.Errorf("read address type: %w", err)
	}

	addr := Address{Type: typeBuf[0]}

	switch addr.Type {
	case TypeIPv4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Address{}, fmt.Errorf("read ipv4 address: %w", err)
		}
		addr.IP = net.IP(b[:])

	case TypeIPv6:
		var b [16]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Address{}, fmt.Errorf("read ipv6 address: %w", err)
		}
		addr.IP = net.IP(b[:])

	case TypeDomain:
		var lenBuf [1]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return Address{}, fmt.Errorf("read domain length: %w", err)
		}
		n := int(lenBuf[0])
		if n == 0 || n > maxDomainLen {
			return Address{}, fmt.Errorf("invalid domain length %d", n)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return Address{}, fmt.Errorf("read domain: %w", err)
		}
		addr.Domain = string(b)

	default:
		return Address{}, fmt.Errorf("unsupported address type %#x", addr.Type)
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return Address{}, fmt.Errorf("read port: %w", err)
	}
	addr.Port = binary.BigEndian.Uint16(portBuf[:])

	return addr, nil
}

// WriteTo encodes addr onto w, the inverse of ReadFrom. The relay core
// itself never sends an address frame (only the client does); this is used
// by tests that play the client side.
func WriteTo(w io.Writer, addr Address) error {
	buf, err := Encode(addr)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Encode returns the wire bytes for addr.
func Encode(addr Address) ([]byte, error) {
	var body []byte

	switch {
	case addr.Domain != "":
		if len(addr.Domain) == 0 || len(addr.Domain) > maxDomainLen {
			return nil, fmt.Errorf("invalid domain length %d", len(addr.Domain))
		}
		body = make([]byte, 0, 2+len(addr.Domain)+2)
		body = append(body, TypeDomain, byte(len(addr.Domain)))
		body = append(body, addr.Domain...)

	case addr.IP.To4() != nil:
		body = make([]byte, 0, 1+4+2)
		body = append(body, TypeIPv4)
		body = append(body, addr.IP.To4()...)

	case len(addr.IP) == net.IPv6len:
		body = make([]byte, 0, 1+16+2)
		body = append(body, TypeIPv6)
		body = append(body, addr.IP.To16()...)

	default:
		return nil, fmt.Errorf("address has neither domain nor a valid IP")
	}

	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], addr.Port)
	body = append(body, portBuf[:]...)

	return body, nil
}
