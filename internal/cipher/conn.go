package cipher

import (
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Conn wraps a net.Conn with the AEAD chunk stream: the read half derives
// its subkey from the salt the peer sends first; the write half generates
// and sends its own random salt before the first chunk. The two directions
// use independent salts and independent AEAD instances, as shadowsocks'
// AEAD construction requires.
type Conn struct {
	net.Conn

	method       Method
	presharedKey []byte

	readOnce  sync.Once
	readErr   error
	reader    *Reader

	writeOnce sync.Once
	writeErr  error
	writer    *Writer
}

// NewConn wraps conn with method's AEAD framing, deriving subkeys from
// presharedKey and per-direction salts exchanged lazily on first use.
func NewConn(conn net.Conn, method Method, presharedKey []byte) *Conn {
	return &Conn{Conn: conn, method: method, presharedKey: presharedKey}
}

func (c *Conn) Read(p []byte) (int, error) {
	c.readOnce.Do(func() {
		salt := make([]byte, c.method.SaltSize)
		if _, err := io.ReadFull(c.Conn, salt); err != nil {
			c.readErr = fmt.Errorf("read salt: %w", err)
			return
		}
		subkey, err := c.method.DeriveSubkey(c.presharedKey, salt)
		if err != nil {
			c.readErr = err
			return
		}
		aead, err := c.method.NewAEAD(subkey)
		if err != nil {
			c.readErr = err
			return
		}
		c.reader = NewReader(c.Conn, aead)
	})
	if c.readErr != nil {
		return 0, c.readErr
	}
	return c.reader.Read(p)
}

func (c *Conn) Write(p []byte) (int, error) {
	c.writeOnce.Do(func() {
		salt := make([]byte, c.method.SaltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			c.writeErr = fmt.Errorf("generate salt: %w", err)
			return
		}
		subkey, err := c.method.DeriveSubkey(c.presharedKey, salt)
		if err != nil {
			c.writeErr = err
			return
		}
		aead, err := c.method.NewAEAD(subkey)
		if err != nil {
			c.writeErr = err
			return
		}
		if _, err := c.Conn.Write(salt); err != nil {
			c.writeErr = fmt.Errorf("write salt: %w", err)
			return
		}
		c.writer = NewWriter(c.Conn, aead)
	})
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.writer.Write(p)
}

// SetDeadline, SetReadDeadline and SetWriteDeadline are inherited from the
// embedded net.Conn; Conn does not override them. The assertion below only
// checks that Conn satisfies net.Conn.
var _ net.Conn = (*Conn)(nil)

// idleTimeoutConn applies a fixed inactivity deadline before every Read and
// Write, bounding the client-facing side of a relayed connection: the
// outbound half is never bound by it.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

// WithIdleTimeout wraps conn so every Read/Write first resets conn's
// deadline to now+timeout.
func WithIdleTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &idleTimeoutConn{Conn: conn, timeout: timeout}
}

func (c *idleTimeoutConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *idleTimeoutConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
