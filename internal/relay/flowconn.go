package relay

import "net"

// flowConn wraps a net.Conn, reporting every byte moved through it to a
// Recorder under the owning instance's name. It sits below the cipher
// layer on the client-facing socket, so counts reflect wire bytes
// (ciphertext + AEAD overhead), not plaintext.
type flowConn struct {
	net.Conn
	instance string
	flow     Recorder
}

func newFlowConn(conn net.Conn, instance string, flow Recorder) net.Conn {
	return &flowConn{Conn: conn, instance: instance, flow: flow}
}

func (c *flowConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.flow.AddRx(c.instance, int64(n))
	}
	return n, err
}

func (c *flowConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.flow.AddTx(c.instance, int64(n))
	}
	return n, err
}
