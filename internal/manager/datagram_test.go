package manager

import (
	"bytes"
	"net"
	"path/filepath"
	"testing"
)

func noResolve(host string, port uint16) ([]*net.UDPAddr, error) {
	return nil, nil
}

func TestUDPDatagramBindSendRecv(t *testing.T) {
	server, err := Bind(Addr{UDP: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}}, noResolve)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer server.Close()

	serverAddr, ok := server.LocalAddr().udp, true
	if !ok || serverAddr == nil {
		t.Fatalf("LocalAddr() returned no udp address")
	}

	client, err := Connect(Addr{UDP: serverAddr}, noResolve)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	msg := []byte("ping")
	if _, err := client.Send(msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	buf := make([]byte, 64)
	n, from, err := server.RecvFrom(buf)
	if err != nil {
		t.Fatalf("RecvFrom() error = %v", err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Errorf("RecvFrom() payload = %q, want %q", buf[:n], msg)
	}

	if _, err := server.SendTo([]byte("pong"), from); err != nil {
		t.Fatalf("SendTo() error = %v", err)
	}

	n, err = client.Recv(buf)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if string(buf[:n]) != "pong" {
		t.Errorf("Recv() = %q, want pong", buf[:n])
	}
}

func TestUDPDatagramSendToWrongKindIsInvalidInput(t *testing.T) {
	d, err := Bind(Addr{UDP: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}}, noResolve)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer d.Close()

	_, err = d.SendTo([]byte("x"), SocketAddr{unix: &net.UnixAddr{Name: "/tmp/nope", Net: "unixgram"}})
	if err == nil {
		t.Fatal("SendTo() with unix target on udp datagram: want error, got nil")
	}
}

func TestUnixDatagramBindSendRecv(t *testing.T) {
	if !unixSocketsSupported() {
		t.Skip("unix-domain datagram sockets unsupported on this platform")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "manager.sock")

	server, err := Bind(Addr{UnixPath: path}, noResolve)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer server.Close()

	client, err := Connect(Addr{UnixPath: path}, noResolve)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if client.LocalAddr().IsUnnamed() == false {
		t.Error("unbound unix datagram client should report an unnamed local address")
	}

	msg := []byte("add: server 1.2.3.4:8388")
	if _, err := client.SendTo(msg, server.LocalAddr()); err != nil {
		t.Fatalf("SendTo() error = %v", err)
	}

	buf := make([]byte, 64)
	n, err := server.Recv(buf)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Errorf("Recv() payload = %q, want %q", buf[:n], msg)
	}
}
