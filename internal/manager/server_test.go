package manager

import (
	"net"
	"testing"
	"time"
)

type fakeStatSource struct {
	stats map[string]int64
}

func (f fakeStatSource) ConnectionsByInstance() map[string]int64 {
	return f.stats
}

func recvWithTimeout(t *testing.T, d *Datagram) []byte {
	t.Helper()
	type result struct {
		buf []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 256)
		n, err := d.Recv(buf)
		ch <- result{buf[:n], err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Recv() error = %v", r.err)
		}
		return r.buf
	case <-time.After(2 * time.Second):
		t.Fatal("Recv() timed out")
		return nil
	}
}

func TestServerPing(t *testing.T) {
	dg, err := Bind(Addr{UDP: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}}, noResolve)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	srv := NewServer(dg, fakeStatSource{stats: map[string]int64{"main": 3}}, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	client, err := Connect(Addr{UDP: dg.LocalAddr().udp}, noResolve)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if _, err := client.Send([]byte("ping")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	reply := recvWithTimeout(t, client)
	if string(reply) != "pong" {
		t.Fatalf("reply = %q, want pong", reply)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve() returned error = %v", err)
	}
}

func TestServerStat(t *testing.T) {
	dg, err := Bind(Addr{UDP: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}}, noResolve)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	srv := NewServer(dg, fakeStatSource{stats: map[string]int64{"main": 2}}, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	defer func() {
		srv.Close()
		<-done
	}()

	client, err := Connect(Addr{UDP: dg.LocalAddr().udp}, noResolve)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if _, err := client.Send([]byte("stat")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	reply := recvWithTimeout(t, client)
	if got := string(reply); got != `{"main":2}` {
		t.Fatalf("reply = %q, want {\"main\":2}", got)
	}
}
