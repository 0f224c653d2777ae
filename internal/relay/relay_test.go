package relay

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/adteven/shadowrelay/internal/acl"
	"github.com/adteven/shadowrelay/internal/cipher"
	"github.com/adteven/shadowrelay/internal/resolver"
	"github.com/adteven/shadowrelay/internal/socksaddr"
)

func TestRelayEndToEndAgainstEchoServer(t *testing.T) {
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen echo server: %v", err)
	}
	defer echo.Close()
	go func() {
		for {
			conn, err := echo.Accept()
			if err != nil {
				return
			}
			go io.Copy(conn, conn)
		}
	}()

	method, err := cipher.LookupMethod("chacha20-ietf-poly1305")
	if err != nil {
		t.Fatalf("LookupMethod() error = %v", err)
	}
	psk := []byte("test preshared key")

	inst := &ServerInstance{
		BindAddr:       "127.0.0.1:0",
		Method:         method,
		PresharedKey:   psk,
		ConnectTimeout: 2 * time.Second,
		IdleTimeout:    2 * time.Second,
	}

	outboundACL, err := acl.Compile(nil)
	if err != nil {
		t.Fatalf("acl.Compile() error = %v", err)
	}
	inboundACL, err := acl.Compile(nil)
	if err != nil {
		t.Fatalf("acl.Compile() error = %v", err)
	}

	relayCtx := &Context{
		Instances:   []*ServerInstance{inst},
		Resolver:    resolver.Default(),
		InboundACL:  inboundACL,
		OutboundACL: outboundACL,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	srv := NewServer(relayCtx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen relay: %v", err)
	}
	inst.BindAddr = ln.Addr().String()
	ln.Close() // release the port so Server.Run can bind it itself

	go func() {
		_ = srv.Run()
	}()
	defer srv.Close()

	// Give the acceptor a moment to bind.
	var relayAddr net.Addr
	for i := 0; i < 50; i++ {
		srv.mu.Lock()
		if len(srv.listeners) > 0 {
			relayAddr = srv.listeners[0].Addr()
		}
		srv.mu.Unlock()
		if relayAddr != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if relayAddr == nil {
		t.Fatal("relay server never bound a listener")
	}

	conn, err := net.Dial("tcp", relayAddr.String())
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	defer conn.Close()

	cc := cipher.NewConn(conn, method, psk)

	echoAddr := echo.Addr().(*net.TCPAddr)
	target := socksaddr.Address{IP: echoAddr.IP, Port: uint16(echoAddr.Port)}
	if err := socksaddr.WriteTo(cc, target); err != nil {
		t.Fatalf("write target address: %v", err)
	}

	msg := []byte("hello through the relay")
	if _, err := cc.Write(msg); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(cc, buf); err != nil {
		t.Fatalf("read echoed payload: %v", err)
	}
	if !bytes.Equal(buf, msg) {
		t.Errorf("echoed payload = %q, want %q", buf, msg)
	}
}

func TestConnectionsByInstanceTracksActiveCount(t *testing.T) {
	srv := &Server{ctx: &Context{}}

	counter := srv.connCounter("main")
	if got := srv.ConnectionsByInstance()["main"]; got != 0 {
		t.Fatalf("ConnectionsByInstance()[main] = %d, want 0", got)
	}

	*counter = 2
	if got := srv.ConnectionsByInstance()["main"]; got != 2 {
		t.Fatalf("ConnectionsByInstance()[main] = %d, want 2", got)
	}
}

func TestAclAllowsTargetNilListAllowsEverything(t *testing.T) {
	target := socksaddr.Address{IP: net.ParseIP("1.2.3.4"), Port: 80}
	if !aclAllowsTarget(nil, target) {
		t.Error("aclAllowsTarget(nil, ...) = false, want true")
	}
}

func TestHoldAndDrainWaitsForClientClose(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		holdAndDrain(server)
		close(done)
	}()

	// A prober's garbage bytes should be silently discarded, not answered
	// with a close.
	go func() { _, _ = client.Write([]byte("not a valid shadowsocks frame")) }()

	select {
	case <-done:
		t.Fatal("holdAndDrain returned before the client closed its side")
	case <-time.After(100 * time.Millisecond):
	}

	client.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("holdAndDrain did not return after the client closed its side")
	}
}

func TestAclAllowsTargetBlocksUnlistedDomain(t *testing.T) {
	list, err := acl.Compile([]string{"example.com"})
	if err != nil {
		t.Fatalf("acl.Compile() error = %v", err)
	}
	blocked := socksaddr.Address{Domain: "evil.example.org", Port: 80}
	if aclAllowsTarget(list, blocked) {
		t.Error("aclAllowsTarget() allowed a domain outside the compiled list")
	}
	allowed := socksaddr.Address{Domain: "api.example.com", Port: 80}
	if !aclAllowsTarget(list, allowed) {
		t.Error("aclAllowsTarget() blocked a domain that matches the compiled list")
	}
}
