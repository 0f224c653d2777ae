package cipher

import (
	"bytes"
	"crypto/rand"
	"io"
	"net"
	"testing"
)

func TestDeriveSubkeyIsDeterministic(t *testing.T) {
	m, err := LookupMethod("chacha20-ietf-poly1305")
	if err != nil {
		t.Fatalf("LookupMethod() error = %v", err)
	}

	psk := []byte("correct horse battery staple")
	salt := bytes.Repeat([]byte{0x42}, m.SaltSize)

	k1, err := m.DeriveSubkey(psk, salt)
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	k2, err := m.DeriveSubkey(psk, salt)
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveSubkey() is not deterministic for identical psk/salt")
	}

	otherSalt := bytes.Repeat([]byte{0x43}, m.SaltSize)
	k3, err := m.DeriveSubkey(psk, otherSalt)
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("DeriveSubkey() produced identical keys for different salts")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	for _, name := range []string{"chacha20-ietf-poly1305", "aes-256-gcm", "aes-128-gcm"} {
		m, err := LookupMethod(name)
		if err != nil {
			t.Fatalf("LookupMethod(%s) error = %v", name, err)
		}

		key := make([]byte, m.KeySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			t.Fatalf("generate key: %v", err)
		}
		aead, err := m.NewAEAD(key)
		if err != nil {
			t.Fatalf("NewAEAD(%s) error = %v", name, err)
		}

		var buf bytes.Buffer
		w := NewWriter(&buf, aead)

		msg := bytes.Repeat([]byte("shadowrelay "), 2000) // forces multiple chunks
		if _, err := w.Write(msg); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		aead2, err := m.NewAEAD(key)
		if err != nil {
			t.Fatalf("NewAEAD(%s) error = %v", name, err)
		}
		r := NewReader(&buf, aead2)

		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Errorf("round trip for %s mismatched: got %d bytes, want %d", name, len(got), len(msg))
		}
	}
}

func TestConnRoundTrip(t *testing.T) {
	m, err := LookupMethod("chacha20-ietf-poly1305")
	if err != nil {
		t.Fatalf("LookupMethod() error = %v", err)
	}
	psk := []byte("shared secret")

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client, m, psk)
	sc := NewConn(server, m, psk)

	done := make(chan error, 1)
	go func() {
		_, err := cc.Write([]byte("hello server"))
		done <- err
	}()

	buf := make([]byte, 64)
	n, err := sc.Read(buf)
	if err != nil {
		t.Fatalf("server Read() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("client Write() error = %v", err)
	}
	if string(buf[:n]) != "hello server" {
		t.Errorf("server received %q, want %q", buf[:n], "hello server")
	}
}

func TestLookupMethodRejectsUnknown(t *testing.T) {
	if _, err := LookupMethod("rc4-md5"); err == nil {
		t.Error("LookupMethod(rc4-md5) error = nil, want non-nil")
	}
}
