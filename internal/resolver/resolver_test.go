package resolver

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
)

func TestResolveLiteralIP(t *testing.T) {
	r := Default()

	ips, err := r.Resolve(context.Background(), "127.0.0.1", 443)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.IPv4(127, 0, 0, 1)) {
		t.Errorf("Resolve() = %v, want [127.0.0.1]", ips)
	}
}

func TestPartitionIPv6First(t *testing.T) {
	ips := []net.IP{
		net.ParseIP("10.0.0.1"),
		net.ParseIP("2001:db8::1"),
		net.ParseIP("10.0.0.2"),
		net.ParseIP("2001:db8::2"),
	}
	partitionIPv6First(ips)

	if ips[0].To4() != nil || ips[1].To4() != nil {
		t.Fatalf("partitionIPv6First() did not move ipv6 addresses first: %v", ips)
	}
	// relative order within each family must be preserved
	if ips[0].String() != "2001:db8::1" || ips[1].String() != "2001:db8::2" {
		t.Errorf("partitionIPv6First() reordered within the ipv6 group: %v", ips)
	}
	if ips[2].String() != "10.0.0.1" || ips[3].String() != "10.0.0.2" {
		t.Errorf("partitionIPv6First() reordered within the ipv4 group: %v", ips)
	}
}

func TestLookupThenReturnsLastErrorOnTotalFailure(t *testing.T) {
	r := Default()

	errA := errors.New("first candidate refused")
	errB := errors.New("second candidate refused")
	attempts := 0

	_, _, err := LookupThen(context.Background(), r, "127.0.0.1", 80, func(ctx context.Context, addr *net.TCPAddr) (struct{}, error) {
		attempts++
		if attempts == 1 {
			return struct{}{}, errA
		}
		return struct{}{}, errB
	})
	if err == nil {
		t.Fatal("LookupThen() error = nil, want non-nil")
	}
	// a single resolved address (127.0.0.1 is a literal) means only one attempt
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 for a literal IP host", attempts)
	}
	if !errors.Is(err, errA) {
		t.Errorf("LookupThen() error = %v, want wrapping errA", err)
	}
}

func TestResolveErrorIncludesPort(t *testing.T) {
	r := Default()

	_, err := r.Resolve(context.Background(), "nosuchhost.invalid", 9999)
	if err == nil {
		t.Fatal("Resolve() error = nil, want non-nil for an unresolvable name")
	}
	want := "dns resolve nosuchhost.invalid:9999 error"
	if !strings.Contains(err.Error(), want) {
		t.Errorf("Resolve() error = %q, want it to contain %q", err.Error(), want)
	}
}

func TestLookupThenSucceedsOnFirstWorkingCandidate(t *testing.T) {
	r := Default()

	addr, result, err := LookupThen(context.Background(), r, "127.0.0.1", 443, func(ctx context.Context, addr *net.TCPAddr) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("LookupThen() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("LookupThen() result = %q, want ok", result)
	}
	if addr.Port != 443 {
		t.Errorf("LookupThen() addr.Port = %d, want 443", addr.Port)
	}
}
