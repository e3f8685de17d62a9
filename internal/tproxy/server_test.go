package tproxy

import (
	"errors"
	"net"
	"testing"

	"github.com/die-net/dohfrag/internal/proxy"
)

func TestCheckDestination(t *testing.T) {
	t.Parallel()

	self := &net.TCPAddr{IP: net.IPv4zero, Port: 4526}

	tests := []struct {
		name    string
		dst     *net.TCPAddr
		wantErr error
	}{
		{name: "redirected", dst: &net.TCPAddr{IP: net.IPv4(93, 184, 216, 34), Port: 443}},
		{name: "ipv6", dst: &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 443}, wantErr: proxy.ErrIPv6Unsupported},
		{name: "self unspecified", dst: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4526}, wantErr: ErrNotRedirected},
	}

	for _, tt := range tests {
		err := checkDestination(tt.dst, self)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: got %v want %v", tt.name, err, tt.wantErr)
		}
	}

	bound := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4526}
	if err := checkDestination(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4526}, bound); err != nil {
		t.Errorf("different IP same port: %v", err)
	}
}

func TestOriginalDstLocalAddr(t *testing.T) {
	t.Parallel()

	if !IsSupported {
		t.Skip("no transparent listener on this OS")
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	c, err := net.Dial("tcp4", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	sc := <-accepted
	if sc == nil {
		t.Fatal("accept failed")
	}
	defer sc.Close()

	// Without a redirect the original destination is the listener itself.
	dst, err := OriginalDst(sc)
	if err != nil {
		t.Fatal(err)
	}
	if dst.String() != ln.Addr().String() {
		t.Fatalf("got %v want %v", dst, ln.Addr())
	}
	if !errors.Is(checkDestination(dst, ln.Addr().(*net.TCPAddr)), ErrNotRedirected) {
		t.Fatal("expected loop detection")
	}
}
