package proxy

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/die-net/dohfrag/internal/dialer"
	"github.com/die-net/dohfrag/internal/socks5"
	"github.com/die-net/dohfrag/internal/testutil"
)

func startSOCKS5(t *testing.T, srv *Server, auth socks5.Auth) string {
	t.Helper()

	ln, err := ListenTCP(context.Background(), "tcp", "127.0.0.1:0", net.KeepAliveConfig{})
	if err != nil {
		t.Fatal(err)
	}

	ss := NewSOCKS5Server(srv, auth)
	done := make(chan error, 1)
	go func() { done <- ss.Serve(ln) }()
	t.Cleanup(func() {
		_ = ln.Close()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	return ln.Addr().String()
}

func TestSOCKS5ServerConnect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		auth socks5.Auth
	}{
		{name: "no_auth"},
		{name: "user_pass", auth: socks5.Auth{Username: "user", Password: "pass"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(ctx, t)
			_, port, _ := net.SplitHostPort(echoLn.Addr().String())

			res := &fakeResolver{}
			srv, _ := startServer(t, Config{
				Resolver:           res,
				NegotiationTimeout: 2 * time.Second,
				Offline:            offlineTable(t, map[string]string{"example.com": "127.0.0.1"}),
			})
			addr := startSOCKS5(t, srv, tt.auth)

			d := dialer.NewSOCKS5ProxyDialer(dialer.Config{DialTimeout: 2 * time.Second}, addr, tt.auth.Username, tt.auth.Password)
			c, err := d.DialContext(ctx, "tcp", "example.com:"+port)
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			testutil.AssertEcho(t, c, c, []byte("hello through socks"))

			if n := res.calls.Load(); n != 0 {
				t.Fatalf("resolver called %d times", n)
			}
		})
	}
}

func TestSOCKS5ServerFailures(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t, Config{Resolver: &fakeResolver{}})
	addr := startSOCKS5(t, srv, socks5.Auth{})

	tests := []struct {
		name    string
		target  string
		wantRep byte
	}{
		{name: "closed port", target: "127.0.0.1:" + closedPort(t), wantRep: socks5.RepConnectionRefused},
		{name: "nxdomain", target: "missing.example:443", wantRep: socks5.RepHostUnreachable},
		{name: "ipv6", target: "[::1]:443", wantRep: socks5.RepAddressNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := net.Dial("tcp", addr)
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()
			_ = c.SetDeadline(time.Now().Add(5 * time.Second))

			err = socks5.ClientDial(c, socks5.Auth{}, tt.target)
			var re *socks5.ReplyError
			if !errors.As(err, &re) || re.Rep != tt.wantRep {
				t.Fatalf("got %v, want reply %#x", err, tt.wantRep)
			}
		})
	}
}
