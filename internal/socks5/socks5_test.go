package socks5

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestClientDialToServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		auth     Auth
		address  string
		wantHost string
		wantPort int
	}{
		{name: "no_auth_ipv4", address: "127.0.0.1:80", wantHost: "127.0.0.1", wantPort: 80},
		{name: "user_pass_domain", auth: Auth{Username: "user", Password: "pass"}, address: "example.com:443", wantHost: "example.com", wantPort: 443},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				if err := ServerNegotiate(serverConn, tt.auth); err != nil {
					return err
				}

				target, err := ServerReadConnect(serverConn)
				if err != nil {
					return err
				}
				if target.Host != tt.wantHost || target.Port != tt.wantPort {
					return fmt.Errorf("unexpected target: %+v", target)
				}
				if target.Address() != tt.address {
					return fmt.Errorf("unexpected address: %s", target.Address())
				}

				return WriteSuccessReply(serverConn, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})
			})

			if err := ClientDial(clientConn, tt.auth, tt.address); err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestClientDialReplyError(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		if err := ServerNegotiate(serverConn, Auth{}); err != nil {
			return err
		}
		target, err := ServerReadConnect(serverConn)
		if err != nil {
			return err
		}
		WriteFailureReply(serverConn, RepConnectionRefused, target.Atyp)
		return nil
	})

	err := ClientDial(clientConn, Auth{}, "127.0.0.1:80")
	var re *ReplyError
	if !errors.As(err, &re) || re.Rep != RepConnectionRefused {
		t.Fatalf("got %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestServerNegotiateAuthFailed(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		return ServerNegotiate(serverConn, Auth{Username: "user", Password: "pass"})
	})

	if err := ClientNegotiate(clientConn, Auth{Username: "user", Password: "wrong"}); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("client got %v", err)
	}
	if err := g.Wait(); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("server got %v", err)
	}
}

func TestServerNegotiateRequiresAuth(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		return ServerNegotiate(serverConn, Auth{Username: "user", Password: "pass"})
	})

	if err := ClientNegotiate(clientConn, Auth{}); err == nil {
		t.Fatal("expected error")
	}
	if err := g.Wait(); !errors.Is(err, ErrNoAcceptableMethod) {
		t.Fatalf("server got %v", err)
	}
}

func TestReplyText(t *testing.T) {
	t.Parallel()

	if got := ReplyText(RepHostUnreachable); got != "host unreachable" {
		t.Fatalf("got %q", got)
	}
	if got := ReplyText(0x42); got != "reply 0x42" {
		t.Fatalf("got %q", got)
	}
}
