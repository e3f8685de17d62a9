package proxy

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/jedisct1/dlog"

	"github.com/die-net/dohfrag/internal/socks5"
)

// SOCKS5Server accepts SOCKS5 CONNECT requests and runs them through the
// same resolve, dial and fragmented tunnel pipeline as srv.
type SOCKS5Server struct {
	srv  *Server
	auth socks5.Auth
}

// NewSOCKS5Server returns a SOCKS5 front end for srv. A non-empty
// auth.Username requires clients to authenticate.
func NewSOCKS5Server(srv *Server, auth socks5.Auth) *SOCKS5Server {
	return &SOCKS5Server{srv: srv, auth: auth}
}

// Serve accepts connections on ln until it is closed.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	dlog.Noticef("SOCKS5 proxy listening at %v", ln.Addr())

	return s.srv.AcceptLoop(ln, s.handleConn)
}

func (s *SOCKS5Server) handleConn(c net.Conn) {
	entry := ConnEntry{Start: time.Now(), Client: c.RemoteAddr().String(), Method: "SOCKS5"}

	err := s.serve(context.Background(), c, &entry)

	entry.Err = err
	s.srv.logConn(&entry)
}

func (s *SOCKS5Server) serve(ctx context.Context, c net.Conn, entry *ConnEntry) error {
	defer c.Close()

	if t := s.srv.cfg.NegotiationTimeout; t > 0 {
		_ = c.SetDeadline(time.Now().Add(t))
	}

	if err := socks5.ServerNegotiate(c, s.auth); err != nil {
		return err
	}

	target, err := socks5.ServerReadConnect(c)
	if err != nil {
		return err
	}
	entry.Target = target.Address()

	if addr, err := netip.ParseAddr(target.Host); err == nil && !addr.Is4() {
		socks5.WriteFailureReply(c, socks5.RepAddressNotSupported, target.Atyp)
		return ErrIPv6Unsupported
	}

	backend, addr, err := s.srv.dialTarget(ctx, target.Host, strconv.Itoa(target.Port))
	entry.Resolved = addr
	if err != nil {
		rep := socks5.RepHostUnreachable
		var be *BackendError
		if errors.As(err, &be) {
			rep = socks5.RepConnectionRefused
		}
		socks5.WriteFailureReply(c, rep, target.Atyp)
		return err
	}

	if err := socks5.WriteSuccessReply(c, backend.LocalAddr()); err != nil {
		_ = backend.Close()
		return err
	}
	_ = c.SetDeadline(time.Time{})

	return RunTunnel(ctx, c, backend, nil, s.srv.tunnelOptions())
}
