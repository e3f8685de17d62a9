package tproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/jedisct1/dlog"

	"github.com/die-net/dohfrag/internal/proxy"
)

var ErrNotRedirected = errors.New("connection was not redirected")

// Server hands redirected connections to a proxy.Server. Original
// destinations are IPv4 literals, so no name resolution takes place.
type Server struct {
	proxy *proxy.Server
}

func NewServer(p *proxy.Server) *Server {
	return &Server{proxy: p}
}

// Serve accepts on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	dlog.Noticef("Transparent proxy listening at %v", ln.Addr())

	self, _ := ln.Addr().(*net.TCPAddr)
	return s.proxy.AcceptLoop(ln, func(c net.Conn) {
		if err := s.handle(c, self); err != nil {
			dlog.Debugf("tproxy %v: %v", c.RemoteAddr(), err)
		}
	})
}

func (s *Server) handle(c net.Conn, self *net.TCPAddr) error {
	dst, err := OriginalDst(c)
	if err != nil {
		_ = c.Close()
		return err
	}

	if err := checkDestination(dst, self); err != nil {
		_ = c.Close()
		return err
	}

	return s.proxy.Forward(context.Background(), c, "TPROXY", dst.IP.String(), strconv.Itoa(dst.Port))
}

// checkDestination refuses IPv6 destinations and connections addressed to
// the listener itself, which would loop.
func checkDestination(dst, self *net.TCPAddr) error {
	if dst.IP.To4() == nil {
		return fmt.Errorf("%v: %w", dst, proxy.ErrIPv6Unsupported)
	}
	if self != nil && dst.Port == self.Port && (self.IP.IsUnspecified() || dst.IP.Equal(self.IP)) {
		return fmt.Errorf("%v: %w", dst, ErrNotRedirected)
	}
	return nil
}
