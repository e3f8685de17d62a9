package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/jedisct1/dlog"

	"github.com/die-net/dohfrag/internal/dialer"
	"github.com/die-net/dohfrag/internal/hosts"
)

var (
	// ErrNoResolver is returned when a name needs a lookup before Listen
	// built the resolver.
	ErrNoResolver = errors.New("no resolver configured")

	// ErrNoAddress is returned when a lookup answer holds no IPv4 address.
	ErrNoAddress = errors.New("no IPv4 address in answer")

	// ErrIPv6Unsupported is returned for IPv6 literal destinations.
	ErrIPv6Unsupported = errors.New("IPv6 destinations are not supported")
)

// BackendError reports a failed backend connection after resolution
// succeeded.
type BackendError struct {
	Addr string
	Err  error
}

func (e *BackendError) Error() string {
	return "connect " + e.Addr + ": " + e.Err.Error()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsIPv4 reports whether s is a dotted quad of four decimal octets, each one
// to three digits with a value of at most 255. Leading zeros are accepted.
func IsIPv4(s string) bool {
	_, ok := parseIPv4(s)
	return ok
}

func parseIPv4(s string) (netip.Addr, bool) {
	var b [4]byte
	for i := range b {
		part := s
		if i < 3 {
			var ok bool
			part, s, ok = strings.Cut(s, ".")
			if !ok {
				return netip.Addr{}, false
			}
		}
		if len(part) == 0 || len(part) > 3 {
			return netip.Addr{}, false
		}
		v := 0
		for j := 0; j < len(part); j++ {
			c := part[j]
			if c < '0' || c > '9' {
				return netip.Addr{}, false
			}
			v = v*10 + int(c-'0')
		}
		if v > 255 {
			return netip.Addr{}, false
		}
		b[i] = byte(v)
	}
	return netip.AddrFrom4(b), true
}

// resolve maps host to the address to dial. IPv4 literals are used as-is
// and IPv6 literals are refused. The offline table comes next, then the
// resolver's own host is dialed by bootstrap IP or name, and anything else
// is looked up as an A record.
func (s *Server) resolve(ctx context.Context, host string) (string, error) {
	if addr, ok := parseIPv4(host); ok {
		return addr.String(), nil
	}
	if addr, err := netip.ParseAddr(host); err == nil && !addr.Is4() {
		return "", ErrIPv6Unsupported
	}

	if ip, ok := s.cfg.Offline.Lookup(host); ok {
		dlog.Debugf("offline dns %s -> %s", host, ip)
		return ip, nil
	}

	r := s.resolverFor()
	if r == nil {
		return "", ErrNoResolver
	}

	if rh := r.Host(); rh != "" && hosts.Normalize(host) == hosts.Normalize(rh) {
		if b := r.Bootstrap(); b != "" {
			return b, nil
		}
		return host, nil
	}

	dlog.Debugf("query DoH --> %s", host)
	answers, err := r.Lookup(ctx, host, "A")
	if err != nil {
		return "", err
	}
	for _, a := range answers {
		if addr, ok := parseIPv4(a); ok {
			return addr.String(), nil
		}
	}
	return "", fmt.Errorf("%s: %w", host, ErrNoAddress)
}

// dialTarget resolves host and connects to it on port.
func (s *Server) dialTarget(ctx context.Context, host, port string) (net.Conn, string, error) {
	ip, err := s.resolve(ctx, host)
	if err != nil {
		return nil, "", err
	}

	addr := net.JoinHostPort(ip, port)
	dlog.Debugf("%s --> %s", host, addr)

	dctx := ctx
	if s.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, s.cfg.DialTimeout)
		defer cancel()
	}

	c, err := s.dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, addr, &BackendError{Addr: addr, Err: err}
	}
	return c, addr, nil
}

func newDefaultDialer(cfg Config) dialer.Dialer {
	return dialer.NewDirectDialer(dialer.Config{DialTimeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive})
}
