package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jedisct1/dlog"

	"github.com/die-net/dohfrag/internal/dialer"
	"github.com/die-net/dohfrag/internal/doh"
)

// Server is the HTTP CONNECT proxy. Call Listen, then Serve; Stop closes
// the listener without touching established tunnels.
type Server struct {
	cfg     Config
	dialer  dialer.Dialer
	limiter *acceptLimiter

	// done is canceled by Stop. It only unblocks accept throttling.
	done   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	ln       net.Listener
	resolver Resolver
	ownDoH   *doh.Resolver
	stopped  bool
}

// NewServer validates cfg and returns an unstarted Server.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		dialer:   cfg.Dialer,
		limiter:  newAcceptLimiter(cfg.MaxConns, cfg.AcceptRate, cfg.AcceptBurst),
		resolver: cfg.Resolver,
	}
	if s.dialer == nil {
		s.dialer = newDefaultDialer(cfg)
	}
	s.done, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Listen binds the configured address and returns the bound TCP address,
// which carries the OS-assigned port when ListenPort is 0. Unless a
// Resolver was supplied, it also builds the DoH resolver, pointed at the
// bound address when DoHViaProxy is set.
func (s *Server) Listen() (*net.TCPAddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, errors.New("proxy: server stopped")
	}
	if s.ln != nil {
		return nil, errors.New("proxy: already listening")
	}

	addr := net.JoinHostPort(s.cfg.ListenAddress, strconv.Itoa(s.cfg.ListenPort))
	ln, err := ListenTCP(context.Background(), "tcp", addr, s.cfg.KeepAlive)
	if err != nil {
		return nil, err
	}
	bound := ln.Addr().(*net.TCPAddr)

	if s.resolver == nil {
		dcfg := doh.Config{URL: s.cfg.dohURL(), Timeout: s.cfg.DoHTimeout, RootCAs: s.cfg.DoHRootCAs}
		if s.cfg.DoHViaProxy {
			dcfg.ProxyURL = &url.URL{Scheme: "http", Host: dialableAddr(bound)}
			dcfg.DialContext = s.dialSelf
		}
		r, err := doh.New(dcfg)
		if err != nil {
			_ = ln.Close()
			return nil, err
		}
		s.ownDoH = r
		s.resolver = r
	}

	s.ln = ln
	return bound, nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until Stop is called or Accept fails, handing
// each to its own goroutine. It returns nil after Stop.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("proxy: Serve called before Listen")
	}

	dlog.Noticef("HTTPS proxy listening at %v", ln.Addr())

	if err := s.AcceptLoop(ln, s.handleConn); err != nil {
		_ = s.Stop()
		dlog.Warnf("Accept failed on %v: %v", ln.Addr(), err)
		return err
	}
	return nil
}

// AcceptLoop accepts on ln under the server's connection limits and runs
// handle for each connection in its own goroutine. It returns nil once ln
// is closed or the server is stopped.
func (s *Server) AcceptLoop(ln net.Listener, handle func(net.Conn)) error {
	for {
		if err := s.limiter.acquire(s.done); err != nil {
			return nil
		}

		c, err := ln.Accept()
		if err != nil {
			s.limiter.release()
			if s.isStopped() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		go func() {
			defer s.limiter.release()
			handle(c)
		}()
	}
}

// Forward runs the dial and tunnel pipeline for a connection whose
// destination is already known, such as a transparently redirected one.
// via names the front end in the connection log. c is closed on return.
func (s *Server) Forward(ctx context.Context, c net.Conn, via, host, port string) error {
	entry := ConnEntry{
		Start:  time.Now(),
		Client: c.RemoteAddr().String(),
		Method: via,
		Target: net.JoinHostPort(host, port),
	}

	backend, addr, err := s.dialTarget(ctx, host, port)
	entry.Resolved = addr
	if err == nil {
		err = RunTunnel(ctx, c, backend, nil, s.tunnelOptions())
	} else {
		_ = c.Close()
	}

	entry.Err = err
	s.logConn(&entry)
	return err
}

// Stop closes the listener and releases the resolver Listen built.
// In-flight tunnels keep running. Stop is idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	ln, own := s.ln, s.ownDoH
	s.mu.Unlock()

	s.cancel()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	if own != nil {
		_ = own.Close()
	}

	dlog.Notice("Proxy stopped")
	return err
}

// dialSelf connects the resolver to this server through an in-memory pipe.
// The handler runs outside AcceptLoop, so a lookup never waits for a
// connection slot held by the request that triggered it.
func (s *Server) dialSelf(context.Context, string, string) (net.Conn, error) {
	if s.isStopped() {
		return nil, net.ErrClosed
	}
	client, server := net.Pipe()
	go s.handleConn(server)
	return client, nil
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Server) resolverFor() Resolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver
}

func (s *Server) handleConn(c net.Conn) {
	entry := ConnEntry{Start: time.Now(), Client: c.RemoteAddr().String()}

	err := s.serveHTTP(context.Background(), c, &entry)

	entry.Err = err
	s.logConn(&entry)
}

func (s *Server) logConn(entry *ConnEntry) {
	if entry.Err != nil {
		if s.cfg.Debug {
			dlog.Infof("%s %s %s: %v", entry.Client, entry.Method, entry.Target, entry.Err)
		} else {
			dlog.Debugf("%s %s %s: %v", entry.Client, entry.Method, entry.Target, entry.Err)
		}
	}
	s.cfg.ConnLog.Log(entry)
}

// dialableAddr returns addr with an unspecified IP replaced by loopback.
func dialableAddr(addr *net.TCPAddr) string {
	ip := addr.IP
	if ip == nil || ip.IsUnspecified() {
		ip = net.IPv4(127, 0, 0, 1)
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(addr.Port))
}
