package proxy

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/die-net/dohfrag/internal/dialer"
	"github.com/die-net/dohfrag/internal/doh"
	"github.com/die-net/dohfrag/internal/hosts"
)

const (
	DefaultListenAddress    = "127.0.0.1"
	DefaultListenPort       = 4525
	DefaultFragments        = 300
	DefaultFragmentDelay    = time.Millisecond
	DefaultRequestGrace     = 10 * time.Millisecond
	DefaultFirstPacketGrace = 100 * time.Millisecond
	DefaultDialTimeout      = 10 * time.Second

	requestBufferSize    = 8192
	upstreamBufferSize   = 8192
	downstreamBufferSize = 4096
)

// Resolver looks up destination names. *doh.Resolver satisfies it.
type Resolver interface {
	Lookup(ctx context.Context, name, qtype string) ([]string, error)

	// Host is the resolver's own hostname. Destinations matching it are
	// never looked up through the resolver.
	Host() string

	// Bootstrap is an optional IP literal to dial for Host.
	Bootstrap() string
}

type Config struct {
	ListenAddress string
	// ListenPort 0 asks the OS for a free port; Listen reports the result.
	ListenPort int

	// DoHURL, DoHViaProxy, DoHTimeout and DoHRootCAs configure the
	// resolver Listen builds when Resolver is nil. With DoHViaProxy, DoH
	// requests are sent as CONNECT tunnels through this server without
	// passing through its listener or connection limits.
	DoHURL      string
	DoHViaProxy bool
	DoHTimeout  time.Duration
	DoHRootCAs  *x509.CertPool
	Resolver    Resolver

	// Fragments is the number of pieces the first client chunk of each
	// tunnel is split into. FragmentDelay is the pause between pieces.
	Fragments     int
	FragmentDelay time.Duration

	Offline *hosts.Table

	Debug bool

	// RequestGrace is waited before reading the proxy request.
	// FirstPacketGrace is waited before the first tunnel read.
	RequestGrace     time.Duration
	FirstPacketGrace time.Duration

	DialTimeout time.Duration
	KeepAlive   net.KeepAliveConfig

	// NegotiationTimeout bounds the SOCKS5 handshake. Zero means none.
	NegotiationTimeout time.Duration

	// Dialer opens backend connections. Nil means a direct dialer built
	// from DialTimeout and KeepAlive.
	Dialer dialer.Dialer

	// MaxConns caps concurrent connections; excess connections wait in the
	// kernel backlog. AcceptRate (per second) and AcceptBurst throttle
	// accepts. Zero disables each.
	MaxConns    int
	AcceptRate  float64
	AcceptBurst int

	ConnLog *ConnLog
}

// DefaultConfig returns the stock listener, resolver and fragmentation
// settings.
func DefaultConfig() Config {
	return Config{
		ListenAddress:    DefaultListenAddress,
		ListenPort:       DefaultListenPort,
		DoHURL:           doh.DefaultURL,
		DoHViaProxy:      true,
		Fragments:        DefaultFragments,
		FragmentDelay:    DefaultFragmentDelay,
		RequestGrace:     DefaultRequestGrace,
		FirstPacketGrace: DefaultFirstPacketGrace,
		DialTimeout:      DefaultDialTimeout,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Fragments < 1:
		return fmt.Errorf("fragments must be at least 1, got %d", c.Fragments)
	case c.FragmentDelay < 0:
		return errors.New("fragment delay must not be negative")
	case c.ListenPort < 0 || c.ListenPort > 65535:
		return fmt.Errorf("invalid listen port %d", c.ListenPort)
	case c.RequestGrace < 0 || c.FirstPacketGrace < 0:
		return errors.New("grace delays must not be negative")
	case c.DialTimeout < 0 || c.NegotiationTimeout < 0:
		return errors.New("timeouts must not be negative")
	case c.MaxConns < 0:
		return errors.New("max conns must not be negative")
	case c.AcceptRate < 0 || c.AcceptBurst < 0:
		return errors.New("accept rate and burst must not be negative")
	}

	if c.Resolver == nil {
		if _, err := doh.ParseEndpoint(c.dohURL()); err != nil {
			return fmt.Errorf("doh url: %w", err)
		}
	}
	return nil
}

func (c *Config) dohURL() string {
	if c.DoHURL == "" {
		return doh.DefaultURL
	}
	return c.DoHURL
}
