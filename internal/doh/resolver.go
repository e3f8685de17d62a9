package doh

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jedisct1/dlog"
	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

const dnsMessageContentType = "application/dns-message"

// Config configures a Resolver.
type Config struct {
	// URL is an https://, h3:// or sdns:// resolver location. Empty means
	// DefaultURL.
	URL string

	// ProxyURL, if set, routes https requests through an HTTP proxy. It is
	// ignored for HTTP/3 endpoints.
	ProxyURL *url.URL

	// DialContext, if set, opens every https connection, including the one
	// to ProxyURL. It replaces bootstrap dialing.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// RootCAs verifies the resolver's certificate. Nil means the system
	// pool.
	RootCAs *x509.CertPool

	// Timeout bounds a whole lookup. Zero means 10s.
	Timeout time.Duration

	// HTTPClient replaces the client built from the fields above.
	HTTPClient *http.Client
}

// Resolver performs DoH lookups. It is safe for concurrent use.
type Resolver struct {
	endpoint Endpoint
	client   *http.Client

	closeOnce sync.Once
	closeFn   func() error
}

// New constructs a Resolver. The returned Resolver holds a reusable HTTP
// transport; call Close to release it.
func New(cfg Config) (*Resolver, error) {
	raw := cfg.URL
	if raw == "" {
		raw = DefaultURL
	}
	ep, err := ParseEndpoint(raw)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := &Resolver{endpoint: ep}
	switch {
	case cfg.HTTPClient != nil:
		r.client = cfg.HTTPClient
		r.closeFn = func() error {
			cfg.HTTPClient.CloseIdleConnections()
			return nil
		}
	case ep.HTTP3:
		if cfg.ProxyURL != nil {
			dlog.Noticef("doh: %s uses HTTP/3, not routing it through %s", ep.URL.Host, cfg.ProxyURL.Host)
		}
		t := &http3.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS13, RootCAs: cfg.RootCAs},
			QUICConfig: &quic.Config{
				KeepAlivePeriod: 30 * time.Second,
				MaxIdleTimeout:  60 * time.Second,
			},
		}
		r.client = &http.Client{Timeout: timeout, Transport: t}
		r.closeFn = t.Close
	default:
		t := &http.Transport{
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        16,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: timeout,
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				RootCAs:            cfg.RootCAs,
				ClientSessionCache: tls.NewLRUClientSessionCache(0),
			},
		}
		if cfg.ProxyURL != nil {
			t.Proxy = http.ProxyURL(cfg.ProxyURL)
		}
		switch {
		case cfg.DialContext != nil:
			t.DialContext = cfg.DialContext
		case cfg.ProxyURL == nil && ep.Bootstrap != "":
			t.DialContext = bootstrapDialer(ep)
		}
		r.client = &http.Client{Timeout: timeout, Transport: t}
		r.closeFn = func() error {
			t.CloseIdleConnections()
			return nil
		}
	}

	return r, nil
}

// bootstrapDialer connects to the stamp's address whenever the resolver host
// itself is dialed, so the resolver name never goes to the system resolver.
func bootstrapDialer(ep Endpoint) func(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err == nil && strings.EqualFold(host, ep.Host()) {
			addr = net.JoinHostPort(ep.Bootstrap, port)
		}
		return d.DialContext(ctx, network, addr)
	}
}

// URL returns the https URL queries are sent to.
func (r *Resolver) URL() string {
	return r.endpoint.URL.String()
}

// Host returns the resolver's hostname.
func (r *Resolver) Host() string {
	return r.endpoint.Host()
}

// Bootstrap returns the resolver's pinned IP address, if any.
func (r *Resolver) Bootstrap() string {
	return r.endpoint.Bootstrap
}

// Lookup resolves name for the record type qtype (e.g. "A") and returns the
// record data of the answer section in order.
func (r *Resolver) Lookup(ctx context.Context, name, qtype string) ([]string, error) {
	query, err := makeQuery(name, qtype)
	if err != nil {
		return nil, err
	}

	body, err := r.exchange(ctx, query)
	if err != nil {
		return nil, err
	}

	return parseAnswer(body)
}

// Close releases the transport. It is safe to call more than once.
func (r *Resolver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.closeFn != nil {
			err = r.closeFn()
		}
	})
	return err
}

func (r *Resolver) exchange(ctx context.Context, query []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL(), bytes.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupFailure, err)
	}
	req.Header.Set("Content-Type", dnsMessageContentType)
	req.Header.Set("Accept", dnsMessageContentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", ErrLookupFailure, r.endpoint.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: unexpected HTTP response code (%s)", ErrLookupFailure, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, dns.MaxMsgSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrLookupFailure, err)
	}
	return body, nil
}

func makeQuery(name, qtype string) ([]byte, error) {
	t, ok := dns.StringToType[strings.ToUpper(qtype)]
	if !ok {
		return nil, fmt.Errorf("%w: invalid record type %q", ErrInvalidQuery, qtype)
	}

	fqdn := dns.Fqdn(name)
	if _, ok := dns.IsDomainName(fqdn); !ok || fqdn == "." {
		return nil, fmt.Errorf("%w: invalid name %q", ErrInvalidQuery, name)
	}

	m := new(dns.Msg)
	m.SetQuestion(fqdn, t)
	// RFC 8484 section 4.1.
	m.Id = 0

	packed, err := m.Pack()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return packed, nil
}

func parseAnswer(body []byte) ([]string, error) {
	m := new(dns.Msg)
	if err := m.Unpack(body); err != nil {
		return nil, fmt.Errorf("%w: returned DNS message is malformed: %w", ErrLookupFailure, err)
	}
	if m.Rcode != dns.RcodeSuccess {
		return nil, &RcodeError{Rcode: m.Rcode}
	}
	if len(m.Answer) == 0 {
		return nil, fmt.Errorf("%w: answer data is empty", ErrLookupFailure)
	}

	data := make([]string, 0, len(m.Answer))
	for _, rr := range m.Answer {
		data = append(data, rdata(rr))
	}
	return data, nil
}

// rdata returns the presentation form of rr without its header.
func rdata(rr dns.RR) string {
	return strings.TrimPrefix(rr.String(), rr.Header().String())
}
