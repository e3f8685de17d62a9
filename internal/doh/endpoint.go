package doh

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/jedisct1/go-dnsstamps"
)

// DefaultURL is used when no resolver is configured.
const DefaultURL = "https://cloudflare-dns.com/dns-query"

// Endpoint is a parsed resolver location.
type Endpoint struct {
	// URL is always an https URL.
	URL *url.URL

	// HTTP3 selects the QUIC transport (h3:// URLs).
	HTTP3 bool

	// Bootstrap is an IP address for URL's host taken from a DNS stamp, or
	// empty when the host has to be resolved by other means.
	Bootstrap string
}

// Host returns the resolver hostname without port.
func (e Endpoint) Host() string {
	return e.URL.Hostname()
}

// ParseEndpoint accepts https://, h3:// and sdns:// (DoH stamp) resolver
// locations. URLs are used as given; only a stamp without a path gets
// /dns-query.
func ParseEndpoint(s string) (Endpoint, error) {
	if strings.HasPrefix(s, "sdns:") {
		return parseStamp(s)
	}

	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid doh url: %w", err)
	}

	var ep Endpoint
	switch strings.ToLower(u.Scheme) {
	case "https":
	case "h3":
		ep.HTTP3 = true
	case "":
		return Endpoint{}, errors.New("invalid doh url: missing scheme")
	default:
		return Endpoint{}, fmt.Errorf("invalid doh url scheme: %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return Endpoint{}, errors.New("invalid doh url: missing host")
	}

	u.Scheme = "https"
	ep.URL = u
	return ep, nil
}

func parseStamp(s string) (Endpoint, error) {
	stamp, err := dnsstamps.NewServerStampFromString(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid doh stamp: %w", err)
	}
	if stamp.Proto != dnsstamps.StampProtoTypeDoH {
		return Endpoint{}, fmt.Errorf("invalid doh stamp: unsupported protocol %s", stamp.Proto.String())
	}
	if stamp.ProviderName == "" {
		return Endpoint{}, errors.New("invalid doh stamp: missing host name")
	}

	u := &url.URL{Scheme: "https", Host: stamp.ProviderName, Path: stamp.Path}
	if u.Path == "" {
		u.Path = "/dns-query"
	}

	ep := Endpoint{URL: u}
	if stamp.ServerAddrStr != "" {
		host, _, err := net.SplitHostPort(stamp.ServerAddrStr)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid doh stamp address: %w", err)
		}
		ep.Bootstrap = host
	}
	return ep, nil
}
