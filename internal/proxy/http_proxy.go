package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedRequest is returned when the first line lacks a method
	// and target.
	ErrMalformedRequest = errors.New("malformed proxy request")

	// ErrUnsupportedMethod is returned for methods that are neither
	// CONNECT nor redirected to https.
	ErrUnsupportedMethod = errors.New("unsupported method")
)

const (
	proxyAgent = "Proxy-agent: MyProxy/1.0\r\n"

	statusEstablished = "HTTP/1.1 200 Connection established\r\n" + proxyAgent + "\r\n"
	statusBadRequest  = "HTTP/1.1 400 Bad Request\r\n" + proxyAgent + "\r\n"
	statusBadGateway  = "HTTP/1.1 502 Bad Gateway (is IP filtered?)\r\n" + proxyAgent + "\r\n"
)

// Plain HTTP methods answered with a redirect to https.
var redirectMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"HEAD":    true,
	"OPTIONS": true,
	"PUT":     true,
	"DELETE":  true,
	"PATCH":   true,
	"TRACE":   true,
}

type request struct {
	method string
	target string

	// head holds bytes the client sent after the header block.
	head []byte
}

// parseRequest reads "METHOD target" from the first line of b. Headers are
// skipped.
func parseRequest(b []byte) (request, error) {
	line, _, _ := bytes.Cut(b, []byte("\n"))
	fields := strings.Fields(string(bytes.TrimSuffix(line, []byte("\r"))))
	if len(fields) < 2 {
		return request{}, ErrMalformedRequest
	}

	req := request{method: fields[0], target: fields[1]}
	if i := bytes.Index(b, []byte("\r\n\r\n")); i >= 0 && i+4 < len(b) {
		req.head = bytes.Clone(b[i+4:])
	}
	return req, nil
}

// splitTarget splits a CONNECT target into host and a valid port.
func splitTarget(target string) (string, string, error) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if host == "" {
		return "", "", fmt.Errorf("%w: empty host", ErrMalformedRequest)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return "", "", fmt.Errorf("%w: invalid port %q", ErrMalformedRequest, port)
	}
	return host, port, nil
}

func redirectResponse(location string) string {
	return "HTTP/1.1 302 Found\r\nLocation: " + location + "\r\n" + proxyAgent + "\r\n"
}

// statusLineFor maps a failed request to the reply sent before closing.
func statusLineFor(err error) string {
	if errors.Is(err, ErrUnsupportedMethod) {
		return statusBadRequest
	}
	return statusBadGateway
}

// serveHTTP runs one proxy connection from request read to tunnel teardown.
func (s *Server) serveHTTP(ctx context.Context, c net.Conn, entry *ConnEntry) error {
	defer c.Close()

	if s.cfg.RequestGrace > 0 {
		time.Sleep(s.cfg.RequestGrace)
	}

	bp := requestPool.Get()
	defer requestPool.Put(bp)
	buf := *bp

	n, err := c.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrMalformedRequest
		}
		entry.Status = 502
		_, _ = io.WriteString(c, statusLineFor(err))
		return err
	}

	req, err := parseRequest(buf[:n])
	if err != nil {
		entry.Status = 502
		_, _ = io.WriteString(c, statusLineFor(err))
		return err
	}
	entry.Method, entry.Target = req.method, req.target

	switch {
	case req.method == "CONNECT":
	case redirectMethods[req.method]:
		location := strings.ReplaceAll(req.target, "http://", "https://")
		entry.Status = 302
		_, err := io.WriteString(c, redirectResponse(location))
		return err
	default:
		entry.Status = 400
		_, _ = io.WriteString(c, statusLineFor(ErrUnsupportedMethod))
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, req.method)
	}

	host, port, err := splitTarget(req.target)
	if err != nil {
		entry.Status = 502
		_, _ = io.WriteString(c, statusLineFor(err))
		return err
	}

	backend, addr, err := s.dialTarget(ctx, host, port)
	entry.Resolved = addr
	if err != nil {
		entry.Status = 502
		_, _ = io.WriteString(c, statusLineFor(err))
		return err
	}

	if _, err := io.WriteString(c, statusEstablished); err != nil {
		_ = backend.Close()
		return err
	}
	entry.Status = 200

	return RunTunnel(ctx, c, backend, req.head, s.tunnelOptions())
}

func (s *Server) tunnelOptions() TunnelOptions {
	return TunnelOptions{
		Fragments:        s.cfg.Fragments,
		FragmentDelay:    s.cfg.FragmentDelay,
		FirstPacketGrace: s.cfg.FirstPacketGrace,
	}
}
