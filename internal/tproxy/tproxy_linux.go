//go:build linux

package tproxy

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/die-net/dohfrag/internal/proxy"
)

// IsSupported is true on OSes with a transparent listener.
const IsSupported = true

// ListenTransparentTCP listens on addr with IP_TRANSPARENT enabled so the
// socket can accept connections redirected by iptables or nftables rules.
// It requires CAP_NET_ADMIN.
func ListenTransparentTCP(addr string, keepAliveConfig net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{Control: func(_, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}}
	ln, err := lc.Listen(context.Background(), "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tproxy %s: %w", addr, err)
	}
	return &proxy.KeepAliveListener{Listener: ln, KeepAliveConfig: keepAliveConfig}, nil
}

// OriginalDst returns the pre-redirection destination of c. SO_ORIGINAL_DST
// is tried first; without a NAT entry the local address is the destination.
func OriginalDst(c net.Conn) (*net.TCPAddr, error) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil, fmt.Errorf("original destination: not a TCP connection")
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("original destination: %w", err)
	}

	var (
		addr   *net.TCPAddr
		optErr error
	)
	err = rc.Control(func(fd uintptr) {
		// The kernel fills a sockaddr_in, which fits in an IPv6Mreq.
		mreq, err := unix.GetsockoptIPv6Mreq(int(fd), unix.IPPROTO_IP, unix.SO_ORIGINAL_DST)
		if err != nil {
			optErr = err
			return
		}
		raw := mreq.Multiaddr
		addr = &net.TCPAddr{
			IP:   net.IPv4(raw[4], raw[5], raw[6], raw[7]),
			Port: int(raw[2])<<8 | int(raw[3]),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("original destination: %w", err)
	}
	if optErr == nil {
		return addr, nil
	}

	if la, ok := tc.LocalAddr().(*net.TCPAddr); ok {
		return la, nil
	}
	return nil, fmt.Errorf("original destination: %w", optErr)
}
