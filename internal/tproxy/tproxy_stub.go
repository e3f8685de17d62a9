//go:build !linux && !freebsd && !openbsd

package tproxy

import (
	"errors"
	"net"
)

// IsSupported is true on OSes with a transparent listener.
const IsSupported = false

var errUnsupported = errors.New("transparent proxy is not supported on this OS")

func ListenTransparentTCP(_ string, _ net.KeepAliveConfig) (net.Listener, error) {
	return nil, errUnsupported
}

func OriginalDst(_ net.Conn) (*net.TCPAddr, error) {
	return nil, errUnsupported
}
