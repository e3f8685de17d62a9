package socks5

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	ErrAuthFailed          = errors.New("socks5: authentication failed")
	ErrNoAcceptableMethod  = errors.New("socks5: no acceptable method")
	ErrCommandNotSupported = errors.New("socks5: command not supported")
)

// Target is the destination named in a CONNECT request. Host is either an
// IP literal or an unresolved domain name.
type Target struct {
	Host string
	Port int
	Atyp byte
}

// Address returns host:port.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// ServerNegotiate answers the client's method selection. When auth carries a
// username the client must authenticate with matching credentials.
func ServerNegotiate(conn net.Conn, auth Auth) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}

	if auth.Username == "" {
		if !containsMethod(neg.Methods, txsocks5.MethodNone) {
			writeNoAcceptableMethods(conn)
			return ErrNoAcceptableMethod
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(conn); err != nil {
			return fmt.Errorf("negotiation reply: %w", err)
		}
		return nil
	}

	if !containsMethod(neg.Methods, txsocks5.MethodUsernamePassword) {
		writeNoAcceptableMethods(conn)
		return ErrNoAcceptableMethod
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(conn); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}

	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("read userpass: %w", err)
	}
	if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
		_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
		return ErrAuthFailed
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
		return fmt.Errorf("write userpass: %w", err)
	}
	return nil
}

// ServerReadConnect reads the client's request. Anything other than CONNECT
// is answered with "command not supported" and ErrCommandNotSupported.
func ServerReadConnect(conn net.Conn) (Target, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return Target{}, fmt.Errorf("request: %w", err)
	}
	if req.Cmd != txsocks5.CmdConnect {
		WriteFailureReply(conn, RepCommandNotSupported, req.Atyp)
		return Target{}, ErrCommandNotSupported
	}

	host, port, err := net.SplitHostPort(req.Address())
	if err != nil {
		return Target{}, fmt.Errorf("request address: %w", err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Target{}, fmt.Errorf("request port: %w", err)
	}
	return Target{Host: host, Port: p, Atyp: req.Atyp}, nil
}

func containsMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}
