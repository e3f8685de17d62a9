// Package socks5 holds the SOCKS5 handshake pieces shared by the dohfrag
// SOCKS front end and the SOCKS upstream dialer.
//
// It is a thin layer over the protocol types in github.com/txthinking/socks5.
// Only CONNECT is supported. Domain-name targets are returned unresolved so
// the caller can look them up through its own resolver.
package socks5
