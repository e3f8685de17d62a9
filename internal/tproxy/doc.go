// Package tproxy implements transparent listeners that feed redirected
// connections into the fragmented tunnel.
//
// On Linux the listener sets IP_TRANSPARENT. The original destination comes
// from SO_ORIGINAL_DST for NAT REDIRECT rules, or from the local address for
// TPROXY rules.
//
// On FreeBSD (IP_BINDANY) and OpenBSD (SO_BINDANY) the local address of the
// accepted connection is the original destination, as preserved by IPFW fwd
// or PF rdr-to.
//
// Elsewhere IsSupported is false and the listener returns an error.
package tproxy
