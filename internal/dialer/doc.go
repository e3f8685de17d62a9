// Package dialer opens backend connections for tunnels.
//
// Backends are reached either directly, with Nagle's algorithm disabled so
// every fragment leaves as its own segment, or through an upstream HTTP
// CONNECT or SOCKS5 proxy.
package dialer
