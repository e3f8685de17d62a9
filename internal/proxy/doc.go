// Package proxy implements the dohfrag proxy engine.
//
// A Server accepts plaintext HTTP proxy connections, answers CONNECT requests
// by resolving the destination through the offline table or a DoH resolver,
// and relays the tunnel with the first client chunk split into randomly sized
// fragments. Plain HTTP requests are redirected to https. SOCKS5Server feeds
// the same resolve, dial and tunnel pipeline from a SOCKS5 handshake.
package proxy
