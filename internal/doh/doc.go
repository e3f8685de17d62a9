// Package doh implements a DNS-over-HTTPS stub resolver.
//
// Queries are encoded in DNS wire format with github.com/miekg/dns, POSTed as
// application/dns-message (RFC 8484) and the answer section of the response is
// returned as record-data strings. The resolver never caches: every Lookup is
// a fresh round trip to the configured endpoint.
package doh
