// Package fragment splits the first outbound chunk of a tunnel into several
// randomly sized writes separated by a short delay.
//
// Middleboxes that inspect a TLS ClientHello expect it in a single TCP
// segment. Writing it as several segments on a no-delay socket hides the SNI
// from single-packet inspection without changing a single payload byte.
package fragment
