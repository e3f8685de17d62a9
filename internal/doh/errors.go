package doh

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

var (
	// ErrInvalidQuery is returned before any network access when the name or
	// record type cannot be encoded.
	ErrInvalidQuery = errors.New("doh: invalid query")

	// ErrLookupFailure covers transport errors, non-2xx HTTP statuses,
	// malformed responses, non-success response codes and empty answers.
	ErrLookupFailure = errors.New("doh: lookup failed")
)

// RcodeError reports a response whose code is not NOERROR. It matches
// ErrLookupFailure with errors.Is.
type RcodeError struct {
	Rcode int
}

// Name returns the mnemonic of the response code, e.g. "NXDOMAIN".
func (e *RcodeError) Name() string {
	if s, ok := dns.RcodeToString[e.Rcode]; ok {
		return s
	}
	return fmt.Sprintf("RCODE%d", e.Rcode)
}

func (e *RcodeError) Error() string {
	return fmt.Sprintf("doh: lookup failed with %s error", e.Name())
}

func (e *RcodeError) Is(target error) bool {
	return target == ErrLookupFailure
}
