// Package hosts implements the offline override table: a read-only map from
// hostname to IPv4 literal consulted before any network resolution.
package hosts

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"

	"golang.org/x/net/idna"
)

// Table maps lowercase hostnames to IPv4 literals. It is never modified after
// New returns, so it is safe for concurrent use without locking.
type Table struct {
	m map[string]string
}

// New builds a Table from entries. Keys are normalized with Normalize; values
// must be IPv4 literals.
func New(entries map[string]string) (*Table, error) {
	t := &Table{m: make(map[string]string, len(entries))}
	for host, ip := range entries {
		addr, err := netip.ParseAddr(strings.TrimSpace(ip))
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("offline dns %q: %q is not an IPv4 address", host, ip)
		}
		t.m[Normalize(host)] = addr.String()
	}
	return t, nil
}

// Lookup returns the pinned address for host.
func (t *Table) Lookup(host string) (string, bool) {
	if t == nil {
		return "", false
	}
	ip, ok := t.m[Normalize(host)]
	return ip, ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.m)
}

// Normalize lowercases host, strips a trailing dot and converts IDNs to their
// ASCII form. Names idna rejects are only lowercased.
func Normalize(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if a, err := idna.Lookup.ToASCII(host); err == nil {
		return a
	}
	return host
}

// LoadFile reads a hosts(5) formatted file. Only IPv4 entries are kept; the
// first file line mentioning a name wins.
func LoadFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hosts file: %w", err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("hosts file %s: %w", path, err)
	}
	return m, nil
}

// Parse reads hosts(5) formatted entries from r.
func Parse(r io.Reader) (map[string]string, error) {
	m := make(map[string]string)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		addr, err := netip.ParseAddr(fields[0])
		if err != nil || !addr.Is4() {
			continue
		}
		for _, name := range fields[1:] {
			name = Normalize(name)
			if _, ok := m[name]; !ok {
				m[name] = addr.String()
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}
