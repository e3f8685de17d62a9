package hosts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTableLookup(t *testing.T) {
	t.Parallel()

	tbl, err := New(map[string]string{
		"Example.COM":  "93.184.216.34",
		"blocked.org.": "10.0.0.1",
		"bücher.de":    "192.0.2.7",
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		host   string
		want   string
		wantOK bool
	}{
		{host: "example.com", want: "93.184.216.34", wantOK: true},
		{host: "EXAMPLE.com", want: "93.184.216.34", wantOK: true},
		{host: "blocked.org", want: "10.0.0.1", wantOK: true},
		{host: "xn--bcher-kva.de", want: "192.0.2.7", wantOK: true},
		{host: "www.example.com"},
		{host: ""},
	}
	for _, tt := range tests {
		got, ok := tbl.Lookup(tt.host)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Lookup(%q) = %q, %v; want %q, %v", tt.host, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNewRejectsNonIPv4(t *testing.T) {
	t.Parallel()

	for _, ip := range []string{"example.net", "2001:db8::1", "256.1.1.1", ""} {
		if _, err := New(map[string]string{"example.com": ip}); err == nil {
			t.Errorf("New accepted %q", ip)
		}
	}
}

func TestNilTable(t *testing.T) {
	t.Parallel()

	var tbl *Table
	if _, ok := tbl.Lookup("example.com"); ok {
		t.Fatal("nil table returned a hit")
	}
	if tbl.Len() != 0 {
		t.Fatal("nil table has entries")
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	const in = `
# comment line
127.0.0.1   localhost
::1         localhost ip6-localhost
93.184.216.34 Example.com www.example.com # trailing comment
10.0.0.1    example.com
garbage
`
	m, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{
		"localhost":       "127.0.0.1",
		"example.com":     "93.184.216.34",
		"www.example.com": "93.184.216.34",
	}
	if len(m) != len(want) {
		t.Fatalf("got %v want %v", m, want)
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s: got %q want %q", k, m[k], v)
		}
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hosts")
	if err := os.WriteFile(path, []byte("192.0.2.1 pinned.test\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if m["pinned.test"] != "192.0.2.1" {
		t.Fatalf("got %v", m)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
