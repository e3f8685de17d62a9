package proxy

import (
	"testing"
)

func TestIsIPv4(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"0.0.0.0", true},
		{"127.0.0.1", true},
		{"255.255.255.255", true},
		{"93.184.216.34", true},
		{"010.001.0.99", true},
		{"256.1.1.1", false},
		{"1.2.3", false},
		{"1.2.3.4.5", false},
		{"a.b.c.d", false},
		{"1.2.3.", false},
		{".1.2.3", false},
		{"1..2.3", false},
		{"1.2.3.0255", false},
		{" 1.2.3.4", false},
		{"1.2.3.-4", false},
		{"::1", false},
		{"example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsIPv4(tt.in); got != tt.want {
			t.Errorf("IsIPv4(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseIPv4Canonical(t *testing.T) {
	t.Parallel()

	addr, ok := parseIPv4("010.001.000.099")
	if !ok {
		t.Fatal("expected valid")
	}
	if got := addr.String(); got != "10.1.0.99" {
		t.Fatalf("got %s", got)
	}
}
