package main

import (
	"encoding/pem"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/die-net/dohfrag/internal/config"
)

func TestParseTCPKeepAlive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    net.KeepAliveConfig
		wantErr bool
	}{
		{in: "on", want: net.KeepAliveConfig{Enable: true}},
		{in: " OFF ", want: net.KeepAliveConfig{}},
		{in: "45:45:3", want: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 45 * time.Second, Count: 3}},
		{in: "", wantErr: true},
		{in: "1:2", wantErr: true},
		{in: "0:1:1", wantErr: true},
		{in: "a:1:1", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseTCPKeepAlive(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err=%v wantErr=%v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("%q: got %+v want %+v", tt.in, got, tt.want)
		}
	}
}

func TestOptionsMerge(t *testing.T) {
	t.Parallel()

	f := false
	file := &config.File{
		ListenPort:    8080,
		DoHURL:        "https://file.example/dns-query",
		DoHViaProxy:   &f,
		Fragments:     10,
		FragmentDelay: config.Duration(5 * time.Millisecond),
		OfflineDNS:    map[string]string{"a.example": "10.0.0.1", "b.example": "10.0.0.2"},
	}

	o := options{
		listenPort:  4525,
		dohURL:      "https://flag.example/dns-query",
		dohViaProxy: true,
		fragments:   300,
		offlineDNS:  map[string]string{"b.example": "10.0.0.3"},
	}
	changed := map[string]bool{"doh-url": true}

	o.merge(file, func(name string) bool { return changed[name] })

	if o.listenPort != 8080 || o.fragments != 10 || o.fragmentDelay != 5*time.Millisecond {
		t.Fatalf("file values not applied: %+v", o)
	}
	if o.dohURL != "https://flag.example/dns-query" {
		t.Fatalf("explicit flag overridden: %s", o.dohURL)
	}
	if o.dohViaProxy {
		t.Fatal("explicit false in file not applied")
	}
	if o.offlineDNS["a.example"] != "10.0.0.1" || o.offlineDNS["b.example"] != "10.0.0.3" {
		t.Fatalf("unexpected offline entries: %v", o.offlineDNS)
	}
}

func TestOfflineTable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hosts")
	if err := os.WriteFile(path, []byte("10.0.0.1 pinned.example\n10.0.0.9 both.example\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	o := options{hostsFile: path, offlineDNS: map[string]string{"both.example": "10.0.0.2"}}
	tbl, err := o.offlineTable()
	if err != nil {
		t.Fatal(err)
	}
	if ip, ok := tbl.Lookup("pinned.example"); !ok || ip != "10.0.0.1" {
		t.Fatalf("got %q %v", ip, ok)
	}
	if ip, _ := tbl.Lookup("both.example"); ip != "10.0.0.2" {
		t.Fatalf("flag entry should win, got %q", ip)
	}
}

func TestLoadCertPool(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	good := filepath.Join(dir, "ca.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(good, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	junk := filepath.Join(dir, "junk.pem")
	if err := os.WriteFile(junk, []byte("not a certificate\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := loadCertPool(good); err != nil {
		t.Fatalf("good file: %v", err)
	}
	if _, err := loadCertPool(junk); err == nil {
		t.Fatal("junk file: expected error")
	}
	if _, err := loadCertPool(filepath.Join(dir, "missing.pem")); err == nil {
		t.Fatal("missing file: expected error")
	}
}
