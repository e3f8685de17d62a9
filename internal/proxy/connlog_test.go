package proxy

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConnLogFormats(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 5, 7, 8, 9, 0, time.Local)
	entry := &ConnEntry{
		Start:    start,
		Client:   "127.0.0.1:5555",
		Method:   "CONNECT",
		Target:   "example.com:443",
		Resolved: "93.184.216.34:443",
		Status:   200,
	}

	var tsv bytes.Buffer
	newConnLogWriter(&tsv, "tsv").Log(entry)
	fields := strings.Split(strings.TrimSuffix(tsv.String(), "\n"), "\t")
	if len(fields) != 8 {
		t.Fatalf("got %d fields: %q", len(fields), tsv.String())
	}
	if fields[0] != "[2024-03-05 07:08:09]" || fields[3] != `"example.com:443"` || fields[5] != "200" || fields[7] != `"ok"` {
		t.Fatalf("unexpected tsv line %q", tsv.String())
	}

	var ltsv bytes.Buffer
	entry.Err = errors.New("boom")
	entry.Status = 0
	newConnLogWriter(&ltsv, "ltsv").Log(entry)
	line := ltsv.String()
	for _, want := range []string{"host:127.0.0.1:5555", "method:CONNECT", "status:-", `message:"boom"`} {
		if !strings.Contains(line, want) {
			t.Errorf("ltsv line %q missing %q", line, want)
		}
	}
}

func TestConnLogNil(t *testing.T) {
	t.Parallel()

	var l *ConnLog
	l.Log(&ConnEntry{})
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewConnLog(t *testing.T) {
	t.Parallel()

	if _, err := NewConnLog(ConnLogConfig{FileName: "/dev/stdout", Format: "json"}); err == nil {
		t.Fatal("expected format error")
	}
	if _, err := NewConnLog(ConnLogConfig{FileName: t.TempDir()}); err == nil {
		t.Fatal("expected directory error")
	}

	l, err := NewConnLog(ConnLogConfig{FileName: filepath.Join(t.TempDir(), "conn.log"), MaxSizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}
	l.Log(&ConnEntry{Start: time.Now(), Client: "c"})
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}
