package proxy

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ConnEntry is one line of the connection log.
type ConnEntry struct {
	Start    time.Time
	Client   string
	Method   string
	Target   string
	Resolved string
	Status   int
	Err      error
}

// ConnLogConfig describes where connection log lines go and how the file is
// rotated.
type ConnLogConfig struct {
	// FileName "/dev/stdout" writes to standard output without rotation.
	FileName string
	// Format is "tsv" or "ltsv".
	Format string

	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

// ConnLog writes one line per proxied connection.
type ConnLog struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

// NewConnLog opens the connection log described by cfg.
func NewConnLog(cfg ConnLogConfig) (*ConnLog, error) {
	format := cfg.Format
	switch format {
	case "":
		format = "tsv"
	case "tsv", "ltsv":
	default:
		return nil, fmt.Errorf("unsupported connection log format %q", cfg.Format)
	}

	var w io.Writer
	if cfg.FileName == "/dev/stdout" {
		w = os.Stdout
	} else {
		if st, err := os.Stat(cfg.FileName); err == nil && st.IsDir() {
			return nil, fmt.Errorf("connection log %s is a directory", cfg.FileName)
		}
		w = &lumberjack.Logger{
			LocalTime:  true,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Filename:   cfg.FileName,
			Compress:   true,
		}
	}

	return newConnLogWriter(w, format), nil
}

func newConnLogWriter(w io.Writer, format string) *ConnLog {
	return &ConnLog{w: w, format: format}
}

// Log appends e. A nil ConnLog discards it.
func (l *ConnLog) Log(e *ConnEntry) {
	if l == nil {
		return
	}

	outcome := "ok"
	if e.Err != nil {
		outcome = e.Err.Error()
	}
	status := "-"
	if e.Status != 0 {
		status = strconv.Itoa(e.Status)
	}
	elapsed := time.Since(e.Start).Round(time.Millisecond)

	var line string
	if l.format == "ltsv" {
		line = fmt.Sprintf("time:%d\thost:%s\tmethod:%s\ttarget:%s\tresolved:%s\tstatus:%s\tduration:%s\tmessage:%s\n",
			e.Start.Unix(), e.Client, dash(e.Method), strconv.Quote(e.Target), dash(e.Resolved), status, elapsed, strconv.Quote(outcome))
	} else {
		year, month, day := e.Start.Date()
		hour, minute, second := e.Start.Clock()
		ts := fmt.Sprintf("[%d-%02d-%02d %02d:%02d:%02d]", year, int(month), day, hour, minute, second)
		line = fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ts, e.Client, dash(e.Method), strconv.Quote(e.Target), dash(e.Resolved), status, elapsed, strconv.Quote(outcome))
	}

	l.mu.Lock()
	_, _ = io.WriteString(l.w, line)
	l.mu.Unlock()
}

// Close closes the underlying file, if any.
func (l *ConnLog) Close() error {
	if l == nil {
		return nil
	}
	if c, ok := l.w.(io.Closer); ok && l.w != os.Stdout {
		return c.Close()
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
