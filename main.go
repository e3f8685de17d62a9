package main

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"maps"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedisct1/dlog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/dohfrag/internal/config"
	"github.com/die-net/dohfrag/internal/dialer"
	"github.com/die-net/dohfrag/internal/doh"
	"github.com/die-net/dohfrag/internal/hosts"
	"github.com/die-net/dohfrag/internal/proxy"
	"github.com/die-net/dohfrag/internal/socks5"
	"github.com/die-net/dohfrag/internal/tproxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	listenAddress string
	listenPort    int
	dohURL        string
	dohViaProxy   bool
	dohTimeout    time.Duration
	dohCAFile     string

	fragments     int
	fragmentDelay time.Duration

	offlineDNS map[string]string
	hostsFile  string

	upstream     string
	socksListen  string
	socksAuth    string
	tproxyListen string

	dialTimeout        time.Duration
	negotiationTimeout time.Duration
	tcpKeepAlive       string

	maxConns    int
	acceptRate  float64
	acceptBurst int

	connLog       string
	connLogFormat string

	configPath string
	debug      bool
}

func run() error {
	var o options

	fs := pflag.CommandLine
	fs.StringVar(&o.listenAddress, "listen-address", proxy.DefaultListenAddress, "HTTP proxy listen address")
	fs.IntVar(&o.listenPort, "listen-port", proxy.DefaultListenPort, "HTTP proxy listen port (0 picks a free port)")
	fs.StringVar(&o.dohURL, "doh-url", doh.DefaultURL, "DoH resolver: https://host/path | h3://host/path | sdns://stamp")
	fs.BoolVar(&o.dohViaProxy, "doh-via-proxy", true, "Send DoH requests through this proxy so their handshake is fragmented too")
	fs.DurationVar(&o.dohTimeout, "doh-timeout", 10*time.Second, "Timeout for one DoH lookup")
	fs.StringVar(&o.dohCAFile, "doh-ca-file", "", "PEM file of extra CAs trusted for the DoH resolver")
	fs.IntVar(&o.fragments, "fragments", proxy.DefaultFragments, "Number of pieces the first tunnel chunk is split into")
	fs.DurationVar(&o.fragmentDelay, "fragment-delay", proxy.DefaultFragmentDelay, "Delay between fragments")
	fs.StringToStringVar(&o.offlineDNS, "offline-dns", nil, "Pinned host=ipv4 entries that bypass DoH (repeatable)")
	fs.StringVar(&o.hostsFile, "hosts-file", "", "hosts(5) file merged into the offline table. Empty disables.")
	fs.StringVar(&o.upstream, "upstream", "direct://", "Backend dialer: direct:// | http://[user:pass@]host:port | https://[user:pass@]host:port | socks5://[user:pass@]host:port")
	fs.StringVar(&o.socksListen, "socks5-listen", "", "SOCKS5 listen address (e.g. 127.0.0.1:1080). Empty disables.")
	fs.StringVar(&o.socksAuth, "socks5-auth", "", "SOCKS5 user:pass required from clients. Empty allows no-auth.")
	fs.StringVar(&o.tproxyListen, "tproxy-listen", "", "Transparent proxy listen address (e.g. 127.0.0.1:4526). Empty disables.")
	fs.DurationVar(&o.dialTimeout, "dial-timeout", proxy.DefaultDialTimeout, "Timeout for backend TCP connect")
	fs.DurationVar(&o.negotiationTimeout, "negotiation-timeout", 10*time.Second, "Timeout for SOCKS5 and upstream proxy negotiation")
	fs.StringVar(&o.tcpKeepAlive, "tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.IntVar(&o.maxConns, "max-conns", 0, "Maximum concurrent connections. 0 is unlimited.")
	fs.Float64Var(&o.acceptRate, "accept-rate", 0, "Maximum accepted connections per second. 0 is unlimited.")
	fs.IntVar(&o.acceptBurst, "accept-burst", 64, "Accept burst allowed above --accept-rate")
	fs.StringVar(&o.connLog, "conn-log", "", "Connection log file, or /dev/stdout. Empty disables.")
	fs.StringVar(&o.connLogFormat, "conn-log-format", "tsv", "Connection log format: tsv | ltsv")
	fs.StringVar(&o.configPath, "config", "", "YAML or TOML config file. Flags given on the command line take precedence.")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug logging and per-connection error logging")

	if !tproxy.IsSupported {
		_ = fs.MarkHidden("tproxy-listen")
	}

	fs.SortFlags = false
	pflag.Parse()

	if o.configPath != "" {
		f, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		o.merge(f, fs.Changed)
	}

	dlog.Init("dohfrag", dlog.SeverityNotice, "DAEMON")
	if o.debug {
		dlog.SetLogLevel(dlog.SeverityDebug)
	}

	ka, err := parseTCPKeepAlive(o.tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	offline, err := o.offlineTable()
	if err != nil {
		return err
	}

	var dohRoots *x509.CertPool
	if o.dohCAFile != "" {
		if dohRoots, err = loadCertPool(o.dohCAFile); err != nil {
			return err
		}
	}

	d, err := dialer.New(dialer.Config{
		DialTimeout:        o.dialTimeout,
		NegotiationTimeout: o.negotiationTimeout,
		KeepAlive:          ka,
	}, o.upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	var connLog *proxy.ConnLog
	if o.connLog != "" {
		connLog, err = proxy.NewConnLog(proxy.ConnLogConfig{
			FileName:   o.connLog,
			Format:     o.connLogFormat,
			MaxSizeMB:  10,
			MaxAgeDays: 7,
			MaxBackups: 1,
		})
		if err != nil {
			return err
		}
		defer connLog.Close()
	}

	cfg := proxy.DefaultConfig()
	cfg.ListenAddress = o.listenAddress
	cfg.ListenPort = o.listenPort
	cfg.DoHURL = o.dohURL
	cfg.DoHViaProxy = o.dohViaProxy
	cfg.DoHTimeout = o.dohTimeout
	cfg.DoHRootCAs = dohRoots
	cfg.Fragments = o.fragments
	cfg.FragmentDelay = o.fragmentDelay
	cfg.Offline = offline
	cfg.Debug = o.debug
	cfg.DialTimeout = o.dialTimeout
	cfg.NegotiationTimeout = o.negotiationTimeout
	cfg.KeepAlive = ka
	cfg.Dialer = d
	cfg.MaxConns = o.maxConns
	cfg.AcceptRate = o.acceptRate
	cfg.AcceptBurst = o.acceptBurst
	cfg.ConnLog = connLog

	srv, err := proxy.NewServer(cfg)
	if err != nil {
		return err
	}
	if _, err := srv.Listen(); err != nil {
		return err
	}
	if offline.Len() > 0 {
		dlog.Noticef("Loaded %d offline DNS entries", offline.Len())
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	context.AfterFunc(ctx, func() {
		_ = srv.Stop()
	})
	g.Go(func() error {
		if err := srv.Serve(); err != nil {
			return fmt.Errorf("http proxy serve: %w", err)
		}
		return nil
	})

	if o.socksListen != "" {
		ln, err := proxy.ListenTCP(ctx, "tcp", o.socksListen, ka)
		if err != nil {
			return fmt.Errorf("socks5 listen: %w", err)
		}
		user, pass, _ := strings.Cut(o.socksAuth, ":")
		s5 := proxy.NewSOCKS5Server(srv, socks5.Auth{Username: user, Password: pass})
		context.AfterFunc(ctx, func() {
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := s5.Serve(ln); err != nil {
				return fmt.Errorf("socks5 serve: %w", err)
			}
			return nil
		})
	}

	if o.tproxyListen != "" {
		ln, err := tproxy.ListenTransparentTCP(o.tproxyListen, ka)
		if err != nil {
			return fmt.Errorf("tproxy listen: %w", err)
		}
		tsrv := tproxy.NewServer(srv)
		context.AfterFunc(ctx, func() {
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := tsrv.Serve(ln); err != nil {
				return fmt.Errorf("tproxy serve: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()

	dlog.Notice("Shutting down")
	return err
}

// merge copies values set in f into o, skipping flags given on the command
// line.
func (o *options) merge(f *config.File, changed func(string) bool) {
	str := func(name string, dst *string, v string) {
		if v != "" && !changed(name) {
			*dst = v
		}
	}
	num := func(name string, dst *int, v int) {
		if v != 0 && !changed(name) {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration, v config.Duration) {
		if v != 0 && !changed(name) {
			*dst = time.Duration(v)
		}
	}
	toggle := func(name string, dst *bool, v *bool) {
		if v != nil && !changed(name) {
			*dst = *v
		}
	}

	str("listen-address", &o.listenAddress, f.ListenAddress)
	num("listen-port", &o.listenPort, f.ListenPort)
	str("doh-url", &o.dohURL, f.DoHURL)
	toggle("doh-via-proxy", &o.dohViaProxy, f.DoHViaProxy)
	dur("doh-timeout", &o.dohTimeout, f.DoHTimeout)
	str("doh-ca-file", &o.dohCAFile, f.DoHCAFile)
	num("fragments", &o.fragments, f.Fragments)
	dur("fragment-delay", &o.fragmentDelay, f.FragmentDelay)
	str("hosts-file", &o.hostsFile, f.HostsFile)
	str("upstream", &o.upstream, f.Upstream)
	str("socks5-listen", &o.socksListen, f.SOCKS5Listen)
	str("socks5-auth", &o.socksAuth, f.SOCKS5Auth)
	str("tproxy-listen", &o.tproxyListen, f.TProxyListen)
	dur("dial-timeout", &o.dialTimeout, f.DialTimeout)
	dur("negotiation-timeout", &o.negotiationTimeout, f.NegotiationTimeout)
	str("tcp-keepalive", &o.tcpKeepAlive, f.TCPKeepAlive)
	num("max-conns", &o.maxConns, f.MaxConns)
	num("accept-burst", &o.acceptBurst, f.AcceptBurst)
	str("conn-log", &o.connLog, f.ConnLog)
	str("conn-log-format", &o.connLogFormat, f.ConnLogFormat)
	toggle("debug", &o.debug, f.Debug)

	if f.AcceptRate != 0 && !changed("accept-rate") {
		o.acceptRate = f.AcceptRate
	}

	// Command-line entries win over file entries for the same host.
	if len(f.OfflineDNS) > 0 {
		merged := maps.Clone(f.OfflineDNS)
		maps.Copy(merged, o.offlineDNS)
		o.offlineDNS = merged
	}
}

// offlineTable builds the offline table from the hosts file and the
// --offline-dns entries, which take precedence.
func (o *options) offlineTable() (*hosts.Table, error) {
	entries := make(map[string]string)
	if o.hostsFile != "" {
		fromFile, err := hosts.LoadFile(o.hostsFile)
		if err != nil {
			return nil, err
		}
		maps.Copy(entries, fromFile)
	}
	maps.Copy(entries, o.offlineDNS)

	return hosts.New(entries)
}

// loadCertPool returns the system roots plus the certificates in the PEM
// file at path.
func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("doh ca file: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("doh ca file %s: no certificates found", path)
	}
	return pool, nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
