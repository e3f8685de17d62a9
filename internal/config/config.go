// Package config loads the optional dohfrag configuration file. YAML and
// TOML are accepted, chosen by file extension.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File mirrors the command-line flags. Zero values mean "not set"; the
// booleans are pointers so an explicit false is kept.
type File struct {
	ListenAddress string   `yaml:"listen_address" toml:"listen_address"`
	ListenPort    int      `yaml:"listen_port" toml:"listen_port"`
	DoHURL        string   `yaml:"doh_url" toml:"doh_url"`
	DoHViaProxy   *bool    `yaml:"doh_via_proxy" toml:"doh_via_proxy"`
	DoHTimeout    Duration `yaml:"doh_timeout" toml:"doh_timeout"`
	DoHCAFile     string   `yaml:"doh_ca_file" toml:"doh_ca_file"`

	Fragments     int      `yaml:"fragments" toml:"fragments"`
	FragmentDelay Duration `yaml:"fragment_delay" toml:"fragment_delay"`

	OfflineDNS map[string]string `yaml:"offline_dns" toml:"offline_dns"`
	HostsFile  string            `yaml:"hosts_file" toml:"hosts_file"`

	Upstream     string `yaml:"upstream" toml:"upstream"`
	SOCKS5Listen string `yaml:"socks5_listen" toml:"socks5_listen"`
	SOCKS5Auth   string `yaml:"socks5_auth" toml:"socks5_auth"`
	TProxyListen string `yaml:"tproxy_listen" toml:"tproxy_listen"`

	DialTimeout        Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	NegotiationTimeout Duration `yaml:"negotiation_timeout" toml:"negotiation_timeout"`
	TCPKeepAlive       string   `yaml:"tcp_keepalive" toml:"tcp_keepalive"`

	MaxConns    int     `yaml:"max_conns" toml:"max_conns"`
	AcceptRate  float64 `yaml:"accept_rate" toml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst" toml:"accept_burst"`

	ConnLog       string `yaml:"conn_log" toml:"conn_log"`
	ConnLogFormat string `yaml:"conn_log_format" toml:"conn_log_format"`

	Debug *bool `yaml:"debug" toml:"debug"`
}

// Duration is a time.Duration written as a Go duration string ("1ms",
// "10s") in config files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	if v < 0 {
		return errors.New("duration must not be negative")
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Load reads the file at path. Unknown keys are an error.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse config %s: unknown key %q", path, undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q (want .yaml, .yml or .toml)", path, ext)
	}

	return &f, nil
}
