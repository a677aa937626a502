package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// Config type
type Config struct {
	Version          string
	Bind             string
	API              string
	LogLevel         string
	RootServers      []string
	FallbackServers  []string
	Timeout          Duration
	Retries          int
	MaxHops          int
	CacheSize        int
	MinTTL           uint32
	MaxTTL           uint32
	NegativeTTL      uint32
	CacheFile        string
	SnapshotInterval Duration
	Nullroute        string
	Nullroutev6      string
	AccessList       []string
	ClientRateLimit  int
	Blocklist        []string
	BlockListDir     string
	DnstapSocket     string
	DnstapIdentity   string

	Records []Record
	Rules   []Rule

	sVersion string
}

// Record is a local record served with authority.
type Record struct {
	Name     string
	Type     string
	TTL      uint32
	Value    string
	Priority uint16
}

// Rule is a pattern based override. Action is one of nxdomain, null, allow
// or rewrite; rewrites use Type, TTL, Value and Priority like a Record.
type Rule struct {
	Pattern  string
	Action   string
	Type     string
	TTL      uint32
	Value    string
	Priority uint16
}

// ServerVersion return current server version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText for duration type
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# Address to bind to for the DNS server (udp and tcp)
bind = ":53"

# Address to bind to for the http API server, left blank for disabled
api = "127.0.0.1:8080"

# What kind of information should be logged, Log verbosity level [error,warn,info,debug]
loglevel = "info"

# Root zone ipv4 servers
rootservers = [
"198.41.0.4:53",
"170.247.170.2:53",
"192.33.4.12:53",
"199.7.91.13:53",
"192.203.230.10:53",
"192.5.5.241:53",
"192.112.36.4:53",
"198.97.190.53:53",
"192.36.148.17:53",
"192.58.128.30:53",
"193.0.14.129:53",
"199.7.83.42:53",
"202.12.27.33:53"
]

# Forwarders used when recursion fails, left blank for disabled. Example: "1.1.1.1:53"
fallbackservers = [
]

# Network timeout for each outbound exchange
timeout = "3s"

# Alternate servers tried after a failed exchange
retries = 2

# Maximum number of steps for a single resolution
maxhops = 20

# Cache size (total entries in cache)
cachesize = 10000

# TTL clamp for cached answers in seconds
minttl = 5
maxttl = 86400

# TTL in seconds for negative answers without an SOA record
negativettl = 300

# Cache snapshot file, left blank for disabled
cachefile = "cache.cbor"

# How often the cache snapshot is written
snapshotinterval = "5m"

# IPv4 address returned for blocked names with the null action
nullroute = "0.0.0.0"

# IPv6 address returned for blocked names with the null action
nullroutev6 = "::"

# Which clients allowed to make queries
accesslist = [
"0.0.0.0/0",
"::0/0"
]

# Client ip address based ratelimit per minute, 0 for disabled
clientratelimit = 0

# Manual blocklist entries
blocklist = []

# Directory of hosts-format blocklists (every file found is read)
blocklistdir = "bl"

# Unix socket of a dnstap collector, left blank for disabled
# dnstapsocket = "/var/run/dnstap.sock"
# dnstapidentity = "simpledns"

# Local records
# [[records]]
# name = "router.lan"
# type = "A"
# ttl = 300
# value = "192.168.1.1"

# Pattern rules, evaluated in order
# [[rules]]
# pattern = '.*\.ads\.example\.com'
# action = "nxdomain"
`

// Load loads the given config file
func Load(cfgfile, version string) (*Config, error) {
	config := new(Config)

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if cfgfile == "" {
			return nil, fmt.Errorf("could not load config: empty path")
		}
		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	config.sVersion = version
	config.setDefaults()

	if config.MinTTL > config.MaxTTL {
		return nil, fmt.Errorf("could not load config: minttl %d is greater than maxttl %d", config.MinTTL, config.MaxTTL)
	}

	return config, nil
}

func (c *Config) setDefaults() {
	if c.Bind == "" {
		c.Bind = ":53"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timeout.Duration <= 0 {
		c.Timeout.Duration = 3 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 2
	}
	if c.MaxHops <= 0 {
		c.MaxHops = 20
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 10000
	}
	if c.MinTTL == 0 {
		c.MinTTL = 1
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = 86400
	}
	if c.NegativeTTL == 0 {
		c.NegativeTTL = 300
	}
	if c.SnapshotInterval.Duration <= 0 {
		c.SnapshotInterval.Duration = 5 * time.Minute
	}
	if c.Nullroute == "" {
		c.Nullroute = "0.0.0.0"
	}
	if c.Nullroutev6 == "" {
		c.Nullroutev6 = "::"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
}

// Default returns a config with every default applied and no file behind it.
func Default() *Config {
	c := &Config{Version: configver}
	c.setDefaults()
	return c
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %w", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %w", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
