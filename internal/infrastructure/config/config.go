package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Config is the root configuration structure for the Gray Logic bus service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Bus      BusConfig      `yaml:"bus"`
	Database DatabaseConfig `yaml:"database"`
	EventLog EventLogConfig `yaml:"event_log"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BusConfig contains broker connection settings.
//
// The DSN carries scheme, client name (user part), host and port, e.g.
// "mqtt://graylogic-core@localhost:1883". Secured schemes need all three
// TLS files.
type BusConfig struct {
	DSN      string `yaml:"dsn"`
	CAFile   string `yaml:"cafile"`
	CertFile string `yaml:"certfile"`
	KeyFile  string `yaml:"keyfile"`

	// KeepAlive is the MQTT keep-alive interval in seconds.
	// Default: 60
	KeepAlive int `yaml:"keep_alive"`

	// PingDelay is the ping timeout in seconds.
	// Default: 5
	PingDelay int `yaml:"ping_delay"`

	// ReconnectDelay is the fixed wait between failed connection attempts, in seconds.
	// Default: 3
	ReconnectDelay int `yaml:"reconnect_delay"`

	// ConnectTimeout bounds a single connection attempt, in seconds.
	// Default: 10
	ConnectTimeout int `yaml:"connect_timeout"`

	// CleanSession starts every connection without broker-side session state.
	// Default: true
	CleanSession bool `yaml:"clean_session"`

	// HandlerWarnThreshold logs a warning when this many handlers run at once.
	// 0 disables the warning. Default: 1000
	HandlerWarnThreshold int `yaml:"handler_warn_threshold"`

	// Monitor lists topic patterns the daemon subscribes to so their traffic
	// reaches the event log and traffic recorder.
	Monitor []string `yaml:"monitor"`

	// StatusTopic receives an online message on every (re)connect.
	// Empty disables it. "%s" is replaced with the client name.
	StatusTopic string `yaml:"status_topic"`
}

// DatabaseConfig contains SQLite settings for the event log.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// EventLogConfig controls recording of bus traffic.
type EventLogConfig struct {
	Enabled bool `yaml:"enabled"`

	// TTL is how long events are kept, in hours. 0 keeps them forever.
	// Default: 168 (one week)
	TTL int `yaml:"ttl"`

	// PruneInterval is how often expired events are removed, in minutes.
	// Default: 60
	PruneInterval int `yaml:"prune_interval"`

	// ReplayOnConnect republishes failed outbound events after every (re)connect.
	// Default: true
	ReplayOnConnect bool `yaml:"replay_on_connect"`

	// ReplayWindow limits replay to events newer than this many minutes.
	// Default: 60
	ReplayWindow int `yaml:"replay_window"`

	// QueueSize is the recorder buffer between the bus and SQLite.
	// Default: 1024
	QueueSize int `yaml:"queue_size"`
}

// InfluxDBConfig contains InfluxDB connection settings for traffic statistics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains the Prometheus/health HTTP endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// The raw bus section is also checked against a JSON schema, so unknown keys
// and wrongly typed values are reported before anything is dialled.
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_BUS_DSN, GRAYLOGIC_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validateBusSection(data); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Bus: BusConfig{
			DSN:                  "mqtt://graylogic-bus@localhost:1883",
			KeepAlive:            60,
			PingDelay:            5,
			ReconnectDelay:       3,
			ConnectTimeout:       10,
			CleanSession:         true,
			HandlerWarnThreshold: 1000,
			StatusTopic:          "graylogic/bus/%s/status",
		},
		Database: DatabaseConfig{
			Path:        "./data/bus-events.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		EventLog: EventLogConfig{
			Enabled:         true,
			TTL:             168,
			PruneInterval:   60,
			ReplayOnConnect: true,
			ReplayWindow:    60,
			QueueSize:       1024,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9102,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bus
	if v := os.Getenv("GRAYLOGIC_BUS_DSN"); v != "" {
		cfg.Bus.DSN = v
	}
	if v := os.Getenv("GRAYLOGIC_BUS_CAFILE"); v != "" {
		cfg.Bus.CAFile = v
	}
	if v := os.Getenv("GRAYLOGIC_BUS_CERTFILE"); v != "" {
		cfg.Bus.CertFile = v
	}
	if v := os.Getenv("GRAYLOGIC_BUS_KEYFILE"); v != "" {
		cfg.Bus.KeyFile = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Metrics
	if v := os.Getenv("GRAYLOGIC_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: wraps transport.ErrConfiguration and lists every problem, or nil
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	errs = append(errs, c.Bus.validate()...)

	if c.EventLog.Enabled {
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when event_log is enabled")
		}
		if c.EventLog.TTL < 0 {
			errs = append(errs, "event_log.ttl must not be negative")
		}
		if c.EventLog.PruneInterval < 1 {
			errs = append(errs, "event_log.prune_interval must be at least 1")
		}
		if c.EventLog.QueueSize < 1 {
			errs = append(errs, "event_log.queue_size must be at least 1")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", transport.ErrConfiguration, strings.Join(errs, "; "))
	}

	return nil
}

func (b BusConfig) validate() []string {
	var errs []string

	u, err := b.ParseDSN()
	if err != nil {
		errs = append(errs, err.Error())
	} else if IsSecureScheme(u.Scheme) && !b.HasTLSFiles() {
		errs = append(errs, fmt.Sprintf("bus.cafile, bus.certfile and bus.keyfile are all required for scheme %q", u.Scheme))
	}

	if b.KeepAlive < 1 {
		errs = append(errs, "bus.keep_alive must be at least 1")
	}
	if b.PingDelay < 1 {
		errs = append(errs, "bus.ping_delay must be at least 1")
	}
	if b.ReconnectDelay < 1 {
		errs = append(errs, "bus.reconnect_delay must be at least 1")
	}
	if b.ConnectTimeout < 1 {
		errs = append(errs, "bus.connect_timeout must be at least 1")
	}
	if b.HandlerWarnThreshold < 0 {
		errs = append(errs, "bus.handler_warn_threshold must not be negative")
	}

	return errs
}

// Supported DSN schemes.
var (
	mqttSchemes   = map[string]bool{"mqtt": true, "tcp": true, "mqtts": true, "ssl": true, "tls": true, "ws": true, "wss": true}
	natsSchemes   = map[string]bool{"nats": true, "nats+tls": true}
	secureSchemes = map[string]bool{"mqtts": true, "ssl": true, "tls": true, "wss": true, "nats+tls": true}
)

// IsMQTTScheme reports whether scheme is served by the MQTT transport.
func IsMQTTScheme(scheme string) bool { return mqttSchemes[scheme] }

// IsNATSScheme reports whether scheme is served by the NATS transport.
func IsNATSScheme(scheme string) bool { return natsSchemes[scheme] }

// IsSecureScheme reports whether scheme requires TLS material.
func IsSecureScheme(scheme string) bool { return secureSchemes[scheme] }

// ParseDSN parses and checks the connection string.
//
// Returns:
//   - *url.URL: the parsed DSN (scheme lower-cased)
//   - error: if the DSN is empty, unparsable, has no host or an unknown scheme
func (b BusConfig) ParseDSN() (*url.URL, error) {
	if b.DSN == "" {
		return nil, fmt.Errorf("bus.dsn is required")
	}

	u, err := url.Parse(b.DSN)
	if err != nil {
		return nil, fmt.Errorf("bus.dsn is invalid: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)

	if !IsMQTTScheme(u.Scheme) && !IsNATSScheme(u.Scheme) {
		return nil, fmt.Errorf("bus.dsn scheme %q is not supported", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("bus.dsn must include a host")
	}

	return u, nil
}

// ClientName returns the user part of the DSN, used as the client ID.
func (b BusConfig) ClientName() string {
	u, err := url.Parse(b.DSN)
	if err != nil || u.User == nil {
		return ""
	}
	return u.User.Username()
}

// HasTLSFiles reports whether all three TLS paths are set.
func (b BusConfig) HasTLSFiles() bool {
	return b.CAFile != "" && b.CertFile != "" && b.KeyFile != ""
}

// GetKeepAlive returns the keep-alive interval as a Duration.
func (b BusConfig) GetKeepAlive() time.Duration {
	return time.Duration(b.KeepAlive) * time.Second
}

// GetPingDelay returns the ping timeout as a Duration.
func (b BusConfig) GetPingDelay() time.Duration {
	return time.Duration(b.PingDelay) * time.Second
}

// GetReconnectDelay returns the reconnect delay as a Duration.
func (b BusConfig) GetReconnectDelay() time.Duration {
	return time.Duration(b.ReconnectDelay) * time.Second
}

// GetConnectTimeout returns the connect timeout as a Duration.
func (b BusConfig) GetConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeout) * time.Second
}

// GetTTL returns the event retention as a Duration (0 means keep forever).
func (e EventLogConfig) GetTTL() time.Duration {
	return time.Duration(e.TTL) * time.Hour
}

// GetPruneInterval returns the prune interval as a Duration.
func (e EventLogConfig) GetPruneInterval() time.Duration {
	return time.Duration(e.PruneInterval) * time.Minute
}

// GetReplayWindow returns the replay window as a Duration.
func (e EventLogConfig) GetReplayWindow() time.Duration {
	return time.Duration(e.ReplayWindow) * time.Minute
}

// GetAddr returns the metrics listen address.
func (m MetricsConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}
