package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
bus:
  dsn: "mqtt://svc-a@broker.local:1883"
  keep_alive: 30
  ping_delay: 2
database:
  path: "/tmp/test.db"
event_log:
  enabled: true
  ttl: 24
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Bus.DSN != "mqtt://svc-a@broker.local:1883" {
		t.Errorf("Bus.DSN = %q", cfg.Bus.DSN)
	}
	if cfg.Bus.KeepAlive != 30 || cfg.Bus.PingDelay != 2 {
		t.Errorf("Bus keep_alive/ping_delay = %d/%d, want 30/2", cfg.Bus.KeepAlive, cfg.Bus.PingDelay)
	}
	if cfg.Bus.ReconnectDelay != 3 {
		t.Errorf("Bus.ReconnectDelay = %d, want default 3", cfg.Bus.ReconnectDelay)
	}
	if cfg.EventLog.GetTTL() != 24*time.Hour {
		t.Errorf("EventLog.GetTTL() = %v, want 24h", cfg.EventLog.GetTTL())
	}
	if cfg.Bus.ClientName() != "svc-a" {
		t.Errorf("Bus.ClientName() = %q, want svc-a", cfg.Bus.ClientName())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestLoad_BusSchema(t *testing.T) {
	tests := []struct {
		name    string
		bus     string
		wantErr string
	}{
		{
			name:    "unknown key",
			bus:     "  dsn: \"mqtt://a@h:1883\"\n  keepalive: 10\n",
			wantErr: "keepalive",
		},
		{
			name:    "keep_alive below minimum",
			bus:     "  dsn: \"mqtt://a@h:1883\"\n  keep_alive: 0\n",
			wantErr: "keep_alive",
		},
		{
			name:    "ping_delay wrong type",
			bus:     "  dsn: \"mqtt://a@h:1883\"\n  ping_delay: \"soon\"\n",
			wantErr: "ping_delay",
		},
		{
			name:    "monitor not a list",
			bus:     "  dsn: \"mqtt://a@h:1883\"\n  monitor: \"sensors/#\"\n",
			wantErr: "monitor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "bus:\n"+tt.bus))
			if err == nil {
				t.Fatal("Load() expected schema error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
			if !errors.Is(err, transport.ErrConfiguration) {
				t.Errorf("Load() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

// TestLoad_SecureSchemeWithoutTLSFiles checks the error class at load time,
// before any dialer is built.
func TestLoad_SecureSchemeWithoutTLSFiles(t *testing.T) {
	content := `
site:
  id: "test-site"
bus:
  dsn: "mqtts://core@broker.local:8883"
`
	_, err := Load(writeConfig(t, content))
	if !errors.Is(err, transport.ErrConfiguration) {
		t.Fatalf("Load() error = %v, want ErrConfiguration", err)
	}
	if !strings.Contains(err.Error(), "bus.cafile") {
		t.Errorf("Load() error = %v, want mention of bus.cafile", err)
	}
}

func TestLoad_Monitor(t *testing.T) {
	cfg, err := Load(writeConfig(t, "site:\n  id: s\nbus:\n  dsn: \"nats://a@h:4222\"\n  monitor:\n    - \"sensors/#\"\n    - \"lights/+/state\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Bus.Monitor) != 2 || cfg.Bus.Monitor[1] != "lights/+/state" {
		t.Errorf("Bus.Monitor = %v, want [sensors/# lights/+/state]", cfg.Bus.Monitor)
	}
	if cfg.Bus.StatusTopic != "graylogic/bus/%s/status" {
		t.Errorf("Bus.StatusTopic = %q, want default", cfg.Bus.StatusTopic)
	}
}

func TestLoad_NoBusSectionUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "site:\n  id: s\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bus.DSN == "" {
		t.Error("Bus.DSN is empty, want default")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Bus.DSN = "mqtt://core@localhost:1883"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"missing dsn", func(c *Config) { c.Bus.DSN = "" }, "bus.dsn is required"},
		{"unknown scheme", func(c *Config) { c.Bus.DSN = "amqp://u@h:5672" }, "not supported"},
		{"no host", func(c *Config) { c.Bus.DSN = "mqtt://" }, "must include a host"},
		{"secure without tls files", func(c *Config) { c.Bus.DSN = "mqtts://u@h:8883" }, "cafile"},
		{"secure with partial tls files", func(c *Config) {
			c.Bus.DSN = "ssl://u@h:8883"
			c.Bus.CAFile = "/ca.pem"
			c.Bus.CertFile = "/cert.pem"
		}, "keyfile"},
		{"secure with tls files", func(c *Config) {
			c.Bus.DSN = "wss://u@h:443"
			c.Bus.CAFile = "/ca.pem"
			c.Bus.CertFile = "/cert.pem"
			c.Bus.KeyFile = "/key.pem"
		}, ""},
		{"nats", func(c *Config) { c.Bus.DSN = "nats://svc@localhost:4222" }, ""},
		{"keep_alive zero", func(c *Config) { c.Bus.KeepAlive = 0 }, "bus.keep_alive"},
		{"ping_delay zero", func(c *Config) { c.Bus.PingDelay = 0 }, "bus.ping_delay"},
		{"event log without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"event log disabled without path", func(c *Config) {
			c.EventLog.Enabled = false
			c.Database.Path = ""
		}, ""},
		{"influx without url", func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.Org = "o"
			c.InfluxDB.Bucket = "b"
		}, "influxdb.url"},
		{"metrics bad port", func(c *Config) { c.Metrics.Port = 70000 }, "metrics.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
			if !errors.Is(err, transport.ErrConfiguration) {
				t.Errorf("Validate() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestBusConfig_Durations(t *testing.T) {
	b := BusConfig{KeepAlive: 60, PingDelay: 5, ReconnectDelay: 3, ConnectTimeout: 10}

	if got := b.GetKeepAlive(); got != 60*time.Second {
		t.Errorf("GetKeepAlive() = %v, want 60s", got)
	}
	if got := b.GetPingDelay(); got != 5*time.Second {
		t.Errorf("GetPingDelay() = %v, want 5s", got)
	}
	if got := b.GetReconnectDelay(); got != 3*time.Second {
		t.Errorf("GetReconnectDelay() = %v, want 3s", got)
	}
	if got := b.GetConnectTimeout(); got != 10*time.Second {
		t.Errorf("GetConnectTimeout() = %v, want 10s", got)
	}
}

func TestSchemes(t *testing.T) {
	tests := []struct {
		scheme string
		mqtt   bool
		nats   bool
		secure bool
	}{
		{"mqtt", true, false, false},
		{"tcp", true, false, false},
		{"mqtts", true, false, true},
		{"ssl", true, false, true},
		{"tls", true, false, true},
		{"ws", true, false, false},
		{"wss", true, false, true},
		{"nats", false, true, false},
		{"nats+tls", false, true, true},
		{"http", false, false, false},
	}

	for _, tt := range tests {
		if got := IsMQTTScheme(tt.scheme); got != tt.mqtt {
			t.Errorf("IsMQTTScheme(%q) = %v, want %v", tt.scheme, got, tt.mqtt)
		}
		if got := IsNATSScheme(tt.scheme); got != tt.nats {
			t.Errorf("IsNATSScheme(%q) = %v, want %v", tt.scheme, got, tt.nats)
		}
		if got := IsSecureScheme(tt.scheme); got != tt.secure {
			t.Errorf("IsSecureScheme(%q) = %v, want %v", tt.scheme, got, tt.secure)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_BUS_DSN", "mqtts://env@broker:8883")
	t.Setenv("GRAYLOGIC_BUS_CAFILE", "/etc/ca.pem")
	t.Setenv("GRAYLOGIC_BUS_CERTFILE", "/etc/cert.pem")
	t.Setenv("GRAYLOGIC_BUS_KEYFILE", "/etc/key.pem")
	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_METRICS_PORT", "9999")
	t.Setenv("GRAYLOGIC_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Bus.DSN != "mqtts://env@broker:8883" {
		t.Errorf("Bus.DSN = %q, want %q", cfg.Bus.DSN, "mqtts://env@broker:8883")
	}
	if !cfg.Bus.HasTLSFiles() {
		t.Error("Bus.HasTLSFiles() = false, want true")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Metrics.Port != 9999 {
		t.Errorf("Metrics.Port = %d, want 9999", cfg.Metrics.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.Bus.KeepAlive != 60 {
		t.Errorf("defaultConfig Bus.KeepAlive = %d, want 60", cfg.Bus.KeepAlive)
	}
	if cfg.Bus.PingDelay != 5 {
		t.Errorf("defaultConfig Bus.PingDelay = %d, want 5", cfg.Bus.PingDelay)
	}
	if !cfg.Bus.CleanSession {
		t.Error("defaultConfig Bus.CleanSession = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig Validate() error = %v", err)
	}
}

// TestLoad_ExampleConfig keeps the shipped example in sync with the schema.
func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load(configs/config.yaml) error = %v", err)
	}

	if len(cfg.Bus.Monitor) != 1 || cfg.Bus.Monitor[0] != "graylogic/#" {
		t.Errorf("Bus.Monitor = %v, want [graylogic/#]", cfg.Bus.Monitor)
	}
	if cfg.InfluxDB.Enabled {
		t.Error("example InfluxDB.Enabled = true, want false")
	}
}
