package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Dinodia sync core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Sync        SyncConfig        `yaml:"sync"`
	Statestream StatestreamConfig `yaml:"statestream"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
	Seed        SeedConfig        `yaml:"seed"`
}

// SeedConfig describes the admin account and automation connection the
// daemon creates when it starts against an empty database.
type SeedConfig struct {
	Enabled        bool   `yaml:"enabled"`
	AdminUsername  string `yaml:"admin_username"`
	BaseURL        string `yaml:"base_url"`
	CloudURL       string `yaml:"cloud_url"`
	LongLivedToken string `yaml:"long_lived_token"`
}

// DatabaseConfig contains SQLite settings for the relational backend
// (users, connections, access rules, overrides) and the key-value
// snapshot store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// GatewayConfig contains timeouts for calls to the home-automation server.
// All values are in milliseconds.
type GatewayConfig struct {
	RequestTimeout    int `yaml:"request_timeout"`
	HomeProbeTimeout  int `yaml:"home_probe_timeout"`
	CloudProbeTimeout int `yaml:"cloud_probe_timeout"`
}

// SyncConfig contains settings for the device synchronization cache.
type SyncConfig struct {
	// PollInterval is the foreground re-poll interval in seconds.
	// Clamped to [2, 12] by Validate.
	PollInterval int `yaml:"poll_interval"`

	// StorageNamespace prefixes all persisted cache keys.
	StorageNamespace string `yaml:"storage_namespace"`
}

// StatestreamConfig contains MQTT settings for the optional Home Assistant
// statestream listener. When disabled, the cache relies on polling alone.
type StatestreamConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	TopicPrefix string               `yaml:"topic_prefix"`
	Broker      StatestreamBroker    `yaml:"broker"`
	Auth        StatestreamAuth      `yaml:"auth"`
	QoS         int                  `yaml:"qos"`
	Reconnect   StatestreamReconnect `yaml:"reconnect"`
}

// StatestreamBroker contains MQTT broker connection details.
type StatestreamBroker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// StatestreamAuth contains MQTT authentication credentials.
type StatestreamAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StatestreamReconnect contains MQTT reconnection settings (seconds).
type StatestreamReconnect struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// TelemetryConfig contains InfluxDB settings for refresh telemetry.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr
}

// Poll interval bounds in seconds. The dashboard screens this core was built
// for poll between every 2s (device detail) and every 12s (overview).
const (
	minPollInterval = 2
	maxPollInterval = 12
)

// Load reads configuration from a YAML file, applies environment variable
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator CLI/env
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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
		Database: DatabaseConfig{
			Path:        "data/dinodia.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Gateway: GatewayConfig{
			RequestTimeout:    5000,
			HomeProbeTimeout:  2000,
			CloudProbeTimeout: 4000,
		},
		Sync: SyncConfig{
			PollInterval:     5,
			StorageNamespace: "dinodia",
		},
		Statestream: StatestreamConfig{
			Enabled:     false,
			TopicPrefix: "homeassistant/statestream",
			Broker: StatestreamBroker{
				Host:     "localhost",
				Port:     1883,
				ClientID: "dinodia-sync",
			},
			QoS: 0,
			Reconnect: StatestreamReconnect{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			URL:           "http://localhost:8086",
			Bucket:        "dinodia",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Seed: SeedConfig{
			Enabled:       false,
			AdminUsername: "admin",
		},
	}
}

// applyEnvOverrides applies DINODIA_* environment variables over loaded
// config. Only secrets and deployment-specific values are overridable;
// structural settings belong in the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DINODIA_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DINODIA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DINODIA_MQTT_HOST"); v != "" {
		cfg.Statestream.Broker.Host = v
	}
	if v := os.Getenv("DINODIA_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Statestream.Broker.Port = port
		}
	}
	if v := os.Getenv("DINODIA_MQTT_USERNAME"); v != "" {
		cfg.Statestream.Auth.Username = v
	}
	if v := os.Getenv("DINODIA_MQTT_PASSWORD"); v != "" {
		cfg.Statestream.Auth.Password = v
	}
	if v := os.Getenv("DINODIA_INFLUX_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
	if v := os.Getenv("DINODIA_SEED_TOKEN"); v != "" {
		cfg.Seed.LongLivedToken = v
	}
}

// Validate checks the configuration for invalid values.
// The poll interval is clamped rather than rejected.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must be non-negative")
	}

	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("gateway.request_timeout must be positive")
	}
	if c.Gateway.HomeProbeTimeout <= 0 || c.Gateway.CloudProbeTimeout <= 0 {
		return fmt.Errorf("gateway probe timeouts must be positive")
	}

	if c.Sync.PollInterval < minPollInterval {
		c.Sync.PollInterval = minPollInterval
	}
	if c.Sync.PollInterval > maxPollInterval {
		c.Sync.PollInterval = maxPollInterval
	}
	if c.Sync.StorageNamespace == "" {
		return fmt.Errorf("sync.storage_namespace is required")
	}

	if c.Statestream.Enabled {
		if c.Statestream.Broker.Host == "" {
			return fmt.Errorf("statestream.broker.host is required when enabled")
		}
		if c.Statestream.QoS < 0 || c.Statestream.QoS > 2 {
			return fmt.Errorf("statestream.qos must be 0, 1, or 2")
		}
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" || c.Telemetry.Org == "" || c.Telemetry.Bucket == "" {
			return fmt.Errorf("telemetry.url, telemetry.org and telemetry.bucket are required when enabled")
		}
	}

	if c.Seed.Enabled {
		if c.Seed.AdminUsername == "" || c.Seed.BaseURL == "" {
			return fmt.Errorf("seed.admin_username and seed.base_url are required when enabled")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not valid", c.Logging.Level)
	}

	return nil
}

// GetRequestTimeout returns the gateway request timeout as a Duration.
func (c *GatewayConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetHomeProbeTimeout returns the home-mode reachability probe timeout.
func (c *GatewayConfig) GetHomeProbeTimeout() time.Duration {
	return time.Duration(c.HomeProbeTimeout) * time.Millisecond
}

// GetCloudProbeTimeout returns the cloud-mode reachability probe timeout.
func (c *GatewayConfig) GetCloudProbeTimeout() time.Duration {
	return time.Duration(c.CloudProbeTimeout) * time.Millisecond
}

// GetPollInterval returns the foreground poll interval as a Duration.
func (c *SyncConfig) GetPollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}
