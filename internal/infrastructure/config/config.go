package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Cloudlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	DataHub  DataHubConfig  `yaml:"datahub"`
	Protect  ProtectConfig  `yaml:"protect"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
// The database holds persisted request budgets.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DataHubConfig contains Met Office DataHub site-specific API settings.
type DataHubConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`

	// APIKey is the DataHub subscription key (a JWT). Prefer the
	// CLOUDLINK_DATAHUB_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// DailyLimit is the number of calls the subscription allows per UTC day.
	DailyLimit int `yaml:"daily_limit"`

	// RequestsPerSecond bounds the local sliding-window throttle.
	RequestsPerSecond int `yaml:"requests_per_second"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`

	Sites []DataHubSiteConfig `yaml:"sites"`
}

// DataHubSiteConfig describes one forecast location.
type DataHubSiteConfig struct {
	ID string `yaml:"id"`

	// Location is "<latitude>,<longitude>" in decimal degrees.
	Location string `yaml:"location"`

	// HourlyPollRate and DailyPollRate are in hours, aligned to midnight.
	HourlyPollRate int `yaml:"hourly_poll_rate"`
	DailyPollRate  int `yaml:"daily_poll_rate"`
}

// ProtectConfig contains UniFi Protect integration API settings.
type ProtectConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`

	// APIKey is the integration API key. Prefer CLOUDLINK_PROTECT_API_KEY.
	APIKey string `yaml:"api_key"`

	DailyLimit        int `yaml:"daily_limit"`
	RequestsPerSecond int `yaml:"requests_per_second"`
	Timeout           int `yaml:"timeout"`

	// HeartbeatInterval is the WebSocket ping interval in seconds.
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// ReconnectDelay is the pause before re-subscribing after a stream drops (seconds).
	ReconnectDelay int `yaml:"reconnect_delay"`

	// TLSSkipVerify accepts the NVR's self-signed certificate.
	TLSSkipVerify bool `yaml:"tls_skip_verify"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CLOUDLINK_SECTION_KEY
// For example: CLOUDLINK_DATABASE_PATH, CLOUDLINK_DATAHUB_API_KEY
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

	applyEnvOverrides(cfg)
	applySiteDefaults(cfg)

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
		Database: DatabaseConfig{
			Path:        "./data/cloudlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-cloudlink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8091,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		DataHub: DataHubConfig{
			BaseURL:           "https://data.hub.api.metoffice.gov.uk/sitespecific/v0",
			DailyLimit:        360,
			RequestsPerSecond: 2,
			Timeout:           10,
		},
		Protect: ProtectConfig{
			DailyLimit:        50000,
			RequestsPerSecond: 10,
			Timeout:           30,
			HeartbeatInterval: 30,
			ReconnectDelay:    10,
		},
	}
}

// applySiteDefaults fills per-site poll rates left unset in the file.
func applySiteDefaults(cfg *Config) {
	for i := range cfg.DataHub.Sites {
		site := &cfg.DataHub.Sites[i]
		if site.HourlyPollRate == 0 {
			site.HourlyPollRate = 3
		}
		if site.DailyPollRate == 0 {
			site.DailyPollRate = 3
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CLOUDLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLOUDLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("CLOUDLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CLOUDLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CLOUDLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("CLOUDLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("CLOUDLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Cloud credentials should never live in the config file in production.
	if v := os.Getenv("CLOUDLINK_DATAHUB_API_KEY"); v != "" {
		cfg.DataHub.APIKey = v
	}
	if v := os.Getenv("CLOUDLINK_PROTECT_API_KEY"); v != "" {
		cfg.Protect.APIKey = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.DataHub.Enabled {
		errs = append(errs, c.DataHub.validate()...)
	}

	if c.Protect.Enabled {
		errs = append(errs, c.Protect.validate()...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (d DataHubConfig) validate() []string {
	var errs []string
	if d.APIKey == "" {
		errs = append(errs, "datahub.api_key is required (set CLOUDLINK_DATAHUB_API_KEY environment variable)")
	}
	if d.BaseURL == "" {
		errs = append(errs, "datahub.base_url is required")
	}
	if d.DailyLimit < 1 {
		errs = append(errs, "datahub.daily_limit must be positive")
	}
	if d.RequestsPerSecond < 1 {
		errs = append(errs, "datahub.requests_per_second must be positive")
	}
	if len(d.Sites) == 0 {
		errs = append(errs, "datahub.sites must contain at least one site")
	}

	seen := make(map[string]bool, len(d.Sites))
	for i, s := range d.Sites {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("datahub.sites[%d].id is required", i))
		} else if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("datahub.sites[%d].id %q is duplicated", i, s.ID))
		}
		seen[s.ID] = true

		if s.Location == "" {
			errs = append(errs, fmt.Sprintf("datahub.sites[%d].location is required", i))
		}
		if s.HourlyPollRate < 1 || s.HourlyPollRate > 24 {
			errs = append(errs, fmt.Sprintf("datahub.sites[%d].hourly_poll_rate must be between 1 and 24", i))
		}
		if s.DailyPollRate < 1 || s.DailyPollRate > 24 {
			errs = append(errs, fmt.Sprintf("datahub.sites[%d].daily_poll_rate must be between 1 and 24", i))
		}
	}
	return errs
}

func (p ProtectConfig) validate() []string {
	var errs []string
	if p.Host == "" {
		errs = append(errs, "protect.host is required")
	}
	if p.APIKey == "" {
		errs = append(errs, "protect.api_key is required (set CLOUDLINK_PROTECT_API_KEY environment variable)")
	}
	if p.DailyLimit < 1 {
		errs = append(errs, "protect.daily_limit must be positive")
	}
	if p.RequestsPerSecond < 1 {
		errs = append(errs, "protect.requests_per_second must be positive")
	}
	if p.HeartbeatInterval < 1 {
		errs = append(errs, "protect.heartbeat_interval must be positive")
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// RequestTimeout returns the DataHub per-request timeout.
func (d DataHubConfig) RequestTimeout() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// RequestTimeout returns the Protect per-request timeout.
func (p ProtectConfig) RequestTimeout() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// Heartbeat returns the Protect WebSocket ping interval.
func (p ProtectConfig) Heartbeat() time.Duration {
	return time.Duration(p.HeartbeatInterval) * time.Second
}

// Reconnect returns the delay between Protect subscription attempts.
func (p ProtectConfig) Reconnect() time.Duration {
	return time.Duration(p.ReconnectDelay) * time.Second
}
