package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Recognised values for the enumerated Arlo settings.
const (
	MFAStrategyManual = "Manual"
	MFAStrategyIMAP   = "IMAP"

	TransportMQTT = "MQTT"
	TransportSSE  = "SSE"

	VerbosityNormal  = "Normal"
	VerbosityVerbose = "Verbose"
)

// Config is the root configuration structure for the Arlo cloud link.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Arlo      ArloConfig      `yaml:"arlo"`
	IMAP      IMAPConfig      `yaml:"imap"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the local bus
// that mirrors the host device registry.
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains settings HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// TokenKey is the passphrase used to seal the persisted Arlo auth
	// headers at rest. Empty stores them unsealed.
	TokenKey string `yaml:"token_key"`
}

// JWTConfig contains JWT token settings for the settings API.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ArloConfig contains the Arlo cloud account and session settings.
//
// Account credentials and the enumerated options seed the settings store on
// first start; once stored, the settings store is authoritative.
type ArloConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// MFAStrategy is "Manual" or "IMAP".
	MFAStrategy string `yaml:"mfa_strategy"`

	// Transport selects the event stream: "MQTT" (primary) or "SSE" (secondary).
	Transport string `yaml:"transport"`

	// RefreshInterval is the event stream refresh interval in minutes. 0 disables.
	RefreshInterval int `yaml:"refresh_interval"`

	// Verbosity is "Normal" or "Verbose".
	Verbosity string `yaml:"verbosity"`

	// BaseURL is the Arlo cloud REST endpoint.
	BaseURL string `yaml:"base_url"`

	// AuthURL is the Arlo OCAPI authentication endpoint.
	AuthURL string `yaml:"auth_url"`

	// StreamBroker is the MQTT broker URL of the cloud event stream.
	StreamBroker string `yaml:"stream_broker"`

	// RequestTimeout bounds each cloud API request (seconds).
	RequestTimeout int `yaml:"request_timeout"`
}

// IMAPConfig contains settings for automatic MFA code retrieval.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// IntervalDays is how often a fresh login is forced, in days.
	IntervalDays int `yaml:"interval_days"`

	// Sender is the address MFA code emails arrive from.
	Sender string `yaml:"sender"`

	// Mailbox is the folder searched for MFA code emails.
	Mailbox string `yaml:"mailbox"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ARLOLINK_SECTION_KEY
// For example: ARLOLINK_DATABASE_PATH, ARLOLINK_ARLO_PASSWORD
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
			Name: "Arlo Cloud Link",
		},
		Database: DatabaseConfig{
			Path:        "./data/arlolink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "arlolink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Arlo: ArloConfig{
			MFAStrategy:     MFAStrategyManual,
			Transport:       TransportSSE,
			RefreshInterval: 90,
			Verbosity:       VerbosityNormal,
			BaseURL:         "https://myapi.arlo.com",
			AuthURL:         "https://ocapi-app.arlo.com",
			StreamBroker:    "wss://mqtt-cluster.arloxcld.com:443",
			RequestTimeout:  30,
		},
		IMAP: IMAPConfig{
			Port:         993,
			IntervalDays: 7,
			Sender:       "do_not_reply@arlo.com",
			Mailbox:      "INBOX",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ARLOLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARLOLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("ARLOLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ARLOLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ARLOLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("ARLOLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("ARLOLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("ARLOLINK_TOKEN_KEY"); v != "" {
		cfg.Security.TokenKey = v
	}

	// Arlo account credentials
	if v := os.Getenv("ARLOLINK_ARLO_USERNAME"); v != "" {
		cfg.Arlo.Username = v
	}
	if v := os.Getenv("ARLOLINK_ARLO_PASSWORD"); v != "" {
		cfg.Arlo.Password = v
	}

	// IMAP mailbox credentials
	if v := os.Getenv("ARLOLINK_IMAP_USERNAME"); v != "" {
		cfg.IMAP.Username = v
	}
	if v := os.Getenv("ARLOLINK_IMAP_PASSWORD"); v != "" {
		cfg.IMAP.Password = v
	}
	if v := os.Getenv("ARLOLINK_IMAP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.IMAP.Port = port
		}
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
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

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// The settings API can read back account passwords, so it is never
	// served without a signing secret.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set ARLOLINK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.Arlo.BaseURL == "" {
		errs = append(errs, "arlo.base_url is required")
	}
	if !oneOf(c.Arlo.MFAStrategy, MFAStrategyManual, MFAStrategyIMAP) {
		errs = append(errs, "arlo.mfa_strategy must be Manual or IMAP")
	}
	if !oneOf(c.Arlo.Transport, TransportMQTT, TransportSSE) {
		errs = append(errs, "arlo.transport must be MQTT or SSE")
	}
	if !oneOf(c.Arlo.Verbosity, VerbosityNormal, VerbosityVerbose) {
		errs = append(errs, "arlo.verbosity must be Normal or Verbose")
	}
	if c.Arlo.RefreshInterval < 0 {
		errs = append(errs, "arlo.refresh_interval must be nonnegative")
	}

	if c.IMAP.Port < 0 || c.IMAP.Port > 65535 {
		errs = append(errs, "imap.port must be between 0 and 65535")
	}
	if c.IMAP.IntervalDays < 1 {
		errs = append(errs, "imap.interval_days must be positive")
	}
	if c.IMAP.Sender == "" {
		errs = append(errs, "imap.sender is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// oneOf reports whether v equals one of the choices.
func oneOf(v string, choices ...string) bool {
	for _, c := range choices {
		if v == c {
			return true
		}
	}
	return false
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

// GetRequestTimeout returns the Arlo cloud request timeout as a Duration.
func (c *ArloConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}
