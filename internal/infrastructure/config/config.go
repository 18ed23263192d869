package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor GUESTLINK_CONFIG is given.
const DefaultPath = "configs/config.yaml"

// Radio backend names.
const (
	BackendSerial = "serial"
	BackendUDP    = "udp"
	BackendSim    = "sim"
)

// Config is the root configuration structure for Guestlink Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Radio     RadioConfig     `yaml:"radio"`
	Guests    GuestsConfig    `yaml:"guests"`
	Fanout    FanoutConfig    `yaml:"fanout"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Panel     PanelConfig     `yaml:"panel"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// RadioConfig selects and configures the radio backend.
type RadioConfig struct {
	// Backend is "serial", "udp" or "sim".
	Backend string `yaml:"backend"`

	// Address overrides the backend's own link address (udp and sim only).
	// Format: "AA:BB:CC:DD:EE:FF"
	Address string `yaml:"address"`

	// QueueSize is the ingress queue depth. Default: 10
	QueueSize int `yaml:"queue_size"`

	// SendTimeoutMS bounds each acknowledged send. Default: 100
	SendTimeoutMS int `yaml:"send_timeout_ms"`

	// DrainTimeoutMS bounds the wait for a late completion after a timed-out
	// send. Default: 20
	DrainTimeoutMS int `yaml:"drain_timeout_ms"`

	Serial SerialConfig   `yaml:"serial"`
	UDP    UDPRadioConfig `yaml:"udp"`
}

// SerialConfig configures the USB radio dongle.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`

	// ReadyTimeout is how long to wait for the dongle's READY line (seconds).
	ReadyTimeout int `yaml:"ready_timeout"`
}

// UDPRadioConfig configures the LAN development backend.
type UDPRadioConfig struct {
	Listen    string `yaml:"listen"`
	Broadcast string `yaml:"broadcast"`
}

// GuestsConfig bounds the guest registry.
type GuestsConfig struct {
	Capacity int `yaml:"capacity"`
}

// FanoutConfig configures subscriber fan-out.
type FanoutConfig struct {
	MaxClients int `yaml:"max_clients"`

	// KeepaliveInterval is in seconds. Default: 30
	KeepaliveInterval int  `yaml:"keepalive_interval"`
	SnapshotOnConnect bool `yaml:"snapshot_on_connect"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
//
// Write applies to ordinary responses only; subscription streams clear their
// own write deadline.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket subscriber settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// PanelConfig controls the guest dashboard served at the site root.
type PanelConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir serves assets from disk instead of the embedded build when set
	// and present.
	Dir string `yaml:"dir"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig configures the report history recorder.
type HistoryConfig struct {
	BufferSize int `yaml:"buffer_size"`

	// RetentionHours prunes older reports. 0 keeps everything.
	RetentionHours int `yaml:"retention_hours"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains bearer token settings. An empty secret leaves mutating
// routes unauthenticated.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// ResolvePath picks the configuration file path.
//
// The first non-empty value wins: flag, GUESTLINK_CONFIG, DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("GUESTLINK_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GUESTLINK_SECTION_KEY
// For example: GUESTLINK_RADIO_BACKEND, GUESTLINK_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

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
			Name: "Guestlink",
		},
		Radio: RadioConfig{
			Backend:        BackendSerial,
			QueueSize:      10,
			SendTimeoutMS:  100,
			DrainTimeoutMS: 20,
			Serial: SerialConfig{
				Port:         "/dev/ttyUSB0",
				Baud:         115200,
				ReadyTimeout: 5,
			},
			UDP: UDPRadioConfig{
				Listen:    ":4210",
				Broadcast: "255.255.255.255:4210",
			},
		},
		Guests: GuestsConfig{
			Capacity: 50,
		},
		Fanout: FanoutConfig{
			MaxClients:        8,
			KeepaliveInterval: 30,
			SnapshotOnConnect: true,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Panel: PanelConfig{
			Enabled: true,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/guestlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			BufferSize: 256,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "guestlink-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 100,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GUESTLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	setInt := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not an integer", name, v))
			return
		}
		*dst = n
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not a boolean", name, v))
			return
		}
		*dst = b
	}

	// Radio
	setString("GUESTLINK_RADIO_BACKEND", &cfg.Radio.Backend)
	setString("GUESTLINK_RADIO_ADDRESS", &cfg.Radio.Address)
	setString("GUESTLINK_RADIO_SERIAL_PORT", &cfg.Radio.Serial.Port)
	setString("GUESTLINK_RADIO_UDP_LISTEN", &cfg.Radio.UDP.Listen)
	setString("GUESTLINK_RADIO_UDP_BROADCAST", &cfg.Radio.UDP.Broadcast)

	// Guests
	setInt("GUESTLINK_GUESTS_CAPACITY", &cfg.Guests.Capacity)

	// API
	setString("GUESTLINK_API_HOST", &cfg.API.Host)
	setInt("GUESTLINK_API_PORT", &cfg.API.Port)

	// Panel
	setBool("GUESTLINK_PANEL_ENABLED", &cfg.Panel.Enabled)
	setString("GUESTLINK_PANEL_DIR", &cfg.Panel.Dir)

	// Database
	setBool("GUESTLINK_DATABASE_ENABLED", &cfg.Database.Enabled)
	setString("GUESTLINK_DATABASE_PATH", &cfg.Database.Path)

	// MQTT
	setBool("GUESTLINK_MQTT_ENABLED", &cfg.MQTT.Enabled)
	setString("GUESTLINK_MQTT_HOST", &cfg.MQTT.Broker.Host)
	setString("GUESTLINK_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("GUESTLINK_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// InfluxDB
	setBool("GUESTLINK_INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	setString("GUESTLINK_INFLUXDB_URL", &cfg.InfluxDB.URL)
	setString("GUESTLINK_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	setString("GUESTLINK_LOG_LEVEL", &cfg.Logging.Level)

	// Security
	setString("GUESTLINK_JWT_SECRET", &cfg.Security.JWT.Secret)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
// Every problem is collected before reporting.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Radio validation
	switch c.Radio.Backend {
	case BackendSerial:
		if c.Radio.Serial.Port == "" {
			errs = append(errs, "radio.serial.port is required for the serial backend")
		}
		if c.Radio.Serial.Baud <= 0 {
			errs = append(errs, "radio.serial.baud must be positive")
		}
	case BackendUDP:
		if c.Radio.UDP.Listen == "" || c.Radio.UDP.Broadcast == "" {
			errs = append(errs, "radio.udp.listen and radio.udp.broadcast are required for the udp backend")
		}
	case BackendSim:
	default:
		errs = append(errs, fmt.Sprintf("radio.backend %q must be serial, udp, or sim", c.Radio.Backend))
	}
	if c.Radio.QueueSize < 1 {
		errs = append(errs, "radio.queue_size must be at least 1")
	}
	if c.Radio.SendTimeoutMS < 1 {
		errs = append(errs, "radio.send_timeout_ms must be at least 1")
	}

	// Registry and fan-out
	if c.Guests.Capacity < 1 {
		errs = append(errs, "guests.capacity must be at least 1")
	}
	if c.Fanout.MaxClients < 1 {
		errs = append(errs, "fanout.max_clients must be at least 1")
	}
	if c.Fanout.KeepaliveInterval < 1 {
		errs = append(errs, "fanout.keepalive_interval must be at least 1 second")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls.cert_file and api.tls.key_file are required when TLS is enabled")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when MQTT is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when InfluxDB is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when InfluxDB is enabled")
		}
	}

	// Security validation. A short secret makes forged tokens practical.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive when rate limiting is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetSendTimeout returns the radio send timeout as a Duration.
func (c *Config) GetSendTimeout() time.Duration {
	return time.Duration(c.Radio.SendTimeoutMS) * time.Millisecond
}

// GetDrainTimeout returns the late-completion drain bound as a Duration.
func (c *Config) GetDrainTimeout() time.Duration {
	return time.Duration(c.Radio.DrainTimeoutMS) * time.Millisecond
}

// GetKeepaliveInterval returns the fan-out keepalive interval as a Duration.
func (c *Config) GetKeepaliveInterval() time.Duration {
	return time.Duration(c.Fanout.KeepaliveInterval) * time.Second
}

// GetHistoryRetention returns the history retention, 0 for unlimited.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionHours) * time.Hour
}
