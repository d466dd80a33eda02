package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the attendance kiosk.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Identity  IdentityConfig  `yaml:"identity"`
	Audit     AuditConfig     `yaml:"audit"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Capture   CaptureConfig   `yaml:"capture"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig identifies the kiosk this process runs on.
// The ID is stamped on every audit record and used in MQTT topics.
type DeviceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
}

// IdentityConfig contains remote identity service settings.
type IdentityConfig struct {
	// BaseURL is the root of the identity service, e.g. "https://api.university.edu".
	BaseURL string `yaml:"base_url"`

	// VerifyTimeout bounds the whole verify round trip. The kiosk UI is blocked
	// for at most this long per scan.
	// Default: 8s
	VerifyTimeout time.Duration `yaml:"verify_timeout"`

	// AuditTimeout bounds a single audit delivery attempt.
	// Default: 5s
	AuditTimeout time.Duration `yaml:"audit_timeout"`

	// DeviceToken configures the bearer assertion sent with remote calls.
	DeviceToken DeviceTokenConfig `yaml:"device_token"`
}

// DeviceTokenConfig contains settings for the signed device assertion.
// When Secret is empty no Authorization header is sent.
type DeviceTokenConfig struct {
	Secret   string        `yaml:"secret"`
	TTL      time.Duration `yaml:"ttl"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
}

// AuditConfig contains audit trail settings.
type AuditConfig struct {
	// QueueSize is the number of records buffered for asynchronous delivery.
	// Records beyond this are dropped and counted as delivery failures.
	QueueSize int `yaml:"queue_size"`

	// Journal enables the local SQLite copy of every attempt.
	Journal bool `yaml:"journal"`

	// PublishMQTT mirrors every record to the kiosk audit topic.
	PublishMQTT bool `yaml:"publish_mqtt"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// APIConfig contains the local kiosk HTTP API settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`

	// PanelDir serves the kiosk display from disk instead of the embedded copy.
	PanelDir string `yaml:"panel_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// RateLimitConfig limits how often scans may be submitted through the API.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// CaptureConfig describes the optional fingerprint sensor helper.
// The helper prints one encoded sample per line on stdout.
type CaptureConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Command            string        `yaml:"command"`
	Args               []string      `yaml:"args"`
	RestartDelay       time.Duration `yaml:"restart_delay"`
	MaxRestartDelay    time.Duration `yaml:"max_restart_delay"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
	StopTimeout        time.Duration `yaml:"stop_timeout"`
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
// Environment variables follow the pattern: ATTENDANCE_SECTION_KEY
// For example: ATTENDANCE_DEVICE_ID, ATTENDANCE_IDENTITY_BASE_URL
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
		Device: DeviceConfig{
			ID:   "kiosk-001",
			Name: "Attendance Kiosk",
		},
		Identity: IdentityConfig{
			BaseURL:       "https://api.university.edu",
			VerifyTimeout: 8 * time.Second,
			AuditTimeout:  5 * time.Second,
			DeviceToken: DeviceTokenConfig{
				TTL:    5 * time.Minute,
				Issuer: "attendance-kiosk",
			},
		},
		Audit: AuditConfig{
			QueueSize: 64,
			Journal:   true,
		},
		Database: DatabaseConfig{
			Path:        "./data/attendance.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "attendance-kiosk",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             5,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Capture: CaptureConfig{
			RestartDelay:    time.Second,
			MaxRestartDelay: time.Minute,
			StopTimeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ATTENDANCE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("ATTENDANCE_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}

	// Identity service
	if v := os.Getenv("ATTENDANCE_IDENTITY_BASE_URL"); v != "" {
		cfg.Identity.BaseURL = v
	}
	if v := os.Getenv("ATTENDANCE_IDENTITY_VERIFY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Identity.VerifyTimeout = d
		}
	}
	if v := os.Getenv("ATTENDANCE_DEVICE_TOKEN_SECRET"); v != "" {
		cfg.Identity.DeviceToken.Secret = v
	}

	// Database
	if v := os.Getenv("ATTENDANCE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ATTENDANCE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ATTENDANCE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("ATTENDANCE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ATTENDANCE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ATTENDANCE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("ATTENDANCE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Sensor helper
	if v := os.Getenv("ATTENDANCE_CAPTURE_COMMAND"); v != "" {
		cfg.Capture.Command = v
	}
}

// minDeviceTokenSecretLength is the shortest accepted HMAC secret for device tokens.
const minDeviceTokenSecretLength = 32

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	// Identity service validation
	if c.Identity.BaseURL == "" {
		errs = append(errs, "identity.base_url is required")
	} else if u, err := url.Parse(c.Identity.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "identity.base_url must be an absolute http(s) URL")
	}
	if c.Identity.VerifyTimeout <= 0 {
		errs = append(errs, "identity.verify_timeout must be positive")
	}
	if c.Identity.AuditTimeout <= 0 {
		errs = append(errs, "identity.audit_timeout must be positive")
	}
	if secret := c.Identity.DeviceToken.Secret; secret != "" && len(secret) < minDeviceTokenSecretLength {
		errs = append(errs, "identity.device_token.secret must be at least 32 characters for adequate security")
	}

	// Audit validation
	if c.Audit.QueueSize < 1 {
		errs = append(errs, "audit.queue_size must be at least 1")
	}
	if c.Audit.Journal && c.Database.Path == "" {
		errs = append(errs, "database.path is required when audit.journal is enabled")
	}
	if c.Audit.PublishMQTT && !c.MQTT.Enabled {
		errs = append(errs, "audit.publish_mqtt requires mqtt.enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "api.rate_limit.requests_per_minute must be at least 1 when enabled")
	}

	// WebSocket validation
	if c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1 {
		errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be at least 1")
	}

	// Sensor helper validation
	if c.Capture.Enabled {
		if c.Capture.Command == "" {
			errs = append(errs, "capture.command is required when capture is enabled")
		}
		if c.Capture.RestartDelay < 0 || c.Capture.MaxRestartDelay < 0 || c.Capture.StopTimeout < 0 {
			errs = append(errs, "capture durations must not be negative")
		}
		if c.Capture.MaxRestartAttempts < 0 {
			errs = append(errs, "capture.max_restart_attempts must not be negative")
		}
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
