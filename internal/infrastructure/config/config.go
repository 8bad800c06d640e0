package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Matter Cloud Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Thing   ThingConfig   `yaml:"thing"`
	Matter  MatterConfig  `yaml:"matter"`
	Queue   QueueConfig   `yaml:"queue"`
	Shadow  ShadowConfig  `yaml:"shadow"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	API     APIConfig     `yaml:"api"`
	Webhook WebhookConfig `yaml:"webhook"`
	History HistoryConfig `yaml:"history"`

	// CommandFile enables the file-based command injector used in test
	// and commissioning setups.
	CommandFile CommandFileConfig `yaml:"command_file"`

	Logging LoggingConfig `yaml:"logging"`
}

// CommandFileConfig controls the command file poller. When enabled, the
// file at Path is read and emptied every Interval; a JSON envelope with a
// command key is pushed onto the work queue.
type CommandFileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`

	// Interval between polls, in seconds.
	Interval int `yaml:"interval"`
}

// GetInterval returns the poll interval as a Duration.
func (c CommandFileConfig) GetInterval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// ThingConfig identifies the cloud thing this controller shadows devices for.
type ThingConfig struct {
	Name string `yaml:"name"`
}

// MatterConfig contains device-graph server connection settings.
type MatterConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ResponseTimeout (seconds) is how long correlated request/response round trips
	// (REST proxy endpoints, commissioning callbacks) wait for a result.
	ResponseTimeout int `yaml:"response_timeout"`

	// Server contains settings for the managed matter server process.
	Server MatterServerConfig `yaml:"server"`
}

// GetResponseTimeout returns the round-trip timeout as a Duration.
func (c MatterConfig) GetResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeout) * time.Second
}

// MatterServerConfig contains settings for cold-starting the device-graph
// server process when it is not already running.
type MatterServerConfig struct {
	// Managed indicates whether Matter Cloud Core should start the matter
	// server itself when the initial connection is refused. If false, the
	// server is expected to be running externally.
	Managed bool `yaml:"managed"`

	// Binary is the path to the matter server executable.
	Binary string `yaml:"binary"`

	// Args are extra command-line arguments for the server.
	Args []string `yaml:"args"`

	// RetryCount limits how many times a refused connection triggers a
	// server start attempt before the supervisor gives up permanently.
	RetryCount int `yaml:"retry_count"`

	// RetryBackoff is the wait between connection attempts, in seconds.
	RetryBackoff int `yaml:"retry_backoff"`
}

// GetRetryBackoff returns the wait between connection attempts as a Duration.
func (c MatterServerConfig) GetRetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoff) * time.Second
}

// QueueConfig bounds the shared work queue.
type QueueConfig struct {
	MaxItems int `yaml:"max_items"`
	MaxBytes int `yaml:"max_bytes"`
}

// ShadowConfig contains local shadow store settings.
type ShadowConfig struct {
	// DatabasePath is the SQLite file backing the local shadow store.
	DatabasePath string `yaml:"database_path"`

	// MaxEvents bounds the per-node event journal length.
	MaxEvents int `yaml:"max_events"`

	// CleanStart wipes all stored shadows at startup, for runs against a
	// recommissioned fabric where the persisted state is stale.
	CleanStart bool `yaml:"clean_start"`
}

// MQTTConfig contains MQTT broker connection settings for the command ingress.
type MQTTConfig struct {
	Enabled       bool           `yaml:"enabled"`
	Broker        BrokerConfig   `yaml:"broker"`
	Auth          MQTTAuthConfig `yaml:"auth"`
	QoS           int            `yaml:"qos"`
	RequestTopic  string         `yaml:"request_topic"`
	ResponseTopic string         `yaml:"response_topic"`
}

// BrokerConfig contains MQTT broker connection details.
type BrokerConfig struct {
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebhookConfig contains outbound local-notification settings.
type WebhookConfig struct {
	// Enabled turns on local-notification mode: shard changes are reported
	// to the configured webhook in addition to the shadow store.
	Enabled  bool   `yaml:"enabled"`
	Method   string `yaml:"method"`
	URL      string `yaml:"url"`
	Endpoint string `yaml:"endpoint"`
}

// HistoryConfig contains the optional InfluxDB attribute-history sink.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MCC_SECTION_KEY
// For example: MCC_MATTER_HOST, MCC_MQTT_PASSWORD
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

// Default returns the built-in defaults with environment overrides applied,
// without reading any file. Used when no config file is present.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Thing: ThingConfig{
			Name: "mcc-thing-ver01-1",
		},
		Matter: MatterConfig{
			Host:            "127.0.0.1",
			Port:            5580,
			ResponseTimeout: 5,
			Server: MatterServerConfig{
				Managed:      true,
				Binary:       "matter-server",
				RetryCount:   3,
				RetryBackoff: 20,
			},
		},
		Queue: QueueConfig{
			MaxItems: 1000,
			MaxBytes: 5 * 1024 * 1024,
		},
		Shadow: ShadowConfig{
			DatabasePath: "./data/shadows.db",
			MaxEvents:    100,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: BrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mcc-daemon",
			},
			QoS:           0,
			RequestTopic:  "chip/request",
			ResponseTopic: "chip/response",
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
		Webhook: WebhookConfig{
			Method: "POST",
		},
		CommandFile: CommandFileConfig{
			Enabled:  false,
			Path:     "./data/commands.json",
			Interval: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MCC_THING_NAME"); v != "" {
		cfg.Thing.Name = v
	}
	if v := os.Getenv("MCC_MATTER_HOST"); v != "" {
		cfg.Matter.Host = v
	}
	if v := os.Getenv("MCC_MATTER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Matter.Port = port
		}
	}
	if v := os.Getenv("MCC_SHADOW_DATABASE_PATH"); v != "" {
		cfg.Shadow.DatabasePath = v
	}
	if v := os.Getenv("MCC_SHADOW_CLEAN_START"); v != "" {
		if clean, err := strconv.ParseBool(v); err == nil {
			cfg.Shadow.CleanStart = clean
		}
	}
	if v := os.Getenv("MCC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MCC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MCC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("MCC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MCC_HISTORY_TOKEN"); v != "" {
		cfg.History.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Thing.Name == "" {
		errs = append(errs, "thing.name is required")
	}
	if c.Matter.Host == "" {
		errs = append(errs, "matter.host is required")
	}
	if c.Matter.Port < 1 || c.Matter.Port > 65535 {
		errs = append(errs, "matter.port must be between 1 and 65535")
	}
	if c.Queue.MaxItems < 1 {
		errs = append(errs, "queue.max_items must be positive")
	}
	if c.Queue.MaxBytes < 1 {
		errs = append(errs, "queue.max_bytes must be positive")
	}
	if c.Shadow.MaxEvents < 1 {
		errs = append(errs, "shadow.max_events must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		errs = append(errs, "webhook.url is required when webhook.enabled is true")
	}
	if c.History.Enabled && c.History.URL == "" {
		errs = append(errs, "history.url is required when history.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// WebSocketURL returns the device-graph server websocket endpoint.
func (c *Config) WebSocketURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", c.Matter.Host, c.Matter.Port)
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
