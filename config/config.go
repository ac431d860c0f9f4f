package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/pkg/security"
	"github.com/c360/semdevices/transport"
	"github.com/c360/semdevices/types"
)

// Config represents the complete application configuration
type Config struct {
	Version string         `json:"version"`
	Log     LogConfig      `json:"log"`
	Metrics MetricsConfig  `json:"metrics"`
	HTTP    HTTPConfig     `json:"http"`
	NATS    NATSConfig     `json:"nats"`
	Redis   RedisConfig    `json:"redis"`
	Bus     BusConfig      `json:"bus"`
	Bridge  BridgeConfig   `json:"bridge"`
	Devices []DeviceConfig `json:"devices"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json or text
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// HTTPConfig controls the device gateway.
type HTTPConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	CORSOrigins    []string `json:"cors_origins,omitempty"`
	MaxRequestSize int64    `json:"max_request_size,omitempty"`

	TLS security.ServerTLSConfig `json:"tls,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	Enabled       bool          `json:"enabled"`
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	PingInterval  time.Duration `json:"ping_interval,omitempty"`
	DrainTimeout  time.Duration `json:"drain_timeout,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`

	TLS security.ClientTLSConfig `json:"tls,omitempty"`

	// SubjectPrefix roots every device subject, e.g. devices.<addr>.data.
	SubjectPrefix string `json:"subject_prefix,omitempty"`
	// KVBucket keeps the last reading per device. Empty disables it.
	KVBucket string `json:"kv_bucket,omitempty"`
	// Commands enables the command ingress subscription.
	Commands bool `json:"commands"`
}

// RedisConfig defines the Redis pub/sub sink.
type RedisConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Password      string `json:"password,omitempty"`
	DB            int    `json:"db,omitempty"`
	ChannelPrefix string `json:"channel_prefix,omitempty"`
}

// BusConfig tunes the in-process data bus.
type BusConfig struct {
	QueueLen int `json:"queue_len"`
}

// BridgeConfig selects which devices are forwarded to the brokers.
type BridgeConfig struct {
	// Devices lists device names. Empty forwards every device.
	Devices  []string `json:"devices,omitempty"`
	Workers  int      `json:"workers"`
	QueueLen int      `json:"queue_len"`
}

// DeviceConfig binds one driver instance to an address.
type DeviceConfig struct {
	Name    string `json:"name"`
	Driver  string `json:"driver"`
	Address string `json:"address"` // host:robot:interface:index

	// Transport is omitted for drivers fed from the bus.
	Transport *transport.Config `json:"transport,omitempty"`

	// Protocol is handed to the driver factory as JSON.
	Protocol map[string]any `json:"protocol,omitempty"`

	Options driver.Options `json:"options"`
}

// ParsedAddress parses the configured address.
func (d DeviceConfig) ParsedAddress() (types.Address, error) {
	return types.ParseAddress(d.Address)
}

// ProtocolJSON encodes the protocol section for a driver factory.
func (d DeviceConfig) ProtocolJSON() (json.RawMessage, error) {
	if len(d.Protocol) == 0 {
		return json.RawMessage(`{}`), nil
	}
	data, err := json.Marshal(d.Protocol)
	if err != nil {
		return nil, fmt.Errorf("device %s: encode protocol: %w", d.Name, err)
	}
	return data, nil
}

// Validate checks the device entry on its own.
func (d DeviceConfig) Validate() error {
	if d.Name == "" {
		return errors.New("device name is required")
	}
	if !isValidSubjectPart(d.Name) {
		return fmt.Errorf("device name %q must be alphanumeric with dashes or underscores", d.Name)
	}
	if d.Driver == "" {
		return fmt.Errorf("device %s: driver is required", d.Name)
	}
	if _, err := d.ParsedAddress(); err != nil {
		return fmt.Errorf("device %s: %w", d.Name, err)
	}
	if d.Transport != nil {
		if err := d.Transport.WithDefaults().Validate(); err != nil {
			return fmt.Errorf("device %s: transport: %w", d.Name, err)
		}
	}
	return nil
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Metrics.Enabled {
		if err := validatePort("metrics.port", c.Metrics.Port); err != nil {
			return err
		}
	}
	if c.HTTP.Enabled {
		if err := validatePort("http.port", c.HTTP.Port); err != nil {
			return err
		}
		if c.Metrics.Enabled && c.Metrics.Port == c.HTTP.Port {
			return fmt.Errorf("http.port and metrics.port must differ (both %d)", c.HTTP.Port)
		}
	}
	if c.NATS.Enabled && len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required when nats is enabled")
	}
	if c.NATS.SubjectPrefix != "" && !isValidSubjectPart(c.NATS.SubjectPrefix) {
		return fmt.Errorf("nats.subject_prefix %q is not valid for NATS subjects", c.NATS.SubjectPrefix)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}

	names := make(map[string]bool, len(c.Devices))
	addrs := make(map[types.Address]string, len(c.Devices))
	for i, dev := range c.Devices {
		if err := dev.Validate(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		if names[dev.Name] {
			return fmt.Errorf("devices[%d]: duplicate device name %q", i, dev.Name)
		}
		names[dev.Name] = true

		addr, _ := dev.ParsedAddress()
		if other, ok := addrs[addr]; ok {
			return fmt.Errorf("devices[%d]: address %s already used by %s", i, addr, other)
		}
		addrs[addr] = dev.Name
	}

	for _, name := range c.Bridge.Devices {
		if !names[name] {
			return fmt.Errorf("bridge.devices: unknown device %q", name)
		}
	}
	return nil
}

// Device returns the device entry with the given name.
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

func validatePort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s %d out of range", field, port)
	}
	return nil
}

// isValidSubjectPart checks if a string is usable as one NATS subject token.
func isValidSubjectPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  "SEMDEVICES",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers. Later layers override
// earlier ones key by key; lists are replaced whole.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode merged config: %w", err)
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: "1.0.0",
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		HTTP:    HTTPConfig{Enabled: true, Port: 8080},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			SubjectPrefix: "devices",
		},
		Redis:  RedisConfig{Addr: "localhost:6379", ChannelPrefix: "devices"},
		Bus:    BusConfig{QueueLen: 64},
		Bridge: BridgeConfig{Workers: 4, QueueLen: 256},
	}
}

// loadRaw reads one layer as a generic map. YAML is used for .yaml and
// .yml files, JSON for everything else.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, format, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := checkJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// durationKeys are fields decoded into time.Duration. Their string values
// ("250ms", "2s") are converted to nanoseconds before JSON decoding.
var durationKeys = map[string]bool{
	"reconnect_wait": true,
	"ping_interval":  true,
	"drain_timeout":  true,
	"dial_timeout":   true,
	"initial_delay":  true,
	"max_delay":      true,
	"warn_interval":  true,
}

// parseDurations walks the tree and converts duration strings in place.
// Protocol sections are left alone; drivers take integer milliseconds.
func parseDurations(node any) error {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			if k == "protocol" {
				continue
			}
			if s, ok := child.(string); ok && durationKeys[k] {
				d, err := time.ParseDuration(s)
				if err != nil {
					return fmt.Errorf("%s: %w", k, err)
				}
				v[k] = d.Nanoseconds()
				continue
			}
			if err := parseDurations(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range v {
			if err := parseDurations(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}
	return m, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies process-wide overrides first, then per-device
// transport overrides.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	for _, set := range [][]envOverride{globalOverrides, deviceOverrides(cfg)} {
		for _, o := range set {
			key := l.envPrefix + o.key
			val := os.Getenv(key)
			if val == "" {
				continue
			}
			if err := checkEnvValue(key, val); err != nil {
				return err
			}
			if err := o.apply(cfg, val); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

// SaveToFile writes the configuration as indented JSON. The result loads
// back through Loader unchanged.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeConfigFile(path, data)
}
