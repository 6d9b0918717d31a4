// Package config loads and validates the PinReminder YAML configuration.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by validate.
const (
	DefaultHTTPAddr               = "127.0.0.1:8765"
	DefaultPollInterval           = time.Minute
	DefaultRadiusMeters           = 300
	DefaultMaxRegions             = 100
	DefaultLowPowerAccuracyMeters = 5000
	DefaultProbeInterval          = time.Minute
	DefaultNotifyRatePerMinute    = 30
	minPollInterval               = 10 * time.Second
	maxPollInterval               = 5 * time.Minute
	minProbeInterval              = 10 * time.Second
	logFormatText, logFormatJSON  = "text", "json"
	trackerPrefix, personPrefix   = "device_tracker.", "person."
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// HAURL is the base URL of the Home Assistant instance (e.g. "http://homeassistant.local:8123").
	HAURL string `yaml:"ha_url"`

	// HAToken is the long-lived access token used to authenticate with Home Assistant.
	HAToken string `yaml:"ha_token"`

	// TrackerEntity is the device_tracker or person entity whose position
	// drives the geofences (e.g. "device_tracker.pixel_8").
	TrackerEntity string `yaml:"tracker_entity"`

	// PollInterval controls how often the tracker is polled in addition to
	// WebSocket updates. Minimum 10s, maximum 5m. Defaults to 1m if unset.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// HTTPAddr is the listen address of the daemon's HTTP API.
	HTTPAddr string `yaml:"http_addr,omitempty"`

	// LogFormat selects the daemon log handler: "text" (default) or "json".
	LogFormat string `yaml:"log_format,omitempty"`

	Geofence    GeofenceConfig    `yaml:"geofence,omitempty"`
	Permissions PermissionsConfig `yaml:"permissions,omitempty"`
	Auth        AuthConfig        `yaml:"auth,omitempty"`
	Notify      NotifyConfig      `yaml:"notify"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// GeofenceConfig tunes region registration.
type GeofenceConfig struct {
	RadiusMeters           float64 `yaml:"radius_meters,omitempty"`
	MaxRegions             int     `yaml:"max_regions,omitempty"`
	LowPowerAccuracyMeters float64 `yaml:"low_power_accuracy_meters,omitempty"`
}

// PermissionsConfig describes what the platform asks for.
type PermissionsConfig struct {
	// BackgroundLocation is nil until set; nil means true.
	BackgroundLocation *bool `yaml:"background_location,omitempty"`
}

// BackgroundRequired reports whether background location must be granted
// separately.
func (p PermissionsConfig) BackgroundRequired() bool {
	return p.BackgroundLocation == nil || *p.BackgroundLocation
}

// AuthConfig controls the Home Assistant token probe.
type AuthConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval,omitempty"`
}

// NotifyConfig selects notification sinks. At least one must be enabled.
type NotifyConfig struct {
	Log            bool                  `yaml:"log,omitempty"`
	HomeAssistant  *HomeAssistantNotify  `yaml:"home_assistant,omitempty"`
	Kafka          *KafkaNotify          `yaml:"kafka,omitempty"`
	AppleReminders *AppleRemindersNotify `yaml:"apple_reminders,omitempty"`
}

// HomeAssistantNotify sends through notify.<service>.
type HomeAssistantNotify struct {
	// Service is the notify service name without domain, e.g. "mobile_app_pixel_8".
	Service       string `yaml:"service"`
	RatePerMinute int    `yaml:"rate_per_minute,omitempty"`
}

// KafkaNotify publishes triggered reminders to a topic.
type KafkaNotify struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// AppleRemindersNotify creates an entry in an Apple Reminders list.
type AppleRemindersNotify struct {
	List string `yaml:"list"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "pinreminder".
	ServiceName string `yaml:"service_name,omitempty"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/pinreminder/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "pinreminder", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write validates c and saves it to path with owner-only permissions,
// creating the parent directory if needed.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// validate checks that all required fields are present and well-formed, and
// fills in defaults.
func (c *Config) validate() error {
	if c.HAURL == "" {
		return fmt.Errorf("ha_url is required")
	}
	u, err := url.ParseRequestURI(c.HAURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("ha_url %q must be a valid http or https URL", c.HAURL)
	}

	if c.HAToken == "" {
		return fmt.Errorf("ha_token is required")
	}

	if c.TrackerEntity == "" {
		return fmt.Errorf("tracker_entity is required")
	}
	if !strings.HasPrefix(c.TrackerEntity, trackerPrefix) && !strings.HasPrefix(c.TrackerEntity, personPrefix) {
		return fmt.Errorf("tracker_entity %q must be a device_tracker or person entity", c.TrackerEntity)
	}

	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollInterval < minPollInterval {
		return fmt.Errorf("poll_interval %v is too short (minimum 10s)", c.PollInterval)
	}
	if c.PollInterval > maxPollInterval {
		return fmt.Errorf("poll_interval %v is too long (maximum 5m)", c.PollInterval)
	}

	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
		return fmt.Errorf("http_addr %q: %w", c.HTTPAddr, err)
	}

	switch c.LogFormat {
	case "":
		c.LogFormat = logFormatText
	case logFormatText, logFormatJSON:
	default:
		return fmt.Errorf("log_format %q must be %q or %q", c.LogFormat, logFormatText, logFormatJSON)
	}

	if err := c.Geofence.validate(); err != nil {
		return err
	}

	if c.Auth.ProbeInterval == 0 {
		c.Auth.ProbeInterval = DefaultProbeInterval
	}
	if c.Auth.ProbeInterval < minProbeInterval {
		return fmt.Errorf("auth.probe_interval %v is too short (minimum 10s)", c.Auth.ProbeInterval)
	}

	if err := c.Notify.validate(); err != nil {
		return err
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func (g *GeofenceConfig) validate() error {
	if g.RadiusMeters == 0 {
		g.RadiusMeters = DefaultRadiusMeters
	}
	if g.RadiusMeters < 0 {
		return fmt.Errorf("geofence.radius_meters must be positive")
	}
	if g.MaxRegions == 0 {
		g.MaxRegions = DefaultMaxRegions
	}
	if g.MaxRegions < 0 {
		return fmt.Errorf("geofence.max_regions must be positive")
	}
	if g.LowPowerAccuracyMeters == 0 {
		g.LowPowerAccuracyMeters = DefaultLowPowerAccuracyMeters
	}
	if g.LowPowerAccuracyMeters < 0 {
		return fmt.Errorf("geofence.low_power_accuracy_meters must be positive")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Log && n.HomeAssistant == nil && n.Kafka == nil && n.AppleReminders == nil {
		return fmt.Errorf("notify must enable at least one sink")
	}
	if ha := n.HomeAssistant; ha != nil {
		if ha.Service == "" {
			return fmt.Errorf("notify.home_assistant.service is required")
		}
		if strings.HasPrefix(ha.Service, "notify.") {
			ha.Service = strings.TrimPrefix(ha.Service, "notify.")
		}
		if ha.RatePerMinute == 0 {
			ha.RatePerMinute = DefaultNotifyRatePerMinute
		}
		if ha.RatePerMinute < 0 {
			return fmt.Errorf("notify.home_assistant.rate_per_minute must be positive")
		}
	}
	if k := n.Kafka; k != nil {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("notify.kafka.brokers must contain at least one broker")
		}
		if k.Topic == "" {
			return fmt.Errorf("notify.kafka.topic is required")
		}
	}
	if a := n.AppleReminders; a != nil && a.List == "" {
		return fmt.Errorf("notify.apple_reminders.list is required")
	}
	return nil
}
