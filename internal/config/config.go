// Package config holds the dashboard runtime configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete dashboard configuration. Zero-valued sections are
// filled from DefaultConfig when loading a file.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Stream    StreamConfig    `yaml:"stream"`
	Poll      PollConfig      `yaml:"poll"`
	Buffers   BufferConfig    `yaml:"buffers"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Server    ServerConfig    `yaml:"server"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
}

// BackendConfig points at the detection backend REST API.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StreamConfig configures the Socket.IO push connection.
type StreamConfig struct {
	// URL overrides the push endpoint; empty derives it from Backend.BaseURL.
	URL                 string        `yaml:"url"`
	Path                string        `yaml:"path"`
	Namespace           string        `yaml:"namespace"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	ReconnectDelay      time.Duration `yaml:"reconnect_delay"`
	ReconnectDelayMax   time.Duration `yaml:"reconnect_delay_max"`
	RandomizationFactor float64       `yaml:"randomization_factor"`
	// MaxAttempts bounds consecutive failed reconnects; 0 means unlimited.
	MaxAttempts int      `yaml:"max_attempts"`
	Subscribe   []string `yaml:"subscribe"`
}

// PollConfig sets the snapshot interval per resource kind. A zero interval
// fetches once at mount and then only on explicit refresh.
type PollConfig struct {
	Status      time.Duration `yaml:"status"`
	Cameras     time.Duration `yaml:"cameras"`
	Detections  time.Duration `yaml:"detections"`
	Alerts      time.Duration `yaml:"alerts"`
	Analytics   time.Duration `yaml:"analytics"`
	Settings    time.Duration `yaml:"settings"`
	StrictOrder bool          `yaml:"strict_order"`
}

// BufferConfig caps the push-driven ring buffers.
type BufferConfig struct {
	Detections int `yaml:"detections"`
	Alerts     int `yaml:"alerts"`
}

// AnalyticsConfig selects the initial analytics window.
type AnalyticsConfig struct {
	Period string `yaml:"period"`
}

// ServerConfig configures the local display API.
type ServerConfig struct {
	Addr      string        `yaml:"addr"`
	KeepAlive time.Duration `yaml:"keepalive"`
}

// NotifyConfig configures notification history and relays.
type NotifyConfig struct {
	HistorySize int        `yaml:"history_size"`
	MQTT        MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the optional MQTT notification relay.
type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	QoS         byte          `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// DefaultConfig returns a config matching the reference dashboard behavior.
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			Path:                "/socket.io/",
			Namespace:           "/",
			HandshakeTimeout:    10 * time.Second,
			ReconnectDelay:      time.Second,
			ReconnectDelayMax:   5 * time.Second,
			RandomizationFactor: 0.5,
			Subscribe:           []string{"subscribe_detections", "subscribe_camera_status"},
		},
		Poll: PollConfig{
			Status:     5 * time.Second,
			Cameras:    10 * time.Second,
			Detections: 30 * time.Second,
			Alerts:     30 * time.Second,
			Analytics:  60 * time.Second,
		},
		Buffers: BufferConfig{
			Detections: 10,
			Alerts:     5,
		},
		Analytics: AnalyticsConfig{Period: "today"},
		Server: ServerConfig{
			Addr:      ":8090",
			KeepAlive: 30 * time.Second,
		},
		Notify: NotifyConfig{
			HistorySize: 50,
			MQTT: MQTTConfig{
				Broker:      "tcp://localhost:1883",
				TopicPrefix: "face_mask_detection",
				QoS:         1,
				Timeout:     5 * time.Second,
			},
		},
		Log: LogConfig{Level: "info", Color: true},
	}
}

// Load reads a YAML file on top of DefaultConfig and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL)
	}
	if c.Backend.Timeout <= 0 {
		return errors.New("backend.timeout must be positive")
	}
	if c.Stream.URL != "" {
		if _, err := url.Parse(c.Stream.URL); err != nil {
			return fmt.Errorf("stream.url: %w", err)
		}
	}
	if c.Stream.ReconnectDelay <= 0 || c.Stream.ReconnectDelayMax < c.Stream.ReconnectDelay {
		return errors.New("stream reconnect delays must be positive and max >= initial")
	}
	if c.Stream.RandomizationFactor < 0 || c.Stream.RandomizationFactor > 1 {
		return errors.New("stream.randomization_factor must be within [0,1]")
	}
	if c.Stream.MaxAttempts < 0 {
		return errors.New("stream.max_attempts must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"status":     c.Poll.Status,
		"cameras":    c.Poll.Cameras,
		"detections": c.Poll.Detections,
		"alerts":     c.Poll.Alerts,
		"analytics":  c.Poll.Analytics,
		"settings":   c.Poll.Settings,
	} {
		if d < 0 {
			return fmt.Errorf("poll.%s must not be negative", name)
		}
	}
	if c.Buffers.Detections < 1 || c.Buffers.Alerts < 1 {
		return errors.New("buffer caps must be at least 1")
	}
	switch c.Analytics.Period {
	case "today", "week", "month":
	default:
		return fmt.Errorf("analytics.period %q must be today, week or month", c.Analytics.Period)
	}
	if c.Notify.HistorySize < 1 {
		return errors.New("notify.history_size must be at least 1")
	}
	if c.Notify.MQTT.Enabled && c.Notify.MQTT.Broker == "" {
		return errors.New("notify.mqtt.broker is required when mqtt is enabled")
	}
	if c.Notify.MQTT.QoS > 2 {
		return errors.New("notify.mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

// StreamURL returns the push endpoint base, falling back to the backend URL.
func (c *Config) StreamURL() string {
	if c.Stream.URL != "" {
		return c.Stream.URL
	}
	return c.Backend.BaseURL
}
