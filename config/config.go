// Package config loads the kiosk daemon configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/arloliu/go-kiosk/kiosk"
	"github.com/arloliu/go-kiosk/logger"
	"github.com/arloliu/go-kiosk/slideshow"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Default values applied by Parse.
const (
	DefaultNamespace      = "winsipbrowser.0"
	DefaultReconnectDelay = 10 * time.Second
	DefaultStoreDriver    = StoreMemory
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreNATS   = "nats"
)

// ErrConfig is wrapped by every ConfigError.
var ErrConfig = errors.New("invalid configuration")

// ConfigError reports an unusable configuration. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// PageConfig is one slideshow page. Time is the display duration in seconds.
type PageConfig struct {
	Name string  `yaml:"name"`
	Zoom float64 `yaml:"zoom,omitempty"`
	Time float64 `yaml:"time,omitempty"`
}

// SpeakConfig is one predefined text-to-speech message.
type SpeakConfig struct {
	Text string `yaml:"text"`
}

// StoreConfig selects the state store backend.
type StoreConfig struct {
	Driver  string `yaml:"driver"`
	NATSURL string `yaml:"nats_url,omitempty"`
	Bucket  string `yaml:"bucket,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Namespace      string        `yaml:"namespace,omitempty"`
	LogLevel       string        `yaml:"log_level,omitempty"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay,omitempty"`
	Pages          []PageConfig  `yaml:"pages,omitempty"`
	Speak          []SpeakConfig `yaml:"speak,omitempty"`
	Store          StoreConfig   `yaml:"store,omitempty"`
	MetricsAddr    string        `yaml:"metrics_addr,omitempty"`
}

// Load reads, parses and validates the configuration file at path. Environment
// variables referenced as $VAR or ${VAR} are expanded first.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read is like Load but leaves validation to the caller, so that values can be
// overridden first.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Decode([]byte(os.ExpandEnv(string(data))))
}

// Parse parses and validates a YAML configuration, applying defaults for omitted
// optional fields.
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Decode parses a YAML configuration and applies defaults without validating it.
func Decode(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Host = strings.TrimSpace(c.Host)
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	c.Store.Driver = strings.ToLower(c.Store.Driver)
}

// Validate reports the first problem of the configuration as a *ConfigError.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &ConfigError{Field: "host", Reason: "is required"}
	}
	if c.Port == 0 {
		return &ConfigError{Field: "port", Reason: "is required"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigError{Field: "port", Reason: fmt.Sprintf("%d out of range 1-65535", c.Port)}
	}
	if c.ReconnectDelay < 0 {
		return &ConfigError{Field: "reconnect_delay", Reason: "must be positive"}
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return &ConfigError{Field: "log_level", Reason: err.Error()}
	}

	for i, page := range c.Pages {
		if strings.TrimSpace(page.Name) == "" {
			return &ConfigError{Field: fmt.Sprintf("pages[%d].name", i), Reason: "is required"}
		}
		if page.Zoom < 0 {
			return &ConfigError{Field: fmt.Sprintf("pages[%d].zoom", i), Reason: "must not be negative"}
		}
		if page.Time < 0 {
			return &ConfigError{Field: fmt.Sprintf("pages[%d].time", i), Reason: "must not be negative"}
		}
	}

	switch c.Store.Driver {
	case "", StoreMemory:
	case StoreNATS:
		if c.Store.NATSURL == "" {
			return &ConfigError{Field: "store.nats_url", Reason: "is required for the nats driver"}
		}
	default:
		return &ConfigError{Field: "store.driver", Reason: fmt.Sprintf("unknown driver %q", c.Store.Driver)}
	}

	return nil
}

// SlideshowPages converts the page list to slideshow pages.
func (c *Config) SlideshowPages() []slideshow.Page {
	return lo.Map(c.Pages, func(p PageConfig, _ int) slideshow.Page {
		return slideshow.Page{
			Name:     strings.TrimSpace(p.Name),
			Zoom:     p.Zoom,
			Duration: time.Duration(p.Time * float64(time.Second)),
		}
	})
}

// SpeakTexts returns the predefined messages in order.
func (c *Config) SpeakTexts() []string {
	return lo.Map(c.Speak, func(s SpeakConfig, _ int) string { return s.Text })
}

// SessionOptions returns the kiosk session options derived from the configuration.
func (c *Config) SessionOptions() []kiosk.SessionOption {
	opts := []kiosk.SessionOption{kiosk.WithPages(c.SlideshowPages()...)}
	if c.ReconnectDelay > 0 {
		opts = append(opts, kiosk.WithReconnectDelay(c.ReconnectDelay))
	}

	return opts
}
