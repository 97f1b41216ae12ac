// Package config loads the stackscope YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/charliek/stackscope/internal/constants"
	"github.com/charliek/stackscope/internal/domain"
	"gopkg.in/yaml.v3"
)

// Session source kinds
const (
	SourceTransport = "transport"
	SourceLogcat    = "logcat"
	SourceFile      = "file"
	SourceStream    = "stream"
	SourceManual    = "manual"
)

// Config represents the top-level stackscope configuration
type Config struct {
	API       APIConfig                `yaml:"api"`
	EnvFile   string                   `yaml:"env_file"`
	Transport TransportConfig          `yaml:"transport"`
	Sessions  map[string]SessionConfig `yaml:"sessions"`
	Store     StoreConfig              `yaml:"store"`
}

// APIConfig defines the HTTP API configuration
type APIConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	Auth *bool  `yaml:"auth,omitempty"` // nil = auto-determine based on host
}

// TransportConfig defines a wire transport endpoint
type TransportConfig struct {
	Mode    string        `yaml:"mode"`
	Address string        `yaml:"address"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig bounds reconnect delays. Durations use time.ParseDuration syntax.
type BackoffConfig struct {
	Initial    string `yaml:"initial"`
	Max        string `yaml:"max"`
	MaxRetries int    `yaml:"max_retries"`
}

// InitialDuration returns the parsed initial delay or the default
func (b BackoffConfig) InitialDuration() time.Duration {
	return parseDurationOr(b.Initial, constants.DefaultBackoffInitial)
}

// MaxDuration returns the parsed maximum delay or the default
func (b BackoffConfig) MaxDuration() time.Duration {
	return parseDurationOr(b.Max, constants.DefaultBackoffMax)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// SessionConfig represents a session that can be either a simple string
// command (assembled as logcat output) or an expanded form
type SessionConfig struct {
	Source    string            `yaml:"source"`
	Cmd       string            `yaml:"cmd"`
	Path      string            `yaml:"path"`
	Follow    bool              `yaml:"follow"`
	Format    string            `yaml:"format"`
	Env       map[string]string `yaml:"env"`
	Transport *TransportConfig  `yaml:"transport,omitempty"`
}

// StoreConfig tunes the per-session log stores
type StoreConfig struct {
	SubscriptionBuffer int `yaml:"subscription_buffer"`
	DisplayCap         int `yaml:"display_cap"`
}

// rawConfig is used for initial YAML parsing to handle the flexible session format
type rawConfig struct {
	API       APIConfig              `yaml:"api"`
	EnvFile   string                 `yaml:"env_file"`
	Transport TransportConfig        `yaml:"transport"`
	Sessions  map[string]interface{} `yaml:"sessions"`
	Store     StoreConfig            `yaml:"store"`
}

// Default returns the configuration used when no file is present:
// a single transport session listening on the default wire address.
func Default() *Config {
	cfg := &Config{Sessions: map[string]SessionConfig{}}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	// First check if file exists
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("checking config file: %w", err)
	}

	// Check file permissions for security
	if err := CheckFilePermissions(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	config := &Config{
		API:       raw.API,
		EnvFile:   raw.EnvFile,
		Transport: raw.Transport,
		Sessions:  make(map[string]SessionConfig),
		Store:     raw.Store,
	}

	// Parse sessions (can be string or expanded form)
	for name, value := range raw.Sessions {
		sess, err := parseSessionConfig(value)
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", name, err)
		}
		config.Sessions[name] = sess
	}

	applyDefaults(config)

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func applyDefaults(config *Config) {
	if config.API.Port == 0 {
		config.API.Port = constants.DefaultAPIPort
	}
	if config.API.Host == "" {
		config.API.Host = constants.DefaultAPIHost
	}

	if config.Transport.Mode == "" {
		config.Transport.Mode = "server"
	}
	if config.Transport.Address == "" {
		config.Transport.Address = constants.DefaultTransportAddress
	}

	if config.Store.SubscriptionBuffer == 0 {
		config.Store.SubscriptionBuffer = constants.DefaultSubscriptionBuffer
	}
	if config.Store.DisplayCap == 0 {
		config.Store.DisplayCap = constants.DefaultDisplayCap
	}

	if len(config.Sessions) == 0 {
		config.Sessions[constants.DefaultSessionName] = SessionConfig{Source: SourceTransport}
	}

	for name, sess := range config.Sessions {
		if sess.Source == "" {
			sess.Source = SourceLogcat
			if sess.Cmd == "" && sess.Path == "" {
				sess.Source = SourceTransport
			}
		}
		if sess.Transport != nil {
			if sess.Transport.Mode == "" {
				sess.Transport.Mode = config.Transport.Mode
			}
			if sess.Transport.Address == "" {
				sess.Transport.Address = config.Transport.Address
			}
		}
		config.Sessions[name] = sess
	}
}

// parseSessionConfig handles both simple and expanded session definitions
func parseSessionConfig(value interface{}) (SessionConfig, error) {
	switch v := value.(type) {
	case string:
		// Simple form: device: adb logcat -v time
		return SessionConfig{Source: SourceLogcat, Cmd: v}, nil
	case map[string]interface{}:
		// Expanded form: re-marshal and unmarshal to struct
		data, err := yaml.Marshal(v)
		if err != nil {
			return SessionConfig{}, fmt.Errorf("marshaling session config: %w", err)
		}
		var sess SessionConfig
		if err := yaml.Unmarshal(data, &sess); err != nil {
			return SessionConfig{}, fmt.Errorf("unmarshaling session config: %w", err)
		}
		return sess, nil
	case nil:
		return SessionConfig{}, nil
	default:
		return SessionConfig{}, fmt.Errorf("invalid session configuration type: %T", value)
	}
}

// TransportFor returns the transport settings a session uses
func (c *Config) TransportFor(name string) TransportConfig {
	if sess, ok := c.Sessions[name]; ok && sess.Transport != nil {
		return *sess.Transport
	}
	return c.Transport
}
