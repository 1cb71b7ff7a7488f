// Package config loads and validates the application configuration from a
// JSON or YAML file, with environment overrides for deployment secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/symbiote-h2020/Registry-sub000/errors"
)

// NATSConfig describes the broker connection
type NATSConfig struct {
	URL           string        `json:"url" yaml:"url"`
	Name          string        `json:"name,omitempty" yaml:"name,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	MaxReconnects int           `json:"maxReconnects" yaml:"maxReconnects"`
	ReconnectWait time.Duration `json:"reconnectWait" yaml:"reconnectWait"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
}

// StreamConfig names the durable stream holding inbound requests
type StreamConfig struct {
	Name     string `json:"name" yaml:"name"`
	Consumer string `json:"consumer" yaml:"consumer"`
}

// RPCConfig bounds the round trip to the semantic-validation peer
type RPCConfig struct {
	CallTimeout time.Duration `json:"callTimeout" yaml:"callTimeout"`
}

// AuthConfig holds the HMAC key shared with the token-issuing authority
type AuthConfig struct {
	Secret string `json:"secret" yaml:"secret"`
}

// NotifierConfig throttles fanout event publication
type NotifierConfig struct {
	EventsPerSecond float64 `json:"eventsPerSecond" yaml:"eventsPerSecond"`
	Burst           int     `json:"burst" yaml:"burst"`
}

// HTTPConfig is the observability listener (metrics, health)
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Config is the complete application configuration
type Config struct {
	LogLevel string         `json:"logLevel" yaml:"logLevel"`
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
	Stream   StreamConfig   `json:"stream" yaml:"stream"`
	RPC      RPCConfig      `json:"rpc" yaml:"rpc"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Notifier NotifierConfig `json:"notifier" yaml:"notifier"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
}

// Default returns the configuration used when a field is left unset
func Default() *Config {
	return &Config{
		LogLevel: "info",
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "registry",
			MaxReconnects: 10,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		Stream: StreamConfig{
			Name:     "REGISTRY_REQUESTS",
			Consumer: "registry-workers",
		},
		RPC: RPCConfig{
			CallTimeout: 30 * time.Second,
		},
		Notifier: NotifierConfig{
			EventsPerSecond: 100,
			Burst:           200,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// Load reads a configuration file, fills unset fields from Default and
// applies environment overrides. The format follows the file extension:
// .yaml/.yml is YAML, anything else JSON.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(
				fmt.Errorf("%w: %v", errors.ErrMissingConfig, err),
				"config", "Load", "read config file")
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, errors.Wrap(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"config", "Load", "parse config file")
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployments inject connection details and secrets without
// writing them into the config file
func applyEnv(cfg *Config) {
	if v := os.Getenv("REGISTRY_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("REGISTRY_NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}
	if v := os.Getenv("REGISTRY_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("REGISTRY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	var problems []string

	if c.NATS.URL == "" {
		problems = append(problems, "nats.url is required")
	}
	if c.Stream.Name == "" {
		problems = append(problems, "stream.name is required")
	}
	if c.Stream.Consumer == "" {
		problems = append(problems, "stream.consumer is required")
	}
	if c.Auth.Secret == "" {
		problems = append(problems, "auth.secret is required (or REGISTRY_AUTH_SECRET)")
	}
	if c.RPC.CallTimeout <= 0 {
		problems = append(problems, "rpc.callTimeout must be positive")
	}
	if c.Notifier.EventsPerSecond <= 0 {
		problems = append(problems, "notifier.eventsPerSecond must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, "logLevel must be one of debug, info, warn, error")
	}

	if len(problems) > 0 {
		return errors.Wrap(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"config", "Validate", "validate configuration")
	}
	return nil
}
