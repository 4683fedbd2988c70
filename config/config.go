// Package config defines the configuration surface for the relay and the
// producer bridge. Configuration is loaded from an optional JSON file, then
// overridden from the environment, then validated. The relay core treats all
// timing and secret values as injected configuration, never as literals.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jousa-sbrt/remote-bridge/errors"
)

// Default timing values. These mirror the deployed service: a request that
// the producer has not answered within the timeout fails with a synthesized
// error; keepalive pings keep intermediaries from dropping idle sockets.
const (
	DefaultPort              = 8080
	DefaultPath              = "/ws"
	DefaultAuthTimeout       = 10 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultKeepaliveInterval = 20 * time.Second
	DefaultHealthPort        = 8081
	DefaultMetricsPort       = 9090
)

// Limit clamp bounds applied by the resolver before querying storage.
const (
	DefaultLimitMin     = 1
	DefaultLimitMax     = 500
	DefaultLimitDefault = 100
)

// Duration is a time.Duration that marshals to/from JSON as a duration
// string (e.g. "10s").
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RelayConfig configures the relay server.
type RelayConfig struct {
	Port              int      `json:"port"`
	Path              string   `json:"path"`
	ProducerToken     string   `json:"producer_token"`
	ConsumerToken     string   `json:"consumer_token"`
	AuthTimeout       Duration `json:"auth_timeout"`
	RequestTimeout    Duration `json:"request_timeout"`
	KeepaliveInterval Duration `json:"keepalive_interval"`
	HealthPort        int      `json:"health_port"`  // 0 disables the health endpoint
	MetricsPort       int      `json:"metrics_port"` // 0 disables the metrics endpoint
}

// BridgeConfig configures the producer bridge agent.
type BridgeConfig struct {
	RelayURL          string      `json:"relay_url"`
	ProducerToken     string      `json:"producer_token"`
	SQLitePath        string      `json:"sqlite_path"`
	AuthTimeout       Duration    `json:"auth_timeout"`
	KeepaliveInterval Duration    `json:"keepalive_interval"`
	Limits            LimitConfig `json:"limits"`
	HealthPort        int         `json:"health_port"`  // 0 disables the health endpoint
	MetricsPort       int         `json:"metrics_port"` // 0 disables the metrics endpoint
}

// LimitConfig bounds the "limit" query parameter before it reaches storage.
type LimitConfig struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Default int `json:"default"`
}

// DefaultRelay returns a RelayConfig with default timings and no secrets.
func DefaultRelay() RelayConfig {
	return RelayConfig{
		Port:              DefaultPort,
		Path:              DefaultPath,
		AuthTimeout:       Duration(DefaultAuthTimeout),
		RequestTimeout:    Duration(DefaultRequestTimeout),
		KeepaliveInterval: Duration(DefaultKeepaliveInterval),
		HealthPort:        DefaultHealthPort,
		MetricsPort:       DefaultMetricsPort,
	}
}

// DefaultBridge returns a BridgeConfig with default timings and clamp bounds.
func DefaultBridge() BridgeConfig {
	return BridgeConfig{
		RelayURL:          "ws://localhost:8080/ws",
		SQLitePath:        "live_signals.db",
		AuthTimeout:       Duration(DefaultAuthTimeout),
		KeepaliveInterval: Duration(DefaultKeepaliveInterval),
		Limits:            DefaultLimits(),
	}
}

// DefaultLimits returns the default limit clamp bounds.
func DefaultLimits() LimitConfig {
	return LimitConfig{
		Min:     DefaultLimitMin,
		Max:     DefaultLimitMax,
		Default: DefaultLimitDefault,
	}
}

// LoadRelay loads relay configuration: defaults, then the JSON file at path
// (if path is non-empty), then environment overrides. Callers validate after
// applying any flag-level overrides of their own.
func LoadRelay(path string) (RelayConfig, error) {
	cfg := DefaultRelay()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "config", "LoadRelay", "read config file")
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadBridge loads bridge configuration the same way as LoadRelay.
func LoadBridge(path string) (BridgeConfig, error) {
	cfg := DefaultBridge()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "config", "LoadBridge", "read config file")
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func loadFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *RelayConfig) applyEnv() {
	if v := os.Getenv("PRODUCER_TOKEN"); v != "" {
		c.ProducerToken = v
	}
	if v := os.Getenv("CONSUMER_TOKEN"); v != "" {
		c.ConsumerToken = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("RELAY_PATH"); v != "" {
		c.Path = v
	}
	if v := os.Getenv("RELAY_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout = Duration(d)
		}
	}
	if v := os.Getenv("RELAY_KEEPALIVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.KeepaliveInterval = Duration(d)
		}
	}
}

func (c *BridgeConfig) applyEnv() {
	if v := os.Getenv("RELAY_URL"); v != "" {
		c.RelayURL = v
	}
	if v := os.Getenv("PRODUCER_TOKEN"); v != "" {
		c.ProducerToken = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SQLitePath = v
	}
}

// Validate checks the relay configuration for completeness and sane bounds.
func (c *RelayConfig) Validate() error {
	if c.ProducerToken == "" {
		return errors.WrapFatal(
			fmt.Errorf("producer_token is required (env: PRODUCER_TOKEN)"),
			"config", "Validate", "check producer token")
	}
	if c.ConsumerToken == "" {
		return errors.WrapFatal(
			fmt.Errorf("consumer_token is required (env: CONSUMER_TOKEN)"),
			"config", "Validate", "check consumer token")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("port %d out of range", c.Port),
			"config", "Validate", "check port")
	}
	if c.Path == "" || c.Path[0] != '/' {
		return errors.WrapInvalid(
			fmt.Errorf("path %q must start with /", c.Path),
			"config", "Validate", "check path")
	}
	if c.AuthTimeout.Std() <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("auth_timeout must be positive"),
			"config", "Validate", "check auth timeout")
	}
	if c.RequestTimeout.Std() <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("request_timeout must be positive"),
			"config", "Validate", "check request timeout")
	}
	if c.KeepaliveInterval.Std() <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("keepalive_interval must be positive"),
			"config", "Validate", "check keepalive interval")
	}
	return nil
}

// Validate checks the bridge configuration.
func (c *BridgeConfig) Validate() error {
	if c.RelayURL == "" {
		return errors.WrapFatal(
			fmt.Errorf("relay_url is required (env: RELAY_URL)"),
			"config", "Validate", "check relay url")
	}
	if c.ProducerToken == "" {
		return errors.WrapFatal(
			fmt.Errorf("producer_token is required (env: PRODUCER_TOKEN)"),
			"config", "Validate", "check producer token")
	}
	if c.SQLitePath == "" {
		return errors.WrapFatal(
			fmt.Errorf("sqlite_path is required (env: SQLITE_PATH)"),
			"config", "Validate", "check sqlite path")
	}
	return c.Limits.Validate()
}

// Validate checks limit clamp bounds for internal consistency.
func (l *LimitConfig) Validate() error {
	if l.Min < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("limits.min %d must be >= 1", l.Min),
			"config", "Validate", "check limit min")
	}
	if l.Max < l.Min {
		return errors.WrapInvalid(
			fmt.Errorf("limits.max %d must be >= limits.min %d", l.Max, l.Min),
			"config", "Validate", "check limit max")
	}
	if l.Default < l.Min || l.Default > l.Max {
		return errors.WrapInvalid(
			fmt.Errorf("limits.default %d must be within [%d, %d]", l.Default, l.Min, l.Max),
			"config", "Validate", "check limit default")
	}
	return nil
}
