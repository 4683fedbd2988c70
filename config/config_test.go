package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jousa-sbrt/remote-bridge/errors"
)

func TestDuration_JSON(t *testing.T) {
	d := Duration(90 * time.Second)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var parsed Duration
	require.NoError(t, json.Unmarshal([]byte(`"250ms"`), &parsed))
	assert.Equal(t, 250*time.Millisecond, parsed.Std())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &parsed))
	assert.Error(t, json.Unmarshal([]byte(`42`), &parsed))
}

func TestDefaultRelay(t *testing.T) {
	cfg := DefaultRelay()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/ws", cfg.Path)
	assert.Equal(t, 10*time.Second, cfg.AuthTimeout.Std())
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout.Std())
	assert.Equal(t, 20*time.Second, cfg.KeepaliveInterval.Std())
	assert.Empty(t, cfg.ProducerToken, "defaults must never embed secrets")
	assert.Empty(t, cfg.ConsumerToken)
}

func TestLoadRelay_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"port": 9000,
		"path": "/bridge",
		"producer_token": "from-file",
		"request_timeout": "5s"
	}`), 0o600))

	// Environment wins over the file.
	t.Setenv("PRODUCER_TOKEN", "from-env")
	t.Setenv("RELAY_REQUEST_TIMEOUT", "2s")

	cfg, err := LoadRelay(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/bridge", cfg.Path)
	assert.Equal(t, "from-env", cfg.ProducerToken)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout.Std())
	// Untouched fields keep their defaults.
	assert.Equal(t, 20*time.Second, cfg.KeepaliveInterval.Std())
}

func TestLoadRelay_MissingFile(t *testing.T) {
	_, err := LoadRelay("/nonexistent/relay.json")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadRelay_NoFile(t *testing.T) {
	cfg, err := LoadRelay("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestLoadBridge_Env(t *testing.T) {
	t.Setenv("RELAY_URL", "wss://relay.example.com/ws")
	t.Setenv("PRODUCER_TOKEN", "secret")
	t.Setenv("SQLITE_PATH", "/data/signals.db")

	cfg, err := LoadBridge("")
	require.NoError(t, err)

	assert.Equal(t, "wss://relay.example.com/ws", cfg.RelayURL)
	assert.Equal(t, "secret", cfg.ProducerToken)
	assert.Equal(t, "/data/signals.db", cfg.SQLitePath)
	require.NoError(t, cfg.Validate())
}

func TestLoadBridge_ObservabilityPorts(t *testing.T) {
	// Both endpoints default to disabled and are enabled per-port from the
	// config file.
	cfg, err := LoadBridge("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.HealthPort)
	assert.Equal(t, 0, cfg.MetricsPort)

	path := filepath.Join(t.TempDir(), "bridge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"health_port": 8091,
		"metrics_port": 9091
	}`), 0o600))

	cfg, err = LoadBridge(path)
	require.NoError(t, err)
	assert.Equal(t, 8091, cfg.HealthPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
}

func TestRelayConfig_Validate(t *testing.T) {
	valid := func() RelayConfig {
		cfg := DefaultRelay()
		cfg.ProducerToken = "p"
		cfg.ConsumerToken = "c"
		return cfg
	}

	require.NoError(t, func() error { cfg := valid(); return cfg.Validate() }())

	tests := []struct {
		name   string
		mutate func(*RelayConfig)
	}{
		{"missing producer token", func(c *RelayConfig) { c.ProducerToken = "" }},
		{"missing consumer token", func(c *RelayConfig) { c.ConsumerToken = "" }},
		{"port zero", func(c *RelayConfig) { c.Port = 0 }},
		{"port too high", func(c *RelayConfig) { c.Port = 70000 }},
		{"relative path", func(c *RelayConfig) { c.Path = "ws" }},
		{"zero auth timeout", func(c *RelayConfig) { c.AuthTimeout = 0 }},
		{"negative request timeout", func(c *RelayConfig) { c.RequestTimeout = Duration(-time.Second) }},
		{"zero keepalive", func(c *RelayConfig) { c.KeepaliveInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBridgeConfig_Validate(t *testing.T) {
	cfg := DefaultBridge()
	cfg.ProducerToken = "p"
	require.NoError(t, cfg.Validate())

	cfg.ProducerToken = ""
	assert.Error(t, cfg.Validate())

	cfg.ProducerToken = "p"
	cfg.Limits.Default = 9999
	assert.Error(t, cfg.Validate(), "default outside [min, max]")
}

func TestLimitConfig_Validate(t *testing.T) {
	require.NoError(t, func() error { l := DefaultLimits(); return l.Validate() }())

	tests := []struct {
		name   string
		limits LimitConfig
	}{
		{"min below one", LimitConfig{Min: 0, Max: 500, Default: 100}},
		{"max below min", LimitConfig{Min: 10, Max: 5, Default: 10}},
		{"default below min", LimitConfig{Min: 10, Max: 500, Default: 5}},
		{"default above max", LimitConfig{Min: 1, Max: 100, Default: 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limits.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}
