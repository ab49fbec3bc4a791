package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.TCPPort)
	assert.Equal(t, 8079, cfg.DiscoveryPort)
	assert.Equal(t, 3*time.Second, cfg.DiscoveryInterval)
	assert.True(t, cfg.DiscoveryEnabled)
	assert.Equal(t, "PalmController", cfg.ServiceName)
	assert.Equal(t, 1<<20, cfg.MaxMessageSize)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Zero(t, cfg.ClientIdleTimeout)
	assert.Equal(t, float64(200), cfg.RateLimit)
	assert.Equal(t, 400, cfg.RateBurst)
	assert.False(t, cfg.HTTPEnabled)
	assert.Equal(t, "palm:notify", cfg.RedisChannel)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("TCP_PORT", "9000")
	t.Setenv("DISCOVERY_ENABLED", "false")
	t.Setenv("DISCOVERY_TARGETS", "10.0.0.255:8079, 127.0.0.1:9999 ,")
	t.Setenv("RATE_LIMIT", "12.5")
	t.Setenv("CLIENT_IDLE_TIMEOUT", "90s")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.TCPPort)
	assert.False(t, cfg.DiscoveryEnabled)
	assert.Equal(t, []string{"10.0.0.255:8079", "127.0.0.1:9999"}, cfg.DiscoveryTargets)
	assert.Equal(t, 12.5, cfg.RateLimit)
	assert.Equal(t, 90*time.Second, cfg.ClientIdleTimeout)
	assert.Equal(t, "json", cfg.LogFormat)

	addrs, err := cfg.DiscoveryTargetAddrs()
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, 9999, addrs[1].Port)
}

func TestLoadConfig_BadValues(t *testing.T) {
	tests := map[string]string{
		"TCP_PORT":           "http",
		"DISCOVERY_ENABLED":  "maybe",
		"DISCOVERY_INTERVAL": "3",
		"RATE_LIMIT":         "fast",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			TCPPort:           8080,
			DiscoveryEnabled:  true,
			DiscoveryPort:     8079,
			DiscoveryInterval: time.Second,
			MaxMessageSize:    1 << 20,
			HTTPAddr:          "127.0.0.1:8081",
			LogLevel:          "info",
			LogFormat:         "text",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"port range", func(c *Config) { c.TCPPort = 70000 }, "TCP_PORT"},
		{"same ports", func(c *Config) { c.DiscoveryPort = 8080 }, "must differ"},
		{"interval", func(c *Config) { c.DiscoveryInterval = 0 }, "DISCOVERY_INTERVAL"},
		{"target", func(c *Config) { c.DiscoveryTargets = []string{"nope"} }, "DISCOVERY_TARGETS"},
		{"tiny frames", func(c *Config) { c.MaxMessageSize = 10 }, "MAX_MESSAGE_SIZE"},
		{"http addr", func(c *Config) { c.HTTPEnabled = true; c.HTTPAddr = "8081" }, "HTTP_ADDR"},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }, "JWT_SECRET"},
		{"two passwords", func(c *Config) { c.PairingPassword = "a"; c.PairingPasswordHash = "b" }, "PAIRING_PASSWORD"},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("client_read_error", "client_id", "c1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"client_id":"c1"`)
}
