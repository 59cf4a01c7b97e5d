package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// The gateway URL is the one setting with no usable default.
	t.Setenv("PUSHGATE_PROVIDER_GATEWAY_URL", "https://gateway.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "embedded", cfg.Queue.Type)
	assert.True(t, cfg.Listener.Enabled)
	assert.Equal(t, 2, cfg.Listener.Workers)
	assert.Equal(t, 10, cfg.Listener.BatchSize)
	assert.Equal(t, 25*time.Second, cfg.Listener.LeaseTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Listener.PollWait.Duration)
	assert.Equal(t, 5*time.Second, cfg.Listener.SleepWhenEmpty.Duration)
	assert.Equal(t, 200, cfg.Listener.MaintenanceInterval)
	assert.Equal(t, 15*time.Second, cfg.Listener.BackoffMax.Duration)
	assert.Equal(t, 10*time.Minute, cfg.Listener.HandlerIdleTTL.Duration)
	assert.False(t, cfg.Standby.Enabled)
}

func TestLoadFromTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pushgate.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[http]
port = 9090

[listener]
workers = 4
lease_timeout = "40s"

[queue]
type = "nats"

[queue.nats]
url = "nats://broker:4222"

[provider]
gateway_url = "https://gateway.example.com"
`), 0o600))
	t.Setenv("PUSHGATE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 4, cfg.Listener.Workers)
	assert.Equal(t, 40*time.Second, cfg.Listener.LeaseTimeout.Duration)
	assert.Equal(t, "nats", cfg.Queue.Type)
	assert.Equal(t, "nats://broker:4222", cfg.Queue.NATS.URL)

	// Values the file does not mention keep their defaults.
	assert.Equal(t, 10, cfg.Listener.BatchSize)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pushgate.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[listener]
workers = 4

[provider]
gateway_url = "https://gateway.example.com"
`), 0o600))
	t.Setenv("PUSHGATE_CONFIG", path)
	t.Setenv("PUSHGATE_LISTENER_WORKERS", "8")
	t.Setenv("PUSHGATE_LISTENER_SLEEP_WHEN_EMPTY", "1s")
	t.Setenv("PUSHGATE_QUEUE_TYPE", "sqs")
	t.Setenv("PUSHGATE_SQS_QUEUE_URL", "https://sqs.us-east-1.amazonaws.com/123/n")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Listener.Workers)
	assert.Equal(t, time.Second, cfg.Listener.SleepWhenEmpty.Duration)
	assert.Equal(t, "sqs", cfg.Queue.Type)
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/n", cfg.Queue.SQS.QueueURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Listener.Workers = 0 }},
		{"zero batch size", func(c *Config) { c.Listener.BatchSize = 0 }},
		{"zero lease", func(c *Config) { c.Listener.LeaseTimeout.Duration = 0 }},
		{"bad port", func(c *Config) { c.HTTP.Port = -1 }},
		{"unknown queue type", func(c *Config) { c.Queue.Type = "kafka" }},
		{"sqs without url", func(c *Config) { c.Queue.Type = "sqs"; c.Queue.SQS.QueueURL = "" }},
		{"nats without url", func(c *Config) { c.Queue.Type = "nats"; c.Queue.NATS.URL = "" }},
		{"standby without redis", func(c *Config) { c.Standby.Enabled = true; c.Standby.RedisAddr = "" }},
		{"enabled without gateway", func(c *Config) { c.Listener.Enabled = true; c.Provider.GatewayURL = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			cfg.Provider.GatewayURL = "https://gateway.example.com"
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestListenerConfigConversion(t *testing.T) {
	cfg := defaults()
	cfg.Listener.Workers = 3
	cfg.Listener.BackoffMax.Duration = 20 * time.Second

	lc := cfg.ListenerConfig()
	assert.Equal(t, 3, lc.Workers)
	assert.Equal(t, 20*time.Second, lc.BackoffMax)
	assert.Equal(t, 25*time.Second, lc.LeaseTimeout)
}
