// Package config loads listener configuration from defaults, an optional
// TOML file, and PUSHGATE_* environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"go.pushgate.dev/internal/listener"
	"go.pushgate.dev/internal/provider"
)

// Duration wraps time.Duration so TOML files can use values like "25s"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration
type Config struct {
	HTTP     HTTPConfig     `toml:"http"`
	Listener ListenerConfig `toml:"listener"`
	Queue    QueueConfig    `toml:"queue"`
	Provider ProviderConfig `toml:"provider"`
	Standby  StandbyConfig  `toml:"standby"`
}

// HTTPConfig configures the management HTTP server
type HTTPConfig struct {
	Port int `toml:"port"`
}

// ListenerConfig configures the consumption loop
type ListenerConfig struct {
	Enabled             bool     `toml:"enabled"`
	Workers             int      `toml:"workers"`
	BatchSize           int      `toml:"batch_size"`
	LeaseTimeout        Duration `toml:"lease_timeout"`
	PollWait            Duration `toml:"poll_wait"`
	SleepWhenEmpty      Duration `toml:"sleep_when_empty"`
	SleepBetweenBatches Duration `toml:"sleep_between_batches"`
	MaintenanceInterval int      `toml:"maintenance_interval"`
	BackoffMax          Duration `toml:"backoff_max"`
	HandlerIdleTTL      Duration `toml:"handler_idle_ttl"`
}

// QueueConfig selects and configures the message source
type QueueConfig struct {
	// Type is "sqs", "nats", or "embedded" (in-process NATS, dev only)
	Type string `toml:"type"`

	SQS  SQSConfig  `toml:"sqs"`
	NATS NATSConfig `toml:"nats"`
}

// SQSConfig configures the AWS SQS source
type SQSConfig struct {
	QueueURL        string `toml:"queue_url"`
	Region          string `toml:"region"`
	CustomEndpoint  string `toml:"custom_endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// NATSConfig configures the NATS JetStream source
type NATSConfig struct {
	URL     string `toml:"url"`
	Stream  string `toml:"stream"`
	Subject string `toml:"subject"`
	Durable string `toml:"durable"`
}

// ProviderConfig configures the push gateway handlers
type ProviderConfig struct {
	GatewayURL                string   `toml:"gateway_url"`
	Timeout                   Duration `toml:"timeout"`
	RatePerSecond             float64  `toml:"rate_per_second"`
	RateBurst                 int      `toml:"rate_burst"`
	CircuitBreakerEnabled     bool     `toml:"circuit_breaker_enabled"`
	CircuitBreakerRequests    uint32   `toml:"circuit_breaker_requests"`
	CircuitBreakerInterval    Duration `toml:"circuit_breaker_interval"`
	CircuitBreakerRatio       float64  `toml:"circuit_breaker_ratio"`
	CircuitBreakerTimeout     Duration `toml:"circuit_breaker_timeout"`
	CircuitBreakerMinRequests uint32   `toml:"circuit_breaker_min_requests"`
}

// StandbyConfig configures primary/standby failover
type StandbyConfig struct {
	Enabled         bool     `toml:"enabled"`
	InstanceID      string   `toml:"instance_id"`
	RedisAddr       string   `toml:"redis_addr"`
	RedisPassword   string   `toml:"redis_password"`
	LockKey         string   `toml:"lock_key"`
	LockTTL         Duration `toml:"lock_ttl"`
	RefreshInterval Duration `toml:"refresh_interval"`
}

// Load builds the configuration from defaults, then the TOML file named by
// PUSHGATE_CONFIG if set, then PUSHGATE_* environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("PUSHGATE_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	lst := listener.DefaultConfig()
	prv := provider.DefaultConfig()

	return &Config{
		HTTP: HTTPConfig{Port: 8080},
		Listener: ListenerConfig{
			Enabled:             lst.Enabled,
			Workers:             lst.Workers,
			BatchSize:           lst.BatchSize,
			LeaseTimeout:        Duration{lst.LeaseTimeout},
			PollWait:            Duration{lst.PollWait},
			SleepWhenEmpty:      Duration{lst.SleepWhenEmpty},
			SleepBetweenBatches: Duration{lst.SleepBetweenBatches},
			MaintenanceInterval: lst.MaintenanceInterval,
			BackoffMax:          Duration{lst.BackoffMax},
			HandlerIdleTTL:      Duration{lst.HandlerIdleTTL},
		},
		Queue: QueueConfig{
			Type: "embedded",
			SQS: SQSConfig{
				Region: "us-east-1",
			},
			NATS: NATSConfig{
				URL:     "nats://localhost:4222",
				Stream:  "NOTIFICATIONS",
				Subject: "notifications.>",
				Durable: "pushgate-listener",
			},
		},
		Provider: ProviderConfig{
			GatewayURL:                prv.GatewayURL,
			Timeout:                   Duration{prv.Timeout},
			RatePerSecond:             prv.RatePerSecond,
			RateBurst:                 prv.RateBurst,
			CircuitBreakerEnabled:     prv.CircuitBreakerEnabled,
			CircuitBreakerRequests:    prv.CircuitBreakerRequests,
			CircuitBreakerInterval:    Duration{prv.CircuitBreakerInterval},
			CircuitBreakerRatio:       prv.CircuitBreakerRatio,
			CircuitBreakerTimeout:     Duration{prv.CircuitBreakerTimeout},
			CircuitBreakerMinRequests: prv.CircuitBreakerMinRequests,
		},
		Standby: StandbyConfig{
			Enabled:         false,
			RedisAddr:       "localhost:6379",
			LockKey:         "pushgate:listener:primary",
			LockTTL:         Duration{30 * time.Second},
			RefreshInterval: Duration{10 * time.Second},
		},
	}
}

// applyEnv layers PUSHGATE_* environment variables over the current values
func applyEnv(cfg *Config) {
	envInt("PUSHGATE_HTTP_PORT", &cfg.HTTP.Port)

	envBool("PUSHGATE_LISTENER_ENABLED", &cfg.Listener.Enabled)
	envInt("PUSHGATE_LISTENER_WORKERS", &cfg.Listener.Workers)
	envInt("PUSHGATE_LISTENER_BATCH_SIZE", &cfg.Listener.BatchSize)
	envDuration("PUSHGATE_LISTENER_LEASE_TIMEOUT", &cfg.Listener.LeaseTimeout)
	envDuration("PUSHGATE_LISTENER_POLL_WAIT", &cfg.Listener.PollWait)
	envDuration("PUSHGATE_LISTENER_SLEEP_WHEN_EMPTY", &cfg.Listener.SleepWhenEmpty)
	envDuration("PUSHGATE_LISTENER_SLEEP_BETWEEN_BATCHES", &cfg.Listener.SleepBetweenBatches)
	envInt("PUSHGATE_LISTENER_MAINTENANCE_INTERVAL", &cfg.Listener.MaintenanceInterval)
	envDuration("PUSHGATE_LISTENER_BACKOFF_MAX", &cfg.Listener.BackoffMax)
	envDuration("PUSHGATE_LISTENER_HANDLER_IDLE_TTL", &cfg.Listener.HandlerIdleTTL)

	envString("PUSHGATE_QUEUE_TYPE", &cfg.Queue.Type)
	envString("PUSHGATE_SQS_QUEUE_URL", &cfg.Queue.SQS.QueueURL)
	envString("PUSHGATE_SQS_REGION", &cfg.Queue.SQS.Region)
	envString("PUSHGATE_SQS_CUSTOM_ENDPOINT", &cfg.Queue.SQS.CustomEndpoint)
	envString("PUSHGATE_SQS_ACCESS_KEY_ID", &cfg.Queue.SQS.AccessKeyID)
	envString("PUSHGATE_SQS_SECRET_ACCESS_KEY", &cfg.Queue.SQS.SecretAccessKey)
	envString("PUSHGATE_NATS_URL", &cfg.Queue.NATS.URL)
	envString("PUSHGATE_NATS_STREAM", &cfg.Queue.NATS.Stream)
	envString("PUSHGATE_NATS_SUBJECT", &cfg.Queue.NATS.Subject)
	envString("PUSHGATE_NATS_DURABLE", &cfg.Queue.NATS.Durable)

	envString("PUSHGATE_PROVIDER_GATEWAY_URL", &cfg.Provider.GatewayURL)
	envDuration("PUSHGATE_PROVIDER_TIMEOUT", &cfg.Provider.Timeout)
	envFloat("PUSHGATE_PROVIDER_RATE_PER_SECOND", &cfg.Provider.RatePerSecond)
	envInt("PUSHGATE_PROVIDER_RATE_BURST", &cfg.Provider.RateBurst)

	envBool("PUSHGATE_STANDBY_ENABLED", &cfg.Standby.Enabled)
	envString("PUSHGATE_STANDBY_INSTANCE_ID", &cfg.Standby.InstanceID)
	envString("PUSHGATE_REDIS_ADDR", &cfg.Standby.RedisAddr)
	envString("PUSHGATE_REDIS_PASSWORD", &cfg.Standby.RedisPassword)
	envString("PUSHGATE_STANDBY_LOCK_KEY", &cfg.Standby.LockKey)
	envDuration("PUSHGATE_STANDBY_LOCK_TTL", &cfg.Standby.LockTTL)
	envDuration("PUSHGATE_STANDBY_REFRESH_INTERVAL", &cfg.Standby.RefreshInterval)
}

// Validate checks for values the process cannot start with
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.Listener.Workers <= 0 {
		return fmt.Errorf("listener.workers must be positive, got %d", c.Listener.Workers)
	}
	if c.Listener.BatchSize <= 0 {
		return fmt.Errorf("listener.batch_size must be positive, got %d", c.Listener.BatchSize)
	}
	if c.Listener.LeaseTimeout.Duration <= 0 {
		return fmt.Errorf("listener.lease_timeout must be positive")
	}

	switch c.Queue.Type {
	case "sqs":
		if c.Queue.SQS.QueueURL == "" {
			return fmt.Errorf("queue.sqs.queue_url is required when queue.type is sqs")
		}
	case "nats":
		if c.Queue.NATS.URL == "" {
			return fmt.Errorf("queue.nats.url is required when queue.type is nats")
		}
	case "embedded":
	default:
		return fmt.Errorf("queue.type must be sqs, nats, or embedded, got %q", c.Queue.Type)
	}

	if c.Listener.Enabled && c.Provider.GatewayURL == "" {
		return fmt.Errorf("provider.gateway_url is required when the listener is enabled")
	}

	if c.Standby.Enabled {
		if c.Standby.RedisAddr == "" {
			return fmt.Errorf("standby.redis_addr is required when standby is enabled")
		}
		if c.Standby.LockKey == "" {
			return fmt.Errorf("standby.lock_key is required when standby is enabled")
		}
	}

	return nil
}

// ListenerConfig converts the file/env values to the listener's config type
func (c *Config) ListenerConfig() *listener.Config {
	return &listener.Config{
		Enabled:             c.Listener.Enabled,
		Workers:             c.Listener.Workers,
		BatchSize:           c.Listener.BatchSize,
		LeaseTimeout:        c.Listener.LeaseTimeout.Duration,
		PollWait:            c.Listener.PollWait.Duration,
		SleepWhenEmpty:      c.Listener.SleepWhenEmpty.Duration,
		SleepBetweenBatches: c.Listener.SleepBetweenBatches.Duration,
		MaintenanceInterval: c.Listener.MaintenanceInterval,
		BackoffMax:          c.Listener.BackoffMax.Duration,
		HandlerIdleTTL:      c.Listener.HandlerIdleTTL.Duration,
	}
}

// ProviderConfig converts the file/env values to the provider's config type
func (c *Config) ProviderConfig() *provider.Config {
	return &provider.Config{
		GatewayURL:                c.Provider.GatewayURL,
		Timeout:                   c.Provider.Timeout.Duration,
		RatePerSecond:             c.Provider.RatePerSecond,
		RateBurst:                 c.Provider.RateBurst,
		CircuitBreakerEnabled:     c.Provider.CircuitBreakerEnabled,
		CircuitBreakerRequests:    c.Provider.CircuitBreakerRequests,
		CircuitBreakerInterval:    c.Provider.CircuitBreakerInterval.Duration,
		CircuitBreakerRatio:       c.Provider.CircuitBreakerRatio,
		CircuitBreakerTimeout:     c.Provider.CircuitBreakerTimeout.Duration,
		CircuitBreakerMinRequests: c.Provider.CircuitBreakerMinRequests,
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
