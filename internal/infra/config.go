package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of the engine. Loaded from yaml, then
// overridden by environment variables for sensitive values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	Detector struct {
		PollIntervalSec int `yaml:"poll_interval_sec"`
		ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	} `yaml:"detector"`

	Notify struct {
		WebhookURL        string `yaml:"webhook_url"`
		SendTimeoutSec    int    `yaml:"send_timeout_sec"`
		CooldownWindowSec int    `yaml:"cooldown_window_sec"`
		QueueCapacity     int    `yaml:"queue_capacity"`

		RateLimit struct {
			Burst     int     `yaml:"burst"`
			PerSecond float64 `yaml:"per_second"`
		} `yaml:"rate_limit"`

		Breaker struct {
			FailureThreshold int `yaml:"failure_threshold"`
			SuccessThreshold int `yaml:"success_threshold"`
			OpenTimeoutSec   int `yaml:"open_timeout_sec"`
		} `yaml:"breaker"`
	} `yaml:"notify"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies env
// overrides and defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a config with every default applied, for tests
// and the integration runner.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "broker-go"
	}
	if c.Store.Path == "" {
		c.Store.Path = "_workspace/data/orders.db"
	}
	if c.Detector.PollIntervalSec <= 0 {
		c.Detector.PollIntervalSec = 5
	}
	if c.Detector.ReadTimeoutSec <= 0 {
		c.Detector.ReadTimeoutSec = 3
	}
	if c.Notify.SendTimeoutSec <= 0 {
		c.Notify.SendTimeoutSec = 5
	}
	if c.Notify.CooldownWindowSec <= 0 {
		c.Notify.CooldownWindowSec = 300 // 5 minutes
	}
	if c.Notify.QueueCapacity <= 0 {
		c.Notify.QueueCapacity = 1024
	}
	if c.Notify.RateLimit.Burst <= 0 {
		c.Notify.RateLimit.Burst = 5
	}
	if c.Notify.RateLimit.PerSecond <= 0 {
		c.Notify.RateLimit.PerSecond = 10
	}
	if c.Notify.Breaker.FailureThreshold <= 0 {
		c.Notify.Breaker.FailureThreshold = 5
	}
	if c.Notify.Breaker.SuccessThreshold <= 0 {
		c.Notify.Breaker.SuccessThreshold = 2
	}
	if c.Notify.Breaker.OpenTimeoutSec <= 0 {
		c.Notify.Breaker.OpenTimeoutSec = 30
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "localhost:8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Detector.PollIntervalSec <= 0 {
		return fmt.Errorf("detector poll interval must be positive")
	}
	if c.Notify.QueueCapacity <= 0 {
		return fmt.Errorf("notification queue capacity must be positive")
	}
	if c.Notify.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	return nil
}

// PollInterval returns the detector cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Detector.PollIntervalSec) * time.Second
}

// ReadTimeout bounds a single store read.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Detector.ReadTimeoutSec) * time.Second
}

// SendTimeout bounds a single notification delivery.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Notify.SendTimeoutSec) * time.Second
}

// CooldownWindow is the minimum gap between notifications for the same
// (account, instrument, price) key.
func (c *Config) CooldownWindow() time.Duration {
	return time.Duration(c.Notify.CooldownWindowSec) * time.Second
}

// BreakerConfig maps the yaml block onto the circuit breaker config.
func (c *Config) BreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             "notification-channel",
		FailureThreshold: c.Notify.Breaker.FailureThreshold,
		SuccessThreshold: c.Notify.Breaker.SuccessThreshold,
		Timeout:          time.Duration(c.Notify.Breaker.OpenTimeoutSec) * time.Second,
	}
}

// overrideWithEnv applies environment variables over file values.
// Deployment secrets (the webhook URL carries a token) should come
// from the environment, not the config file.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("BROKER_WEBHOOK_URL"); url != "" {
		cfg.Notify.WebhookURL = url
	}
	if path := os.Getenv("BROKER_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}
	if addr := os.Getenv("BROKER_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
}
