package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`

		// Per-connection inbound message throttle.
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"signal"`

	Pairing struct {
		SessionTTL      time.Duration `yaml:"session_ttl"`
		SweepInterval   time.Duration `yaml:"sweep_interval"`
		MaxCreates      int           `yaml:"max_creates"`
		RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	} `yaml:"pairing"`

	HTTPRateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"http_rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Device struct {
		RelayURL       string        `yaml:"relay_url"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		AckTimeout     time.Duration `yaml:"ack_timeout"`
		StatsInterval  time.Duration `yaml:"stats_interval"`
		STUNServers    []string      `yaml:"stun_servers"`
	} `yaml:"device"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.MessagesPerSecond <= 0 {
		return fmt.Errorf("signal.messages_per_second must be > 0")
	}
	if c.Signal.Burst <= 0 {
		return fmt.Errorf("signal.burst must be > 0")
	}

	if c.Pairing.SessionTTL <= 0 {
		return fmt.Errorf("pairing.session_ttl must be > 0")
	}
	if c.Pairing.SweepInterval <= 0 {
		return fmt.Errorf("pairing.sweep_interval must be > 0")
	}
	if c.Pairing.MaxCreates <= 0 {
		return fmt.Errorf("pairing.max_creates must be > 0")
	}
	if c.Pairing.RateLimitWindow <= 0 {
		return fmt.Errorf("pairing.rate_limit_window must be > 0")
	}

	if c.HTTPRateLimiting.Enabled {
		if c.HTTPRateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("http_rate_limiting.requests_per_second must be > 0 when enabled")
		}
		if c.HTTPRateLimiting.Burst <= 0 {
			return fmt.Errorf("http_rate_limiting.burst must be > 0 when enabled")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device.connect_timeout must be > 0")
	}
	if c.Device.AckTimeout <= 0 {
		return fmt.Errorf("device.ack_timeout must be > 0")
	}
	if c.Device.StatsInterval <= 0 {
		return fmt.Errorf("device.stats_interval must be > 0")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MessagesPerSecond = 50
	cfg.Signal.Burst = 100

	cfg.Pairing.SessionTTL = time.Hour
	cfg.Pairing.SweepInterval = 5 * time.Minute
	cfg.Pairing.MaxCreates = 10
	cfg.Pairing.RateLimitWindow = time.Hour

	cfg.HTTPRateLimiting.Enabled = false
	cfg.HTTPRateLimiting.RequestsPerSecond = 50
	cfg.HTTPRateLimiting.Burst = 100

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Device.RelayURL = "ws://localhost:8080/ws"
	cfg.Device.ConnectTimeout = 5 * time.Second
	cfg.Device.AckTimeout = 5 * time.Second
	cfg.Device.StatsInterval = 2 * time.Second
	cfg.Device.STUNServers = []string{"stun:stun.l.google.com:19302"}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("PAIRCAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("PAIRCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("PAIRCAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if relay := os.Getenv("PAIRCAST_RELAY_URL"); relay != "" {
		c.Device.RelayURL = relay
	}
}
