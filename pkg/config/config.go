package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"tempvoice/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Storage struct {
		Driver      string `yaml:"driver"` // memory | redis | postgres
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`

	Platform struct {
		Mode    string        `yaml:"mode"` // memory | rest
		BaseURL string        `yaml:"base_url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"platform"`

	TempVoice struct {
		CreatorChannels   []string      `yaml:"creator_channels"`
		CategoryID        string        `yaml:"category_id"`
		ProtectedChannels []string      `yaml:"protected_channels"`
		IgnoredChannels   []string      `yaml:"ignored_channels"`
		TagPrefix         string        `yaml:"tag_prefix"`
		NameTemplate      string        `yaml:"name_template"`
		GraceWindow       time.Duration `yaml:"grace_window"`
		JoinCooldown      time.Duration `yaml:"join_cooldown"`
		ReconcileInterval time.Duration `yaml:"reconcile_interval"`
		DedupTTL          time.Duration `yaml:"dedup_ttl"`
		LockTTL           time.Duration `yaml:"lock_ttl"`
	} `yaml:"tempvoice"`

	Retry struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
		Multiplier   float64       `yaml:"multiplier"`
	} `yaml:"retry"`

	CircuitBreaker struct {
		Enabled          bool          `yaml:"enabled"`
		MaxFailures      int           `yaml:"max_failures"`
		Timeout          time.Duration `yaml:"timeout"`
		SuccessThreshold int           `yaml:"success_threshold"`
	} `yaml:"circuit_breaker"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
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

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Storage
	switch c.Storage.Driver {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("storage.driver=redis requires redis.enabled=true")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn must not be empty when storage.driver=postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, redis, postgres (got %q)", c.Storage.Driver)
	}

	// Platform
	switch c.Platform.Mode {
	case "memory":
	case "rest":
		if err := validation.ValidateURL(c.Platform.BaseURL); err != nil {
			return fmt.Errorf("platform.base_url: %w", err)
		}
	default:
		return fmt.Errorf("platform.mode must be one of memory, rest (got %q)", c.Platform.Mode)
	}
	if c.Platform.Timeout <= 0 {
		return fmt.Errorf("platform.timeout must be > 0")
	}

	// TempVoice
	if len(c.TempVoice.CreatorChannels) == 0 {
		return fmt.Errorf("tempvoice.creator_channels must not be empty")
	}
	if c.TempVoice.TagPrefix == "" {
		return fmt.Errorf("tempvoice.tag_prefix must not be empty")
	}
	if !strings.Contains(c.TempVoice.NameTemplate, "{owner}") {
		return fmt.Errorf("tempvoice.name_template must contain {owner}")
	}
	if c.TempVoice.GraceWindow <= 0 {
		return fmt.Errorf("tempvoice.grace_window must be > 0")
	}
	if c.TempVoice.JoinCooldown < 0 {
		return fmt.Errorf("tempvoice.join_cooldown must be >= 0")
	}
	if c.TempVoice.ReconcileInterval < time.Second {
		return fmt.Errorf("tempvoice.reconcile_interval must be >= 1s")
	}
	if c.TempVoice.DedupTTL <= 0 {
		return fmt.Errorf("tempvoice.dedup_ttl must be > 0")
	}
	if c.TempVoice.LockTTL <= 0 {
		return fmt.Errorf("tempvoice.lock_ttl must be > 0")
	}

	// Retry
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.initial_delay must be > 0 and <= retry.max_delay")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}

	// Circuit breaker
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxFailures <= 0 {
			return fmt.Errorf("circuit_breaker.max_failures must be > 0")
		}
		if c.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("circuit_breaker.timeout must be > 0")
		}
		if c.CircuitBreaker.SuccessThreshold <= 0 {
			return fmt.Errorf("circuit_breaker.success_threshold must be > 0")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
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

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Storage.Driver = "memory"

	cfg.Platform.Mode = "memory"
	cfg.Platform.Timeout = 5 * time.Second

	cfg.TempVoice.CreatorChannels = []string{"creator"}
	cfg.TempVoice.CategoryID = "tempvoice"
	cfg.TempVoice.TagPrefix = "tempvoice"
	cfg.TempVoice.NameTemplate = "{owner}'s room"
	cfg.TempVoice.GraceWindow = 30 * time.Second
	cfg.TempVoice.JoinCooldown = 5 * time.Second
	cfg.TempVoice.ReconcileInterval = 5 * time.Minute
	cfg.TempVoice.DedupTTL = 10 * time.Minute
	cfg.TempVoice.LockTTL = 30 * time.Second

	cfg.Retry.MaxAttempts = 3
	cfg.Retry.InitialDelay = 200 * time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Second
	cfg.Retry.Multiplier = 2.0

	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.MaxFailures = 5
	cfg.CircuitBreaker.Timeout = 30 * time.Second
	cfg.CircuitBreaker.SuccessThreshold = 2

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("TEMPVOICE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("TEMPVOICE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("TEMPVOICE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("TEMPVOICE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if dsn := os.Getenv("TEMPVOICE_POSTGRES_DSN"); dsn != "" {
		c.Storage.Driver = "postgres"
		c.Storage.PostgresDSN = dsn
	}
	if token := os.Getenv("TEMPVOICE_PLATFORM_TOKEN"); token != "" {
		c.Platform.Token = token
	}
}
