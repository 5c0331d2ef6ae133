// Package config loads the proxy configuration: built-in defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/posts-proxy/pkg/cache"
	"github.com/Sternrassler/posts-proxy/pkg/client"
	"github.com/Sternrassler/posts-proxy/pkg/logging"
	"github.com/Sternrassler/posts-proxy/pkg/prefetch"
	"github.com/Sternrassler/posts-proxy/pkg/ratelimit"
	"github.com/Sternrassler/posts-proxy/pkg/resilience"
)

// DefaultPath is read when neither a path nor CONFIG_PATH is given. A missing
// default file is not an error.
const DefaultPath = "config.yaml"

// Config is the complete proxy configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Upstream   UpstreamConfig    `yaml:"upstream"`
	Resilience resilience.Config `yaml:"resilience"`
	RateLimit  ratelimit.Config  `yaml:"rate_limit"`
	Cache      CacheConfig       `yaml:"cache"`
	Redis      RedisConfig       `yaml:"redis"`
	Log        LogConfig         `yaml:"log"`
	Warm       WarmConfig        `yaml:"warm"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig points at the posts API.
type UpstreamConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
}

// CacheConfig is the per-namespace policy plus the periodic full clear.
type CacheConfig struct {
	cache.Config `yaml:",inline"`

	// ClearSchedule is a cron spec; empty disables the scheduled clear.
	ClearSchedule string `yaml:"clear_schedule"`
}

// RedisConfig enables the shared cache tier when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// WarmConfig controls cache warming at start-up.
type WarmConfig struct {
	OnStart         bool `yaml:"on_start"`
	prefetch.Config `yaml:",inline"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL:   client.DefaultBaseURL,
			UserAgent: "posts-proxy/0.1.0",
		},
		Resilience: resilience.DefaultConfig(),
		RateLimit:  ratelimit.DefaultConfig(),
		Cache: CacheConfig{
			Config:        cache.DefaultConfig(),
			ClearSchedule: "@every 5m",
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
		Warm: WarmConfig{
			Config: prefetch.DefaultConfig(),
		},
	}
}

// Load builds the configuration. path overrides CONFIG_PATH; when both are
// empty DefaultPath is tried. Values from the file replace defaults field by
// field and environment variables win over both.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// defaults only
	default:
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Upstream.BaseURL = getEnv("UPSTREAM_BASE_URL", c.Upstream.BaseURL)
	c.Upstream.UserAgent = getEnv("USER_AGENT", c.Upstream.UserAgent)
	c.Redis.Addr = getEnv("REDIS_URL", c.Redis.Addr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	var err error
	if c.Log.Pretty, err = getEnvBool("LOG_PRETTY", c.Log.Pretty); err != nil {
		return err
	}
	if c.Warm.OnStart, err = getEnvBool("CACHE_WARM_ON_START", c.Warm.OnStart); err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations the proxy cannot run with.
func (c Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %q is not a valid port", c.Server.Port))
	}
	if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url %q is not an absolute url", c.Upstream.BaseURL))
	}
	if c.Upstream.UserAgent == "" {
		errs = append(errs, errors.New("upstream.user_agent is required"))
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level %q is unknown", c.Log.Level))
	}
	if c.Cache.MaxEntries < 0 {
		errs = append(errs, errors.New("cache.max_entries must not be negative"))
	}
	if c.Cache.WriteTTL <= 0 || c.Cache.AccessTTL <= 0 {
		errs = append(errs, errors.New("cache ttls must be positive"))
	}
	if c.Resilience.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("resilience.retry.max_attempts must be at least 1"))
	}
	if r := c.Resilience.Breaker.FailureRatio; r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("resilience.breaker.failure_ratio %v must be in (0, 1]", r))
	}
	if c.RateLimit.ThrottleDelay < 0 {
		errs = append(errs, errors.New("rate_limit.throttle_delay must not be negative"))
	}
	if c.Resilience.Timeout < 0 {
		errs = append(errs, errors.New("resilience.timeout must not be negative"))
	}

	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Server.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %q is not a boolean", key, value)
	}
	return b, nil
}
