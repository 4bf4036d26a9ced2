package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	PredictorURL       string
	PredictorHealthURL string
	PredictorToken     string
	PredictorTimeout   time.Duration

	RequestTimeout time.Duration

	CacheBackend          string // "in_memory", "memcached", "redis" or "none"
	CacheTTL              time.Duration
	CacheMaxEntries       int
	CacheWarmEnabled      bool
	CacheWarmInterval     time.Duration
	CacheWarmConcurrency  int
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisTimeout          time.Duration
	RedisPoolSize         int

	LocationsSource       string // "static", "file" or "postgres"
	LocationsPath         string
	LocationsDSN          string
	LocationsMaxOpenConns int
	LocationNameMaxLength int

	AMQPURL       string
	EventsTimeout time.Duration

	// Timezone supplies the hour of day when a request omits it.
	Timezone *time.Location

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout         time.Duration
	ShutdownInFlightTimeout time.Duration

	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int

	TrackedPickups []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Predictor struct {
		URL       string `yaml:"url"`
		HealthURL string `yaml:"health_url"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"predictor"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend    string `yaml:"backend"`
		TTL        string `yaml:"ttl"`
		MaxEntries int    `yaml:"max_entries"`
		Warm       struct {
			Enabled     bool   `yaml:"enabled"`
			Interval    string `yaml:"interval"`
			Concurrency int    `yaml:"concurrency"`
		} `yaml:"warm"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			DB       int    `yaml:"db"`
			Timeout  string `yaml:"timeout"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Locations struct {
		Source        string `yaml:"source"`
		Path          string `yaml:"path"`
		MaxOpenConns  int    `yaml:"max_open_conns"`
		NameMaxLength int    `yaml:"name_max_length"`
	} `yaml:"locations"`

	Events struct {
		AMQPURL string `yaml:"amqp_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"events"`

	Pricing struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"pricing"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout         string `yaml:"timeout"`
		InFlightTimeout string `yaml:"in_flight_timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Metrics struct {
		TrackedPickups []string `yaml:"tracked_pickups"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	PredictorToken string `yaml:"predictor_token"`
	RedisPassword  string `yaml:"redis_password"`
	LocationsDSN   string `yaml:"locations_dsn"`
	AMQPURL        string `yaml:"amqp_url"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and the
// optional config/secrets.yaml. Env vars override both. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.PredictorURL = firstNonEmpty(os.Getenv("PREDICTOR_URL"), fc.Predictor.URL)
	cfg.PredictorHealthURL = strings.TrimSpace(fc.Predictor.HealthURL)
	cfg.PredictorToken = firstNonEmpty(os.Getenv("PREDICTOR_TOKEN"), sec.PredictorToken)
	cfg.PredictorTimeout = parseDurationOrZero(fc.Predictor.Timeout, 2*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDurationOrZero(fc.Cache.TTL, 10*time.Minute)
	cfg.CacheMaxEntries = fc.Cache.MaxEntries
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 10000
	}
	cfg.CacheWarmEnabled = fc.Cache.Warm.Enabled
	cfg.CacheWarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)
	cfg.CacheWarmConcurrency = fc.Cache.Warm.Concurrency
	if cfg.CacheWarmConcurrency <= 0 {
		cfg.CacheWarmConcurrency = 4
	}
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisAddr = firstNonEmpty(os.Getenv("REDIS_ADDR"), fc.Cache.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)
	cfg.RedisPoolSize = fc.Cache.Redis.PoolSize

	cfg.LocationsSource = strings.ToLower(firstNonEmpty(fc.Locations.Source, "static"))
	cfg.LocationsPath = strings.TrimSpace(fc.Locations.Path)
	cfg.LocationsDSN = firstNonEmpty(os.Getenv("LOCATIONS_DSN"), sec.LocationsDSN)
	cfg.LocationsMaxOpenConns = fc.Locations.MaxOpenConns
	if cfg.LocationsMaxOpenConns <= 0 {
		cfg.LocationsMaxOpenConns = 5
	}
	cfg.LocationNameMaxLength = fc.Locations.NameMaxLength
	if cfg.LocationNameMaxLength <= 0 {
		cfg.LocationNameMaxLength = 100
	}

	cfg.AMQPURL = firstNonEmpty(os.Getenv("AMQP_URL"), fc.Events.AMQPURL, sec.AMQPURL)
	cfg.EventsTimeout = parseDuration(fc.Events.Timeout, 2*time.Second)

	tz := firstNonEmpty(fc.Pricing.Timezone, "America/New_York")
	cfg.Timezone, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("pricing.timezone %q: %w", tz, err)
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled == nil || *cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.IdleThresholdReqPerMin = fc.Lifecycle.IdleThresholdReqPerMin
	if cfg.IdleThresholdReqPerMin <= 0 {
		cfg.IdleThresholdReqPerMin = 5
	}
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}
	cfg.TrackedPickups = fc.Metrics.TrackedPickups

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSecrets reads the optional secrets file. A missing file yields zero values.
func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Requires an http(s) predictor URL and a positive predictor timeout, checks
// the backend enums and their settings, and raises RequestTimeout above
// PredictorTimeout when needed.
func validate(cfg *Config) error {
	if cfg.PredictorURL == "" {
		return fmt.Errorf("PREDICTOR_URL required (set env or predictor.url)")
	}
	u, err := url.Parse(cfg.PredictorURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("predictor.url must be an http(s) URL, got %q", cfg.PredictorURL)
	}
	if cfg.PredictorTimeout <= 0 {
		return fmt.Errorf("predictor.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.PredictorTimeout {
		cfg.RequestTimeout = cfg.PredictorTimeout + time.Second
	}
	if cfg.CacheTTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis", "none":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached, redis or none, got %q", cfg.CacheBackend)
	}
	switch cfg.LocationsSource {
	case "static":
	case "file":
		if cfg.LocationsPath == "" {
			return fmt.Errorf("locations.path required when locations.source is file")
		}
	case "postgres":
		if cfg.LocationsDSN == "" {
			return fmt.Errorf("LOCATIONS_DSN required when locations.source is postgres")
		}
	default:
		return fmt.Errorf("locations.source must be static, file or postgres, got %q", cfg.LocationsSource)
	}
	return nil
}
