package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cache backends accepted by cache.backend.
const (
	CacheBackendNone      = "none"
	CacheBackendInMemory  = "in_memory"
	CacheBackendMemcached = "memcached"
)

const defaultUserAgent = "crop-advisor/1.0 (+https://github.com/kjstillabower/crop-advisor)"

// Config holds service configuration loaded from YAML, .env and env.
// The weather API key is deliberately not a field: it is read per request
// through APIKey.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	ClassifierPath string `validate:"required"`
	LabelsPath     string `validate:"required"`

	GeocoderURL       string        `validate:"required,url"`
	GeocoderUserAgent string        `validate:"required"`
	GeocoderTimeout   time.Duration `validate:"gt=0"`
	MaxCityLength     int           `validate:"min=0"`

	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`

	RequestTimeout time.Duration `validate:"gt=0"`

	CacheBackend          string        `validate:"oneof=none in_memory memcached"`
	CacheTTL              time.Duration `validate:"gt=0"`
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int `validate:"min=0"`

	RetryAttempts  int `validate:"min=1,max=10"`
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration `validate:"gtefield=RetryBaseDelay"`

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int           `validate:"min=1"`
	CircuitBreakerSuccessThreshold int           `validate:"min=1"`
	CircuitBreakerTimeout          time.Duration `validate:"gt=0"`

	DegradedWindow   time.Duration `validate:"gt=0"`
	DegradedErrorPct int           `validate:"min=0,max=100"`

	ShutdownTimeout               time.Duration `validate:"gt=0"`
	ShutdownInFlightTimeout       time.Duration `validate:"gt=0"`
	ShutdownInFlightCheckInterval time.Duration `validate:"gt=0"`

	secretsAPIKey string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Model struct {
		ClassifierPath string `yaml:"classifier_path"`
		LabelsPath     string `yaml:"labels_path"`
	} `yaml:"model"`

	Geocoder struct {
		URL           string `yaml:"url"`
		UserAgent     string `yaml:"user_agent"`
		Timeout       string `yaml:"timeout"`
		MaxCityLength *int   `yaml:"max_city_length"`
	} `yaml:"geocoder"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		CircuitBreaker   struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct *int   `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// LoadDotEnv loads .env from the working directory into the process
// environment. Variables already set are never overridden and a missing
// file is not an error.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml
// relative to the working directory, then applies env overrides. Without
// an explicit ENV_NAME a missing file means built-in defaults.
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	env, explicit := os.LookupEnv("ENV_NAME")
	if env == "" {
		env, explicit = "dev", false
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err):
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := fromFile(fc)
	applyEnv(cfg)

	secret, err := loadSecretsKey(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.secretsAPIKey = secret

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = strings.TrimSpace(fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "5000"
	}

	cfg.ClassifierPath = orDefault(fc.Model.ClassifierPath, "crop_model.json")
	cfg.LabelsPath = orDefault(fc.Model.LabelsPath, "crop_label_encoder.json")

	cfg.GeocoderURL = orDefault(fc.Geocoder.URL, "https://nominatim.openstreetmap.org/search")
	cfg.GeocoderUserAgent = orDefault(fc.Geocoder.UserAgent, defaultUserAgent)
	cfg.GeocoderTimeout = parseDuration(fc.Geocoder.Timeout, 5*time.Second)
	cfg.MaxCityLength = 100
	if fc.Geocoder.MaxCityLength != nil {
		cfg.MaxCityLength = *fc.Geocoder.MaxCityLength
	}

	cfg.WeatherAPIURL = orDefault(fc.WeatherAPI.URL, "https://api.weatherapi.com/v1/current.json")
	cfg.WeatherAPITimeout = parseDuration(fc.WeatherAPI.Timeout, 5*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 12*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = CacheBackendNone
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 24*time.Hour)
	cfg.MemcachedAddrs = orDefault(fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 5*time.Minute)
	cfg.DegradedErrorPct = 50
	if fc.Health.DegradedErrorPct != nil {
		cfg.DegradedErrorPct = *fc.Health.DegradedErrorPct
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 15*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	// A lookup makes two sequential upstream calls.
	if floor := cfg.GeocoderTimeout + cfg.WeatherAPITimeout; cfg.RequestTimeout <= floor {
		cfg.RequestTimeout = floor + 2*time.Second
	}
	return cfg
}

// applyEnv applies the supported environment overrides.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.ServerPort = v
	}
	if v := strings.TrimSpace(os.Getenv("MODEL_PATH")); v != "" {
		cfg.ClassifierPath = v
	}
	if v := strings.TrimSpace(os.Getenv("LABELS_PATH")); v != "" {
		cfg.LabelsPath = v
	}
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND"))); v != "" {
		cfg.CacheBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
}

func loadSecretsKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// APIKey returns the weather provider key: WEATHER_API_KEY from the
// environment at call time, else weather_api_key from config/secrets.yaml.
// Empty means not configured.
func (c *Config) APIKey() string {
	if v := strings.TrimSpace(os.Getenv("WEATHER_API_KEY")); v != "" {
		return v
	}
	return c.secretsAPIKey
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// parseDuration parses a duration string, returning defaultVal when s is
// empty, malformed or not positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate checks cfg against its struct tags.
func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
