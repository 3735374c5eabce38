package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
model:
  classifier_path: "models/crop_model.json"
  labels_path: "models/crop_label_encoder.json"
geocoder:
  url: "https://geocoder.example.com/search"
  user_agent: "crop-advisor-test"
  timeout: "2s"
weather_api:
  url: "https://weather.example.com/v1/current.json"
  timeout: "3s"
request:
  timeout: "10s"
cache:
  backend: "in_memory"
  ttl: "1h"
reliability:
  retry_max_attempts: 2
  retry_base_delay: "100ms"
  retry_max_delay: "1s"
  circuit_breaker:
    enabled: true
    failure_threshold: 3
    timeout: "20s"
health:
  degraded_window: "2m"
  degraded_error_pct: 25
shutdown:
  timeout: "10s"
`

// isolate runs the test in an empty directory with every variable Load
// reads unset.
func isolate(t *testing.T) string {
	t.Helper()
	for _, key := range []string{"ENV_NAME", "WEATHER_API_KEY", "PORT", "MODEL_PATH", "LABELS_PATH", "CACHE_BACKEND", "MEMCACHED_ADDRS"} {
		unsetenv(t, key)
	}
	dir := t.TempDir()
	prevDir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(prevDir) })
	return dir
}

func unsetenv(t *testing.T, key string) {
	t.Helper()
	prev, ok := os.LookupEnv(key)
	os.Unsetenv(key)
	t.Cleanup(func() {
		if ok {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checks := []struct {
		name      string
		got, want interface{}
	}{
		{"ServerPort", cfg.ServerPort, "5000"},
		{"ClassifierPath", cfg.ClassifierPath, "crop_model.json"},
		{"LabelsPath", cfg.LabelsPath, "crop_label_encoder.json"},
		{"GeocoderURL", cfg.GeocoderURL, "https://nominatim.openstreetmap.org/search"},
		{"WeatherAPIURL", cfg.WeatherAPIURL, "https://api.weatherapi.com/v1/current.json"},
		{"GeocoderTimeout", cfg.GeocoderTimeout, 5 * time.Second},
		{"WeatherAPITimeout", cfg.WeatherAPITimeout, 5 * time.Second},
		{"RequestTimeout", cfg.RequestTimeout, 12 * time.Second},
		{"CacheBackend", cfg.CacheBackend, CacheBackendNone},
		{"CacheTTL", cfg.CacheTTL, 24 * time.Hour},
		{"RetryAttempts", cfg.RetryAttempts, 1},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, false},
		{"MaxCityLength", cfg.MaxCityLength, 100},
		{"DegradedErrorPct", cfg.DegradedErrorPct, 50},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.GeocoderUserAgent == "" || strings.HasPrefix(cfg.GeocoderUserAgent, "Mozilla") {
		t.Errorf("GeocoderUserAgent = %q, want identifying agent", cfg.GeocoderUserAgent)
	}
}

func TestLoad_DoesNotRequireAPIKey(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want success without WEATHER_API_KEY", err)
	}
	if cfg.APIKey() != "" {
		t.Errorf("APIKey() = %q, want empty", cfg.APIKey())
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config", "dev.yaml"), minimalEnvYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.ClassifierPath != "models/crop_model.json" {
		t.Errorf("ClassifierPath = %q", cfg.ClassifierPath)
	}
	if cfg.GeocoderUserAgent != "crop-advisor-test" || cfg.GeocoderTimeout != 2*time.Second {
		t.Errorf("geocoder = %q %v", cfg.GeocoderUserAgent, cfg.GeocoderTimeout)
	}
	if cfg.CacheBackend != CacheBackendInMemory || cfg.CacheTTL != time.Hour {
		t.Errorf("cache = %q %v", cfg.CacheBackend, cfg.CacheTTL)
	}
	if cfg.RetryAttempts != 2 || cfg.RetryMaxDelay != time.Second {
		t.Errorf("retry = %d %v", cfg.RetryAttempts, cfg.RetryMaxDelay)
	}
	if !cfg.CircuitBreakerEnabled || cfg.CircuitBreakerFailureThreshold != 3 || cfg.CircuitBreakerSuccessThreshold != 2 {
		t.Errorf("circuit breaker = %v %d %d", cfg.CircuitBreakerEnabled, cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerSuccessThreshold)
	}
	if cfg.DegradedWindow != 2*time.Minute || cfg.DegradedErrorPct != 25 {
		t.Errorf("health = %v %d", cfg.DegradedWindow, cfg.DegradedErrorPct)
	}
	if cfg.ShutdownInFlightTimeout != 10*time.Second {
		t.Errorf("ShutdownInFlightTimeout = %v, want default 10s", cfg.ShutdownInFlightTimeout)
	}
}

func TestLoad_ExplicitEnvFileNotFound(t *testing.T) {
	isolate(t)
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want config file not found", err)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config", "dev.yaml"), `
geocoder:
  timeout: "soon"
weather_api:
  timeout: "-1s"
cache:
  ttl: ""
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GeocoderTimeout != 5*time.Second || cfg.WeatherAPITimeout != 5*time.Second {
		t.Errorf("timeouts = %v %v, want 5s defaults", cfg.GeocoderTimeout, cfg.WeatherAPITimeout)
	}
	if cfg.CacheTTL != 24*time.Hour {
		t.Errorf("CacheTTL = %v, want 24h", cfg.CacheTTL)
	}
}

func TestLoad_RequestTimeoutCoversBothUpstreams(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config", "dev.yaml"), `
geocoder:
  timeout: "4s"
weather_api:
  timeout: "4s"
request:
  timeout: "5s"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
		want string
	}{
		{
			name: "unknown cache backend",
			yaml: "cache:\n  backend: redis\n",
			want: "CacheBackend",
		},
		{
			name: "unknown cache backend from env",
			env:  map[string]string{"CACHE_BACKEND": "disk"},
			want: "CacheBackend",
		},
		{
			name: "non-numeric port",
			env:  map[string]string{"PORT": "http"},
			want: "ServerPort",
		},
		{
			name: "bad geocoder url",
			yaml: "geocoder:\n  url: \"not a url\"\n",
			want: "GeocoderURL",
		},
		{
			name: "degraded pct over 100",
			yaml: "health:\n  degraded_error_pct: 150\n",
			want: "DegradedErrorPct",
		},
		{
			name: "max delay below base",
			yaml: "reliability:\n  retry_base_delay: \"5s\"\n  retry_max_delay: \"1s\"\n",
			want: "RetryMaxDelay",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			if tt.yaml != "" {
				writeFile(t, filepath.Join(dir, "config", "dev.yaml"), tt.yaml)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("Load() expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config", "dev.yaml"), minimalEnvYAML)
	t.Setenv("PORT", "9090")
	t.Setenv("MODEL_PATH", "/models/rf.json")
	t.Setenv("LABELS_PATH", "/models/labels.json")
	t.Setenv("CACHE_BACKEND", "Memcached")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" || cfg.ClassifierPath != "/models/rf.json" || cfg.LabelsPath != "/models/labels.json" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.CacheBackend != CacheBackendMemcached || cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("cache overrides = %q %q", cfg.CacheBackend, cfg.MemcachedAddrs)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "PORT=7070\nWEATHER_API_KEY=key-from-dotenv\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "7070" {
		t.Errorf("ServerPort = %q, want 7070 from .env", cfg.ServerPort)
	}
	if cfg.APIKey() != "key-from-dotenv" {
		t.Errorf("APIKey() = %q, want key from .env", cfg.APIKey())
	}
}

func TestLoad_DotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "PORT=7070\n")
	t.Setenv("PORT", "6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "6060" {
		t.Errorf("ServerPort = %q, want real env 6060", cfg.ServerPort)
	}
}

func TestAPIKey_SecretsFileFallback(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config", "secrets.yaml"), "weather_api_key: key-from-secrets-file\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIKey() != "key-from-secrets-file" {
		t.Errorf("APIKey() = %q, want key from secrets file", cfg.APIKey())
	}
}

func TestAPIKey_ReadPerCall(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIKey() != "" {
		t.Fatalf("APIKey() = %q, want empty before env is set", cfg.APIKey())
	}
	t.Setenv("WEATHER_API_KEY", "set-after-start")
	if cfg.APIKey() != "set-after-start" {
		t.Errorf("APIKey() = %q, want value set after Load", cfg.APIKey())
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config", "secrets.yaml"), "weather_api_key: [unclosed\n")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse secrets file") {
		t.Errorf("Load() error = %v, want parse secrets file error", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config", "dev.yaml"), "server: [port\n")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse config file error", err)
	}
}

// TestCoverageGaps_IntentionallyUntested documents paths we reviewed but chose not to test.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Run("read_error_not_IsNotExist", func(t *testing.T) {
		t.Skip("permission-denied reads of config or secrets need OS-specific setup and fail when tests run as root")
	})
}
