//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/crop-advisor/internal/cache"
	"github.com/kjstillabower/crop-advisor/internal/client"
	"github.com/kjstillabower/crop-advisor/internal/service"
)

// IntegrationTestConfig holds configuration for tests against the live
// geocoder and weather provider.
type IntegrationTestConfig struct {
	APIKey        string
	GeocoderURL   string
	WeatherAPIURL string
	UserAgent     string
	CacheBackend  string // "", "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig reads integration settings from the environment.
// Skips the test when WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	cfg := IntegrationTestConfig{
		APIKey:        apiKey,
		GeocoderURL:   os.Getenv("GEOCODER_URL"),
		WeatherAPIURL: os.Getenv("WEATHER_API_URL"),
		UserAgent:     "crop-advisor-integration-test",
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
	}
	if cfg.GeocoderURL == "" {
		cfg.GeocoderURL = client.DefaultGeocoderURL
	}
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = client.DefaultWeatherAPIURL
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	return cfg
}

// SetupIntegrationService builds a WeatherService on the live clients.
// The returned cleanup closes memcached when it was used.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, func()) {
	t.Helper()
	geo, err := client.NewNominatimClient(cfg.GeocoderURL, cfg.UserAgent, 10*time.Second, client.NoRetry)
	if err != nil {
		t.Fatalf("NewNominatimClient() error = %v", err)
	}
	wx, err := client.NewWeatherAPIClient(cfg.WeatherAPIURL, 10*time.Second, client.NoRetry)
	if err != nil {
		t.Fatalf("NewWeatherAPIClient() error = %v", err)
	}

	var cacheSvc cache.Cache
	cleanup := func() {}
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			cacheSvc = mc
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("memcached not available, using in-memory cache")
			cacheSvc = cache.NewInMemoryCache()
		}
	case "in_memory":
		cacheSvc = cache.NewInMemoryCache()
	}

	svc := service.NewWeatherService(geo, wx, service.WeatherConfig{
		Cache:         cacheSvc,
		CacheTTL:      time.Hour,
		APIKey:        func() string { return cfg.APIKey },
		MaxCityLength: 100,
	})
	return svc, cleanup
}
