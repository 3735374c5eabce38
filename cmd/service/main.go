package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/crop-advisor/internal/cache"
	"github.com/kjstillabower/crop-advisor/internal/circuitbreaker"
	"github.com/kjstillabower/crop-advisor/internal/classifier"
	"github.com/kjstillabower/crop-advisor/internal/client"
	"github.com/kjstillabower/crop-advisor/internal/config"
	httphandler "github.com/kjstillabower/crop-advisor/internal/http"
	"github.com/kjstillabower/crop-advisor/internal/lifecycle"
	"github.com/kjstillabower/crop-advisor/internal/observability"
	"github.com/kjstillabower/crop-advisor/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env may carry LOG_LEVEL, so it is loaded before the logger is built.
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	model, err := classifier.Load(cfg.ClassifierPath, cfg.LabelsPath)
	if err != nil {
		logger.Fatal("load model", zap.Error(err), zap.String("classifier_path", cfg.ClassifierPath), zap.String("labels_path", cfg.LabelsPath))
	}
	logger.Info("model loaded",
		zap.Int("features", model.Classifier.NumFeatures()),
		zap.Int("classes", model.Classifier.NumClasses()))

	retry := client.RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}
	geocoder, err := client.NewNominatimClient(cfg.GeocoderURL, cfg.GeocoderUserAgent, cfg.GeocoderTimeout, retry)
	if err != nil {
		logger.Fatal("geocoder client", zap.Error(err))
	}
	weatherClient, err := client.NewWeatherAPIClient(cfg.WeatherAPIURL, cfg.WeatherAPITimeout, retry)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		geocoder.SetCircuitBreaker(newCircuitBreaker(cfg, observability.APIGeocoder))
		weatherClient.SetCircuitBreaker(newCircuitBreaker(cfg, observability.APIWeather))
		logger.Info("circuit breakers enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var geocodeCache cache.Cache
	var memcached *cache.MemcachedCache
	switch cfg.CacheBackend {
	case config.CacheBackendMemcached:
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcached = mc
		geocodeCache = mc
		logger.Info("geocode cache: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case config.CacheBackendInMemory:
		geocodeCache = cache.NewInMemoryCache()
		logger.Info("geocode cache: in_memory", zap.Duration("ttl", cfg.CacheTTL))
	default:
		logger.Info("geocode cache disabled")
	}

	cropService := service.NewCropService(model.Classifier, model.Labels)
	weatherService := service.NewWeatherService(geocoder, weatherClient, service.WeatherConfig{
		Cache:               geocodeCache,
		CacheTTL:            cfg.CacheTTL,
		APIKey:              cfg.APIKey,
		MaxCityLength:       cfg.MaxCityLength,
		SharedLookupTimeout: cfg.RequestTimeout,
	})
	if cfg.APIKey() == "" {
		logger.Warn("WEATHER_API_KEY not set; weather lookups will fail until it is")
	}

	renderer, err := httphandler.NewRenderer()
	if err != nil {
		logger.Fatal("templates", zap.Error(err))
	}
	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		APIKeyConfigured: func() bool { return cfg.APIKey() != "" },
		Version:          version,
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}
	handler := httphandler.NewHandler(cropService, weatherService, renderer, healthConfig, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           httphandler.NewRouter(handler, logger, cfg.RequestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		lifecycle.MarkStarted(time.Now())
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

func newCircuitBreaker(cfg *config.Config, component string) *circuitbreaker.CircuitBreaker {
	observability.CircuitBreakerState.WithLabelValues(component).Set(0)
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
		},
	})
}
