package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/crop-advisor/internal/cache"
	"github.com/kjstillabower/crop-advisor/internal/client"
	"github.com/kjstillabower/crop-advisor/internal/models"
	"github.com/kjstillabower/crop-advisor/internal/observability"
	"github.com/kjstillabower/crop-advisor/internal/traffic"
	"github.com/kjstillabower/crop-advisor/internal/validation"
)

// User-visible weather error messages.
const (
	MsgLocationNotFound = "Location not found."
	MsgMissingAPIKey    = "Weather API key not set in environment."
	MsgCityTooLong      = "City name too long."
	MsgGeneric          = "Weather API error."
)

// DefaultSharedLookupTimeout bounds a coalesced geocode call when
// WeatherConfig.SharedLookupTimeout is zero.
const DefaultSharedLookupTimeout = 10 * time.Second

// WeatherConfig holds WeatherService options. A nil Cache disables geocode
// caching; APIKey is called on every lookup. SharedLookupTimeout bounds a
// geocode call shared by concurrent requests, which outlives any single
// caller's context.
type WeatherConfig struct {
	Cache               cache.Cache
	CacheTTL            time.Duration
	APIKey              func() string
	MaxCityLength       int
	SharedLookupTimeout time.Duration
}

// WeatherService resolves a city name to coordinates and fetches the
// current weather there.
type WeatherService struct {
	geocoder   client.Geocoder
	provider   client.WeatherProvider
	cache      cache.Cache
	ttl        time.Duration
	apiKey     func() string
	maxCityLen int
	sharedTTL  time.Duration
	group      singleflight.Group
}

func NewWeatherService(geocoder client.Geocoder, provider client.WeatherProvider, cfg WeatherConfig) *WeatherService {
	apiKey := cfg.APIKey
	if apiKey == nil {
		apiKey = func() string { return "" }
	}
	sharedTimeout := cfg.SharedLookupTimeout
	if sharedTimeout <= 0 {
		sharedTimeout = DefaultSharedLookupTimeout
	}
	return &WeatherService{
		geocoder:   geocoder,
		provider:   provider,
		cache:      cfg.Cache,
		ttl:        cfg.CacheTTL,
		apiKey:     apiKey,
		maxCityLen: cfg.MaxCityLength,
		sharedTTL:  sharedTimeout,
	}
}

// Lookup geocodes city and returns its current weather. The API key is
// checked after geocoding and before the provider call, so a missing key
// never reaches the provider.
func (s *WeatherService) Lookup(ctx context.Context, city string) (models.Weather, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)

	w, err := s.lookup(ctx, city)
	s.record(err)
	if err != nil {
		logger.Info("weather lookup failed",
			zap.String("city", city),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		return models.Weather{}, err
	}
	logger.Debug("weather served", zap.String("city", w.City), zap.Duration("duration", time.Since(start)))
	return w, nil
}

func (s *WeatherService) lookup(ctx context.Context, city string) (models.Weather, error) {
	query, err := validation.ValidateCity(city, s.maxCityLen)
	if err != nil {
		if errors.Is(err, validation.ErrCityEmpty) {
			return models.Weather{}, fmt.Errorf("%w: %w", client.ErrLocationNotFound, err)
		}
		return models.Weather{}, err
	}

	loc, err := s.geocode(ctx, query)
	if err != nil {
		return models.Weather{}, err
	}

	key := s.apiKey()
	if key == "" {
		return models.Weather{}, client.ErrMissingAPIKey
	}
	return s.provider.Current(ctx, key, loc)
}

// geocode is cache-aside around the geocoder. Concurrent misses for the
// same city share one upstream call.
func (s *WeatherService) geocode(ctx context.Context, query string) (models.Location, error) {
	logger := observability.LoggerFromContext(ctx)
	key := cache.Key(query)

	if s.cache != nil {
		loc, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			observability.GeocodeCacheTotal.WithLabelValues("error").Inc()
			logger.Warn("geocode cache get failed",
				zap.String("city", key),
				zap.String("category", categorizeCacheError(err)),
				zap.Error(err))
		case ok:
			observability.GeocodeCacheTotal.WithLabelValues("hit").Inc()
			return loc, nil
		default:
			observability.GeocodeCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	// The shared call is detached from the first caller's cancellation;
	// each waiter still stops on its own ctx below.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sharedTTL)
		defer cancel()
		loc, err := s.geocoder.Search(sharedCtx, query)
		if err != nil {
			return models.Location{}, err
		}
		if s.cache != nil {
			if setErr := s.cache.Set(sharedCtx, key, loc, s.ttl); setErr != nil {
				observability.GeocodeCacheTotal.WithLabelValues("set_error").Inc()
				logger.Warn("geocode cache set failed", zap.String("city", key), zap.Error(setErr))
			}
		}
		return loc, nil
	})

	select {
	case <-ctx.Done():
		return models.Location{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			logger.Debug("geocode shared with concurrent request", zap.String("city", key))
		}
		if res.Err != nil {
			return models.Location{}, res.Err
		}
		return res.Val.(models.Location), nil
	}
}

// record feeds the health error-rate tracker. Only upstream faults count
// as errors; user input and configuration problems do not.
func (s *WeatherService) record(err error) {
	category := client.CategorizeError(err)
	outcome := string(category)
	if err == nil {
		outcome = "success"
	}
	observability.WeatherLookupsTotal.WithLabelValues(outcome).Inc()

	switch category {
	case client.ErrorCategoryCanceled:
	case client.ErrorCategoryTimeout, client.ErrorCategoryNetwork, client.ErrorCategoryCircuitOpen,
		client.ErrorCategoryRateLimited, client.ErrorCategoryUpstream5xx, client.ErrorCategoryUnknown:
		traffic.RecordError()
	default:
		traffic.RecordSuccess()
	}
}

// WeatherErrorMessage converts a Lookup error into the text shown in the
// weather tab. Provider messages are passed through verbatim.
func WeatherErrorMessage(err error) string {
	var perr *client.ProviderError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, client.ErrLocationNotFound):
		return MsgLocationNotFound
	case errors.Is(err, client.ErrMissingAPIKey):
		return MsgMissingAPIKey
	case errors.Is(err, validation.ErrCityTooLong):
		return MsgCityTooLong
	case errors.As(err, &perr):
		return perr.Message
	default:
		return MsgGeneric
	}
}

// categorizeCacheError returns a stable label for cache error logs.
func categorizeCacheError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
