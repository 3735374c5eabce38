package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/crop-advisor/internal/models"
	"github.com/kjstillabower/crop-advisor/internal/observability"
)

// WeatherAPI.com current conditions: https://www.weatherapi.com/docs/
const DefaultWeatherAPIURL = "https://api.weatherapi.com/v1/current.json"

// genericProviderMessage is shown when the provider gives no message of its own.
const genericProviderMessage = "Weather API error."

// WeatherProvider returns current conditions at a location.
type WeatherProvider interface {
	Current(ctx context.Context, apiKey string, loc models.Location) (models.Weather, error)
}

// ProviderError is a failure reported by the weather provider. Message is
// the provider's own text, shown to the user verbatim.
type ProviderError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string { return e.Message }

// Unwrap classifies the failure so retry and categorization see it.
func (e *ProviderError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrInvalidAPIKey
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrUpstreamFailure
	}
	return nil
}

// WeatherAPIClient implements WeatherProvider against WeatherAPI.com.
type WeatherAPIClient struct {
	upstream
	baseURL string
}

type weatherAPIResponse struct {
	Location *struct {
		Name string `json:"name"`
	} `json:"location"`
	Current *struct {
		TempC     json.Number `json:"temp_c"`
		Humidity  int         `json:"humidity"`
		Condition struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewWeatherAPIClient(baseURL string, timeout time.Duration, retry RetryPolicy) (*WeatherAPIClient, error) {
	if baseURL == "" {
		baseURL = DefaultWeatherAPIURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid weather API URL: %w", err)
	}
	return &WeatherAPIClient{
		upstream: newUpstream(observability.APIWeather, timeout, retry),
		baseURL:  baseURL,
	}, nil
}

// Current implements WeatherProvider. The key is passed per call because it
// is read from the environment on every lookup.
func (c *WeatherAPIClient) Current(ctx context.Context, apiKey string, loc models.Location) (models.Weather, error) {
	if apiKey == "" {
		return models.Weather{}, ErrMissingAPIKey
	}
	var w models.Weather
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		w, err = c.current(ctx, apiKey, loc)
		return err
	})
	return w, err
}

func (c *WeatherAPIClient) current(ctx context.Context, apiKey string, loc models.Location) (models.Weather, error) {
	params := url.Values{}
	params.Set("key", apiKey)
	params.Set("q", loc.Latitude+","+loc.Longitude)
	params.Set("aqi", "no")

	statusCode, body, err := c.get(ctx, c.baseURL, params, nil)
	if err != nil {
		return models.Weather{}, err
	}

	var apiResp weatherAPIResponse
	decodeErr := json.Unmarshal(body, &apiResp)
	ok := statusCode >= 200 && statusCode < 300
	if ok && decodeErr != nil {
		return models.Weather{}, fmt.Errorf("parse weather response: %w", decodeErr)
	}
	if !ok || apiResp.Current == nil {
		perr := &ProviderError{StatusCode: statusCode, Message: genericProviderMessage}
		if apiResp.Error != nil {
			perr.Code = apiResp.Error.Code
			if apiResp.Error.Message != "" {
				perr.Message = apiResp.Error.Message
			}
		}
		return models.Weather{}, perr
	}

	city := loc.Query
	if apiResp.Location != nil && apiResp.Location.Name != "" {
		city = apiResp.Location.Name
	}
	return models.Weather{
		City:        city,
		Temp:        apiResp.Current.TempC,
		Humidity:    apiResp.Current.Humidity,
		Description: apiResp.Current.Condition.Text,
	}, nil
}
