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

// Nominatim search API: https://nominatim.org/release-docs/develop/api/Search/
// Sample request: https://nominatim.openstreetmap.org/search?q=Nairobi&format=json&limit=1
const DefaultGeocoderURL = "https://nominatim.openstreetmap.org/search"

// Geocoder resolves free text to the best matching location.
type Geocoder interface {
	Search(ctx context.Context, query string) (models.Location, error)
}

// NominatimClient implements Geocoder against the OpenStreetMap Nominatim
// search endpoint, asking for a single match.
type NominatimClient struct {
	upstream
	baseURL   string
	userAgent string
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// NewNominatimClient returns a geocoder client. Nominatim rejects requests
// without an identifying User-Agent, so userAgent is required.
func NewNominatimClient(baseURL, userAgent string, timeout time.Duration, retry RetryPolicy) (*NominatimClient, error) {
	if baseURL == "" {
		baseURL = DefaultGeocoderURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid geocoder URL: %w", err)
	}
	if userAgent == "" {
		return nil, fmt.Errorf("geocoder user agent is required")
	}
	return &NominatimClient{
		upstream:  newUpstream(observability.APIGeocoder, timeout, retry),
		baseURL:   baseURL,
		userAgent: userAgent,
	}, nil
}

// Search implements Geocoder. An empty result is ErrLocationNotFound.
func (c *NominatimClient) Search(ctx context.Context, query string) (models.Location, error) {
	var loc models.Location
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		loc, err = c.search(ctx, query)
		return err
	})
	return loc, err
}

func (c *NominatimClient) search(ctx context.Context, query string) (models.Location, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	header := http.Header{}
	header.Set("User-Agent", c.userAgent)

	statusCode, body, err := c.get(ctx, c.baseURL, params, header)
	if err != nil {
		return models.Location{}, err
	}
	if err := statusError(c.api, statusCode); err != nil {
		return models.Location{}, err
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return models.Location{}, fmt.Errorf("parse geocoder response: %w", err)
	}
	if len(places) == 0 {
		return models.Location{}, fmt.Errorf("%w: %q", ErrLocationNotFound, query)
	}
	p := places[0]
	if p.Lat == "" || p.Lon == "" {
		return models.Location{}, fmt.Errorf("parse geocoder response: match for %q has no coordinates", query)
	}
	return models.Location{
		Query:       query,
		DisplayName: p.DisplayName,
		Latitude:    p.Lat,
		Longitude:   p.Lon,
	}, nil
}
