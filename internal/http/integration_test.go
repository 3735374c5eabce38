//go:build integration
// +build integration

package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/crop-advisor/internal/classifier"
	"github.com/kjstillabower/crop-advisor/internal/service"
	"github.com/kjstillabower/crop-advisor/internal/testhelpers"
)

// setupIntegrationServer serves the full router against the live upstreams.
func setupIntegrationServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := testhelpers.GetIntegrationConfig(t)
	weather, cleanup := testhelpers.SetupIntegrationService(t, cfg)
	t.Cleanup(cleanup)

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	forest, err := classifier.LoadForest(strings.NewReader(`{
		"type": "decision_tree", "n_features": 7, "n_classes": 2,
		"trees": [{"children_left": [1, -1, -1], "children_right": [2, -1, -1],
		           "feature": [6, -2, -2], "threshold": [100, -2, -2],
		           "value": [[1, 1], [1, 0], [0, 1]]}]}`))
	if err != nil {
		t.Fatalf("LoadForest() error = %v", err)
	}
	labels, err := classifier.LoadLabels(strings.NewReader(`["chickpea", "rice"]`))
	if err != nil {
		t.Fatalf("LoadLabels() error = %v", err)
	}

	h := NewHandler(service.NewCropService(forest, labels), weather, renderer, nil, zap.NewNop())
	srv := httptest.NewServer(NewRouter(h, zap.NewNop(), 20*time.Second))
	t.Cleanup(srv.Close)
	return srv
}

func TestIntegration_WeatherLookup(t *testing.T) {
	srv := setupIntegrationServer(t)

	resp, err := http.PostForm(srv.URL+"/weather", url.Values{"city": {"Nairobi"}})
	if err != nil {
		t.Fatalf("POST /weather error = %v", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body.String(), `id="weather-result"`) {
		t.Errorf("no weather block rendered: %s", body.String())
	}
}

func TestIntegration_UnknownCity(t *testing.T) {
	srv := setupIntegrationServer(t)

	resp, err := http.PostForm(srv.URL+"/weather", url.Values{"city": {"Qzxjvwkpl Nonexistentville"}})
	if err != nil {
		t.Fatalf("POST /weather error = %v", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	if !strings.Contains(body.String(), "Location not found.") {
		t.Errorf("body missing Location not found.: %s", body.String())
	}
}

func TestIntegration_CropRecommendation(t *testing.T) {
	srv := setupIntegrationServer(t)

	form := url.Values{
		"nitrogen": {"90"}, "phosphorus": {"42"}, "potassium": {"43"},
		"ph": {"6.5"}, "temperature": {"20.8"}, "humidity": {"82"}, "rainfall": {"202.9"},
	}
	resp, err := http.PostForm(srv.URL+"/", form)
	if err != nil {
		t.Fatalf("POST / error = %v", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	if !strings.Contains(body.String(), "<strong>rice</strong>") {
		t.Errorf("body missing rice recommendation: %s", body.String())
	}
}
