package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewNominatimClient(t *testing.T) {
	if _, err := NewNominatimClient("", "", time.Second, NoRetry); err == nil {
		t.Error("NewNominatimClient() expected error for empty user agent")
	}
	c, err := NewNominatimClient("", "crop-advisor-test", time.Second, NoRetry)
	if err != nil {
		t.Fatalf("NewNominatimClient() error = %v", err)
	}
	if c.baseURL != DefaultGeocoderURL {
		t.Errorf("baseURL = %q, want default", c.baseURL)
	}
}

func TestNominatimClient_Search_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("expected GET, got %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("q") != "Nairobi" {
			t.Errorf("q = %q, want Nairobi", q.Get("q"))
		}
		if q.Get("format") != "json" || q.Get("limit") != "1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") != "crop-advisor-test" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("X-Correlation-ID") != "corr-1" {
			t.Errorf("X-Correlation-ID = %q, want corr-1", r.Header.Get("X-Correlation-ID"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"place_id":1,"lat":"-1.2832533","lon":"36.8172449","name":"Nairobi","display_name":"Nairobi, Kenya"}]`))
	}))
	defer server.Close()

	c, err := NewNominatimClient(server.URL, "crop-advisor-test", 2*time.Second, NoRetry)
	if err != nil {
		t.Fatalf("NewNominatimClient() error = %v", err)
	}
	ctx := context.WithValue(context.Background(), "correlation_id", "corr-1")
	loc, err := c.Search(ctx, "Nairobi")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if loc.Latitude != "-1.2832533" || loc.Longitude != "36.8172449" {
		t.Errorf("coordinates = %s,%s", loc.Latitude, loc.Longitude)
	}
	if loc.DisplayName != "Nairobi, Kenya" || loc.Query != "Nairobi" {
		t.Errorf("Search() = %+v", loc)
	}
}

func TestNominatimClient_Search_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"no match", http.StatusOK, `[]`, ErrLocationNotFound},
		{"rate limited", http.StatusTooManyRequests, ``, ErrRateLimited},
		{"server error", http.StatusBadGateway, ``, ErrUpstreamFailure},
		{"forbidden", http.StatusForbidden, ``, ErrInvalidAPIKey},
		{"bad json", http.StatusOK, `<html>`, nil},
		{"missing coordinates", http.StatusOK, `[{"display_name":"Nowhere"}]`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, err := NewNominatimClient(server.URL, "crop-advisor-test", 2*time.Second, NoRetry)
			if err != nil {
				t.Fatalf("NewNominatimClient() error = %v", err)
			}
			_, err = c.Search(context.Background(), "Atlantis")
			if err == nil {
				t.Fatal("Search() expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Search() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
