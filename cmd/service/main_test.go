package main

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/crop-advisor/internal/circuitbreaker"
	"github.com/kjstillabower/crop-advisor/internal/config"
	"github.com/kjstillabower/crop-advisor/internal/observability"
)

func scrapeMetrics(t *testing.T) string {
	t.Helper()
	w := httptest.NewRecorder()
	observability.MetricsHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	return w.Body.String()
}

func TestNewCircuitBreaker_UsesConfigAndReportsTransitions(t *testing.T) {
	cfg := &config.Config{
		CircuitBreakerFailureThreshold: 2,
		CircuitBreakerSuccessThreshold: 1,
		CircuitBreakerTimeout:          time.Minute,
	}
	const component = "main_test_breaker"
	cb := newCircuitBreaker(cfg, component)

	if cb.Component() != component {
		t.Errorf("Component() = %q, want %q", cb.Component(), component)
	}
	if !strings.Contains(scrapeMetrics(t), `circuitBreakerState{component="`+component+`"} 0`) {
		t.Error("circuitBreakerState not initialized to closed")
	}

	fail := errors.New("upstream down")
	for i := 0; i < cfg.CircuitBreakerFailureThreshold; i++ {
		_ = cb.Call(context.Background(), func() error { return fail }, nil)
	}
	if cb.State() != circuitbreaker.StateOpen {
		t.Fatalf("State() = %v, want open after %d failures", cb.State(), cfg.CircuitBreakerFailureThreshold)
	}
	if err := cb.Call(context.Background(), func() error { return nil }, nil); !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Errorf("Call() while open error = %v, want ErrOpen", err)
	}

	body := scrapeMetrics(t)
	if !strings.Contains(body, `circuitBreakerState{component="`+component+`"} 1`) {
		t.Error("circuitBreakerState not set to open")
	}
	if !strings.Contains(body, `circuitBreakerTransitionsTotal{component="`+component+`",from="closed",to="open"} 1`) {
		t.Error("circuitBreakerTransitionsTotal not incremented for closed->open")
	}
}
