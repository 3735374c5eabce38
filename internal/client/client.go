package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/crop-advisor/internal/circuitbreaker"
	"github.com/kjstillabower/crop-advisor/internal/observability"
)

var (
	ErrLocationNotFound = errors.New("location not found")
	ErrMissingAPIKey    = errors.New("weather API key not set")
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 1 << 20

// RetryPolicy controls retries of transient upstream failures. Attempts
// counts the first call, so 1 disables retrying.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NoRetry makes a single attempt.
var NoRetry = RetryPolicy{Attempts: 1}

// upstream holds what both API clients share: the HTTP client, retry
// policy, optional circuit breaker and per-call metrics.
type upstream struct {
	api     string
	client  *http.Client
	retry   RetryPolicy
	breaker *circuitbreaker.CircuitBreaker
}

func newUpstream(api string, timeout time.Duration, retry RetryPolicy) upstream {
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}
	return upstream{
		api:    api,
		client: &http.Client{Timeout: timeout},
		retry:  retry,
	}
}

// SetCircuitBreaker guards every call with cb. Only transient failures
// count against it.
func (u *upstream) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	u.breaker = cb
}

// do runs call under the retry policy. Non-transient errors return at once;
// the last error is returned unchanged when attempts run out.
func (u *upstream) do(ctx context.Context, call func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < u.retry.Attempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(u.api).Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.backoff(attempt)):
			}
		}

		err := u.callOnce(ctx, call)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			return err
		}
	}
	return lastErr
}

func (u *upstream) callOnce(ctx context.Context, call func(ctx context.Context) error) error {
	if u.breaker == nil {
		return call(ctx)
	}
	err := u.breaker.Call(ctx, func() error { return call(ctx) }, isRetryable)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%w: %s: %w", ErrUpstreamFailure, u.api, err)
	}
	return err
}

func (u *upstream) backoff(attempt int) time.Duration {
	delay := float64(u.retry.BaseDelay) * math.Pow(2, float64(attempt-1))
	if u.retry.MaxDelay > 0 && delay > float64(u.retry.MaxDelay) {
		delay = float64(u.retry.MaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

// get performs one GET and returns the status code and (capped) body.
func (u *upstream) get(ctx context.Context, endpoint string, params url.Values, header http.Header) (int, []byte, error) {
	start := time.Now()

	baseURL, err := url.Parse(endpoint)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid %s URL: %w", u.api, err)
	}
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(u.api, "error").Inc()
		return 0, nil, fmt.Errorf("create %s request: %w", u.api, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(u.api, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(u.api, "error").Observe(time.Since(start).Seconds())
		if isTimeout(err) {
			return 0, nil, fmt.Errorf("%s request timeout: %w", u.api, err)
		}
		return 0, nil, fmt.Errorf("%s request failed: %w", u.api, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(u.api, status).Inc()
	observability.UpstreamDuration.WithLabelValues(u.api, status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response body: %w", u.api, err)
	}
	return resp.StatusCode, body, nil
}

// statusError maps a non-2xx status to a sentinel-wrapped error, or nil.
func statusError(api string, statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s HTTP %d", ErrInvalidAPIKey, api, statusCode)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s HTTP %d", ErrRateLimited, api, statusCode)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s HTTP %d", ErrUpstreamFailure, api, statusCode)
	default:
		return fmt.Errorf("%s returned HTTP %d", api, statusCode)
	}
}

// isRetryable reports whether err is transient: rate limiting, 5xx, or a
// timeout/network failure. It doubles as the breaker's failure predicate.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if isTimeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
