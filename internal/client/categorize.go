package client

import (
	"context"
	"errors"
	"net"

	"github.com/kjstillabower/crop-advisor/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the weatherLookupsTotal outcome label.
const (
	ErrorCategoryTimeout          ErrorCategory = "timeout"
	ErrorCategoryCanceled         ErrorCategory = "canceled"
	ErrorCategoryNetwork          ErrorCategory = "network"
	ErrorCategoryMissingAPIKey    ErrorCategory = "missing_api_key"
	ErrorCategoryInvalidAPIKey    ErrorCategory = "invalid_api_key"
	ErrorCategoryLocationNotFound ErrorCategory = "location_not_found"
	ErrorCategoryRateLimited      ErrorCategory = "rate_limited"
	ErrorCategoryCircuitOpen      ErrorCategory = "circuit_open"
	ErrorCategoryUpstream5xx      ErrorCategory = "upstream_5xx"
	ErrorCategoryProvider         ErrorCategory = "provider_error"
	ErrorCategoryUnknown          ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrMissingAPIKey):
		return ErrorCategoryMissingAPIKey
	case errors.Is(err, ErrLocationNotFound):
		return ErrorCategoryLocationNotFound
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream5xx
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	case isTimeout(err):
		return ErrorCategoryTimeout
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		return ErrorCategoryProvider
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
