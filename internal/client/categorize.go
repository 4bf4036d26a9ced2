package client

import (
	"context"
	"errors"
	"net"

	"github.com/kjstillabower/cab-fare-service/internal/validation"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (predictorErrorsTotal, cacheErrorsTotal).
const (
	ErrorCategoryTimeout           ErrorCategory = "timeout"
	ErrorCategoryNetwork           ErrorCategory = "network"
	ErrorCategoryUnauthorized      ErrorCategory = "unauthorized"
	ErrorCategoryCircuitOpen       ErrorCategory = "circuit_open"
	ErrorCategoryRateLimited       ErrorCategory = "rate_limited"
	ErrorCategoryBadRequest        ErrorCategory = "bad_request"
	ErrorCategoryInvalidPrediction ErrorCategory = "invalid_prediction"
	ErrorCategoryUpstream          ErrorCategory = "upstream"
	ErrorCategoryValidation        ErrorCategory = "validation"
	ErrorCategoryUnknown           ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrUnauthorized):
		return ErrorCategoryUnauthorized
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrBadRequest):
		return ErrorCategoryBadRequest
	case errors.Is(err, ErrInvalidPrediction):
		return ErrorCategoryInvalidPrediction
	case errors.Is(err, ErrPredictorUnavailable):
		return ErrorCategoryUpstream
	case errors.Is(err, validation.ErrInvalid):
		return ErrorCategoryValidation
	}

	return ErrorCategoryUnknown
}
