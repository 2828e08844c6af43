package ingest

import (
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

var (
	// ErrTooManyTimestamps is returned when a request exceeds the per-request limit
	ErrTooManyTimestamps = errors.New("too many timestamps in request")

	// ErrRateLimited is returned when requests arrive faster than the configured rate
	ErrRateLimited = errors.New("ingest rate limit exceeded")

	// ErrStorageFull is returned when the store has reached its size limit
	ErrStorageFull = errors.New("storage limit reached")
)

// ValidateBatch checks a request's timestamp count against max.
func ValidateBatch(n, max int) error {
	if max > 0 && n > max {
		return fmt.Errorf("%w: %d given, max %d", ErrTooManyTimestamps, n, max)
	}
	return nil
}

// NewLimiter returns a token bucket allowing perSecond requests with the
// given burst. It returns nil, meaning unlimited, when perSecond is 0.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
