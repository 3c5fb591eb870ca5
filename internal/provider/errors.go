package provider

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// HTTPError represents a non-2xx response from a provider API.
type HTTPError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP error: %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// isRetryableStatus reports whether an HTTP status warrants a retry.
func isRetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// isRetryableNetErr reports whether a transport-level error warrants a retry.
func isRetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, pattern := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"no such host",
		"EOF",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// calculateBackoff returns an exponential backoff delay with jitter.
func calculateBackoff(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}
	// Up to 25% jitter so synchronized clients don't retry in lockstep
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
