// Package retry wraps storage backend calls in bounded exponential
// backoff. Only transient failures are retried; validation and not-found
// errors surface immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"
)

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig suits object store writes: three attempts, half a second
// base, capped at five seconds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Do runs fn until it succeeds, fails permanently, or the attempt budget
// runs out. The backoff sleep honors ctx.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(cfg, attempt-1)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// retryableFragments are matched against the lowercased error text as a
// fallback when the error carries no structured signal. "slow down" is
// S3's throttling phrasing.
var retryableFragments = []string{
	"connection closed",
	"connection reset",
	"broken pipe",
	"eof",
	"timeout",
	"temporary failure",
	"service unavailable",
	"slow down",
	"rate limit",
	"too many requests",
}

// IsRetryable classifies an error as transient. Context cancellation is
// never retryable: the caller asked to stop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// S3 responses surface their HTTP status through smithy.
	var sc interface{ HTTPStatusCode() int }
	if errors.As(err, &sc) {
		switch sc.HTTPStatusCode() {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	text := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(text, fragment) {
			return true
		}
	}
	return false
}

// backoff is base * 2^n capped at the max, scaled by a jitter factor in
// [0.5, 1.0) so concurrent writers do not retry in lockstep.
func backoff(cfg Config, n int) time.Duration {
	d := cfg.BaseBackoff * time.Duration(1<<uint(n))
	if d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
}
