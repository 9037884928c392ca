package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// httpError mimics smithy response errors, which expose the HTTP status
// of the failed request.
type httpError struct {
	status int
}

func (e *httpError) Error() string       { return http.StatusText(e.status) }
func (e *httpError) HTTPStatusCode() int { return e.status }

func TestFoundry_Retry_Do(t *testing.T) {
	t.Parallel()

	fastCfg := Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}

	t.Run("first attempt success does not sleep", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := Do(context.Background(), fastCfg, func() error {
			attempts++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("transient failures are retried until success", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := Do(context.Background(), fastCfg, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("connection reset by peer")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("exhausting the budget wraps the last error", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		cause := errors.New("connection reset by peer")
		err := Do(context.Background(), fastCfg, func() error {
			attempts++
			return cause
		})
		require.ErrorIs(t, err, cause)
		require.Equal(t, 3, attempts)
	})

	t.Run("permanent errors return immediately", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		cause := errors.New("missing required field")
		err := Do(context.Background(), fastCfg, func() error {
			attempts++
			return cause
		})
		require.Same(t, cause, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("cancellation stops the backoff sleep", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		err := Do(ctx, Config{MaxAttempts: 5, BaseBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}, func() error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errors.New("connection reset by peer")
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 2, attempts)
	})
}

func TestFoundry_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"broken pipe", errors.New("broken pipe"), true},
		{"s3 throttle", errors.New("SlowDown: please reduce your request rate"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"service unavailable", errors.New("service unavailable"), true},
		{"http 429", &httpError{status: http.StatusTooManyRequests}, true},
		{"http 500", &httpError{status: http.StatusInternalServerError}, true},
		{"http 503", &httpError{status: http.StatusServiceUnavailable}, true},
		{"http 400", &httpError{status: http.StatusBadRequest}, false},
		{"http 404", &httpError{status: http.StatusNotFound}, false},
		{"validation", errors.New("missing required field"), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestFoundry_Retry_Backoff(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second}

	// Attempt 2 doubles twice: 2s scaled by jitter in [0.5, 1.0).
	seen := map[time.Duration]bool{}
	for i := 0; i < 100; i++ {
		d := backoff(cfg, 2)
		require.GreaterOrEqual(t, d, time.Second)
		require.Less(t, d, 2*time.Second)
		seen[d] = true
	}
	require.Greater(t, len(seen), 5)

	// Large attempts are capped by MaxBackoff before jitter.
	d := backoff(cfg, 30)
	require.LessOrEqual(t, d, 5*time.Second)
}
