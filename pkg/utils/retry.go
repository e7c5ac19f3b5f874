package utils

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// BackoffConfig describes an exponential retry schedule
type BackoffConfig struct {
	// Steps is the maximum number of attempts (including the first)
	Steps int

	// Initial is the delay before the second attempt
	Initial time.Duration

	// Max caps the delay between attempts
	Max time.Duration

	// Factor multiplies the delay after every attempt
	Factor float64

	// Jitter randomizes each delay by +/- this fraction
	Jitter float64
}

// DefaultBackoffConfig returns the recommended exponential backoff configuration
// with 10% jitter to prevent thundering herd problems
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Steps:   5,                      // Maximum 5 attempts
		Initial: 200 * time.Millisecond, // 200ms, 400ms, 800ms, 1.6s
		Max:     5 * time.Second,
		Factor:  2.0,
		Jitter:  0.1,
	}
}

// newBackOff converts cfg into a context-aware backoff.BackOff
func newBackOff(ctx context.Context, cfg BackoffConfig) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.Initial
	eb.MaxInterval = cfg.Max
	eb.Multiplier = cfg.Factor
	eb.RandomizationFactor = cfg.Jitter
	eb.MaxElapsedTime = 0 // bounded by Steps instead

	steps := cfg.Steps
	if steps < 1 {
		steps = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(steps-1)), ctx)
}

// RetryWithBackoff retries an operation with exponential backoff until success or exhaustion.
// The function respects context cancellation and distinguishes retryable from fatal errors.
//
// Returns:
//   - nil if fn() succeeds
//   - the last error if all attempts are exhausted with retryable errors
//   - the actual error if fn() returns a non-retryable error
//   - ctx.Err() if the context is cancelled between attempts
func RetryWithBackoff(ctx context.Context, cfg BackoffConfig, fn func() error) error {
	attempt := 0

	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			klog.V(4).Infof("Operation succeeded on attempt %d", attempt)
			return nil
		}

		if IsRetryableError(err) {
			klog.V(3).Infof("Attempt %d failed with retryable error: %v", attempt, err)
			return err
		}

		klog.V(3).Infof("Attempt %d failed with non-retryable error: %v", attempt, err)
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, newBackOff(ctx, cfg))
	if err != nil && IsRetryableError(err) {
		klog.V(2).Infof("All %d retry attempts exhausted, last error: %v", attempt, err)
	}
	return err
}

// IsRetryableError determines if an error is transient and worth retrying.
// gRPC Unavailable is retryable; other gRPC codes are not. Plain errors are
// matched against common transient network failures.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if st, ok := status.FromError(err); ok {
		return st.Code() == codes.Unavailable
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"connection timed out",
		"no such file or directory", // unix socket not created yet
		"network is unreachable",
		"i/o timeout",
		"temporary failure",
		"try again",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
