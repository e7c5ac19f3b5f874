package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// testBackoffConfig returns a fast backoff for tests
func testBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Steps:   5,
		Initial: time.Millisecond,
		Max:     2 * time.Millisecond,
		Factor:  2.0,
		Jitter:  0,
	}
}

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()

	if cfg.Steps != 5 {
		t.Errorf("Expected Steps=5, got %d", cfg.Steps)
	}
	if cfg.Factor != 2.0 {
		t.Errorf("Expected Factor=2.0, got %f", cfg.Factor)
	}
	if cfg.Jitter != 0.1 {
		t.Errorf("Expected Jitter=0.1, got %f", cfg.Jitter)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "grpc unavailable", err: status.Error(codes.Unavailable, "connection closed"), expected: true},
		{name: "grpc invalid argument", err: status.Error(codes.InvalidArgument, "bad mode"), expected: false},
		{name: "grpc resource exhausted", err: status.Error(codes.ResourceExhausted, "rate limited"), expected: false},
		{name: "connection refused", err: errors.New("dial unix /run/lockd.sock: connect: connection refused"), expected: true},
		{name: "Connection Reset (case insensitive)", err: errors.New("Connection Reset by peer"), expected: true},
		{name: "socket missing", err: errors.New("dial unix /run/lockd.sock: connect: no such file or directory"), expected: true},
		{name: "context canceled", err: context.Canceled, expected: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, expected: false},
		{name: "permission denied (not retryable)", err: errors.New("permission denied"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	attemptCount := 0
	err := RetryWithBackoff(context.Background(), testBackoffConfig(), func() error {
		attemptCount++
		return nil
	})

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if attemptCount != 1 {
		t.Errorf("Expected 1 attempt, got %d", attemptCount)
	}
}

func TestRetryWithBackoff_RetryThenSuccess(t *testing.T) {
	attemptCount := 0
	err := RetryWithBackoff(context.Background(), testBackoffConfig(), func() error {
		attemptCount++
		if attemptCount < 3 {
			return status.Error(codes.Unavailable, "server restarting")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", attemptCount)
	}
}

func TestRetryWithBackoff_NonRetryable(t *testing.T) {
	attemptCount := 0
	nonRetryableErr := errors.New("permission denied")
	err := RetryWithBackoff(context.Background(), testBackoffConfig(), func() error {
		attemptCount++
		return nonRetryableErr
	})

	if !errors.Is(err, nonRetryableErr) {
		t.Fatalf("Expected %v, got %v", nonRetryableErr, err)
	}
	if attemptCount != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attemptCount)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	attemptCount := 0
	err := RetryWithBackoff(context.Background(), testBackoffConfig(), func() error {
		attemptCount++
		return errors.New("connection refused")
	})

	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if attemptCount != 5 {
		t.Errorf("Expected 5 attempts, got %d", attemptCount)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testBackoffConfig()
	cfg.Initial = time.Second
	cfg.Max = time.Second

	err := RetryWithBackoff(ctx, cfg, func() error {
		return errors.New("connection refused")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
