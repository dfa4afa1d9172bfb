package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		return errors.New("persistent error")
	}, fastRetryConfig(2), nil)

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	isRetryable := func(err error) bool {
		return false // All errors are non-retryable
	}

	err := Retry(context.Background(), func() error {
		attempts++
		return errors.New("non-retryable error")
	}, fastRetryConfig(3), isRetryable)

	if err == nil {
		t.Error("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestRetry_RetryableError(t *testing.T) {
	attempts := 0
	isRetryable := func(err error) bool {
		return true // All errors are retryable
	}

	err := Retry(context.Background(), func() error {
		attempts++
		return errors.New("retryable error")
	}, fastRetryConfig(3), isRetryable)

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts for retryable error, got %d", attempts)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	cfg := fastRetryConfig(5)
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second

	err := Retry(ctx, func() error {
		attempts++
		cancel()
		return errors.New("connection refused")
	}, cfg, IsRetryableNetworkError)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected cancellation to stop retries, got %d attempts", attempts)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("connection reset"), true},
		{"unavailable", errors.New("deepgram websocket unavailable"), true},
		{"deadline exceeded", errors.New("deadline exceeded"), true},
		{"timeout", errors.New("Timeout"), true},
		{"resource exhausted", errors.New("resource exhausted"), true},
		{"rate limit", errors.New("rate limit"), true},
		{"net timeout", fmt.Errorf("dial: %w", timeoutError{}), true},
		{"wrapped retryable", fmt.Errorf("open: %w", NewRetryableError(errors.New("busy"))), true},
		{"bad handshake", errors.New("websocket: bad handshake"), false},
		{"other error", errors.New("other error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableNetworkError(tt.err)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt        int
		initialBackoff time.Duration
		maxBackoff     time.Duration
		multiplier     float64
		expected       time.Duration
	}{
		{0, 100 * time.Millisecond, 1 * time.Second, 2.0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond, 1 * time.Second, 2.0, 200 * time.Millisecond},
		{2, 100 * time.Millisecond, 1 * time.Second, 2.0, 400 * time.Millisecond},
		{5, 100 * time.Millisecond, 1 * time.Second, 2.0, 1 * time.Second}, // Capped at max
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			backoff := CalculateBackoff(tt.attempt, tt.initialBackoff, tt.maxBackoff, tt.multiplier)
			if backoff != tt.expected {
				t.Errorf("Expected backoff %v, got %v", tt.expected, backoff)
			}
		})
	}
}

func TestNewRetryableError(t *testing.T) {
	originalErr := errors.New("original error")
	retryableErr := NewRetryableError(originalErr)

	if retryableErr.Error() != "original error" {
		t.Errorf("Expected error message 'original error', got %s", retryableErr.Error())
	}

	if !IsRetryable(retryableErr) {
		t.Error("Expected error to be retryable")
	}

	if IsRetryable(originalErr) {
		t.Error("Expected original error to not be retryable")
	}

	if NewRetryableError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestReconnect_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("still down")
		}
		return nil
	}, &ReconnectConfig{MaxAttempts: 3, Backoff: 5 * time.Millisecond, Multiplier: 2, MaxBackoff: 20 * time.Millisecond})

	if err != nil {
		t.Errorf("Expected reconnect to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestReconnect_GivesUp(t *testing.T) {
	down := errors.New("still down")
	attempts := 0
	err := Reconnect(context.Background(), func() error {
		attempts++
		return down
	}, &ReconnectConfig{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond})

	if !errors.Is(err, down) {
		t.Errorf("Expected last error wrapped, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Reconnect(ctx, func() error {
		called = true
		return nil
	}, &ReconnectConfig{MaxAttempts: 3, Backoff: time.Second, Multiplier: 2, MaxBackoff: time.Second})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("Expected no attempt after cancellation")
	}
}
