package lib

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/trobanga/hermes/internal/models"
)

// RetryPolicy holds retry strategy parameters.
// Both the conversion client and the load scheduler take an explicit policy so
// tests can substitute a deterministic zero-delay one.
type RetryPolicy struct {
	MaxAttempts      int
	InitialBackoffMs int64
	MaxBackoffMs     int64
	Jitter           float64 // Fraction of the backoff added as random jitter, 0 disables
}

// NewRetryPolicy creates a RetryPolicy from run configuration
func NewRetryPolicy(config models.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      config.MaxAttempts,
		InitialBackoffMs: config.InitialBackoffMs,
		MaxBackoffMs:     config.MaxBackoffMs,
		Jitter:           0.2,
	}
}

// ZeroDelayPolicy returns a policy that retries n times without waiting
func ZeroDelayPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, InitialBackoffMs: 0, MaxBackoffMs: 0}
}

// Backoff computes the wait before the next attempt
// Formula: min(initialBackoff * 2^attempt, maxBackoff), plus jitter
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	backoffMs := float64(p.InitialBackoffMs) * math.Pow(2, float64(attempt))
	if backoffMs > float64(p.MaxBackoffMs) {
		backoffMs = float64(p.MaxBackoffMs)
	}
	if p.Jitter > 0 {
		backoffMs += backoffMs * p.Jitter * rand.Float64()
	}

	return time.Duration(backoffMs) * time.Millisecond
}

// IsTransientHTTPStatus classifies HTTP status codes for retry logic
// 5xx and 408/429 are transient; every other status is permanent
func IsTransientHTTPStatus(status int) bool {
	if status >= 500 && status < 600 {
		return true
	}
	return status == 408 || status == 429
}

// RetryableOperation represents an operation that can be retried
type RetryableOperation func() error

// ExecuteWithRetry executes an operation with exponential backoff retry logic.
// The context is honored between attempts: run-level cancellation stops the
// retry loop, but the in-flight attempt completes on its own timeout.
// Returns nil on success, or the last error once attempts are exhausted.
func ExecuteWithRetry(ctx context.Context, operation RetryableOperation, policy RetryPolicy, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		case <-time.After(policy.Backoff(attempt)):
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// IsNetworkError checks if an error is likely a network-related issue
// These are typically transient and should be retried
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()

	networkErrors := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"deadline exceeded",
		"EOF",
	}

	for _, pattern := range networkErrors {
		if containsIgnoreCase(errMsg, pattern) {
			return true
		}
	}

	return false
}

// containsIgnoreCase checks if string contains substring (case-insensitive)
func containsIgnoreCase(s, substr string) bool {
	sLower := toLower(s)
	substrLower := toLower(substr)

	for i := 0; i+len(substrLower) <= len(sLower); i++ {
		if sLower[i:i+len(substrLower)] == substrLower {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 32
		}
		out[i] = c
	}
	return string(out)
}
