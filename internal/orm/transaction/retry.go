package transaction

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultMaxRetries is the default number of retry attempts for deadlocks
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 100 * time.Millisecond
)

// RetryConfig configures retry behavior for transactions
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// WithRetry executes a transaction with automatic retry on deadlock
func (m *Manager) WithRetry(ctx context.Context, fn func(tx *Transaction) error) error {
	return m.WithRetryConfig(ctx, DefaultRetryConfig(), fn)
}

// WithRetryConfig executes a transaction with custom retry configuration
func (m *Manager) WithRetryConfig(ctx context.Context, config *RetryConfig, fn func(tx *Transaction) error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before retry %d: %w", attempt, ctx.Err())
		}

		err := m.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}

		if !IsRetryableError(err) {
			return err
		}
		lastErr = err

		// Exponential backoff: baseBackoff * 2^attempt
		backoff := config.BaseBackoff * time.Duration(1<<uint(attempt))

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: transaction failed after %d retries: %v", ErrDeadlock, config.MaxRetries, lastErr)
}

// isDeadlockError checks if an error is a deadlock error
// Detects PostgreSQL deadlock codes and SQLite busy errors
func isDeadlockError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// PostgreSQL deadlock detection error code: 40P01
	if strings.Contains(errStr, "40p01") {
		return true
	}

	deadlockMessages := []string{
		"deadlock detected",
		"deadlock found",
		"lock wait timeout exceeded",
		"database is locked",
	}

	for _, msg := range deadlockMessages {
		if strings.Contains(errStr, msg) {
			return true
		}
	}

	return false
}

// isSerializationError checks if an error is a serialization failure
func isSerializationError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	// PostgreSQL serialization failure code: 40001
	if strings.Contains(errStr, "40001") {
		return true
	}

	return strings.Contains(strings.ToLower(errStr), "could not serialize access")
}

// IsRetryableError checks if an error is retryable (deadlock or serialization failure)
func IsRetryableError(err error) bool {
	return isDeadlockError(err) || isSerializationError(err)
}
