package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/iammatthi/spacedrive/internal/common"
)

// Config holds configuration for store operation retries. A batch that
// failed as a unit can be replayed safely, so retries wrap whole batches.
type Config struct {
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`     // Maximum number of retry attempts
	InitialDelay    time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"` // Initial delay before first retry
	MaxDelay        time.Duration `mapstructure:"max_delay" yaml:"max_delay"`         // Maximum delay between retries
	BackoffFactor   float64       `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	RetryableErrors []string      `mapstructure:"retryable_errors" yaml:"retryable_errors"` // Error substrings that trigger retries
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() *Config {
	return &Config{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: []string{
			"connection refused",
			"connection reset",
			"timeout",
			"temporary failure",
			"deadlock",
			"lock wait timeout",
			"database is locked",
			"sqlite_busy",
			"connection lost",
			"broken pipe",
		},
	}
}

// NoRetry disables retries while keeping error wrapping uniform.
func NoRetry() *Config {
	return &Config{MaxRetries: 0}
}

// withDefaults fills zero fields from DefaultRetryConfig so partially
// specified configs (e.g. from YAML) behave sensibly.
func (rc *Config) withDefaults() *Config {
	d := DefaultRetryConfig()
	out := *rc
	if out.InitialDelay <= 0 {
		out.InitialDelay = d.InitialDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = d.MaxDelay
	}
	if out.BackoffFactor < 1 {
		out.BackoffFactor = d.BackoffFactor
	}
	if len(out.RetryableErrors) == 0 {
		out.RetryableErrors = d.RetryableErrors
	}
	return &out
}

// isRetryableError checks if an error should trigger a retry
func (rc *Config) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Check for context cancellation - don't retry these
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, retryableErr := range rc.RetryableErrors {
		if strings.Contains(errStr, strings.ToLower(retryableErr)) {
			return true
		}
	}

	return false
}

// calculateDelay calculates the delay for a given retry attempt using exponential backoff
func (rc *Config) calculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return rc.InitialDelay
	}

	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.BackoffFactor, float64(attempt)))
	if delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	return delay
}

// RetryableOperation represents a store operation that can be retried
type RetryableOperation func() error

// WithRetry executes a store operation with retry logic. Non-retryable
// errors are returned unchanged so callers can still match them.
func WithRetry(ctx context.Context, config *Config, operation RetryableOperation) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	config = config.withDefaults()

	logger := common.GetLogger().WithComponent("store-retry")

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("store operation succeeded after retry",
					"attempt", attempt+1,
					"total_attempts", config.MaxRetries+1)
			}
			return nil
		}

		lastErr = err

		if !config.isRetryableError(err) {
			logger.Debug("store operation failed with non-retryable error",
				"error", err,
				"attempt", attempt+1)
			return err
		}

		// Don't wait after the last attempt
		if attempt == config.MaxRetries {
			break
		}

		delay := config.calculateDelay(attempt)
		logger.Warn("store operation failed, retrying",
			"error", err,
			"attempt", attempt+1,
			"max_attempts", config.MaxRetries+1,
			"retry_delay", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	if config.MaxRetries == 0 {
		return lastErr
	}

	logger.Error("store operation failed after all retry attempts",
		"error", lastErr,
		"attempts", config.MaxRetries+1)

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}
