package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastConfig(maxRetries int) *Config {
	c := DefaultRetryConfig()
	c.MaxRetries = maxRetries
	c.InitialDelay = time.Millisecond
	c.MaxDelay = 2 * time.Millisecond
	return c
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries to be 3, got %d", config.MaxRetries)
	}
	if config.InitialDelay != 100*time.Millisecond {
		t.Errorf("Expected InitialDelay to be 100ms, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 5*time.Second {
		t.Errorf("Expected MaxDelay to be 5s, got %v", config.MaxDelay)
	}
	if config.BackoffFactor != 2.0 {
		t.Errorf("Expected BackoffFactor to be 2.0, got %f", config.BackoffFactor)
	}
}

func TestConfig_isRetryableError(t *testing.T) {
	config := DefaultRetryConfig()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), expected: true},
		{name: "sqlite busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), expected: true},
		{name: "deadlock", err: errors.New("ERROR: deadlock detected"), expected: true},
		{name: "syntax error", err: errors.New("near \"SELEC\": syntax error"), expected: false},
		{name: "context canceled", err: context.Canceled, expected: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := config.isRetryableError(tt.err); got != tt.expected {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestConfig_calculateDelay(t *testing.T) {
	config := &Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 200 * time.Millisecond},
		{attempt: 2, want: 400 * time.Millisecond},
		{attempt: 3, want: 800 * time.Millisecond},
		{attempt: 4, want: time.Second},
		{attempt: 10, want: time.Second},
	}
	for _, tt := range tests {
		if got := config.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWithRetry_Success(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestWithRetry_RetryableError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetry_NonRetryableErrorIsReturnedUnchanged(t *testing.T) {
	sentinel := errors.New("constraint failed")
	calls := 0
	err := WithRetry(context.Background(), fastConfig(3), func() error {
		calls++
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestWithRetry_MaxRetriesExceeded(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(2), func() error {
		calls++
		return errors.New("connection reset by peer")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestWithRetry_NoRetry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), NoRetry(), func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil || err.Error() != "database is locked" {
		t.Fatalf("expected unwrapped error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig()
	config.InitialDelay = time.Second

	calls := 0
	err := WithRetry(ctx, config, func() error {
		calls++
		cancel()
		return errors.New("connection refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestWithRetry_NilConfig(t *testing.T) {
	if err := WithRetry(context.Background(), nil, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
