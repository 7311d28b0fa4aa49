// Package retry provides bounded retry loops with randomized backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Config holds retry configuration
type Config struct {
	MaxAttempts   int           // Maximum number of attempts
	InitialDelay  time.Duration // Delay before the second attempt
	MaxDelay      time.Duration // Maximum delay between attempts
	BackoffFactor float64       // Exponential backoff multiplier
	Jitter        bool          // Randomize each delay in [0, delay)
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
}

// DefaultConfig returns default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		Retryable:     func(err error) bool { return !dberr.IsFatal(err) },
	}
}

// Option allows customization of retry behavior
type Option func(*Config)

// WithMaxAttempts sets the maximum attempts
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		c.MaxAttempts = n
	}
}

// WithInitialDelay sets the initial retry delay
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		c.InitialDelay = d
	}
}

// WithMaxDelay sets the maximum retry delay
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		c.MaxDelay = d
	}
}

// WithBackoffFactor sets the exponential backoff factor
func WithBackoffFactor(f float64) Option {
	return func(c *Config) {
		c.BackoffFactor = f
	}
}

// WithJitter enables or disables randomized delays
func WithJitter(enabled bool) Option {
	return func(c *Config) {
		c.Jitter = enabled
	}
}

// WithRetryable sets the predicate deciding which errors are retried
func WithRetryable(fn func(error) bool) Option {
	return func(c *Config) {
		c.Retryable = fn
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the context
// is cancelled, or the attempts run out. attempt starts at 0.
func Do(ctx context.Context, fn func(attempt int) error, opts ...Option) error {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if config.Retryable != nil && !config.Retryable(err) {
			return err
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		actualDelay := delay
		if config.Jitter && delay > 0 {
			actualDelay = time.Duration(rand.Int63n(int64(delay)))
		}

		select {
		case <-time.After(actualDelay):
		case <-ctx.Done():
			return dberr.Interrupted(ctx.Err())
		}

		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, config.MaxAttempts, lastErr)
}
