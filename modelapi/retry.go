package modelapi

import (
	"context"
	"errors"
	"time"
)

type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       1 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Backoff is the delay before retry number attempt (0 based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := float64(c.BackoffBase)
	for i := 0; i < attempt; i++ {
		delay *= c.BackoffMultiplier
	}
	if c.MaxBackoff > 0 && time.Duration(delay) > c.MaxBackoff {
		return c.MaxBackoff
	}
	return time.Duration(delay)
}

// FatalError marks a provider failure that will not go away on retry, such
// as a rejected API key.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

func NewFatalError(err error) error {
	return &FatalError{err: err}
}

func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// Retry calls fn until it succeeds, returns a fatal error, the attempts run
// out or ctx is done. The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	attempts := max(cfg.MaxAttempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if IsFatal(err) || attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(cfg.Backoff(attempt)):
		}
	}
	return err
}
