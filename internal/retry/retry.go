// Package retry runs calls to external services with a per-attempt timeout and
// bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"go.uber.org/zap"
)

// Config configures retry behavior for external service calls.
type Config struct {
	// Attempts is the total number of tries, including the first.
	// Default: 3
	Attempts int

	// InitialBackoff is the wait before the second attempt.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// Multiplier grows the backoff after each failed attempt.
	// Default: 2
	Multiplier float64

	// Timeout bounds a single attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		Attempts:       3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Timeout:        time.Minute,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
}

// StatusError is a non-2xx response from an external service.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.Code, e.Body)
}

// Unwrap places every status error under hydro.ErrExternalService.
func (e *StatusError) Unwrap() error {
	return hydro.ErrExternalService
}

// IsRetryable reports whether err is a transient failure worth another
// attempt: rate limiting, server errors, timeouts and transport faults.
// Domain misses and client errors are final.
func IsRetryable(err error) bool {
	if err == nil || hydro.IsDomainMiss(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// Do calls op until it succeeds, returns a non-retryable error, or the
// attempts are used up. Each attempt gets its own timeout derived from ctx.
func Do(ctx context.Context, cfg Config, logger *zap.Logger, op func(ctx context.Context) error) error {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		lastErr = attemptOnce(ctx, cfg.Timeout, op)
		if lastErr == nil {
			if attempt > 1 {
				logger.Debug("call recovered after retries", zap.Int("attempts", attempt))
			}
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.Attempts {
			break
		}

		logger.Info("retrying after transient error",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.Attempts),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	if errors.Is(lastErr, hydro.ErrExternalService) {
		return fmt.Errorf("max attempts exceeded: %w", lastErr)
	}
	return fmt.Errorf("max attempts exceeded: %w: %w", hydro.ErrExternalService, lastErr)
}

func attemptOnce(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(actx)
}
