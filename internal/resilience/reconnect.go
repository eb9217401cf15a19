package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrReconnectExhausted is returned when every reconnection attempt failed.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of reconnection attempts
	Backoff     time.Duration // Backoff before the second attempt
	Multiplier  float64       // Backoff multiplier for exponential backoff
	MaxBackoff  time.Duration // Cap on a single backoff

	// Permanent reports errors that must stop the loop immediately.
	// Nil means every error is retried.
	Permanent func(error) bool

	Logger zerolog.Logger
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
		Logger:      zerolog.Nop(),
	}
}

// ReconnectFunc is a function that attempts to reconnect
type ReconnectFunc func(ctx context.Context) error

// Reconnect calls fn until it succeeds, the attempts run out, ctx is cancelled
// or fn returns an error that config.Permanent accepts. The returned error
// wraps the last failure.
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				config.Logger.Info().Int("attempts", attempt+1).Msg("Reconnection successful")
			}
			return nil
		}
		lastErr = err

		if config.Permanent != nil && config.Permanent(err) {
			return fmt.Errorf("reconnect stopped after %d attempts: %w", attempt+1, err)
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		backoff := CalculateBackoff(attempt, config.Backoff, config.MaxBackoff, config.Multiplier)
		config.Logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxAttempts).
			Dur("backoff", backoff).
			Msg("Reconnection attempt failed")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr == nil {
		return ErrReconnectExhausted
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, config.MaxAttempts, lastErr)
}
