package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of reconnection attempts
	Backoff     time.Duration // Backoff duration before the first attempt
	Multiplier  float64       // Backoff multiplier for exponential backoff
	MaxBackoff  time.Duration // Maximum backoff duration

	// Logger receives one line per failed attempt; zero value discards
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
type ReconnectFunc func() error

// Reconnect waits the backoff and calls fn, growing the backoff after each
// failure, until fn succeeds, attempts run out or ctx is done
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	backoff := config.Backoff
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		err := fn()
		if err == nil {
			config.Logger.Info().Int("attempt", attempt+1).Msg("Reconnection successful")
			return nil
		}
		lastErr = err

		config.Logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxAttempts).
			Msg("Reconnection attempt failed")

		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts: %w", config.MaxAttempts, lastErr)
}
