// Package retry provides exponential-backoff retry for operations that
// fail with a transient error, such as a BackingStore fetch timing out
// (spec §6 BackingStore: the core tolerates a backend that is sometimes
// slow or briefly unreachable).
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/edenfs-go/eden/internal/logging"
	edenerrors "github.com/edenfs-go/eden/pkg/errors"
)

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// RetryableFuncWithResult is a function that returns a result and can be retried.
type RetryableFuncWithResult[T any] func() (T, error)

// Config holds configuration for retry operations.
type Config struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	Jitter          float64
	RetryableErrors []RetryableError
}

// RetryableError reports whether err should be retried.
type RetryableError func(error) bool

// IsBackingFetchError retries errors the backing store's own wrapping
// reports as Kind Backing — a transient fetch failure, not a missing
// object (KindNotFound is never retried: retrying won't make an object
// exist).
func IsBackingFetchError(err error) bool {
	return edenerrors.KindOf(err) == edenerrors.KindBacking
}

// IsTimeoutError retries errors reported as Kind Timeout.
func IsTimeoutError(err error) bool {
	return edenerrors.KindOf(err) == edenerrors.KindTimeout
}

// DefaultConfig is the retry policy used for BackingStore fetches (spec
// §6): a handful of attempts with jittered exponential backoff so a flaky
// backend doesn't stall a checkout outright.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryableErrors: []RetryableError{
			IsBackingFetchError,
			IsTimeoutError,
		},
	}
}

// Do retries the given function with exponential backoff.
func Do(ctx context.Context, op RetryableFunc, config Config) error {
	log := logging.NewLogContext("retry").Logger()
	var err error
	delay := config.InitialDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		shouldRetry := false
		for _, retryableError := range config.RetryableErrors {
			if retryableError(err) {
				shouldRetry = true
				break
			}
		}
		if !shouldRetry || attempt == config.MaxRetries {
			return err
		}

		jitterRange := float64(delay) * config.Jitter
		actualDelay := delay + time.Duration(rand.Float64()*jitterRange)
		log.Warn().Err(err).Int("attempt", attempt+1).Int("maxRetries", config.MaxRetries).
			Dur("delay", actualDelay).Msg("operation failed, retrying after delay")

		select {
		case <-time.After(actualDelay):
		case <-ctx.Done():
			return edenerrors.NewCancelled("retry canceled by context")
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return err
}

// DoWithResult retries the given function with exponential backoff and
// returns its result.
func DoWithResult[T any](ctx context.Context, op RetryableFuncWithResult[T], config Config) (T, error) {
	log := logging.NewLogContext("retry").Logger()
	var result T
	var err error
	delay := config.InitialDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result, err = op()
		if err == nil {
			return result, nil
		}

		shouldRetry := false
		for _, retryableError := range config.RetryableErrors {
			if retryableError(err) {
				shouldRetry = true
				break
			}
		}
		if !shouldRetry || attempt == config.MaxRetries {
			return result, err
		}

		jitterRange := float64(delay) * config.Jitter
		actualDelay := delay + time.Duration(rand.Float64()*jitterRange)
		log.Warn().Err(err).Int("attempt", attempt+1).Int("maxRetries", config.MaxRetries).
			Dur("delay", actualDelay).Msg("operation failed, retrying after delay")

		select {
		case <-time.After(actualDelay):
		case <-ctx.Done():
			var zero T
			return zero, edenerrors.NewCancelled("retry canceled by context")
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return result, err
}
