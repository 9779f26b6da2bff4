// This file contains helper functions for retrying operations with exponential backoff.
// The idea is to avoid repetition with common retry boilerplate code.
package boff

import (
	"context"
	"time"

	"opsign-relay/config"
	"opsign-relay/logger"

	"github.com/cenkalti/backoff/v5"
)

func RetryWithMaxElapsed[T any](ctx context.Context, operation func() (T, error), name string) (T, error) {
	return retry(ctx, operation, name, config.BackoffMaxElapsedTime, 0)
}

// RetryN retries with a bounded number of attempts instead of a time limit.
func RetryN[T any](ctx context.Context, operation func() (T, error), name string, maxTries uint) (T, error) {
	return retry(ctx, operation, name, 0, maxTries)
}

func retry[T any](ctx context.Context, operation func() (T, error), name string, maxElapsedTime time.Duration, maxTries uint) (T, error) {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsedTime),
		backoff.WithNotify(
			func(err error, d time.Duration) {
				logger.Debug("%s error: %s - retrying after %v", name, err, d)
			},
		),
	}
	if maxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(maxTries))
	}

	return backoff.Retry(ctx, operation, opts...)
}
