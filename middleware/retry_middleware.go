package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rpc-center/message"
)

// RetryMiddleware retries outbound requests that timed out, with exponential
// backoff starting at baseDelay. Other errors, including errors raised by the
// remote handler, are returned immediately. Notifications are never retried.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			if call.Notification {
				return next(ctx, call)
			}

			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = baseDelay
			eb.MaxElapsedTime = 0
			policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxRetries)), ctx)

			var result any
			op := func() error {
				var err error
				result, err = next(ctx, call)
				if err != nil && !retryable(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			if err := backoff.Retry(op, policy); err != nil {
				return nil, err
			}
			return result, nil
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
