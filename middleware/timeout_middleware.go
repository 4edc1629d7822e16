package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rpc-center/message"
)

// ErrTimeout is returned when a call outlives its deadline.
var ErrTimeout = fmt.Errorf("request timed out: %w", context.DeadlineExceeded)

// TimeOutMiddleware bounds a call to timeout. The handler keeps running in the
// background if it ignores its context; its late result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, call)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				if errors.Is(o.err, context.DeadlineExceeded) {
					return nil, ErrTimeout
				}
				return o.result, o.err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, ErrTimeout
				}
				return nil, ctx.Err()
			}
		}
	}
}
