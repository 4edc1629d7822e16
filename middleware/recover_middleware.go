package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"rpc-center/message"
)

// RecoverMiddleware turns a panicking handler into a RemoteError that carries the
// goroutine stack, so the caller sees {error: true, data: {message, stack}}.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					result = nil
					err = &message.RemoteError{
						Message: fmt.Sprintf("panic in %s: %v", call.Method, r),
						Stack:   string(debug.Stack()),
					}
				}
			}()
			return next(ctx, call)
		}
	}
}
