package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rpc-center/message"
)

// LoggingMiddleware logs every call with its duration; failures at warn level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			start := time.Now()
			result, err := next(ctx, call)
			fields := []zap.Field{
				zap.String("method", call.Method),
				zap.String("peer", call.Peer),
				zap.Bool("notification", call.Notification),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("call failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("call", fields...)
			}
			return result, err
		}
	}
}
