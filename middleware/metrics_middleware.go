package middleware

import (
	"context"
	"time"

	"rpc-center/message"
	"rpc-center/metrics"
)

// MetricsMiddleware records call counts and durations for one direction
// (metrics.Inbound or metrics.Outbound).
func MetricsMiddleware(m *metrics.Metrics, direction string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if m == nil {
			return next
		}
		return func(ctx context.Context, call *message.Call) (any, error) {
			start := time.Now()
			result, err := next(ctx, call)
			m.ObserveCall(direction, call.Notification, err, time.Since(start))
			return result, err
		}
	}
}
