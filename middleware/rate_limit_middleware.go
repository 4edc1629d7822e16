package middleware

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"rpc-center/message"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware rejects calls beyond a token bucket shared by all methods.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, call)
		}
	}
}

// MethodRateLimitMiddleware keeps one token bucket per wire name, so a noisy
// method cannot starve the others.
func MethodRateLimitMiddleware(r float64, burst int) Middleware {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	get := func(method string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[method]
		if !ok {
			l = rate.NewLimiter(rate.Limit(r), burst)
			limiters[method] = l
		}
		return l
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			if !get(call.Method).Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, call)
		}
	}
}
