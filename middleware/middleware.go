// Package middleware wraps method invocations in cross-cutting behaviour.
//
// The same chain type serves both directions: inbound chains wrap the local
// handler a Proxy runs for a peer, outbound chains wrap the request a Proxy sends.
package middleware

import (
	"context"

	"rpc-center/message"
)

// HandlerFunc invokes one call. Inbound it returns the handler's result;
// outbound it returns the json.RawMessage answered by the peer.
type HandlerFunc func(ctx context.Context, call *message.Call) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is the outermost:
//
//	Chain(A, B, C)(h) → A(B(C(h)))
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
