// Package transport implements the duplex message connection a service center runs on.
//
// A Connection carries two kinds of calls in both directions:
//
//   - requests, answered by exactly one response correlated by sequence number;
//   - notifications, fire-and-forget.
//
// Handlers are bound with OnRequest / OnNotification before Listen, which starts
// reading inbound frames. StreamConnection is the implementation for byte streams
// (TCP, net.Pipe) and WebSocket connections.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned by calls on a closed connection and to
	// every request still waiting when the connection goes away.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrAlreadyListening is returned by a second call to Listen.
	ErrAlreadyListening = errors.New("transport: connection already listening")

	// ErrFrameTooLarge is returned when an encoded message exceeds
	// protocol.MaxBodySize. Nothing is written and the connection stays up.
	ErrFrameTooLarge = errors.New("transport: frame too large")
)

// RequestHandler answers a request. The returned value is JSON-encoded into the
// response; a returned error travels back as a TransportError.
type RequestHandler func(ctx context.Context, params []json.RawMessage) (any, error)

// StarRequestHandler answers requests whose method has no specific handler.
type StarRequestHandler func(ctx context.Context, method string, params []json.RawMessage) (any, error)

// NotificationHandler consumes a notification. There is nobody to report errors to.
type NotificationHandler func(ctx context.Context, params []json.RawMessage)

// Connection is a duplex message channel between two peers.
type Connection interface {
	// SendRequest sends method(params...) and waits for the raw JSON response.
	SendRequest(ctx context.Context, method string, params []any) (json.RawMessage, error)
	// SendNotification sends method(params...) without waiting for anything.
	SendNotification(ctx context.Context, method string, params []any) error

	OnRequest(method string, h RequestHandler)
	OnUnhandledRequest(h StarRequestHandler)
	OnNotification(method string, h NotificationHandler)

	// Listen starts dispatching inbound traffic. It must be called exactly once,
	// after the initial handlers are bound.
	Listen() error
	Close() error
	// Done is closed once the connection is closed by either side.
	Done() <-chan struct{}
}

// TransportError is a failure reported by the remote connection itself rather
// than by a handler, e.g. an undecodable request or a missing handler.
type TransportError struct {
	Method  string
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %s", e.Method, e.Message)
}
