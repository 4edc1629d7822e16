// Package message defines the values exchanged between two peers of a service center.
//
// RPCMessage is the "envelope" for every frame that carries a body. It gets serialized
// by the codec layer and wrapped in a protocol frame for transmission.
//
//   - Request / Notification: Method is the wire name, Payload is a JSON array of arguments.
//   - Response: Payload is a JSON-encoded WireResult, Error is set only when the remote
//     transport itself failed to process the request (e.g. an undecodable body).
//
// Argument and result values are always JSON, regardless of the envelope codec.
package message

import (
	"bytes"
	"encoding/json"
)

// RPCMessage carries the data for a single request, notification or response.
type RPCMessage struct {
	Method  string // Wire name, e.g. "greeter:sayHello" or "on:greeter:onJoin"
	Error   string // Transport-level failure reported by the remote connection
	Payload []byte // JSON args (request/notification) or JSON WireResult (response)
}

// NoSuchMethod is returned in place of a result by a peer that has no handler
// for the requested method. It is never valid application data.
const NoSuchMethod = "__rpc_center_no_such_method__"

var noSuchMethodJSON = []byte(`"` + NoSuchMethod + `"`)

// IsNoSuchMethod reports whether raw is the JSON encoding of NoSuchMethod.
func IsNoSuchMethod(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), noSuchMethodJSON)
}

// NoSuchMethodResult is the payload a peer sends back for unknown methods.
func NoSuchMethodResult() *WireResult {
	return &WireResult{Data: json.RawMessage(noSuchMethodJSON)}
}

// WireResult is the response body of every request: {"error": bool, "data": any}.
// On failure Data holds a RemoteError.
type WireResult struct {
	Error bool            `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// RemoteError is a failure raised by a handler on the other side of a connection.
type RemoteError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Success wraps a handler's return value.
func Success(v any) (*WireResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &WireResult{Data: data}, nil
}

// Failure wraps a handler's error. A RemoteError passes through unchanged so that
// errors relayed across several hops keep their original stack.
func Failure(err error, stack string) *WireResult {
	re, ok := err.(*RemoteError)
	if !ok {
		re = &RemoteError{Message: err.Error(), Stack: stack}
	}
	data, _ := json.Marshal(re)
	return &WireResult{Error: true, Data: data}
}

// Unwrap returns the result data, or the reconstructed RemoteError.
func (r *WireResult) Unwrap() (json.RawMessage, error) {
	if !r.Error {
		return r.Data, nil
	}
	re := &RemoteError{}
	if err := json.Unmarshal(r.Data, re); err != nil {
		re.Message = string(r.Data)
	}
	return nil, re
}

// Call describes one method invocation as seen by the middleware chain.
type Call struct {
	Method       string            // Wire name
	Params       []json.RawMessage // Positional arguments of inbound calls
	Args         []any             // Positional arguments of outbound calls
	Notification bool
	Peer         string // Peer ID of the connection the call travels over
}
