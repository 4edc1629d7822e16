package center

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"rpc-center/message"
	"rpc-center/middleware"
	"rpc-center/transport"
)

// ErrProxyListening is returned when a Proxy is asked to listen on a second connection.
var ErrProxyListening = errors.New("center: proxy already bound to a connection")

// Proxy binds a set of local handlers to one connection and exposes a
// RemoteStub for calling the peer on the other end.
type Proxy struct {
	peer     string
	logger   *zap.Logger
	inbound  middleware.Middleware
	outbound middleware.Middleware

	mu        sync.Mutex
	methods   Methods
	conn      transport.Connection
	connected chan struct{}

	remote *RemoteStub
}

type ProxyOption func(*Proxy)

// WithProxyPeer sets the peer ID reported to middleware.
func WithProxyPeer(id string) ProxyOption {
	return func(p *Proxy) { p.peer = id }
}

func WithProxyLogger(l *zap.Logger) ProxyOption {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProxyMiddleware wraps every local handler the proxy runs for its peer.
func WithProxyMiddleware(mw ...middleware.Middleware) ProxyOption {
	return func(p *Proxy) { p.inbound = middleware.Chain(mw...) }
}

// WithProxyOutbound wraps every call the proxy sends to its peer.
func WithProxyOutbound(mw ...middleware.Middleware) ProxyOption {
	return func(p *Proxy) { p.outbound = middleware.Chain(mw...) }
}

// NewProxy creates a proxy serving a copy of methods.
func NewProxy(methods Methods, opts ...ProxyOption) *Proxy {
	p := &Proxy{
		logger:    zap.NewNop(),
		inbound:   middleware.Chain(),
		outbound:  middleware.Chain(),
		methods:   methods.clone(),
		connected: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.remote = &RemoteStub{proxy: p, send: p.outbound(p.send)}
	return p
}

// Listen binds every method to conn, answers unknown requests with the
// no-such-method sentinel and starts the connection. Calls made through
// Remote before Listen wait until it has run.
func (p *Proxy) Listen(conn transport.Connection) error {
	p.mu.Lock()
	if p.conn != nil {
		p.mu.Unlock()
		return ErrProxyListening
	}
	p.conn = conn
	for name, h := range p.methods {
		p.bind(name, h)
	}
	conn.OnUnhandledRequest(func(_ context.Context, method string, _ []json.RawMessage) (any, error) {
		service, name, _, ok := ParseWireName(method)
		p.logger.Debug("no such method",
			zap.String("peer", p.peer), zap.String("service", service), zap.String("method", name), zap.Bool("well_formed", ok))
		return message.NoSuchMethodResult(), nil
	})
	p.mu.Unlock()

	close(p.connected)
	return conn.Listen()
}

// ListenService adds methods to the proxy. Once the proxy is listening they
// are bound to the live connection immediately.
func (p *Proxy) ListenService(methods Methods) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, h := range methods {
		p.methods[name] = h
		if p.conn != nil {
			p.bind(name, h)
		}
	}
}

// Remote returns the handle for calling the peer.
func (p *Proxy) Remote() *RemoteStub {
	return p.remote
}

// Peer returns the peer ID the proxy was created with.
func (p *Proxy) Peer() string {
	return p.peer
}

// bind registers one handler with the connection. Callers hold p.mu.
func (p *Proxy) bind(name string, h Handler) {
	invoke := p.inbound(middleware.RecoverMiddleware()(func(ctx context.Context, call *message.Call) (any, error) {
		return h(ctx, call.Params)
	}))

	if IsNotification(name) {
		p.conn.OnNotification(name, func(ctx context.Context, params []json.RawMessage) {
			call := &message.Call{Method: name, Params: params, Notification: true, Peer: p.peer}
			if _, err := invoke(ctx, call); err != nil {
				p.logger.Warn("notification handler failed",
					zap.String("method", name), zap.String("peer", p.peer), zap.Error(err))
			}
		})
		return
	}

	p.conn.OnRequest(name, func(ctx context.Context, params []json.RawMessage) (any, error) {
		call := &message.Call{Method: name, Params: params, Peer: p.peer}
		result, err := invoke(ctx, call)
		if err != nil {
			return message.Failure(err, ""), nil
		}
		wr, err := message.Success(result)
		if err != nil {
			return message.Failure(fmt.Errorf("encode result of %s: %w", name, err), ""), nil
		}
		return wr, nil
	})
}

// send is the innermost outbound handler. It returns a json.RawMessage.
func (p *Proxy) send(ctx context.Context, call *message.Call) (any, error) {
	if call.Notification {
		return json.RawMessage(nil), p.conn.SendNotification(ctx, call.Method, call.Args)
	}
	raw, err := p.conn.SendRequest(ctx, call.Method, call.Args)
	if err != nil {
		return nil, err
	}
	var wr message.WireResult
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, fmt.Errorf("center: malformed result for %s: %w", call.Method, err)
	}
	data, err := wr.Unwrap()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// RemoteStub calls methods on the peer behind one Proxy.
type RemoteStub struct {
	proxy *Proxy
	send  middleware.HandlerFunc
}

// Call invokes a wire-named method on the peer. Notifications ("on:" names)
// return as soon as they are written, with a nil result. A single []any
// argument is spread into positional arguments. A failed remote handler
// surfaces as *message.RemoteError.
func (r *RemoteStub) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if len(args) == 1 {
		if spread, ok := args[0].([]any); ok {
			args = spread
		}
	}

	select {
	case <-r.proxy.connected:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	call := &message.Call{
		Method:       method,
		Args:         args,
		Notification: IsNotification(method),
		Peer:         r.proxy.peer,
	}
	res, err := r.send(ctx, call)
	if err != nil {
		return nil, err
	}
	raw, _ := res.(json.RawMessage)
	return raw, nil
}
