package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rpc-center/codec"
	"rpc-center/message"
	"rpc-center/protocol"
)

const defaultHeartbeat = 30 * time.Second

// StreamConnection multiplexes requests and notifications in both directions over
// one framed connection.
//
//	goroutine-1 ──SendRequest(seq=1)──┐
//	goroutine-2 ──SendRequest(seq=2)──┼──→ one conn ──→ peer
//	goroutine-3 ──SendNotification────┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] → goroutine-2 wakes up
//	           ←── request         → go handleRequest → response frame
//	           ←── notification    → notifyLoop (arrival order)
type StreamConnection struct {
	framer    framer
	codec     codec.CodecType
	heartbeat time.Duration
	logger    *zap.Logger

	seq     atomic.Uint32
	pending sync.Map   // map[uint32]chan *message.RPCMessage
	sending sync.Mutex // whole frames only: header of call A + body of call B = corruption

	mu                   sync.RWMutex
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	unhandled            StarRequestHandler

	listening atomic.Bool

	// notifications queue up here so recvLoop never waits on a handler
	notifyMu     sync.Mutex
	notifyQ      []*message.RPCMessage
	notifySignal chan struct{}

	ctx       context.Context // handed to handlers, cancelled on close
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a StreamConnection.
type Option func(*StreamConnection)

// WithCodec selects the envelope codec used for outbound frames.
// Inbound frames are decoded with whatever codec their header names.
func WithCodec(ct codec.CodecType) Option {
	return func(c *StreamConnection) { c.codec = ct }
}

// WithHeartbeat sets the heartbeat interval; zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(c *StreamConnection) { c.heartbeat = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *StreamConnection) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewStreamConnection wraps a byte-stream connection (TCP, unix socket, net.Pipe).
func NewStreamConnection(conn net.Conn, opts ...Option) *StreamConnection {
	return newConnection(newStreamFramer(conn), opts...)
}

// NewWebSocketConnection wraps an established WebSocket, one frame per binary message.
func NewWebSocketConnection(ws *websocket.Conn, opts ...Option) *StreamConnection {
	return newConnection(&wsFramer{ws: ws}, opts...)
}

// Pipe returns two connected in-memory connections.
func Pipe(opts ...Option) (*StreamConnection, *StreamConnection) {
	a, b := net.Pipe()
	return NewStreamConnection(a, opts...), NewStreamConnection(b, opts...)
}

func newConnection(f framer, opts ...Option) *StreamConnection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &StreamConnection{
		framer:               f,
		codec:                codec.CodecTypeJSON,
		heartbeat:            defaultHeartbeat,
		logger:               zap.NewNop(),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		notifySignal:         make(chan struct{}, 1),
		ctx:                  ctx,
		cancel:               cancel,
		done:                 make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("remote", f.RemoteAddr()))
	return c
}

// RemoteAddr returns the address of the peer, if the underlying connection has one.
func (c *StreamConnection) RemoteAddr() string {
	return c.framer.RemoteAddr()
}

func (c *StreamConnection) OnRequest(method string, h RequestHandler) {
	c.mu.Lock()
	c.requestHandlers[method] = h
	c.mu.Unlock()
}

func (c *StreamConnection) OnUnhandledRequest(h StarRequestHandler) {
	c.mu.Lock()
	c.unhandled = h
	c.mu.Unlock()
}

func (c *StreamConnection) OnNotification(method string, h NotificationHandler) {
	c.mu.Lock()
	c.notificationHandlers[method] = h
	c.mu.Unlock()
}

// Listen starts the receive, notification and heartbeat loops.
func (c *StreamConnection) Listen() error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	if !c.listening.CompareAndSwap(false, true) {
		return ErrAlreadyListening
	}
	go c.recvLoop()
	go c.notifyLoop()
	if c.heartbeat > 0 {
		go c.heartbeatLoop(c.heartbeat)
	}
	return nil
}

func (c *StreamConnection) Done() <-chan struct{} {
	return c.done
}

// Close closes the underlying connection and fails every pending request.
func (c *StreamConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		err = c.framer.Close()
		c.closeAllPending()
	})
	return err
}

// SendRequest sends a request and waits for its response, the connection to
// close, or ctx to end, whichever comes first. There is no built-in timeout.
func (c *StreamConnection) SendRequest(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	seq := c.seq.Add(1)

	// Register the response channel BEFORE sending (avoid race with recvLoop)
	respChan := make(chan *message.RPCMessage, 1)
	c.pending.Store(seq, respChan)

	if err := c.send(protocol.MsgTypeRequest, seq, method, params); err != nil {
		c.pending.Delete(seq)
		return nil, err
	}

	select {
	case resp := <-respChan:
		if resp == nil {
			return nil, ErrConnectionClosed
		}
		if resp.Error != "" {
			return nil, &TransportError{Method: method, Message: resp.Error}
		}
		return json.RawMessage(resp.Payload), nil
	case <-ctx.Done():
		c.pending.Delete(seq)
		return nil, ctx.Err()
	}
}

func (c *StreamConnection) SendNotification(ctx context.Context, method string, params []any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(protocol.MsgTypeNotification, 0, method, params)
}

func (c *StreamConnection) send(mt protocol.MsgType, seq uint32, method string, params []any) error {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params of %s: %w", method, err)
	}
	return c.writeMessage(mt, seq, &message.RPCMessage{Method: method, Payload: payload})
}

func (c *StreamConnection) writeMessage(mt protocol.MsgType, seq uint32, msg *message.RPCMessage) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	body, err := codec.GetCodec(c.codec).Encode(msg)
	if err != nil {
		return err
	}
	if len(body) > int(protocol.MaxBodySize) {
		return fmt.Errorf("%w: %s is %d bytes", ErrFrameTooLarge, msg.Method, len(body))
	}
	header := protocol.Header{
		CodecType: byte(c.codec),
		MsgType:   mt,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	c.sending.Lock()
	err = c.framer.WriteFrame(&header, body)
	c.sending.Unlock()
	if err != nil {
		select {
		case <-c.done:
			return ErrConnectionClosed
		default:
		}
		return err
	}
	return nil
}

// recvLoop is the only reader of the connection. Frame boundaries can only be
// parsed sequentially, so every inbound frame passes through here.
func (c *StreamConnection) recvLoop() {
	defer c.Close()
	for {
		header, body, err := c.framer.ReadFrame()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("connection read failed", zap.Error(err))
			}
			return
		}

		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		msg := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, msg); err != nil {
			c.logger.Warn("dropping undecodable frame", zap.Uint8("msg_type", uint8(header.MsgType)), zap.Error(err))
			switch header.MsgType {
			case protocol.MsgTypeRequest:
				go c.reply(header.Seq, &message.RPCMessage{Error: "undecodable request: " + err.Error()})
			case protocol.MsgTypeResponse:
				if ch, ok := c.pending.LoadAndDelete(header.Seq); ok {
					ch.(chan *message.RPCMessage) <- &message.RPCMessage{Error: "undecodable response: " + err.Error()}
				}
			}
			continue
		}

		switch header.MsgType {
		case protocol.MsgTypeResponse:
			if ch, ok := c.pending.LoadAndDelete(header.Seq); ok {
				ch.(chan *message.RPCMessage) <- msg
			}
		case protocol.MsgTypeRequest:
			// Parallel processing: a slow handler must not block the read loop
			go c.handleRequest(header.Seq, msg)
		case protocol.MsgTypeNotification:
			c.enqueueNotification(msg)
		}
	}
}

func (c *StreamConnection) handleRequest(seq uint32, req *message.RPCMessage) {
	resp := &message.RPCMessage{Method: req.Method}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("request handler panicked",
				zap.String("method", req.Method), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			resp.Payload = nil
			resp.Error = fmt.Sprintf("handler panic: %v", r)
		}
		c.reply(seq, resp)
	}()

	var params []json.RawMessage
	if err := json.Unmarshal(req.Payload, &params); err != nil {
		resp.Error = "invalid params: " + err.Error()
		return
	}

	c.mu.RLock()
	h := c.requestHandlers[req.Method]
	unhandled := c.unhandled
	c.mu.RUnlock()

	var (
		result any
		err    error
	)
	switch {
	case h != nil:
		result, err = h(c.ctx, params)
	case unhandled != nil:
		result, err = unhandled(c.ctx, req.Method, params)
	default:
		resp.Error = "no handler for " + req.Method
		return
	}
	if err != nil {
		resp.Error = err.Error()
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		resp.Error = "encode result: " + err.Error()
		return
	}
	resp.Payload = payload
}

func (c *StreamConnection) reply(seq uint32, resp *message.RPCMessage) {
	err := c.writeMessage(protocol.MsgTypeResponse, seq, resp)
	if errors.Is(err, ErrFrameTooLarge) {
		// the caller still gets an answer for its seq
		err = c.writeMessage(protocol.MsgTypeResponse, seq, &message.RPCMessage{Method: resp.Method, Error: err.Error()})
	}
	if err != nil {
		c.logger.Debug("failed to write response", zap.String("method", resp.Method), zap.Error(err))
	}
}

func (c *StreamConnection) enqueueNotification(msg *message.RPCMessage) {
	c.notifyMu.Lock()
	c.notifyQ = append(c.notifyQ, msg)
	c.notifyMu.Unlock()
	select {
	case c.notifySignal <- struct{}{}:
	default:
	}
}

// notifyLoop runs notification handlers one at a time, in arrival order.
func (c *StreamConnection) notifyLoop() {
	for {
		select {
		case <-c.notifySignal:
		case <-c.done:
			return
		}
		for {
			c.notifyMu.Lock()
			if len(c.notifyQ) == 0 {
				c.notifyMu.Unlock()
				break
			}
			msg := c.notifyQ[0]
			c.notifyQ[0] = nil
			c.notifyQ = c.notifyQ[1:]
			c.notifyMu.Unlock()

			select {
			case <-c.done:
				return
			default:
			}
			c.handleNotification(msg)
		}
	}
}

func (c *StreamConnection) handleNotification(msg *message.RPCMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notification handler panicked", zap.String("method", msg.Method), zap.Any("panic", r))
		}
	}()

	c.mu.RLock()
	h := c.notificationHandlers[msg.Method]
	c.mu.RUnlock()
	if h == nil {
		c.logger.Debug("no handler for notification", zap.String("method", msg.Method))
		return
	}

	var params []json.RawMessage
	if err := json.Unmarshal(msg.Payload, &params); err != nil {
		c.logger.Warn("invalid notification params", zap.String("method", msg.Method), zap.Error(err))
		return
	}
	h(c.ctx, params)
}

// closeAllPending wakes every waiting caller so they don't block forever.
func (c *StreamConnection) closeAllPending() {
	c.pending.Range(func(key, value any) bool {
		c.pending.Delete(key)
		select {
		case value.(chan *message.RPCMessage) <- nil:
		default:
		}
		return true
	})
}

// heartbeatLoop sends periodic bodiless frames so idle peers notice dead links.
func (c *StreamConnection) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			header := &protocol.Header{CodecType: byte(c.codec), MsgType: protocol.MsgTypeHeartbeat}
			c.sending.Lock()
			err := c.framer.WriteFrame(header, nil)
			c.sending.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
