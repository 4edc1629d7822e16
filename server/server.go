// Package server accepts peer connections for a Center, over TCP and over
// WebSocket, and shuts them down gracefully.
//
// Connection lifecycle:
//
//	Accept / Upgrade → StreamConnection → Center.SetConnection
//	  ... peer traffic handled by the connection's own goroutines ...
//	conn.Done() → Center.RemoveConnection
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"rpc-center/center"
	"rpc-center/transport"
)

// Server attaches every accepted connection to one Center.
type Server struct {
	center   *center.Center
	logger   *zap.Logger
	connOpts []transport.Option
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup // one per attached connection, released on detach
	shutdown atomic.Bool    // set before the listener closes so Accept errors are expected
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConnectionOptions configures every connection the server creates.
func WithConnectionOptions(opts ...transport.Option) Option {
	return func(s *Server) { s.connOpts = append(s.connOpts, opts...) }
}

// WithCheckOrigin overrides the WebSocket origin check. The default accepts
// same-origin requests only.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

func NewServer(c *center.Center, opts ...Option) *Server {
	s := &Server{center: c, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.connOpts = append([]transport.Option{transport.WithLogger(s.logger)}, s.connOpts...)
	return s
}

// Serve listens on address and accepts connections until Shutdown.
func (s *Server) Serve(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(ln)
}

// ServeListener accepts connections from ln until Shutdown, which makes it
// return nil.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	if s.shutdown.Load() {
		ln.Close()
		return nil
	}

	s.logger.Info("serving", zap.String("addr", ln.Addr().String()), zap.String("center", s.center.ID()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.attach(transport.NewStreamConnection(conn, s.connOpts...))
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ServeHTTP upgrades the request to a WebSocket and attaches it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.shutdown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.attach(transport.NewWebSocketConnection(ws, s.connOpts...))
}

func (s *Server) attach(conn *transport.StreamConnection) {
	if err := s.center.SetConnection(conn, center.WithPeerID(conn.RemoteAddr())); err != nil {
		s.logger.Warn("attach failed", zap.String("remote", conn.RemoteAddr()), zap.Error(err))
		conn.Close()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-conn.Done()
		s.center.RemoveConnection(conn)
	}()
}

// Shutdown stops accepting, deregisters the center's creator services so
// discovery stops routing peers here, and closes every connection of the center, dialed ones included. It waits up
// to timeout for the connections to be detached.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	if derr := s.center.DeregisterServices(ctx); derr != nil {
		err = multierr.Append(err, fmt.Errorf("deregister: %w", derr))
	}

	s.shutdown.Store(true)
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	if cerr := s.center.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close connections: %w", cerr))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("timeout waiting for connections to close"))
	}
	return err
}
