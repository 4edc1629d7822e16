// Package center connects the local services of a process to any number of
// peers over transport.Connections.
//
// Every peer gets its own Proxy. Handlers registered on the Center are served
// to every peer; calls made through the Center are broadcast to every peer and
// the answers merged, with peers that do not implement the method filtered out:
//
//	Stub("greeter").Call("sayHello")
//	        │
//	        ▼
//	Center.Broadcast("greeter:sayHello") ──┬──→ Proxy(peer-1) ──→ "hello"
//	                                       ├──→ Proxy(peer-2) ──→ no such method
//	                                       └──→ Proxy(peer-3) ──→ "hi"
//	        ◄───────────── ["hello", "hi"] ────┘
package center

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rpc-center/loadbalance"
	"rpc-center/message"
	"rpc-center/metrics"
	"rpc-center/middleware"
	"rpc-center/registry"
	"rpc-center/transport"
)

var (
	// ErrNoSuchMethod is returned by Invoke when the chosen peer does not
	// implement the method.
	ErrNoSuchMethod = errors.New("center: no such method")

	// ErrDuplicateConnection is returned when a connection is attached twice.
	ErrDuplicateConnection = errors.New("center: connection already attached")
)

type Center struct {
	id       string
	addr     string
	weight   int
	version  string
	ttl      int64
	logger   *zap.Logger
	registry registry.Registry
	balancer loadbalance.Balancer
	metrics  *metrics.Metrics
	inbound  []middleware.Middleware
	outbound []middleware.Middleware

	// connections, proxies, remotes and peers are parallel: index i of each
	// describes the same peer.
	mu          sync.Mutex
	connections []transport.Connection
	proxies     []*Proxy
	remotes     []*RemoteStub
	peers       []loadbalance.Peer
	pending     Methods
	services    map[string]bool
	peerSeq     uint64

	ready     chan struct{}
	readyOnce sync.Once
}

func NewCenter(opts ...Option) *Center {
	c := &Center{
		id:       uuid.NewString(),
		weight:   1,
		ttl:      defaultRegistryTTL,
		logger:   zap.NewNop(),
		balancer: &loadbalance.RoundRobinBalancer{},
		pending:  make(Methods),
		services: make(map[string]bool),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Center) ID() string {
	return c.id
}

// RegisterService records that this process participates in service name.
// A creator additionally announces the service in the registry, if any.
func (c *Center) RegisterService(ctx context.Context, name string, isCreator bool) error {
	c.mu.Lock()
	c.services[name] = c.services[name] || isCreator
	c.mu.Unlock()

	if !isCreator || c.registry == nil {
		return nil
	}
	inst := registry.ServiceInstance{ID: c.id, Addr: c.addr, Weight: c.weight, Version: c.version}
	if err := c.registry.Register(ctx, name, inst, c.ttl); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}
	c.logger.Info("service registered", zap.String("service", name), zap.String("center", c.id))
	return nil
}

// Services returns the registered service names and whether this process
// created each of them.
func (c *Center) Services() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.services))
	for k, v := range c.services {
		out[k] = v
	}
	return out
}

// DeregisterServices removes every creator service from the registry.
func (c *Center) DeregisterServices(ctx context.Context) error {
	if c.registry == nil {
		return nil
	}
	var err error
	for name, creator := range c.Services() {
		if creator {
			err = multierr.Append(err, c.registry.Deregister(ctx, name, c.id))
		}
	}
	return err
}

// When is closed once the first connection has been attached. It never
// reopens, even if every connection is later removed.
func (c *Center) When() <-chan struct{} {
	return c.ready
}

// Wait blocks until When is closed or ctx ends.
func (c *Center) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetConnection attaches a peer. A new Proxy serves every handler registered
// so far and starts listening on conn. If listening fails the center is left
// unchanged.
func (c *Center) SetConnection(conn transport.Connection, opts ...PeerOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slices.Contains(c.connections, conn) {
		return ErrDuplicateConnection
	}

	c.peerSeq++
	peer := loadbalance.Peer{ID: fmt.Sprintf("peer-%d", c.peerSeq), Weight: 1}
	for _, opt := range opts {
		opt(&peer)
	}

	proxy := NewProxy(c.pending,
		WithProxyPeer(peer.ID),
		WithProxyLogger(c.logger),
		WithProxyMiddleware(append([]middleware.Middleware{middleware.MetricsMiddleware(c.metrics, metrics.Inbound)}, c.inbound...)...),
		WithProxyOutbound(append([]middleware.Middleware{middleware.MetricsMiddleware(c.metrics, metrics.Outbound)}, c.outbound...)...),
	)
	if err := proxy.Listen(conn); err != nil {
		return fmt.Errorf("attach %s: %w", peer.ID, err)
	}

	c.connections = append(c.connections, conn)
	c.proxies = append(c.proxies, proxy)
	c.remotes = append(c.remotes, proxy.Remote())
	c.peers = append(c.peers, peer)
	c.readyOnce.Do(func() { close(c.ready) })
	c.observeConnections()

	c.logger.Info("peer attached", zap.String("peer", peer.ID), zap.Int("peers", len(c.connections)))
	return nil
}

// RemoveConnection detaches conn without closing it. It reports whether conn
// was attached.
func (c *Center) RemoveConnection(conn transport.Connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := slices.Index(c.connections, conn)
	if i < 0 {
		return false
	}
	peer := c.peers[i]
	c.connections = slices.Delete(c.connections, i, i+1)
	c.proxies = slices.Delete(c.proxies, i, i+1)
	c.remotes = slices.Delete(c.remotes, i, i+1)
	c.peers = slices.Delete(c.peers, i, i+1)
	c.observeConnections()

	c.logger.Info("peer detached", zap.String("peer", peer.ID), zap.Int("peers", len(c.connections)))
	return true
}

func (c *Center) observeConnections() {
	if c.metrics != nil {
		c.metrics.Connections.Set(float64(len(c.connections)))
	}
}

// Peers returns the attached peers in attachment order.
func (c *Center) Peers() []loadbalance.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.peers)
}

func (c *Center) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connections)
}

// OnRequest registers a handler under a wire name. Before the first connection
// it is held back for every future peer; afterwards it is pushed to the peers
// attached right now only.
func (c *Center) OnRequest(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.connections) == 0 {
		c.pending[name] = h
		return
	}
	for _, p := range c.proxies {
		p.ListenService(Methods{name: h})
	}
}

// Broadcast calls name on every attached peer, waiting for the first
// connection if there is none yet. Peers without the method are dropped from
// the result. A single remaining answer is returned as json.RawMessage,
// otherwise a []json.RawMessage (possibly empty). Notifications return nil.
// The first failing peer fails the whole broadcast.
func (c *Center) Broadcast(ctx context.Context, name string, args ...any) (any, error) {
	if err := c.Wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	remotes := slices.Clone(c.remotes)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.BroadcastFan.Observe(float64(len(remotes)))
	}

	results := make([]json.RawMessage, len(remotes))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range remotes {
		g.Go(func() error {
			res, err := r.Call(gctx, name, args...)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if IsNotification(name) {
		return nil, nil
	}

	merged := make([]json.RawMessage, 0, len(results))
	for _, res := range results {
		if message.IsNoSuchMethod(res) {
			continue
		}
		merged = append(merged, res)
	}
	if len(merged) == 1 {
		return merged[0], nil
	}
	return merged, nil
}

// Invoke calls name on a single peer chosen by the balancer. key is passed to
// the balancer for affinity.
func (c *Center) Invoke(ctx context.Context, key, name string, args ...any) (json.RawMessage, error) {
	if err := c.Wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	peers := slices.Clone(c.peers)
	remotes := slices.Clone(c.remotes)
	c.mu.Unlock()

	i, err := c.balancer.Pick(peers, key)
	if err != nil {
		return nil, err
	}
	res, err := remotes[i].Call(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	if message.IsNoSuchMethod(res) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoSuchMethod, name, peers[i].ID)
	}
	return res, nil
}

// Close closes and detaches every connection.
func (c *Center) Close() error {
	c.mu.Lock()
	conns := c.connections
	c.connections, c.proxies, c.remotes, c.peers = nil, nil, nil, nil
	c.observeConnections()
	c.mu.Unlock()

	var err error
	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}
	return err
}
