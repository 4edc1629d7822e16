// Package client dials the centers that provide a service, as announced in a
// registry, and keeps one connection per remote center attached to the local
// Center for as long as the remote stays registered.
package client

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"rpc-center/center"
	"rpc-center/registry"
	"rpc-center/transport"
)

const (
	defaultDialTimeout   = 5 * time.Second
	defaultRetryInterval = 100 * time.Millisecond
	defaultMaxRetries    = 5
)

// Dialer opens a connection to one registered instance.
type Dialer func(ctx context.Context, inst registry.ServiceInstance) (transport.Connection, error)

// Connector mirrors the registry's view of a set of services into the
// connections of a Center.
type Connector struct {
	center        *center.Center
	registry      registry.Registry
	logger        *zap.Logger
	dial          Dialer
	connOpts      []transport.Option
	dialTimeout   time.Duration
	retryInterval time.Duration
	maxRetries    uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	members map[string]map[string]registry.ServiceInstance // service → center ID → instance
	conns   map[string]transport.Connection                // center ID → live connection
	dialing map[string]bool
}

type Option func(*Connector)

func WithLogger(l *zap.Logger) Option {
	return func(k *Connector) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithDialer replaces the default dialer, which uses TCP for host:port
// addresses and WebSocket for ws:// and wss:// URLs.
func WithDialer(d Dialer) Option {
	return func(k *Connector) { k.dial = d }
}

// WithConnectionOptions configures every connection the default dialer opens.
func WithConnectionOptions(opts ...transport.Option) Option {
	return func(k *Connector) { k.connOpts = append(k.connOpts, opts...) }
}

func WithDialTimeout(d time.Duration) Option {
	return func(k *Connector) { k.dialTimeout = d }
}

// WithRetry sets the dial retry policy: up to maxRetries retries with
// exponential backoff starting at interval.
func WithRetry(maxRetries int, interval time.Duration) Option {
	return func(k *Connector) {
		k.maxRetries = uint64(maxRetries)
		k.retryInterval = interval
	}
}

func NewConnector(c *center.Center, reg registry.Registry, opts ...Option) *Connector {
	k := &Connector{
		center:        c,
		registry:      reg,
		logger:        zap.NewNop(),
		dialTimeout:   defaultDialTimeout,
		retryInterval: defaultRetryInterval,
		maxRetries:    defaultMaxRetries,
		members:       make(map[string]map[string]registry.ServiceInstance),
		conns:         make(map[string]transport.Connection),
		dialing:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.dial == nil {
		k.dial = k.defaultDial
	}
	k.ctx, k.cancel = context.WithCancel(context.Background())
	return k
}

// Connect discovers the current providers of each service, dials them, and
// keeps following registry changes until Close. It returns once the initial
// instances have been attached or have failed to dial.
func (k *Connector) Connect(ctx context.Context, services ...string) error {
	var err error
	for _, svc := range services {
		// watch first so no change between the two is missed
		updates := k.registry.Watch(k.ctx, svc)
		insts, derr := k.registry.Discover(ctx, svc)
		if derr != nil {
			err = multierr.Append(err, fmt.Errorf("discover %s: %w", svc, derr))
		} else {
			k.dialAll(k.update(svc, insts), true)
		}

		k.wg.Add(1)
		go func() {
			defer k.wg.Done()
			for insts := range updates {
				k.dialAll(k.update(svc, insts), false)
			}
		}()
	}
	return err
}

// Connected returns the IDs of the centers currently connected, sorted.
func (k *Connector) Connected() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	ids := make([]string, 0, len(k.conns))
	for id := range k.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// update records the instance list of one service and drops centers that no
// longer provide any followed service. It returns the centers to dial.
func (k *Connector) update(service string, insts []registry.ServiceInstance) []registry.ServiceInstance {
	k.mu.Lock()
	set := make(map[string]registry.ServiceInstance, len(insts))
	for _, inst := range insts {
		if inst.ID == k.center.ID() || inst.Addr == "" {
			continue
		}
		set[inst.ID] = inst
	}
	k.members[service] = set

	var dial []registry.ServiceInstance
	for id, inst := range set {
		if k.conns[id] == nil && !k.dialing[id] {
			k.dialing[id] = true
			dial = append(dial, inst)
		}
	}
	var stale []transport.Connection
	for id, conn := range k.conns {
		if _, ok := k.wantedLocked(id); !ok {
			delete(k.conns, id)
			stale = append(stale, conn)
		}
	}
	k.mu.Unlock()

	for _, conn := range stale {
		k.center.RemoveConnection(conn)
		conn.Close()
	}
	return dial
}

func (k *Connector) dialAll(insts []registry.ServiceInstance, wait bool) {
	var wg sync.WaitGroup
	for _, inst := range insts {
		wg.Add(1)
		k.wg.Add(1)
		go func() {
			defer k.wg.Done()
			defer wg.Done()
			k.connect(inst)
		}()
	}
	if wait {
		wg.Wait()
	}
}

func (k *Connector) wantedLocked(id string) (registry.ServiceInstance, bool) {
	for _, set := range k.members {
		if inst, ok := set[id]; ok {
			return inst, true
		}
	}
	return registry.ServiceInstance{}, false
}

func (k *Connector) connect(inst registry.ServiceInstance) {
	conn, err := k.dialWithRetry(inst)

	k.mu.Lock()
	delete(k.dialing, inst.ID)
	_, wanted := k.wantedLocked(inst.ID)
	if err != nil || !wanted || k.ctx.Err() != nil {
		k.mu.Unlock()
		if err != nil {
			k.logger.Warn("dial failed", zap.String("peer", inst.ID), zap.String("addr", inst.Addr), zap.Error(err))
		} else {
			conn.Close()
		}
		return
	}
	k.conns[inst.ID] = conn
	k.mu.Unlock()

	if err := k.center.SetConnection(conn, center.WithPeerID(inst.ID), center.WithPeerWeight(inst.Weight)); err != nil {
		k.logger.Warn("attach failed", zap.String("peer", inst.ID), zap.Error(err))
		k.mu.Lock()
		delete(k.conns, inst.ID)
		k.mu.Unlock()
		conn.Close()
		return
	}
	k.logger.Info("connected", zap.String("peer", inst.ID), zap.String("addr", inst.Addr))

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.supervise(inst.ID, conn)
	}()
}

// supervise detaches conn once it closes and redials if its center is still
// registered.
func (k *Connector) supervise(id string, conn transport.Connection) {
	select {
	case <-conn.Done():
	case <-k.ctx.Done():
		return
	}
	k.center.RemoveConnection(conn)

	k.mu.Lock()
	if k.conns[id] != conn {
		k.mu.Unlock()
		return
	}
	delete(k.conns, id)
	inst, wanted := k.wantedLocked(id)
	redial := wanted && k.ctx.Err() == nil && !k.dialing[id]
	if redial {
		k.dialing[id] = true
	}
	k.mu.Unlock()

	k.logger.Info("connection lost", zap.String("peer", id), zap.Bool("redial", redial))
	if redial {
		k.connect(inst)
	}
}

func (k *Connector) dialWithRetry(inst registry.ServiceInstance) (transport.Connection, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = k.retryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, k.maxRetries), k.ctx)

	var conn transport.Connection
	op := func() error {
		ctx, cancel := context.WithTimeout(k.ctx, k.dialTimeout)
		defer cancel()
		c, err := k.dial(ctx, inst)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		k.logger.Debug("dial retry", zap.String("addr", inst.Addr), zap.Duration("in", next), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (k *Connector) defaultDial(ctx context.Context, inst registry.ServiceInstance) (transport.Connection, error) {
	if strings.HasPrefix(inst.Addr, "ws://") || strings.HasPrefix(inst.Addr, "wss://") {
		return DialWebSocket(ctx, inst.Addr, k.connOpts...)
	}
	return Dial(ctx, inst.Addr, k.connOpts...)
}

// Dial opens a TCP connection to addr.
func Dial(ctx context.Context, addr string, opts ...transport.Option) (*transport.StreamConnection, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return transport.NewStreamConnection(raw, opts...), nil
}

// DialWebSocket opens a WebSocket connection to url.
func DialWebSocket(ctx context.Context, url string, opts ...transport.Option) (*transport.StreamConnection, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return transport.NewWebSocketConnection(ws, opts...), nil
}

// Close stops following the registry and closes every connection it opened.
func (k *Connector) Close() error {
	k.cancel()
	k.wg.Wait()

	k.mu.Lock()
	conns := k.conns
	k.conns = make(map[string]transport.Connection)
	k.mu.Unlock()

	var err error
	for _, conn := range conns {
		k.center.RemoveConnection(conn)
		err = multierr.Append(err, conn.Close())
	}
	return err
}
