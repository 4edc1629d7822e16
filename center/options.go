package center

import (
	"go.uber.org/zap"

	"rpc-center/loadbalance"
	"rpc-center/metrics"
	"rpc-center/middleware"
	"rpc-center/registry"
)

const defaultRegistryTTL = 10

type Option func(*Center)

// WithID overrides the generated center ID. Creator services register under it.
func WithID(id string) Option {
	return func(c *Center) {
		if id != "" {
			c.id = id
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Center) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRegistry publishes creator services to reg.
func WithRegistry(reg registry.Registry) Option {
	return func(c *Center) { c.registry = reg }
}

// WithRegistryTTL sets the lease TTL in seconds for registry entries.
func WithRegistryTTL(ttl int64) Option {
	return func(c *Center) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithAdvertiseAddr is the address peers should dial to reach this center.
func WithAdvertiseAddr(addr string) Option {
	return func(c *Center) { c.addr = addr }
}

// WithWeight is the balancing weight advertised with creator services.
func WithWeight(w int) Option {
	return func(c *Center) { c.weight = w }
}

// WithVersion is advertised with creator services.
func WithVersion(v string) Option {
	return func(c *Center) { c.version = v }
}

// WithMiddleware wraps every local handler run for a peer. The first
// middleware is the outermost.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(c *Center) { c.inbound = append(c.inbound, mw...) }
}

// WithOutboundMiddleware wraps every call sent to a peer.
func WithOutboundMiddleware(mw ...middleware.Middleware) Option {
	return func(c *Center) { c.outbound = append(c.outbound, mw...) }
}

// WithBalancer selects the peer for Invoke. Defaults to round robin.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(c *Center) {
		if b != nil {
			c.balancer = b
		}
	}
}

// WithMetrics reports connections and calls to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Center) { c.metrics = m }
}

// PeerOption describes the peer behind a connection handed to SetConnection.
type PeerOption func(*loadbalance.Peer)

func WithPeerID(id string) PeerOption {
	return func(p *loadbalance.Peer) {
		if id != "" {
			p.ID = id
		}
	}
}

func WithPeerWeight(w int) PeerOption {
	return func(p *loadbalance.Peer) { p.Weight = w }
}
