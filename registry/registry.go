// Package registry is where centers announce the services they provide and
// discover the peers that provide them.
package registry

import "context"

// ServiceInstance describes one center providing a service.
type ServiceInstance struct {
	ID      string // Center ID, unique per process
	Addr    string // Address peers dial to reach the center; empty for non-listening centers
	Weight  int    // Weight for load balancing
	Version string
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, id string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list whenever it changes, until ctx ends.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
