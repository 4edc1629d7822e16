// Package loadbalance chooses one peer out of the center's live connections for
// unicast calls. Broadcasts go to every peer and never consult a balancer.
//
// Three strategies are implemented:
//   - RoundRobin:      peers of equal capacity
//   - WeightedRandom:  peers announced with different weights in the registry
//   - ConsistentHash:  calls for the same key should land on the same peer
package loadbalance

import "errors"

var ErrNoPeers = errors.New("no peers available")

// Peer is one live connection as seen by a balancer.
type Peer struct {
	ID     string
	Weight int
}

// Balancer picks the index of the peer that should serve a call.
type Balancer interface {
	// Pick is called on every unicast call and must be goroutine-safe.
	// key is caller-supplied affinity data; strategies may ignore it.
	Pick(peers []Peer, key string) (int, error)

	// Name returns the strategy name (for logging/config).
	Name() string
}

// New returns the balancer for a config name, defaulting to round robin.
func New(name string) Balancer {
	switch name {
	case "WeightedRandom", "weighted_random":
		return &WeightedRandomBalancer{}
	case "ConsistentHash", "consistent_hash":
		return NewConsistentHashBalancer()
	default:
		return &RoundRobinBalancer{}
	}
}
