package loadbalance

import (
	"sync/atomic"
)

// RoundRobinBalancer cycles through peers in order using an atomic counter.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(peers []Peer, _ string) (int, error) {
	if len(peers) == 0 {
		return 0, ErrNoPeers
	}
	return int((b.counter.Add(1) - 1) % uint64(len(peers))), nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
