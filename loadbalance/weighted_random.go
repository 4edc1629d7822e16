package loadbalance

import (
	"math/rand/v2"
)

// WeightedRandomBalancer picks peers with probability proportional to their weight.
// Peers without a positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(peers []Peer, _ string) (int, error) {
	if len(peers) == 0 {
		return 0, ErrNoPeers
	}

	// Total weight
	totalWeight := 0
	for _, p := range peers {
		totalWeight += weightOf(p)
	}

	// Random point in [0, totalWeight), then walk until it falls inside a peer's share
	r := rand.IntN(totalWeight)
	for i, p := range peers {
		r -= weightOf(p)
		if r < 0 {
			return i, nil
		}
	}
	return len(peers) - 1, nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func weightOf(p Peer) int {
	if p.Weight <= 0 {
		return 1
	}
	return p.Weight
}
