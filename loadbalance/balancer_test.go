package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var testPeers = []Peer{
	{ID: "peer-1", Weight: 10},
	{ID: "peer-2", Weight: 5},
	{ID: "peer-3", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all peers
	for i := 0; i < 3; i++ {
		idx, err := b.Pick(testPeers, "")
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}

	// Pick again, should wrap around to the first
	idx, _ := b.Pick(testPeers, "")
	require.Equal(t, 0, idx)
}

func TestEmptyPeers(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		_, err := b.Pick(nil, "k")
		require.ErrorIs(t, err, ErrNoPeers, b.Name())
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		idx, err := b.Pick(testPeers, "")
		require.NoError(t, err)
		counts[testPeers[idx].ID]++
	}

	// Weight ratio is 10:5:10, so peer-1 should be picked ~2x as often as peer-2
	ratio := float64(counts["peer-1"]) / float64(counts["peer-2"])
	require.InDelta(t, 2.0, ratio, 0.5)
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	idx, err := (&WeightedRandomBalancer{}).Pick([]Peer{{ID: "a"}}, "")
	require.NoError(t, err)
	require.Equal(t, 0, idx)
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key always maps to the same peer
	i1, _ := b.Pick(testPeers, "user-123")
	i2, _ := b.Pick(testPeers, "user-123")
	require.Equal(t, i1, i2)

	// Peer order does not matter, only identity
	reversed := []Peer{testPeers[2], testPeers[1], testPeers[0]}
	i3, _ := b.Pick(reversed, "user-123")
	require.Equal(t, testPeers[i1].ID, reversed[i3].ID)

	// With 100 different keys and 3 peers, we should hit at least 2
	seen := map[int]bool{}
	for i := 0; i < 100; i++ {
		idx, _ := b.Pick(testPeers, fmt.Sprintf("key-%d", i))
		seen[idx] = true
	}
	require.GreaterOrEqual(t, len(seen), 2)
}

func TestConsistentHashStableOnRemoval(t *testing.T) {
	b := NewConsistentHashBalancer()
	owner := map[string]string{}
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%d", i)
		idx, _ := b.Pick(testPeers, key)
		owner[key] = testPeers[idx].ID
	}

	// Removing peer-2 only remaps keys peer-2 owned
	remaining := []Peer{testPeers[0], testPeers[2]}
	for key, id := range owner {
		if id == "peer-2" {
			continue
		}
		idx, _ := b.Pick(remaining, key)
		require.Equal(t, id, remaining[idx].ID, key)
	}
}

func TestNew(t *testing.T) {
	require.Equal(t, "RoundRobin", New("").Name())
	require.Equal(t, "WeightedRandom", New("weighted_random").Name())
	require.Equal(t, "ConsistentHash", New("ConsistentHash").Name())
}
