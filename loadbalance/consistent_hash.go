package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"
)

// ConsistentHashBalancer maps keys to peers using a hash ring.
// The same key always maps to the same peer until the peer set changes, and a
// change only remaps the keys owned by the peers that came or went.
//
// Each peer is placed on the ring as N virtual nodes so a handful of peers
// still spread evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.Mutex
	sig   string            // peer IDs the ring was built for
	ring  []uint32          // sorted hash values
	nodes map[uint32]string // hash value → peer ID
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per peer.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

// Pick hashes key and walks clockwise to the first virtual node, wrapping
// around past the largest hash.
func (b *ConsistentHashBalancer) Pick(peers []Peer, key string) (int, error) {
	if len(peers) == 0 {
		return 0, ErrNoPeers
	}

	b.mu.Lock()
	b.rebuild(peers)
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	id := b.nodes[b.ring[idx]]
	b.mu.Unlock()

	for i, p := range peers {
		if p.ID == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("consistent hash: peer %q vanished", id)
}

// rebuild must be called with b.mu held. It is a no-op while the peer set is unchanged.
func (b *ConsistentHashBalancer) rebuild(peers []Peer) {
	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.ID
	}
	sort.Strings(ids)
	sig := strings.Join(ids, "\x00")
	if sig == b.sig && b.ring != nil {
		return
	}

	b.sig = sig
	b.ring = make([]uint32, 0, len(ids)*b.replicas)
	b.nodes = make(map[uint32]string, len(ids)*b.replicas)
	for _, id := range ids {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", id, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = id
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
