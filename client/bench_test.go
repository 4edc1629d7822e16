package client

import (
	"context"
	"fmt"
	"testing"

	"rpc-center/center"
	"rpc-center/registry"
)

func setupCenters(b *testing.B, providers int) *center.Center {
	reg := registry.NewMemoryRegistry()
	for i := 0; i < providers; i++ {
		startProvider(b, reg, fmt.Sprintf("srv-%d", i))
	}

	local := center.NewCenter()
	k := NewConnector(local, reg)
	b.Cleanup(func() { k.Close() })
	if err := k.Connect(context.Background(), "arith"); err != nil {
		b.Fatal(err)
	}
	if local.Len() != providers {
		b.Fatalf("expect %d peers, got %d", providers, local.Len())
	}
	return local
}

// one goroutine, one peer
func BenchmarkSerialInvoke(b *testing.B) {
	local := setupCenters(b, 1)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := local.Invoke(ctx, "", "arith:add", 1, 2); err != nil {
			b.Fatal(err)
		}
	}
}

// many goroutines sharing one multiplexed connection
func BenchmarkConcurrentInvoke(b *testing.B) {
	local := setupCenters(b, 1)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := local.Invoke(ctx, "", "arith:add", 1, 2); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkBroadcastFourPeers(b *testing.B) {
	local := setupCenters(b, 4)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := local.Broadcast(ctx, "arith:add", 1, 2); err != nil {
			b.Fatal(err)
		}
	}
}
