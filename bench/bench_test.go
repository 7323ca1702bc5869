// Package bench provides reproducible micro-benchmarks for
// github.com/Voskan/maglev-balancer. Run via:
//
//	go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// We measure:
//  1. Build          — slot table construction cost as a function of node count
//  2. Pick            — single-threaded lookup, no overload/ban pressure
//  3. PickParallel    — highly concurrent lookups (b.RunParallel)
//  4. Heartbeat       — rank recomputation + ban pass + window advance
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live in pkg/maglev/*_test.go; this file is only for
// performance.
//
// © 2025 maglev-balancer authors. MIT License.
package bench

import (
	"math/rand"
	"runtime"
	"testing"

	"github.com/Voskan/maglev-balancer/pkg/maglev"
)

const (
	nodeCount = 64
	slotSize  = 65537
	keys      = 1 << 20 // 1M hashed keys for dataset
)

func newTestBalancer() *maglev.Balancer[int] {
	b, err := maglev.New[int](maglev.WithSlotSize[int](slotSize))
	if err != nil {
		panic(err)
	}
	for i := 0; i < nodeCount; i++ {
		if err := b.AddNode(maglev.NodeSpec[int]{ID: i, Weight: uint32(1 + i%4)}); err != nil {
			panic(err)
		}
	}
	if err := b.Finalize(); err != nil {
		panic(err)
	}
	return b
}

// global dataset reused across benches to avoid reallocating large slices.
var ds = func() []uint64 {
	arr := make([]uint64, keys)
	for i := range arr {
		arr[i] = rand.Uint64()
	}
	return arr
}()

func BenchmarkBuild(b *testing.B) {
	specs := make([]maglev.NodeSpec[int], nodeCount)
	for i := range specs {
		specs[i] = maglev.NodeSpec[int]{ID: i, Weight: uint32(1 + i%4)}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bal, err := maglev.New[int](maglev.WithSlotSize[int](slotSize))
		if err != nil {
			b.Fatal(err)
		}
		for _, s := range specs {
			if err := bal.AddNode(s); err != nil {
				b.Fatal(err)
			}
		}
		if err := bal.Finalize(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPick(b *testing.B) {
	bal := newTestBalancer()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bal.Pick(ds[i&(keys-1)])
	}
}

func BenchmarkPickParallel(b *testing.B) {
	bal := newTestBalancer()
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			bal.Pick(ds[idx])
		}
	})
}

func BenchmarkHeartbeat(b *testing.B) {
	bal := newTestBalancer()
	for i := 0; i < nodeCount; i++ {
		_ = bal.Record(i, 100, 1, 0, 500)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bal.Heartbeat()
	}
}

func init() {
	rand.Seed(42)
	runtime.GOMAXPROCS(runtime.NumCPU())
}
