package testing

import (
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
)

// RunStoreBenchmarks runs all benchmarks for an IStore implementation
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {

	b.Run("Write", func(b *testing.B) {
		benchmarkWrite(b, factory())
	})

	b.Run("WriteExisting", func(b *testing.B) {
		benchmarkWriteExisting(b, factory())
	})

	b.Run("Read", func(b *testing.B) {
		benchmarkRead(b, factory())
	})

	b.Run("ReadWhileWriting", func(b *testing.B) {
		benchmarkReadWhileWriting(b, factory())
	})

	b.Run("ListIDs", func(b *testing.B) {
		benchmarkListIDs(b, factory())
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

const benchGroupSize = 256

var benchValue = []byte("benchmark-value-0123456789abcdef")

// prefill allocates one group and fills it with benchGroupSize records
func prefill(b *testing.B, store kstorage.IStore) int {
	gid := mustAllocate(b, store)
	for i := 0; i < benchGroupSize; i++ {
		mustWrite(b, store, gid, int64(i), benchValue)
	}
	return gid
}

// Benchmark for Write operation on new ids (group grows to benchGroupSize, then ids repeat)
func benchmarkWrite(b *testing.B, store kstorage.IStore) {
	b.Cleanup(store.Close)

	gid := mustAllocate(b, store)
	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			id := counter.Add(1) % benchGroupSize
			_ = store.Write(gid, id, benchValue, 0, len(benchValue))
		}
	})
}

// Benchmark for Write operation replacing existing ids
func benchmarkWriteExisting(b *testing.B, store kstorage.IStore) {
	b.Cleanup(store.Close)

	gid := prefill(b, store)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = store.Write(gid, int64(i%benchGroupSize), benchValue, 0, len(benchValue))
			i++
		}
	})
}

// Benchmark for Read operation
func benchmarkRead(b *testing.B, store kstorage.IStore) {
	b.Cleanup(store.Close)

	gid := prefill(b, store)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		buf := make([]byte, len(benchValue))
		i := 0
		for pb.Next() {
			_, _ = store.Read(gid, int64(i%benchGroupSize), buf, 0, len(buf))
			i++
		}
	})
}

// Benchmark for Read operation with one writer constantly replacing records
func benchmarkReadWhileWriting(b *testing.B, store kstorage.IStore) {
	b.Cleanup(store.Close)

	gid := prefill(b, store)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				_ = store.Write(gid, int64(i%benchGroupSize), benchValue, 0, len(benchValue))
			}
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		buf := make([]byte, len(benchValue))
		i := 0
		for pb.Next() {
			_, _ = store.Read(gid, int64(i%benchGroupSize), buf, 0, len(buf))
			i++
		}
	})
	b.StopTimer()

	close(stop)
	<-done
}

// Benchmark for ListIDs operation
func benchmarkListIDs(b *testing.B, store kstorage.IStore) {
	b.Cleanup(store.Close)

	gid := prefill(b, store)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		buf := make([]byte, benchGroupSize*kstorage.IDSize)
		for pb.Next() {
			_, _ = store.ListIDs(gid, buf, benchGroupSize)
		}
	})
}

// Benchmark for a mix of 90% reads, 8% writes and 2% removes
func benchmarkMixedUsage(b *testing.B, store kstorage.IStore) {
	b.Cleanup(store.Close)

	gid := prefill(b, store)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(rand.Int63()))
		buf := make([]byte, len(benchValue))
		for pb.Next() {
			id := int64(rng.Intn(benchGroupSize))
			switch op := rng.Intn(100); {
			case op < 90:
				_, _ = store.Read(gid, id, buf, 0, len(buf))
			case op < 98:
				_ = store.Write(gid, id, benchValue, 0, len(benchValue))
			default:
				_ = store.Remove(gid, id)
			}
		}
	})
}
