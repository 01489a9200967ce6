package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestBasicOperations tests basic push and consume functionality
func TestBasicOperations(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	// a single producer is delivered in order
	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if val != i {
				t.Errorf("Expected %d, got %v", i, val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", val)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestConcurrentProducers verifies every value of many producers arrives exactly once
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	received := make([]bool, totalItems)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for count := 0; count < totalItems; count++ {
			select {
			case val := <-q.Recv():
				if received[val] {
					t.Errorf("Duplicate item received: %v", val)
				}
				received[val] = true
			case <-time.After(2 * time.Second):
				t.Errorf("Timeout waiting for items, received %d of %d", count, totalItems)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()
			base := producerID * itemsPerProducer
			for i := 0; i < itemsPerProducer; i++ {
				if !q.Push(base + i) {
					t.Errorf("Producer %d failed to push item %d", producerID, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for consumer to finish")
	}

	for i, ok := range received {
		if !ok {
			t.Errorf("Item %d was never received", i)
		}
	}
}

// TestCloseDrains checks that values pushed before Close are delivered and the channel closes afterwards
func TestCloseDrains(t *testing.T) {
	q := NewLockFreeMPSC[string]()

	for _, v := range []string{"a", "b", "c"} {
		q.Push(v)
	}
	q.Close()

	if q.Push("d") {
		t.Errorf("Push after Close must fail")
	}
	if !q.IsClosed() {
		t.Errorf("IsClosed must report true")
	}

	var got []string
	timeout := time.After(time.Second)
	for {
		select {
		case v, ok := <-q.Recv():
			if !ok {
				if len(got) != 3 {
					t.Errorf("Expected 3 drained values, got %v", got)
				}
				if q.Len() != 0 {
					t.Errorf("Expected empty queue, Len=%d", q.Len())
				}
				return
			}
			got = append(got, v)
		case <-timeout:
			t.Fatalf("Recv channel was not closed, drained %v", got)
		}
	}
}

// TestCloseWhileProducing checks that every successful Push is delivered even when Close races the producers
func TestCloseWhileProducing(t *testing.T) {
	for round := 0; round < 200; round++ {
		q := NewLockFreeMPSC[int]()

		var (
			wg       sync.WaitGroup
			accepted [4]int
		)
		for p := range accepted {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					if q.Push(i) {
						accepted[p]++
					}
					runtime.Gosched()
				}
			}()
		}

		received := make(chan int)
		go func() {
			n := 0
			for range q.Recv() {
				n++
			}
			received <- n
		}()

		runtime.Gosched()
		q.Close()
		wg.Wait()

		select {
		case n := <-received:
			want := accepted[0] + accepted[1] + accepted[2] + accepted[3]
			if n != want {
				t.Fatalf("round %d: %d values accepted, %d delivered", round, want, n)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("round %d: Recv channel was not closed", round)
		}
	}
}

// BenchmarkPush measures concurrent pushes with one consumer
func BenchmarkPush(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(i)
			i++
		}
	})
	b.StopTimer()

	q.Close()
	<-done
}
