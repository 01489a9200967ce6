// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue implementation.
//
// Features and Guarantees:
//
//   - Lock-Free Push: producers append with CAS on the tail, writers never wait on each other
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Thread-Safe writes: any number of goroutines may Push() concurrently
//   - Single Consumer: exactly one goroutine receives values via the Recv() channel
//   - Drain on Close: every Push() that returned true is delivered, then Recv() is closed
//   - No Strict FIFO Guarantee across producers: concurrent pushes are ordered by which
//     producer wins the CAS, not by which started first
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// mpscNode is one link of the queue
type mpscNode[T any] struct {
	value T
	next  atomic.Pointer[mpscNode[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue.
// Producers link new nodes behind the tail, the internal pump goroutine walks
// from the head and forwards every value to the out channel.
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[mpscNode[T]]
	tail   atomic.Pointer[mpscNode[T]]
	out    chan T
	closed atomic.Bool
	// producers between their closed check and linking their node
	inflight atomic.Int64
	pushed   atomic.Int64
	popped atomic.Int64

	// wakeup for the pump when the list is empty
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates the queue and starts its pump goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &mpscNode[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.pump()

	return q
}

// Push appends a value. It returns false if the queue has been closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value T) bool {
	// announce first, the pump does not exit while a producer that saw the queue open is linking
	q.inflight.Add(1)
	if q.closed.Load() {
		q.inflight.Add(-1)
		return false
	}

	n := &mpscNode[T]{value: value}
	var spins uint8

	for {
		last := q.tail.Load()
		next := last.next.Load()

		if next != nil {
			// another producer linked a node but did not swing the tail yet, help it
			q.tail.CompareAndSwap(last, next)
		} else if last.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(last, n)
			q.pushed.Add(1)
			q.inflight.Add(-1)

			// take the lock so the signal cannot slip between the pump's check and its Wait
			q.mu.Lock()
			q.cond.Signal()
			q.mu.Unlock()
			return true
		}

		/*
		 Backoff under contention: spin-yield a growing number of times first,
		 afterwards a single yield per retry keeps the thundering herd small.
		*/
		if spins < 8 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// pump moves values from the linked list to the out channel
func (q *LockFreeMPSC[T]) pump() {
	defer close(q.out)

	var zero T
	for {
		moved := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			moved = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			q.popped.Add(1)

			// the node is the new sentinel, drop its payload reference
			next.value = zero
		}

		if moved {
			continue
		}

		q.mu.Lock()
		if q.head.Load().next.Load() == nil {
			if q.closed.Load() {
				q.mu.Unlock()
				if q.inflight.Load() > 0 {
					// a producer passed its closed check and is about to link
					runtime.Gosched()
					continue
				}
				if q.head.Load().next.Load() == nil {
					return
				}
				continue
			}
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Recv returns the receive side of the queue. The channel is closed once the
// queue has been closed and every pushed value was delivered.
func (q *LockFreeMPSC[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting values. A Push running concurrently with Close either
// returns false or its value is delivered before Recv() is closed.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed reports whether Close was called.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of values pushed but not yet handed to the consumer.
// The result is approximate while producers are active.
func (q *LockFreeMPSC[T]) Len() int {
	if n := q.pushed.Load() - q.popped.Load(); n > 0 {
		return int(n)
	}
	return 0
}
