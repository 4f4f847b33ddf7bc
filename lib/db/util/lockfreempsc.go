// This file implements the lock-free multi-producer single-consumer queue
// that commits use to announce fresh tombstones to an engine's garbage
// collector. Producers are commit paths that must never block; the single
// consumer is the GC goroutine draining the queue through a channel.
//
// Guarantees:
//
//   - Push never blocks and never takes a lock, so commit latency is not
//     coupled to the GC.
//   - The queue is unbounded; a slow GC delays collection, not commits.
//   - Items pushed before Close are still delivered before the output
//     channel closes.
//   - Ordering between concurrent producers is whichever CAS lands first.
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is one linked-list element of the queue.
type node[T interface{}] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is an unbounded multi-producer single-consumer queue. A
// dedicated goroutine moves items from the linked list onto the Recv
// channel, parking on a condition variable while the queue is empty.
type LockFreeMPSC[T interface{}] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates the queue and starts its consumer goroutine.
func NewLockFreeMPSC[T interface{}]() *LockFreeMPSC[T] {
	// head and tail start on a shared sentinel node
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push appends an item. It returns false when the item is nil or the queue
// was closed, true otherwise.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// the tail CAS may lose to a helping producer; the
				// pointer still ends up on the new node
				q.tail.CompareAndSwap(tailNode, newNode)
				q.cond.Signal()
				return true
			}
		} else {
			// another producer appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// back off exponentially under contention before retrying, so
		// racing producers do not all retry in lockstep
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume drains the linked list onto the output channel, unlinking nodes
// as it goes, and parks while the queue is empty.
func (q *LockFreeMPSC[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		delivered := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}

			delivered = true
			value := next.value

			// the old head is unreachable once we step past it
			q.head.Store(next)
			q.out <- value
			next.value = nil
		}

		if !delivered && q.closed.Load() {
			return
		}

		if !delivered {
			q.mu.Lock()
			// re-check under the lock: a producer may have signalled
			// between the drain and the wait
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the receive side of the queue for use in select loops. The
// channel closes after Close once every remaining item was delivered.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close stops further pushes. Items already queued are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.cond.Signal()
}
