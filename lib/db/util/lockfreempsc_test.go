package util

import (
	"sync"
	"testing"
	"time"
)

// TestPushAndReceive tests that pushed items come out in order for a
// single producer
func TestPushAndReceive(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	values := make([]*int, 10)
	for i := 0; i < 10; i++ {
		v := i
		values[i] = &v
		if !q.Push(values[i]) {
			t.Fatalf("push of item %d failed", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case got := <-q.Recv():
			if *got != i {
				t.Errorf("expected item %d, got %d", i, *got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for item %d", i)
		}
	}

	q.Close()
}

// TestRejectsNilAndClosed tests the push guard conditions
func TestRejectsNilAndClosed(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	if q.Push(nil) {
		t.Error("expected nil push to be rejected")
	}

	q.Close()
	v := 1
	if q.Push(&v) {
		t.Error("expected push after close to be rejected")
	}
}

// TestCloseDrainsQueue tests that items queued before Close are still
// delivered and the channel then closes
func TestCloseDrainsQueue(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const items = 100
	for i := 0; i < items; i++ {
		v := i
		if !q.Push(&v) {
			t.Fatalf("push of item %d failed", i)
		}
	}
	q.Close()

	received := 0
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got, ok := <-q.Recv():
			if !ok {
				if received != items {
					t.Errorf("expected %d items before close, got %d", items, received)
				}
				return
			}
			if got == nil {
				t.Fatal("received nil item")
			}
			received++
		case <-deadline:
			t.Fatalf("timed out after %d of %d items", received, items)
		}
	}
}

// TestConcurrentProducers tests that no items are lost under contention
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const (
		producers        = 8
		itemsPerProducer = 500
	)

	seen := make(map[int]bool, producers*itemsPerProducer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for got := range q.Recv() {
			if seen[*got] {
				t.Errorf("item %d delivered twice", *got)
			}
			seen[*got] = true
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				v := p*itemsPerProducer + i
				if !q.Push(&v) {
					t.Errorf("push of item %d failed", v)
				}
			}
		}(p)
	}

	wg.Wait()
	q.Close()
	<-done

	if len(seen) != producers*itemsPerProducer {
		t.Errorf("expected %d distinct items, got %d", producers*itemsPerProducer, len(seen))
	}
}
