package kvs

import (
	"context"
	"testing"
	"time"
)

// blocked reports whether fn is still running after a short grace period.
func blocked(t *testing.T, fn func()) (done chan struct{}, isBlocked bool) {
	t.Helper()
	done = make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return done, false
	case <-time.After(50 * time.Millisecond):
		return done, true
	}
}

// await fails the test when the channel does not close in time.
func await(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the blocked acquisition to proceed")
	}
}

func TestLatchDisjointKeys(t *testing.T) {
	lt := newLatchTable()
	ctx := context.Background()

	if err := lt.acquireKeys(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := lt.acquireKeys(ctx, []string{"c", "d"}); err != nil {
		t.Fatalf("expected disjoint footprints to proceed, got %v", err)
	}

	lt.releaseKeys([]string{"a", "b"})
	lt.releaseKeys([]string{"c", "d"})
}

func TestLatchOverlapBlocks(t *testing.T) {
	lt := newLatchTable()
	ctx := context.Background()

	if err := lt.acquireKeys(ctx, []string{"a"}); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	done, isBlocked := blocked(t, func() {
		_ = lt.acquireKeys(ctx, []string{"a", "z"})
	})
	if !isBlocked {
		t.Fatalf("expected the overlapping footprint to block")
	}

	lt.releaseKeys([]string{"a"})
	await(t, done)
}

func TestLatchGlobalExcludesKeys(t *testing.T) {
	lt := newLatchTable()
	ctx := context.Background()

	if err := lt.acquireKeys(ctx, []string{"a"}); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	done, isBlocked := blocked(t, func() {
		_ = lt.acquireGlobal(ctx)
	})
	if !isBlocked {
		t.Fatalf("expected the global latch to wait for key latches")
	}

	lt.releaseKeys([]string{"a"})
	await(t, done)

	// the global holder now excludes every key footprint
	done, isBlocked = blocked(t, func() {
		_ = lt.acquireKeys(ctx, []string{"b"})
	})
	if !isBlocked {
		t.Fatalf("expected key latches to wait for the global holder")
	}

	lt.releaseGlobal()
	await(t, done)
	lt.releaseKeys([]string{"b"})
}

func TestLatchContextCancel(t *testing.T) {
	lt := newLatchTable()

	if err := lt.acquireKeys(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- lt.acquireKeys(ctx, []string{"a"})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected a cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the acquisition to abort on context cancel")
	}

	lt.releaseKeys([]string{"a"})
}
