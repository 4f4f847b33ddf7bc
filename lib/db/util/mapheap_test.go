package util

import (
	"container/heap"
	"fmt"
	"sort"
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap()

	if mh == nil {
		t.Fatal("NewMapHeap() returned nil")
	}

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}

	if len(mh.itemsMap) != 0 {
		t.Errorf("New heap's map should be empty, but has %d items", len(mh.itemsMap))
	}
}

// TestAddItem tests adding items to the heap
func TestAddItem(t *testing.T) {
	mh := NewMapHeap()
	heap.Init(mh)

	// Add a few items
	mh.AddItem("k1", 100)
	mh.AddItem("k2", 200)
	mh.AddItem("k3", 50)

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}

	// Check if items exist
	for _, k := range []string{"k1", "k2", "k3"} {
		if !mh.Contains(k) {
			t.Errorf("Heap should contain key %s", k)
		}
	}

	// Check the order (min heap, so the lowest priority should be first)
	item, exists := mh.Peek()
	if !exists {
		t.Fatal("Peek() should return an item")
	}

	if item.Key != "k3" || item.Priority != 50 {
		t.Errorf("Expected min item to be (k3,50), got (%s,%d)", item.Key, item.Priority)
	}
}

// TestUpdateItem tests updating existing items
func TestUpdateItem(t *testing.T) {
	mh := NewMapHeap()
	heap.Init(mh)

	// Add items
	mh.AddItem("k1", 100)
	mh.AddItem("k2", 200)

	// Update an item
	mh.AddItem("k1", 300) // Increase priority of item k1

	// Check if update worked
	item, exists := mh.GetByKey("k1")
	if !exists {
		t.Fatal("Item with key k1 should exist")
	}

	if item.Priority != 300 {
		t.Errorf("Item with key k1 should have priority 300, got %d", item.Priority)
	}

	// Check if heap property is maintained
	min, _ := mh.Peek()
	if min.Key != "k2" {
		t.Errorf("Min item should now be key k2, got %s", min.Key)
	}

	// Update to lower value
	mh.AddItem("k2", 50)

	min, _ = mh.Peek()
	if min.Key != "k2" || min.Priority != 50 {
		t.Errorf("Min item should now be (k2,50), got (%s,%d)", min.Key, min.Priority)
	}
}

// TestRemoveByKey tests removing items by key
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap()
	heap.Init(mh)

	mh.AddItem("k1", 100)
	mh.AddItem("k2", 200)
	mh.AddItem("k3", 300)

	// Remove item with key k2
	value, exists := mh.RemoveByKey("k2")

	if !exists {
		t.Fatal("RemoveByKey should return true for existing key")
	}

	if value != 200 {
		t.Errorf("RemoveByKey should return priority 200, got %d", value)
	}

	if mh.Len() != 2 {
		t.Errorf("Heap should have 2 items after removal, has %d", mh.Len())
	}

	if mh.Contains("k2") {
		t.Error("Heap should not contain key k2 after removal")
	}

	// Try to remove non-existent key
	_, exists = mh.RemoveByKey("k99")
	if exists {
		t.Error("RemoveByKey should return false for non-existent key")
	}
}

// TestPopOrder tests if items are popped in correct order
func TestPopOrder(t *testing.T) {
	mh := NewMapHeap()
	heap.Init(mh)

	// Add items in random order
	items := []struct {
		key   string
		value uint64
	}{
		{"k5", 50},
		{"k3", 30},
		{"k1", 10},
		{"k4", 40},
		{"k2", 20},
	}

	for _, item := range items {
		mh.AddItem(item.key, item.value)
	}

	// Sort the items for comparison
	sort.Slice(items, func(i, j int) bool {
		return items[i].value < items[j].value
	})

	// Pop all items and verify order
	for i, expected := range items {
		if mh.Len() == 0 {
			t.Fatalf("Heap empty after %d items, expected %d items", i, len(items))
		}

		item := heap.Pop(mh).(*item)
		if item.Key != expected.key || item.Priority != expected.value {
			t.Errorf("Pop %d: expected (%s,%d), got (%s,%d)",
				i, expected.key, expected.value, item.Key, item.Priority)
		}
	}

	if mh.Len() != 0 {
		t.Errorf("Heap should be empty after popping all items, has %d items", mh.Len())
	}
}

// TestPeekEmptyHeap tests behavior when peeking an empty heap
func TestPeekEmptyHeap(t *testing.T) {
	mh := NewMapHeap()
	heap.Init(mh)

	_, exists := mh.Peek()
	if exists {
		t.Error("Peek on empty heap should return exists=false")
	}
}

// TestGetByKey tests retrieving items by key
func TestGetByKey(t *testing.T) {
	mh := NewMapHeap()
	heap.Init(mh)

	mh.AddItem("k1", 100)
	mh.AddItem("k2", 200)

	// Get existing item
	item, exists := mh.GetByKey("k1")
	if !exists {
		t.Fatal("GetByKey should find existing key")
	}

	if item.Key != "k1" || item.Priority != 100 {
		t.Errorf("GetByKey returned incorrect item: expected (k1,100), got (%s,%d)",
			item.Key, item.Priority)
	}

	// Get non-existent item
	_, exists = mh.GetByKey("k99")
	if exists {
		t.Error("GetByKey should return exists=false for non-existent key")
	}
}

// TestLargeNumberOfItems exercises the heap with many keys
func TestLargeNumberOfItems(t *testing.T) {
	mh := NewMapHeap()
	heap.Init(mh)

	const n = 10_000
	for i := 0; i < n; i++ {
		mh.AddItem(fmt.Sprintf("key-%05d", i), uint64((i*7919)%n))
	}

	if mh.Len() != n {
		t.Fatalf("Heap should have %d items, has %d", n, mh.Len())
	}

	var prev uint64
	for i := 0; mh.Len() > 0; i++ {
		popped := heap.Pop(mh).(*item)
		if popped.Priority < prev {
			t.Fatalf("Pop %d: priority %d out of order (previous %d)", i, popped.Priority, prev)
		}
		prev = popped.Priority
	}
}
