package util

import "testing"

// TestHashStringDeterministic tests that the hash depends only on the
// input and the seed
func TestHashStringDeterministic(t *testing.T) {
	if HashString("node-1", 0) != HashString("node-1", 0) {
		t.Error("expected identical hashes for identical input")
	}
	if HashString("node-1", 0) == HashString("node-2", 0) {
		t.Error("expected different hashes for different names")
	}
	if HashString("node-1", 0) == HashString("node-1", 7) {
		t.Error("expected different hashes for different seeds")
	}
}

// TestHashStringDistinctNames tests that realistic node names do not
// collide
func TestHashStringDistinctNames(t *testing.T) {
	names := []string{
		"node-1", "node-2", "node-3",
		"replica-a", "replica-b", "replica-c",
		"eu-west-1", "eu-west-2", "us-east-1",
	}

	seen := make(map[UintKey]string, len(names))
	for _, name := range names {
		hash := HashString(name, 0)
		if prev, taken := seen[hash]; taken {
			t.Errorf("names %q and %q collide on %d", prev, name, hash)
		}
		seen[hash] = name
	}
}
