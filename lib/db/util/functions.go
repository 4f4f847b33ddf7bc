package util

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is a uint64 hash value. Replica identifiers are UintKeys derived
// from their node names, so every node of a cluster maps a given name to
// the same identifier without coordination.
type UintKey uint64

// HashString hashes a string with FNV-1a, folding the seed into the offset
// basis. The same (s, seed) pair always yields the same UintKey.
func HashString(s string, seed uint64) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return UintKey(hash)
}
