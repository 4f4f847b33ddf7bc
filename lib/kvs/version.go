package kvs

import (
	"encoding/binary"
)

// --------------------------------------------------------------------------
// Versionstamps
// --------------------------------------------------------------------------

// StampLen is the length of a versionstamp in bytes: an 8-byte big-endian
// commit version followed by a 2-byte suffix reserved for intra-commit
// ordering. Big-endian keeps stamped keys sorted by commit order.
const StampLen = 10

// Versionstamp is a 10-byte commit version suitable for embedding in keys.
type Versionstamp [StampLen]byte

// VersionToStamp converts a commit version into its versionstamp.
func VersionToStamp(version uint64) Versionstamp {
	var vs Versionstamp
	binary.BigEndian.PutUint64(vs[:8], version)
	return vs
}

// StampToVersion extracts the commit version from a versionstamp.
func StampToVersion(vs Versionstamp) uint64 {
	return binary.BigEndian.Uint64(vs[:8])
}

// ParseStamp reads a versionstamp from raw bytes.
func ParseStamp(b []byte) (Versionstamp, error) {
	var vs Versionstamp
	if len(b) != StampLen {
		return vs, NewErrorf(RetCEncoding, "versionstamp must be %d bytes, got %d", StampLen, len(b))
	}
	copy(vs[:], b)
	return vs, nil
}
