package kvs

import (
	"bytes"
	"testing"
)

func TestStampRoundTrip(t *testing.T) {
	for _, version := range []uint64{0, 1, 42, 1 << 32, ^uint64(0)} {
		vs := VersionToStamp(version)
		if got := StampToVersion(vs); got != version {
			t.Errorf("expected version %d to round trip, got %d", version, got)
		}
	}
}

func TestStampOrdering(t *testing.T) {
	// lexicographic stamp order must match numeric version order
	versions := []uint64{0, 1, 255, 256, 1 << 16, 1 << 40, ^uint64(0)}
	for i := 1; i < len(versions); i++ {
		lo := VersionToStamp(versions[i-1])
		hi := VersionToStamp(versions[i])
		if bytes.Compare(lo[:], hi[:]) >= 0 {
			t.Errorf("expected stamp of %d to sort before stamp of %d", versions[i-1], versions[i])
		}
	}
}

func TestParseStamp(t *testing.T) {
	vs := VersionToStamp(7)
	parsed, err := ParseStamp(vs[:])
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != vs {
		t.Errorf("expected parsed stamp to equal the original")
	}

	if _, err := ParseStamp(vs[:7]); err == nil {
		t.Errorf("expected short input to fail")
	}
	if _, err := ParseStamp(append(vs[:], 0)); err == nil {
		t.Errorf("expected long input to fail")
	}
}
