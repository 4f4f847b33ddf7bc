package keys

import (
	"bytes"
	"errors"
	"testing"
)

// validKeys returns a set of logical keys in strictly ascending hierarchical
// order, used by the round-trip and ordering tests.
func validKeys() []Key {
	return []Key{
		TableMeta("ns1", "db1", "t1"),
		Row("ns1", "db1", "t1", IntID(-25)),
		Row("ns1", "db1", "t1", IntID(-1)),
		Row("ns1", "db1", "t1", IntID(0)),
		Row("ns1", "db1", "t1", IntID(1)),
		Row("ns1", "db1", "t1", IntID(10)),
		Row("ns1", "db1", "t1", StringID("a")),
		Row("ns1", "db1", "t1", StringID("a\x00b")),
		Row("ns1", "db1", "t1", StringID("ab")),
		Row("ns1", "db1", "t1", StringID("b")),
		Index("ns1", "db1", "t1", "by_name", StringID("r1")),
		Index("ns1", "db1", "t1", "by_size", IntID(7)),
		TableMeta("ns1", "db1", "t2"),
		Row("ns1", "db1", "t2", IntID(0)),
		Row("ns1", "db2", "t1", IntID(0)),
		Row("ns2", "db1", "t1", IntID(0)),
	}
}

func TestRoundTrip(t *testing.T) {
	for _, k := range validKeys() {
		enc, err := Encode(k)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", k, err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%q): %v", enc, err)
		}
		if dec != k {
			t.Errorf("round trip mismatch: encoded %+v, decoded %+v", k, dec)
		}
	}
}

func TestRoundTripChangeFeed(t *testing.T) {
	k := ChangeFeed([10]byte{0, 0, 0, 0, 0, 0, 0, 42, 0, 1})
	enc, err := Encode(k)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec != k {
		t.Errorf("round trip mismatch: %+v != %+v", dec, k)
	}
}

func TestOrderPreservation(t *testing.T) {
	ks := validKeys()
	var prev []byte
	for i, k := range ks {
		enc, err := Encode(k)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", k, err)
		}
		if i > 0 && bytes.Compare(prev, enc) >= 0 {
			t.Errorf("order violated: key %d (%q) should sort before key %d (%q)", i-1, prev, i, enc)
		}
		prev = enc
	}
}

func TestPrefixSafety(t *testing.T) {
	ks := validKeys()
	encs := make([][]byte, len(ks))
	for i, k := range ks {
		enc, err := Encode(k)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", k, err)
		}
		encs[i] = enc
	}
	for i := range encs {
		for j := range encs {
			if i == j {
				continue
			}
			if bytes.HasPrefix(encs[j], encs[i]) {
				t.Errorf("%q is a byte-prefix of %q", encs[i], encs[j])
			}
		}
	}
}

func TestEncodeInvalid(t *testing.T) {
	bad := []Key{
		Row("", "db", "tb", IntID(1)),
		Row("ns", "", "tb", IntID(1)),
		Row("ns", "db", "", IntID(1)),
		Row("ns", "db", "tb", nil),
		Row("ns", "db", "tb", StringID("")),
		Index("ns", "db", "tb", "", IntID(1)),
	}
	for _, k := range bad {
		if _, err := Encode(k); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Encode(%+v): expected ErrInvalidKey, got %v", k, err)
		}
	}
}

func TestDecodeInvalid(t *testing.T) {
	bad := [][]byte{
		nil,
		{},
		[]byte("x"),
		[]byte("/"),
		[]byte("/*ns"),                      // unterminated namespace
		[]byte("/*ns\x00\x00"),              // missing database level
		[]byte("/*ns\x00\x02db"),            // bad escape
		[]byte("/!cfshort"),                 // truncated stamp
		[]byte("/*a\x00\x00*b\x00\x00*c\x00\x00*\x01\x00"), // truncated int id
	}
	for _, raw := range bad {
		if _, err := Decode(raw); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Decode(%q): expected ErrInvalidKey, got %v", raw, err)
		}
	}
}

func TestTableRangeContainsOnlyTable(t *testing.T) {
	begin, end, err := TableRange("ns1", "db1", "t1")
	if err != nil {
		t.Fatalf("TableRange: %v", err)
	}
	inside := []Key{
		TableMeta("ns1", "db1", "t1"),
		Row("ns1", "db1", "t1", IntID(0)),
		Row("ns1", "db1", "t1", StringID("zzz")),
		Index("ns1", "db1", "t1", "ix", IntID(0)),
	}
	outside := []Key{
		Row("ns1", "db1", "t2", IntID(0)),
		Row("ns1", "db1", "t0", IntID(0)),
		Row("ns1", "db2", "t1", IntID(0)),
		TableMeta("ns1", "db1", "t10"),
	}
	for _, k := range inside {
		enc, _ := Encode(k)
		if bytes.Compare(enc, begin) < 0 || bytes.Compare(enc, end) >= 0 {
			t.Errorf("key %+v should fall inside the table range", k)
		}
	}
	for _, k := range outside {
		enc, _ := Encode(k)
		if bytes.Compare(enc, begin) >= 0 && bytes.Compare(enc, end) < 0 {
			t.Errorf("key %+v should fall outside the table range", k)
		}
	}
}

func TestRowRangeExcludesMetaAndIndexes(t *testing.T) {
	begin, end, err := RowRange("ns1", "db1", "t1")
	if err != nil {
		t.Fatalf("RowRange: %v", err)
	}
	row, _ := Encode(Row("ns1", "db1", "t1", IntID(5)))
	meta, _ := Encode(TableMeta("ns1", "db1", "t1"))
	ix, _ := Encode(Index("ns1", "db1", "t1", "ix", IntID(5)))
	if bytes.Compare(row, begin) < 0 || bytes.Compare(row, end) >= 0 {
		t.Error("row key should fall inside the row range")
	}
	for _, enc := range [][]byte{meta, ix} {
		if bytes.Compare(enc, begin) >= 0 && bytes.Compare(enc, end) < 0 {
			t.Errorf("key %q should fall outside the row range", enc)
		}
	}
}

func TestChangeFeedRangeIsExclusive(t *testing.T) {
	after := [10]byte{0, 0, 0, 0, 0, 0, 0, 5, 0, 0}
	begin, end := ChangeFeedRange(after)

	at, _ := Encode(ChangeFeed(after))
	if bytes.Compare(at, begin) >= 0 {
		t.Error("entry at the resume stamp should be excluded")
	}
	next, _ := Encode(ChangeFeed([10]byte{0, 0, 0, 0, 0, 0, 0, 6, 0, 0}))
	if bytes.Compare(next, begin) < 0 || bytes.Compare(next, end) >= 0 {
		t.Error("entry after the resume stamp should be included")
	}
}
