package internal

import (
	"bytes"
	"testing"

	"github.com/phughk/surrealdb/lib/db"
)

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command CommitCommand
	}{
		{
			name:    "Empty batch",
			command: CommitCommand{ReadVersion: 7},
		},
		{
			name: "Blind write",
			command: CommitCommand{
				ReadVersion: 3,
				Writes: []Write{
					{Key: []byte("/key"), Value: []byte("value")},
				},
			},
		},
		{
			name: "Delete and versionstamped write",
			command: CommitCommand{
				ReadVersion: 42,
				Writes: []Write{
					{Key: []byte("/gone"), Delete: true},
					{Key: append([]byte("/!cf*"), make([]byte, 10)...), Value: []byte("set"), Versionstamped: true},
				},
			},
		},
		{
			name: "Fully conditional batch",
			command: CommitCommand{
				ReadVersion: 100,
				Reads: []Read{
					{Key: []byte("/a"), Version: 99},
					{Key: []byte("/b"), Version: 0},
				},
				Ranges: []Range{
					{Begin: []byte("/begin"), End: []byte("/end")},
				},
				Writes: []Write{
					{Key: []byte("/c"), Value: []byte{0, 1, 2, 254, 255}},
				},
			},
		},
		{
			name: "Max read version",
			command: CommitCommand{
				ReadVersion: 18446744073709551615, // Max uint64
				Writes:      []Write{{Key: []byte("/k"), Value: []byte("v")}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.command.Serialize()
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}

			var decoded CommitCommand
			if err := decoded.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if decoded.ReadVersion != tt.command.ReadVersion {
				t.Errorf("ReadVersion mismatch: got %v, want %v", decoded.ReadVersion, tt.command.ReadVersion)
			}
			if len(decoded.Reads) != len(tt.command.Reads) {
				t.Fatalf("Reads length mismatch: got %d, want %d", len(decoded.Reads), len(tt.command.Reads))
			}
			for i, r := range tt.command.Reads {
				if !bytes.Equal(decoded.Reads[i].Key, r.Key) || decoded.Reads[i].Version != r.Version {
					t.Errorf("Read %d mismatch: got %+v, want %+v", i, decoded.Reads[i], r)
				}
			}
			if len(decoded.Ranges) != len(tt.command.Ranges) {
				t.Fatalf("Ranges length mismatch: got %d, want %d", len(decoded.Ranges), len(tt.command.Ranges))
			}
			for i, rg := range tt.command.Ranges {
				if !bytes.Equal(decoded.Ranges[i].Begin, rg.Begin) || !bytes.Equal(decoded.Ranges[i].End, rg.End) {
					t.Errorf("Range %d mismatch: got %+v, want %+v", i, decoded.Ranges[i], rg)
				}
			}
			if len(decoded.Writes) != len(tt.command.Writes) {
				t.Fatalf("Writes length mismatch: got %d, want %d", len(decoded.Writes), len(tt.command.Writes))
			}
			for i, w := range tt.command.Writes {
				got := decoded.Writes[i]
				if !bytes.Equal(got.Key, w.Key) || !bytes.Equal(got.Value, w.Value) ||
					got.Delete != w.Delete || got.Versionstamped != w.Versionstamped {
					t.Errorf("Write %d mismatch: got %+v, want %+v", i, got, w)
				}
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	var cmd CommitCommand
	if err := cmd.Deserialize([]byte{0xc1}); err == nil {
		t.Errorf("expected invalid msgpack input to fail")
	}
	if err := cmd.Deserialize([]byte("not msgpack at all")); err == nil {
		t.Errorf("expected garbage input to fail")
	}
}

// TestBatchConversion tests the round trip through db.Batch
func TestBatchConversion(t *testing.T) {
	batch := &db.Batch{
		ReadVersion: 9,
		Reads:       []db.Read{{Key: []byte("/r"), Version: 5}},
		Ranges:      []db.Range{{Begin: []byte("/x"), End: []byte("/y")}},
		Writes: []db.Write{
			{Key: []byte("/w"), Value: []byte("v")},
			{Key: []byte("/d"), Delete: true},
		},
	}

	cmd := FromBatch(batch)
	back := cmd.ToBatch()

	if back.ReadVersion != batch.ReadVersion {
		t.Errorf("ReadVersion mismatch: got %d, want %d", back.ReadVersion, batch.ReadVersion)
	}
	if len(back.Reads) != 1 || !bytes.Equal(back.Reads[0].Key, []byte("/r")) || back.Reads[0].Version != 5 {
		t.Errorf("Reads mismatch: %+v", back.Reads)
	}
	if len(back.Ranges) != 1 || !bytes.Equal(back.Ranges[0].Begin, []byte("/x")) || !bytes.Equal(back.Ranges[0].End, []byte("/y")) {
		t.Errorf("Ranges mismatch: %+v", back.Ranges)
	}
	if len(back.Writes) != 2 || !back.Writes[1].Delete {
		t.Errorf("Writes mismatch: %+v", back.Writes)
	}
}
