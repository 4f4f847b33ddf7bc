package internal

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/phughk/surrealdb/lib/db"
)

// CommitCommand is the single command type of the replicated state machine:
// one conditional batch, validated and applied deterministically by every
// replica. It mirrors db.Batch with compact msgpack tags since every commit
// travels through the raft log.
type CommitCommand struct {
	ReadVersion uint64  `msgpack:"v"`
	Reads       []Read  `msgpack:"r,omitempty"`
	Ranges      []Range `msgpack:"g,omitempty"`
	Writes      []Write `msgpack:"w,omitempty"`
}

type Read struct {
	Key     []byte `msgpack:"k"`
	Version uint64 `msgpack:"v"`
}

type Range struct {
	Begin []byte `msgpack:"b"`
	End   []byte `msgpack:"e"`
}

type Write struct {
	Key            []byte `msgpack:"k"`
	Value          []byte `msgpack:"v,omitempty"`
	Delete         bool   `msgpack:"d,omitempty"`
	Versionstamped bool   `msgpack:"s,omitempty"`
}

// FromBatch converts a db.Batch into its wire representation.
func FromBatch(b *db.Batch) CommitCommand {
	cmd := CommitCommand{ReadVersion: b.ReadVersion}
	for _, r := range b.Reads {
		cmd.Reads = append(cmd.Reads, Read{Key: r.Key, Version: r.Version})
	}
	for _, rg := range b.Ranges {
		cmd.Ranges = append(cmd.Ranges, Range{Begin: rg.Begin, End: rg.End})
	}
	for _, w := range b.Writes {
		cmd.Writes = append(cmd.Writes, Write{
			Key:            w.Key,
			Value:          w.Value,
			Delete:         w.Delete,
			Versionstamped: w.Versionstamped,
		})
	}
	return cmd
}

// ToBatch converts the wire representation back into a db.Batch.
func (c *CommitCommand) ToBatch() *db.Batch {
	b := &db.Batch{ReadVersion: c.ReadVersion}
	for _, r := range c.Reads {
		b.Reads = append(b.Reads, db.Read{Key: r.Key, Version: r.Version})
	}
	for _, rg := range c.Ranges {
		b.Ranges = append(b.Ranges, db.Range{Begin: rg.Begin, End: rg.End})
	}
	for _, w := range c.Writes {
		b.Writes = append(b.Writes, db.Write{
			Key:            w.Key,
			Value:          w.Value,
			Delete:         w.Delete,
			Versionstamped: w.Versionstamped,
		})
	}
	return b
}

// Serialize encodes the command for the raft log.
func (c *CommitCommand) Serialize() ([]byte, error) {
	return msgpack.Marshal(c)
}

// Deserialize decodes a command from a raft log entry.
func (c *CommitCommand) Deserialize(data []byte) error {
	return msgpack.Unmarshal(data, c)
}
