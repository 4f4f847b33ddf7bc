package serve

import (
	"fmt"
	"strings"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions to interface with Dragonboat
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections
// and heartbeats. These default values are selected according to the RAFT
// paper.
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// Config holds all configuration parameters for a storage replica.
type Config struct {
	// ShardID is the raft shard this replica serves
	ShardID uint64

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// Logging configuration
	LogLevel string
}

// ToDragonboatConfig converts the replica Config to a Dragonboat shard config
func (c *Config) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *Config) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Replica")
	addField("Shard ID", fmt.Sprintf("%d", c.ShardID))
	addField("Replica ID", fmt.Sprintf("%d", c.ReplicaID))
	addField("Data Dir", c.DataDir)

	addSection("Raft")
	addField("RTT", fmt.Sprintf("%d ms", c.RTTMillisecond))
	addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
	addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

	addSection("Cluster Members")
	for id, addr := range c.ClusterMembers {
		addField(fmt.Sprintf("%d", id), addr)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
