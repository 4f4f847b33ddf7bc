package serve

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/phughk/surrealdb/cmd/util"
	"github.com/phughk/surrealdb/lib/db"
	"github.com/phughk/surrealdb/lib/db/engines/birch"
	dbUtil "github.com/phughk/surrealdb/lib/db/util"
	"github.com/phughk/surrealdb/lib/kvs/clusterkv"
)

var (
	serveCmdConfig = &Config{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a replicated storage shard",
		Long:    `Start a storage replica with the specified configuration. The replica joins the raft shard and hosts the storage engine as its state machine. The configuration can be set via command line flags or environment variables. The format of the environment variables is SURREALDB_<flag> (e.g. SURREALDB_DATA_DIR=/var/data)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "shard-id"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("ID of the raft shard this replica serves"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Other raft configuration parameters (ElectionRTT, HeartbeatRTT) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10000, cmdUtil.WrapString("SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5000, cmdUtil.WrapString("CompactionOverhead defines the number of applied entries that should be retained in the raft log after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory used for storing the raft log and snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts them to the replica configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.ShardID = viper.GetUint64("shard-id")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	// parse replica id
	id := viper.GetString("replica-id")
	if id == "" {
		return fmt.Errorf("replica-id is required")
	}
	serveCmdConfig.ReplicaID = uint64(dbUtil.HashString(id, 0))

	// parse cluster members
	clusterMembers := viper.GetString("cluster-members")
	if clusterMembers == "" {
		return fmt.Errorf("cluster-members is required")
	}
	serveCmdConfig.ClusterMembers = make(map[uint64]string)
	for _, member := range strings.Split(clusterMembers, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 {
			return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		idHash := dbUtil.HashString(strings.TrimSpace(parts[0]), 0)
		serveCmdConfig.ClusterMembers[uint64(idHash)] = strings.TrimSpace(parts[1])
	}

	// test if the replica id is in the cluster members
	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica ID %q in cluster members", id)
	}

	return nil
}

// run starts the replica and blocks until it is signalled to stop
func run(_ *cobra.Command, _ []string) error {
	InitLoggers(serveCmdConfig.LogLevel)

	fmt.Print(serveCmdConfig.String())

	nh, err := dragonboat.NewNodeHost(serveCmdConfig.ToNodeHostConfig())
	if err != nil {
		return fmt.Errorf("create node host: %w", err)
	}
	defer nh.Close()

	factory := clusterkv.CreateStateMachineFactory(func() db.Engine {
		return birch.NewBirchDB(nil)
	})

	err = nh.StartConcurrentReplica(
		serveCmdConfig.ClusterMembers,
		false,
		factory,
		serveCmdConfig.ToDragonboatConfig(),
	)
	if err != nil {
		return fmt.Errorf("start replica: %w", err)
	}

	// block until the process is asked to stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	return nil
}

// initConfig reads in ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("surrealdb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
