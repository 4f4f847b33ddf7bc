package kv

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phughk/surrealdb/cmd/util"
	"github.com/phughk/surrealdb/lib/keys"
	"github.com/phughk/surrealdb/lib/kvs"
)

var (
	dataStore *kvs.Datastore

	// key placement for all subcommands
	namespace string
	database  string
	table     string

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value store operations",
		PersistentPreRunE:  setupDatastore,
		PersistentPostRunE: teardownDatastore,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common backend flags to the KV command
	KeyValueCommands.PersistentFlags().String("backend", "memory", util.WrapString("Storage backend to operate on ('memory' or 'file:<path>')"))
	KeyValueCommands.PersistentFlags().String("ns", "default", util.WrapString("Namespace the keys are placed under"))
	KeyValueCommands.PersistentFlags().String("db", "default", util.WrapString("Database the keys are placed under"))
	KeyValueCommands.PersistentFlags().String("table", "kv", util.WrapString("Table the keys are placed under"))

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(changesCmd)
	KeyValueCommands.AddCommand(benchCmd)
}

// setupDatastore opens the datastore the subcommands operate on
func setupDatastore(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	namespace = viper.GetString("ns")
	database = viper.GetString("db")
	table = viper.GetString("table")

	var err error
	dataStore, err = util.OpenDatastore(viper.GetString("backend"), kvs.Config{
		TxIdleTimeout:   time.Minute,
		ChangeFeed:      true,
		ChangeRetention: time.Hour,
	})
	return err
}

func teardownDatastore(_ *cobra.Command, _ []string) error {
	return dataStore.Close()
}

// rowKey encodes a record identifier into its storage key
func rowKey(id string) ([]byte, error) {
	return keys.Encode(keys.Row(namespace, database, table, keys.StringID(id)))
}

// tableRange returns the key range covering the whole table
func tableRange() ([]byte, []byte, error) {
	return keys.RowRange(namespace, database, table)
}

// withWriteTx runs fn inside a read-write transaction and commits it,
// retrying the whole attempt whenever the commit loses an optimistic race.
// Returns the commit version of the successful attempt.
func withWriteTx(fn func(ctx context.Context, tx *kvs.Transaction) error) (uint64, error) {
	ctx := context.Background()
	for {
		tx, err := dataStore.Begin(ctx, kvs.ReadWrite)
		if err != nil {
			return 0, err
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.Cancel()
			return 0, err
		}
		version, err := tx.Commit(ctx)
		if err == nil {
			return version, nil
		}
		if !kvs.IsConflict(err) {
			return 0, err
		}
	}
}

// withReadTx runs fn inside a read-only transaction
func withReadTx(fn func(ctx context.Context, tx *kvs.Transaction) error) error {
	ctx := context.Background()
	tx, err := dataStore.Begin(ctx, kvs.ReadOnly)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Cancel() }()
	return fn(ctx, tx)
}
