package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phughk/surrealdb/cmd/kv"
	"github.com/phughk/surrealdb/cmd/serve"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "surrealdb",
		Short: "transactional key-value storage",
		Long: fmt.Sprintf(`surrealdb storage core (v%s)

A transactional key-value storage layer with optimistic concurrency
control, pluggable backends and a versioned change feed.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("surrealdb storage core v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
