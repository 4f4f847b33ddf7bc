package kv

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/phughk/surrealdb/lib/db"
	"github.com/phughk/surrealdb/lib/keys"
	"github.com/phughk/surrealdb/lib/kvs"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := rowKey(args[0])
			if err != nil {
				return err
			}
			version, err := withWriteTx(func(ctx context.Context, tx *kvs.Transaction) error {
				return tx.Set(ctx, key, []byte(args[1]))
			})
			if err != nil {
				return err
			}
			fmt.Printf("set successfully (version=%d)\n", version)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := rowKey(args[0])
			if err != nil {
				return err
			}
			return withReadTx(func(ctx context.Context, tx *kvs.Transaction) error {
				resp, ok, err := tx.Get(ctx, key)
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, found=%v, resp=%s\n", args[0], ok, resp)
				return nil
			})
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := rowKey(args[0])
			if err != nil {
				return err
			}
			if _, err := withWriteTx(func(ctx context.Context, tx *kvs.Transaction) error {
				return tx.Del(ctx, key)
			}); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := rowKey(args[0])
			if err != nil {
				return err
			}
			return withReadTx(func(ctx context.Context, tx *kvs.Transaction) error {
				found, err := tx.Exists(ctx, key)
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, found=%t\n", args[0], found)
				return nil
			})
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Lists all key value pairs in the table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			begin, end, err := tableRange()
			if err != nil {
				return err
			}
			return withReadTx(func(ctx context.Context, tx *kvs.Transaction) error {
				cursor, err := tx.Scan(ctx, db.Range{Begin: begin, End: end}, 0)
				if err != nil {
					return err
				}
				count := 0
				for {
					k, v, ok, err := cursor.Next(ctx)
					if err != nil {
						return err
					}
					if !ok {
						break
					}
					fmt.Printf("key=%s, value=%s\n", formatKey(k), v)
					count++
				}
				fmt.Printf("%d key(s)\n", count)
				return nil
			})
		},
	}
	changesCmd = &cobra.Command{
		Use:   "changes [fromVersion]",
		Short: "Prints the change feed from the given version onwards",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var from uint64
			if len(args) == 1 {
				v, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("fromVersion must be a number: %w", err)
				}
				from = v
			}

			ctx := context.Background()
			cursor, err := dataStore.Changes(ctx, from)
			if err != nil {
				return err
			}
			for {
				set, ok, err := cursor.Next(ctx)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				fmt.Printf("version=%d, at=%s\n", set.Version, set.At)
				for _, record := range set.Records {
					fmt.Printf("  key=%s, old=%s, new=%s\n", formatKey(record.Key), record.Old, record.New)
				}
			}
			return nil
		},
	}
)

// formatKey renders an encoded key as its record identifier where possible,
// falling back to the raw bytes
func formatKey(raw []byte) string {
	k, err := keys.Decode(raw)
	if err != nil {
		return fmt.Sprintf("%q", raw)
	}
	switch id := k.ID.(type) {
	case keys.StringID:
		return string(id)
	case keys.IntID:
		return strconv.FormatInt(int64(id), 10)
	default:
		return fmt.Sprintf("%q", raw)
	}
}
