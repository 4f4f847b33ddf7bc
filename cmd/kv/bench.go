package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phughk/surrealdb/cmd/util"
	"github.com/phughk/surrealdb/lib/kvs"
)

var (
	benchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for storage backends",
		Long:    "",
		RunE:    runBench,
		PreRunE: processBenchConfig,
	}
	benchKeyPrefix  = "__bench"
	benchNumThreads = 10
	benchKeySpread  = 100
	benchSkip       = make([]string, 0)

	// benchConflicts counts commits that lost the optimistic race and
	// were retried
	benchConflicts atomic.Uint64
)

func init() {
	// add flags
	key := "skip"
	benchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	benchCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "keys"
	benchCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	benchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	benchKeySpread = viper.GetInt("keys")
	benchNumThreads = viper.GetInt("threads")
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runBench(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for storage backends")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Backend: %s\n", viper.GetString("backend"))
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Printf("Keys:    %d\n", benchKeySpread)
	fmt.Println()

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	setResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("set") {
			return
		}

		// prepare keys
		getKey, iter := benchKeys("set")

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := benchDel(k); err != nil {
					log.Printf("(set) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := benchSet(getKey(counter), []byte("test")); err != nil {
					log.Printf("(set) - error setting key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["set"] = setResult
	printResult("set", setResult)

	getResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("get") {
			return
		}

		// prepare keys
		getKey, iter := benchKeys("get")

		// set keys
		iter(func(k string) {
			if err := benchSet(k, []byte("test")); err != nil {
				log.Printf("(get) - error setting key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := benchDel(k); err != nil {
					log.Printf("(get) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, _, err := benchGet(getKey(counter)); err != nil {
					log.Printf("(get) - error getting key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["get"] = getResult
	printResult("get", getResult)

	deleteResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("delete") {
			return
		}

		// prepare keys
		getKey, iter := benchKeys("delete")

		// set keys
		iter(func(k string) {
			if err := benchSet(k, []byte("test")); err != nil {
				log.Printf("(delete) - error setting key: %v\n", err)
			}
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := benchDel(getKey(counter)); err != nil {
					log.Printf("(delete) - error deleting key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["delete"] = deleteResult
	printResult("delete", deleteResult)

	hasResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("has") {
			return
		}

		// prepare keys
		getKey, iter := benchKeys("has")

		// set keys
		iter(func(k string) {
			if err := benchSet(k, []byte("test")); err != nil {
				log.Printf("(has) - error setting key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := benchDel(k); err != nil {
					log.Printf("(has) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, err := benchHas(getKey(counter)); err != nil {
					log.Printf("(has) - error checking key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["has"] = hasResult
	printResult("has", hasResult)

	mixedUsageResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		// prepare keys
		getKey, iter := benchKeys("mixed")

		// set keys
		iter(func(k string) {
			if err := benchSet(k, []byte("test")); err != nil {
				log.Printf("(mixed) - error setting key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := benchDel(k); err != nil {
					log.Printf("(mixed) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				var err error
				switch counter % 4 {
				case 0: // set
					err = benchSet(key, []byte("test"))
				case 1: // get
					_, _, err = benchGet(key)
				case 2: // delete
					err = benchDel(key)
				case 3: // has
					_, err = benchHas(key)
				}

				if err != nil {
					log.Printf("(mixed) - error performing operation (%d): %v\n", counter%4, err)
				}
				counter++
			}
		})
	})

	results["mixed"] = mixedUsageResult
	printResult("mixed", mixedUsageResult)

	contendedResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("contended") {
			return
		}

		// all threads increment the same handful of counters, so most
		// commits race and the retry loop does real work
		getKey, iter := benchKeys("contended")

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := benchDel(k); err != nil {
					log.Printf("(contended) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := benchIncrement(getKey(counter % 5)); err != nil {
					log.Printf("(contended) - error incrementing key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["contended"] = contendedResult
	printResult("contended", contendedResult)
	fmt.Printf("%-20s%d commit(s) retried after a conflict\n", "", benchConflicts.Load())

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// single-operation wrappers around the transaction API

func benchSet(id string, value []byte) error {
	key, err := rowKey(id)
	if err != nil {
		return err
	}
	_, err = withWriteTx(func(ctx context.Context, tx *kvs.Transaction) error {
		return tx.Set(ctx, key, value)
	})
	return err
}

func benchDel(id string) error {
	key, err := rowKey(id)
	if err != nil {
		return err
	}
	_, err = withWriteTx(func(ctx context.Context, tx *kvs.Transaction) error {
		return tx.Del(ctx, key)
	})
	return err
}

func benchGet(id string) ([]byte, bool, error) {
	key, err := rowKey(id)
	if err != nil {
		return nil, false, err
	}
	var (
		value []byte
		found bool
	)
	err = withReadTx(func(ctx context.Context, tx *kvs.Transaction) error {
		value, found, err = tx.Get(ctx, key)
		return err
	})
	return value, found, err
}

func benchHas(id string) (bool, error) {
	key, err := rowKey(id)
	if err != nil {
		return false, err
	}
	var found bool
	err = withReadTx(func(ctx context.Context, tx *kvs.Transaction) error {
		found, err = tx.Exists(ctx, key)
		return err
	})
	return found, err
}

// benchIncrement does a read-modify-write on a shared counter, retrying on
// conflict and counting the retries
func benchIncrement(id string) error {
	key, err := rowKey(id)
	if err != nil {
		return err
	}
	ctx := context.Background()
	for {
		tx, err := dataStore.Begin(ctx, kvs.ReadWrite)
		if err != nil {
			return err
		}
		value, _, err := tx.Get(ctx, key)
		if err != nil {
			_ = tx.Cancel()
			return err
		}
		n, _ := strconv.Atoi(string(value))
		if err := tx.Set(ctx, key, []byte(strconv.Itoa(n+1))); err != nil {
			_ = tx.Cancel()
			return err
		}
		if _, err := tx.Commit(ctx); err == nil {
			return nil
		} else if kvs.IsConflict(err) {
			benchConflicts.Add(1)
			continue
		} else {
			return err
		}
	}
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func benchKeys(prefix string) (func(int) string, func(func(string))) {
	ks := make([]string, benchKeySpread)
	for i := 0; i < benchKeySpread; i++ {
		ks[i] = fmt.Sprintf("%s-%s-%d", benchKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return ks[i%benchKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range ks {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Backend", "Threads", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
			nsPerOp = 0
			opsPerSec = 0
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			viper.GetString("backend"),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
