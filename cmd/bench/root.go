// Package bench implements loadctl's "bench" subcommand: a parallel
// throughput microbenchmark against a running grid, built on a real
// testing.Benchmark run instead of a hand-rolled timer loop.
package bench

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/griddata/loader/cmd/util"
	"github.com/griddata/loader/config"
	"github.com/griddata/loader/internal/wiring"
)

var (
	benchCfg *config.Config

	// BenchCmd represents the bench command
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Run a throughput benchmark against a running grid",
		Long:    "",
		PreRunE: processConfig,
		RunE:    run,
	}

	benchKeyPrefix = "__bench"
	benchThreads   = 10
	benchKeySpread = 100
	benchEntrySize = 64
	benchBatchSize = 1
	benchSkip      = make([]string, 0)
)

func init() {
	key := "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines to use for the benchmark"))
	key = "keys"
	BenchCmd.Flags().Int(key, 1000, util.WrapString("How many different keys to spread load across"))
	key = "value-size"
	BenchCmd.Flags().Int(key, 64, util.WrapString("Size of the benchmark value in bytes"))
	key = "batch"
	BenchCmd.Flags().Int(key, 1, util.WrapString("Flush benchmark: AddOne calls between explicit Flush calls"))
	key = "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. add,flush)"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))

	util.SetupLoaderFlags(BenchCmd)
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	benchCfg = util.GetConfig()
	benchThreads = viper.GetInt("threads")
	benchKeySpread = viper.GetInt("keys")
	benchEntrySize = viper.GetInt("value-size")
	benchBatchSize = viper.GetInt("batch")
	if benchBatchSize <= 0 {
		benchBatchSize = 1
	}
	if skip := viper.GetString("skip"); skip != "" {
		benchSkip = strings.Split(skip, ",")
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Throughput benchmark for the data loader")
	fmt.Println()
	fmt.Println(benchCfg.String())
	fmt.Printf("Threads: %d, Keys: %d, Batch: %d\n", benchThreads, benchKeySpread, benchBatchSize)
	fmt.Println()

	grid, err := wiring.Build(benchCfg, nil)
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	ctx := context.Background()
	defer func() {
		if err := grid.Close(ctx, true); err != nil {
			log.Printf("bench: close: %v\n", err)
		}
	}()

	results := make(map[string]testing.BenchmarkResult)

	addResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("add") {
			return
		}

		value := make([]byte, benchEntrySize)
		getKey, iterKeys := keyFns("add")

		b.Cleanup(func() {
			iterKeys(func(k string) {
				_ = grid.Loader.RemoveData(ctx, k).Wait(ctx)
			})
		})

		b.SetParallelism(benchThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				var v any = append([]byte(nil), value...)
				if err := grid.Loader.AddOne(ctx, getKey(counter), &v).Wait(ctx); err != nil {
					log.Printf("(add) - error adding key: %v\n", err)
				}
				counter++
			}
		})
	})
	results["add"] = addResult
	printResult("add", addResult)

	flushResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("flush") {
			return
		}

		value := make([]byte, benchEntrySize)
		getKey, iterKeys := keyFns("flush")

		b.Cleanup(func() {
			iterKeys(func(k string) {
				_ = grid.Loader.RemoveData(ctx, k).Wait(ctx)
			})
		})

		b.SetParallelism(benchThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				var v any = append([]byte(nil), value...)
				grid.Loader.AddOne(ctx, getKey(counter), &v)
				if counter%benchBatchSize == 0 {
					if err := grid.Loader.Flush(ctx); err != nil {
						log.Printf("(flush) - error flushing: %v\n", err)
					}
				}
				counter++
			}
		})
	})
	results["flush"] = flushResult
	printResult("flush", flushResult)

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("bench: failed to export results: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

func keyFns(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, benchKeySpread)
	for i := 0; i < benchKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", benchKeyPrefix, prefix, i)
	}

	getKey := func(i int) string {
		return keys[i%benchKeySpread]
	}

	iterKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterKeys
}

func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped", "Threads", "Keys", "ValueSizeBytes", "Batch", "Cache"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		var skipped string
		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			nsPerOp = float64(result.NsPerOp())
			opsPerSec = 1.0 / (nsPerOp / 1e9)
			skipped = "false"
		}

		row := []string{
			test,
			strconv.FormatFloat(nsPerOp, 'f', 2, 64),
			time.Duration(int64(nsPerOp)).String(),
			strconv.FormatFloat(opsPerSec, 'f', 2, 64),
			skipped,
			strconv.Itoa(benchThreads),
			strconv.Itoa(benchKeySpread),
			strconv.Itoa(benchEntrySize),
			strconv.Itoa(benchBatchSize),
			benchCfg.CacheName,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %v", err)
		}
	}

	return nil
}
