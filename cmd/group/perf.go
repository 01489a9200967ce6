package group

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/kStorage/cmd/util"
	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for kStorage servers",
		Long: `Runs write, read, size, list and digest benchmarks against one group of the store.
The group is allocated unless --group is given. Records written by the
benchmarks are removed afterwards.`,
		PreRunE: processPerfConfig,
		RunE:    runPerf,
	}
	perfGroup       = -1
	perfThreads     = 10
	perfIDs         = 100
	perfLargeSizeKB = 100
	perfSkip        []string
)

func init() {
	flags := perfCmd.Flags()
	flags.Int("group", -1, util.WrapString("Group to benchmark, -1 allocates a new one"))
	flags.String("skip", "", util.WrapString("Benchmarks to skip (comma separated, e.g. write,list)"))
	flags.Int("threads", 10, util.WrapString("Number of goroutines issuing requests"))
	flags.Int("ids", 100, util.WrapString("How many different record ids the benchmarks use"))
	flags.Int("large-value-size", 100, util.WrapString("Size of the value of the write-large benchmark in KB"))
	flags.String("csv", "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	perfGroup = viper.GetInt("group")
	perfThreads = max(viper.GetInt("threads"), 1)
	perfIDs = max(viper.GetInt("ids"), 1)
	perfLargeSizeKB = max(viper.GetInt("large-value-size"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

// perfCase is one benchmark. prepare runs before the timer starts.
type perfCase struct {
	name    string
	prepare func() error
	op      func(i int) error
}

func runPerf(_ *cobra.Command, _ []string) error {
	gid := perfGroup
	if gid < 0 {
		var err error
		if gid, err = rpcStore.AllocateGroup(); err != nil {
			return fmt.Errorf("failed to allocate a group: %w", err)
		}
	}

	fmt.Println("Performance testing tool for kStorage servers")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Group: %d, Threads: %d, IDs: %d\n\n", gid, perfThreads, perfIDs)

	small := []byte("test")
	large := make([]byte, perfLargeSizeKB*1024)
	fill := func(value []byte) func() error {
		return func() error {
			for id := 0; id < perfIDs; id++ {
				if err := rpcStore.Write(gid, int64(id), value, 0, len(value)); err != nil {
					return err
				}
			}
			return nil
		}
	}

	cases := []perfCase{
		{
			name: "write",
			op: func(i int) error {
				return rpcStore.Write(gid, int64(i%perfIDs), small, 0, len(small))
			},
		},
		{
			name: "write-large",
			op: func(i int) error {
				return rpcStore.Write(gid, int64(i%perfIDs), large, 0, len(large))
			},
		},
		{
			name:    "read",
			prepare: fill(small),
			op: func(i int) error {
				_, err := rpcStore.Read(gid, int64(i%perfIDs), make([]byte, len(small)), 0, len(small))
				return err
			},
		},
		{
			name:    "read-large",
			prepare: fill(large),
			op: func(i int) error {
				_, err := rpcStore.Read(gid, int64(i%perfIDs), make([]byte, len(large)), 0, len(large))
				return err
			},
		},
		{
			name:    "size",
			prepare: fill(small),
			op: func(int) error {
				_, err := rpcStore.GroupSize(gid)
				return err
			},
		},
		{
			name:    "list",
			prepare: fill(small),
			op: func(int) error {
				_, err := rpcStore.ListIDs(gid, make([]byte, kstorage.IDSize*perfIDs), perfIDs)
				return err
			},
		},
		{
			name:    "digest",
			prepare: fill(small),
			op: func(int) error {
				_, err := rpcStore.Digest(gid)
				return err
			},
		},
	}

	results := make(map[string]testing.BenchmarkResult, len(cases))
	for _, c := range cases {
		if slices.Contains(perfSkip, c.name) {
			printResult(c.name, testing.BenchmarkResult{})
			continue
		}
		if c.prepare != nil {
			if err := c.prepare(); err != nil {
				return fmt.Errorf("(%s) failed to prepare: %w", c.name, err)
			}
		}
		results[c.name] = benchmark(c)
		printResult(c.name, results[c.name])
	}

	cleanup(gid)

	if path := viper.GetString("csv"); path != "" {
		if err := writeResultsToCSV(path, gid, results); err != nil {
			return err
		}
		fmt.Printf("\nresults written to %s\n", path)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// benchmark runs op from perfThreads goroutines, errors are logged and counted
func benchmark(c perfCase) testing.BenchmarkResult {
	var failures atomic.Int64
	result := testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfThreads)
		var counter atomic.Int64
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if err := c.op(int(counter.Add(1))); err != nil {
					if failures.Add(1) == 1 {
						log.Printf("(%s) - %v\n", c.name, err)
					}
				}
			}
		})
	})
	if n := failures.Load(); n > 0 {
		log.Printf("(%s) - %d requests failed\n", c.name, n)
	}
	return result
}

// cleanup removes the records used by the benchmarks
func cleanup(gid int) {
	for id := 0; id < perfIDs; id++ {
		_ = rpcStore.Remove(gid, int64(id))
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.N == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}
	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1e9 / nsPerOp
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(path string, gid int, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	config := util.GetClientConfig()
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec",
		"Endpoints", "Transport", "Serializer", "ConnectionsPerEndpoint",
		"ShardID", "Group", "Threads", "IDs", "LargeValueSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		nsPerOp := math.Max(float64(results[name].NsPerOp()), 1)
		row := []string{
			name,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1e9/nsPerOp),
			strings.Join(config.Transport.Endpoints, ";"),
			viper.GetString("transport"),
			viper.GetString("serializer"),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			strconv.Itoa(gid),
			strconv.Itoa(perfThreads),
			strconv.Itoa(perfIDs),
			strconv.Itoa(perfLargeSizeKB),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", name, err)
		}
	}
	return nil
}
