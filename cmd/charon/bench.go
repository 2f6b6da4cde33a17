package main

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"stratos-hq/charon/pkg/cli"
)

var benchFlags struct {
	target      string
	requests    int
	concurrency int
	timeout     time.Duration
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load test a running proxy",
	Long: `Send a fixed number of HTTP GET requests to a running proxy and
report throughput and latency percentiles.

Examples:
  # Hit a reverse proxy's routed path
  charon bench --target http://localhost:8080/api/users

  # Heavier load
  charon bench --target http://localhost:8080/ --requests 5000 --concurrency 50`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringVar(&benchFlags.target, "target", "http://localhost:8080/", "URL to request")
	benchCmd.Flags().IntVar(&benchFlags.requests, "requests", 1000, "total requests to send")
	benchCmd.Flags().IntVar(&benchFlags.concurrency, "concurrency", 10, "concurrent clients")
	benchCmd.Flags().DurationVar(&benchFlags.timeout, "timeout", 10*time.Second, "per-request timeout")
}

func runBench(cmd *cobra.Command, args []string) error {
	fmt.Printf("target: %s\nrequests: %d\nconcurrency: %d\n\n",
		benchFlags.target, benchFlags.requests, benchFlags.concurrency)

	client := &http.Client{Timeout: benchFlags.timeout}

	var (
		succeeded atomic.Int64
		failed    atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, benchFlags.requests)
	)

	progress := cli.NewProgressReporter(nil)
	progress.Start(int64(benchFlags.requests))

	jobs := make(chan struct{}, benchFlags.requests)
	for i := 0; i < benchFlags.requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < benchFlags.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				reqStart := time.Now()
				resp, err := client.Get(benchFlags.target)
				if err != nil {
					failed.Add(1)
				} else {
					io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
					if resp.StatusCode < 500 {
						succeeded.Add(1)
					} else {
						failed.Add(1)
					}
					mu.Lock()
					latencies = append(latencies, time.Since(reqStart))
					mu.Unlock()
				}
				progress.Update(succeeded.Load() + failed.Load())
			}
		}()
	}
	wg.Wait()
	progress.Finish()

	elapsed := time.Since(start)
	fmt.Println()
	fmt.Printf("requests:   %d total, %d succeeded, %d failed\n",
		benchFlags.requests, succeeded.Load(), failed.Load())
	fmt.Printf("duration:   %.1fs\n", elapsed.Seconds())
	fmt.Printf("throughput: %.1f req/s\n", float64(benchFlags.requests)/elapsed.Seconds())

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		fmt.Println("\nlatency:")
		fmt.Printf("  min:    %s\n", latencies[0].Round(time.Microsecond))
		fmt.Printf("  median: %s\n", latencies[len(latencies)/2].Round(time.Microsecond))
		fmt.Printf("  p95:    %s\n", percentile(latencies, 0.95).Round(time.Microsecond))
		fmt.Printf("  p99:    %s\n", percentile(latencies, 0.99).Round(time.Microsecond))
		fmt.Printf("  max:    %s\n", latencies[len(latencies)-1].Round(time.Microsecond))
	}
	return nil
}

// percentile returns the p-th percentile of sorted durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
