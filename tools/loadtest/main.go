package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/dustin/go-humanize"

	"github.com/SkynetNext/growbuf/internal/buffer"
	"github.com/SkynetNext/growbuf/internal/memory"
)

var (
	workers     = flag.Int("workers", 64, "Number of concurrent workers, each owning its own buffers")
	duration    = flag.Duration("duration", 30*time.Second, "Test duration")
	elementSize = flag.Int("element-size", 8, "Element size in bytes")
	maxPushes   = flag.Int("max-pushes", 4096, "Maximum elements pushed per buffer")
	allocKind   = flag.String("allocator", "pool", "Shared allocator (heap, pool)")
	quota       = flag.String("quota", "", "Byte budget shared by all workers, e.g. 64MB (empty = unlimited)")
	verbose     = flag.Bool("verbose", false, "Verbose output")
)

// Stats aggregates worker results; all fields are updated atomically
type Stats struct {
	Buffers           int64
	AllocationErrors  int64
	Pushes            int64
	Pops              int64
	GrowthFailures    int64
	VerificationFails int64
	BytesPushed       int64
}

type options struct {
	workers     int
	elementSize int
	maxPushes   int
	alloc       memory.Allocator
	verbose     bool
	out         io.Writer
}

func main() {
	flag.Parse()

	alloc, q, err := buildAllocator(*allocKind, *quota)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid allocator: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("=== growbuf Load Test ===\n")
	fmt.Printf("Workers: %d\n", *workers)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Element size: %d, max pushes: %d\n", *elementSize, *maxPushes)
	fmt.Printf("Allocator: %s, quota: %q\n", *allocKind, *quota)
	fmt.Printf("\n")

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	opts := options{
		workers:     *workers,
		elementSize: *elementSize,
		maxPushes:   *maxPushes,
		alloc:       alloc,
		verbose:     *verbose,
		out:         os.Stdout,
	}

	// Start stats reporter
	var stats Stats
	statsDone := make(chan struct{})
	go reportStats(ctx, &stats, os.Stdout, statsDone)

	startTime := time.Now()
	runLoad(ctx, opts, &stats)
	elapsed := time.Since(startTime)

	<-statsDone
	ok := printFinalReport(os.Stdout, &stats, elapsed)
	if q != nil && q.InUse() != 0 {
		fmt.Printf("❌ Quota still charged with %s after all buffers were released\n", humanize.IBytes(uint64(q.InUse())))
		ok = false
	}
	if !ok {
		os.Exit(1)
	}
}

// buildAllocator creates the shared allocator, optionally behind a quota
func buildAllocator(kind, quota string) (memory.Allocator, *memory.QuotaAllocator, error) {
	var alloc memory.Allocator
	switch kind {
	case "heap":
		alloc = memory.NewHeapAllocator()
	case "pool":
		p, err := memory.NewPoolAllocator(memory.DefaultPoolMinSize, memory.DefaultPoolMaxSize, memory.DefaultPoolFactor)
		if err != nil {
			return nil, nil, err
		}
		alloc = p
	default:
		return nil, nil, fmt.Errorf("unknown allocator %q", kind)
	}

	if quota == "" {
		return alloc, nil, nil
	}
	var limit datasize.ByteSize
	if err := limit.UnmarshalText([]byte(quota)); err != nil {
		return nil, nil, fmt.Errorf("invalid quota %q: %w", quota, err)
	}
	q := memory.NewQuotaAllocator(alloc, int64(limit.Bytes()))
	return q, q, nil
}

// runLoad runs opts.workers workers until ctx is done
func runLoad(ctx context.Context, opts options, stats *Stats) {
	var wg sync.WaitGroup
	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, uint64(time.Now().UnixNano())))
			for ctx.Err() == nil {
				runCycle(opts, rng, stats)
			}
		}(uint64(w))
	}
	wg.Wait()
}

// runCycle fills one buffer with a random number of elements and drains it again
func runCycle(opts options, rng *rand.Rand, stats *Stats) {
	atomic.AddInt64(&stats.Buffers, 1)

	target := 1 + rng.IntN(max(opts.maxPushes, 1))
	err := buffer.With(opts.elementSize, rng.IntN(8), func(b *buffer.Buffer) error {
		elem := make([]byte, opts.elementSize)
		var tmp [8]byte

		for i := 0; i < target; i++ {
			binary.LittleEndian.PutUint64(tmp[:], uint64(i))
			copy(elem, tmp[:])
			if err := b.Push(elem); err != nil {
				if errors.Is(err, buffer.ErrGrowthFailed) {
					atomic.AddInt64(&stats.GrowthFailures, 1)
					break
				}
				return err
			}
			atomic.AddInt64(&stats.Pushes, 1)
			atomic.AddInt64(&stats.BytesPushed, int64(opts.elementSize))
		}

		for b.Len() > 0 {
			i := b.Len() - 1
			if err := b.Pop(elem); err != nil {
				return err
			}
			atomic.AddInt64(&stats.Pops, 1)

			binary.LittleEndian.PutUint64(tmp[:], uint64(i))
			n := min(len(elem), len(tmp))
			if string(elem[:n]) != string(tmp[:n]) {
				atomic.AddInt64(&stats.VerificationFails, 1)
				return fmt.Errorf("element %d corrupted", i)
			}
		}
		return nil
	}, buffer.WithAllocator(opts.alloc), buffer.WithName("loadtest"))

	if err == nil {
		return
	}
	if errors.Is(err, buffer.ErrAllocationFailed) {
		atomic.AddInt64(&stats.AllocationErrors, 1)
	}
	if opts.verbose {
		fmt.Fprintf(opts.out, "❌ Cycle failed: %v\n", err)
	}
}

func reportStats(ctx context.Context, stats *Stats, out io.Writer, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printStats(out, stats)
		}
	}
}

func printStats(out io.Writer, stats *Stats) {
	fmt.Fprintf(out, "\r[Stats] Buffers: %d (alloc failed: %d) | Pushes: %d | Pops: %d | Growth failures: %d | Bytes: %s",
		atomic.LoadInt64(&stats.Buffers),
		atomic.LoadInt64(&stats.AllocationErrors),
		atomic.LoadInt64(&stats.Pushes),
		atomic.LoadInt64(&stats.Pops),
		atomic.LoadInt64(&stats.GrowthFailures),
		humanize.IBytes(uint64(atomic.LoadInt64(&stats.BytesPushed))),
	)
}

// printFinalReport prints the summary and reports whether the run was clean
func printFinalReport(out io.Writer, stats *Stats, elapsed time.Duration) bool {
	fmt.Fprintf(out, "\n\n=== Final Report ===\n")
	fmt.Fprintf(out, "Duration: %v\n", elapsed)

	buffers := atomic.LoadInt64(&stats.Buffers)
	pushes := atomic.LoadInt64(&stats.Pushes)
	pops := atomic.LoadInt64(&stats.Pops)
	bytesPushed := atomic.LoadInt64(&stats.BytesPushed)

	fmt.Fprintf(out, "\n--- Buffers ---\n")
	fmt.Fprintf(out, "Total: %d\n", buffers)
	fmt.Fprintf(out, "Allocation failures: %d\n", atomic.LoadInt64(&stats.AllocationErrors))
	fmt.Fprintf(out, "Growth failures: %d\n", atomic.LoadInt64(&stats.GrowthFailures))

	fmt.Fprintf(out, "\n--- Elements ---\n")
	fmt.Fprintf(out, "Pushes: %d\n", pushes)
	fmt.Fprintf(out, "Pops: %d\n", pops)
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(out, "Throughput: %.2f push/s, %s/s\n", float64(pushes)/secs, humanize.IBytes(uint64(float64(bytesPushed)/secs)))
	}

	verificationFails := atomic.LoadInt64(&stats.VerificationFails)
	fmt.Fprintf(out, "\n--- Errors ---\n")
	fmt.Fprintf(out, "Verification failures: %d\n", verificationFails)

	if verificationFails > 0 || pushes != pops {
		fmt.Fprintf(out, "\n❌ Test failed: corrupted or lost elements\n")
		return false
	}
	fmt.Fprintf(out, "\n✅ Test completed successfully\n")
	return true
}
