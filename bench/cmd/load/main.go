// Command load fills a tree file with sequential keys and reports the write
// rate, checkpointing after every few batches.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/alexhholmes/gbptree"
	"github.com/alexhholmes/gbptree/layout"
)

func main() {
	path := flag.String("path", "/tmp/gbptree_load.db", "tree file, replaced")
	targetGB := flag.Float64("gb", 1, "bytes of entries to write, in GB")
	valueSize := flag.Int("value", 512, "value size in bytes")
	batchSize := flag.Int("batch", 10_000, "inserts per writer")
	checkpointEvery := flag.Int("checkpoint", 10, "batches per checkpoint")
	mmap := flag.Bool("mmap", false, "map the file instead of pread/pwrite")
	flag.Parse()

	if err := run(*path, *targetGB, *valueSize, *batchSize, *checkpointEvery, *mmap); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string, targetGB float64, valueSize, batchSize, checkpointEvery int, mmap bool) error {
	_ = os.Remove(path)

	options := []gbptree.Option{gbptree.WithSyncMode(gbptree.SyncOff)}
	if mmap {
		options = append(options, gbptree.WithMMap())
	}
	tree, err := gbptree.OpenFile[[]byte, []byte](path, layout.Bytes{}, options...)
	if err != nil {
		return err
	}
	defer tree.Close()

	totalRecords := uint64(targetGB * (1 << 30) / float64(8+valueSize))
	fmt.Printf("Target: %.1fGB, Records: %d, Batch: %d\n\n", targetGB, totalRecords, batchSize)

	value := make([]byte, valueSize)
	for i := range value {
		value[i] = byte(i % 256)
	}

	start := time.Now()
	lastPrint := start
	batches, records := 0, uint64(0)
	for records < totalRecords {
		w, err := tree.Writer()
		if err != nil {
			return err
		}
		end := min(records+uint64(batchSize), totalRecords)
		for i := records; i < end; i++ {
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, i)
			if err := w.Insert(key, value); err != nil {
				_ = w.Close()
				return err
			}
		}
		if err := w.Close(); err != nil {
			return err
		}
		records = end
		batches++

		if batches%checkpointEvery == 0 {
			if _, err := tree.Checkpoint(context.Background()); err != nil {
				return err
			}
		}

		if now := time.Now(); now.Sub(lastPrint) >= time.Second {
			elapsed := now.Sub(start).Seconds()
			fmt.Printf("\rBatches: %d | Records: %d (%.0f rec/s) | %.2f GB",
				batches, records, float64(records)/elapsed, float64(records*uint64(8+valueSize))/(1<<30))
			lastPrint = now
		}
	}

	elapsed := time.Since(start).Seconds()
	stats := tree.Stats()
	fmt.Printf("\n\nCompleted:\n")
	fmt.Printf("  Time:     %.2fs\n", elapsed)
	fmt.Printf("  Records:  %d (%.0f rec/s)\n", records, float64(records)/elapsed)
	fmt.Printf("  Height:   %d\n", stats.Height)
	fmt.Printf("  Pages:    %d (%d free)\n", stats.NumPages, stats.FreePages)
	fmt.Printf("  Written:  %.2f GB\n", float64(stats.Store.Written)/(1<<30))
	return nil
}
