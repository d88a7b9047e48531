package bench

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/dgraph-io/badger/v4"
	bolt "go.etcd.io/bbolt"

	"github.com/alexhholmes/gbptree"
	"github.com/alexhholmes/gbptree/layout"
)

var (
	benchTreeOnly = flag.Bool("gbptree", false, "run only gbptree benchmarks")
)

const (
	benchValueSize  = 256
	benchNumRecords = 10000
)

var bucketName = []byte("bench")

func key(i int) []byte {
	return []byte(fmt.Sprintf("key-%020d", i))
}

func openTree(b *testing.B) *gbptree.Tree[[]byte, []byte] {
	b.Helper()
	tree, err := gbptree.OpenFile[[]byte, []byte](filepath.Join(b.TempDir(), "tree.db"), layout.Bytes{},
		gbptree.WithSyncMode(gbptree.SyncOff))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = tree.Close() })
	return tree
}

func loadTree(b *testing.B, tree *gbptree.Tree[[]byte, []byte], n int, value []byte) {
	b.Helper()
	w, err := tree.Writer()
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if err := w.Insert(key(i), value); err != nil {
			b.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		b.Fatal(err)
	}
	if _, err := tree.Checkpoint(context.Background()); err != nil {
		b.Fatal(err)
	}
}

func openBolt(b *testing.B) *bolt.DB {
	b.Helper()
	db, err := bolt.Open(filepath.Join(b.TempDir(), "bolt.db"), 0600, &bolt.Options{NoSync: true})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = db.Close() })
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		b.Fatal(err)
	}
	return db
}

func openPebble(b *testing.B) *pebble.DB {
	b.Helper()
	db, err := pebble.Open(filepath.Join(b.TempDir(), "pebble"), &pebble.Options{})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = db.Close() })
	return db
}

func openBadger(b *testing.B) *badger.DB {
	b.Helper()
	db, err := badger.Open(badger.DefaultOptions(filepath.Join(b.TempDir(), "badger")).
		WithSyncWrites(false).WithLogger(nil))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = db.Close() })
	return db
}

// Write Benchmarks

func BenchmarkSequentialWrite(b *testing.B) {
	value := make([]byte, benchValueSize)

	b.Run("GBPTree", func(b *testing.B) {
		tree := openTree(b)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			w, err := tree.Writer()
			if err != nil {
				b.Fatal(err)
			}
			if err := w.Insert(key(i), value); err != nil {
				b.Fatal(err)
			}
			_ = w.Close()
		}
	})

	if *benchTreeOnly {
		return
	}

	b.Run("Bbolt", func(b *testing.B) {
		db := openBolt(b)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = db.Update(func(tx *bolt.Tx) error {
				return tx.Bucket(bucketName).Put(key(i), value)
			})
		}
	})

	b.Run("Pebble", func(b *testing.B) {
		db := openPebble(b)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = db.Set(key(i), value, pebble.NoSync)
		}
	})

	b.Run("Badger", func(b *testing.B) {
		db := openBadger(b)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = db.Update(func(txn *badger.Txn) error {
				return txn.Set(key(i), value)
			})
		}
	})
}

// Read Benchmarks

func BenchmarkRandomRead(b *testing.B) {
	value := make([]byte, benchValueSize)

	b.Run("GBPTree", func(b *testing.B) {
		tree := openTree(b)
		loadTree(b, tree, benchNumRecords, value)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, ok, err := tree.Get(key(rand.Intn(benchNumRecords))); err != nil || !ok {
				b.Fatal("missing key", err)
			}
		}
	})

	if *benchTreeOnly {
		return
	}

	b.Run("Bbolt", func(b *testing.B) {
		db := openBolt(b)
		_ = db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(bucketName)
			for i := 0; i < benchNumRecords; i++ {
				if err := bucket.Put(key(i), value); err != nil {
					return err
				}
			}
			return nil
		})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = db.View(func(tx *bolt.Tx) error {
				_ = tx.Bucket(bucketName).Get(key(rand.Intn(benchNumRecords)))
				return nil
			})
		}
	})

	b.Run("Pebble", func(b *testing.B) {
		db := openPebble(b)
		for i := 0; i < benchNumRecords; i++ {
			_ = db.Set(key(i), value, pebble.NoSync)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, closer, err := db.Get(key(rand.Intn(benchNumRecords)))
			if err != nil {
				b.Fatal(err)
			}
			_ = closer.Close()
		}
	})

	b.Run("Badger", func(b *testing.B) {
		db := openBadger(b)
		_ = db.Update(func(txn *badger.Txn) error {
			for i := 0; i < benchNumRecords; i++ {
				if err := txn.Set(key(i), value); err != nil {
					return err
				}
			}
			return nil
		})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = db.View(func(txn *badger.Txn) error {
				_, err := txn.Get(key(rand.Intn(benchNumRecords)))
				return err
			})
		}
	})
}

func BenchmarkScan(b *testing.B) {
	value := make([]byte, benchValueSize)

	b.Run("GBPTree", func(b *testing.B) {
		tree := openTree(b)
		loadTree(b, tree, benchNumRecords, value)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			s, err := tree.SeekFrom(nil)
			if err != nil {
				b.Fatal(err)
			}
			n := 0
			for s.Next() {
				n++
			}
			_ = s.Close()
			if n != benchNumRecords {
				b.Fatalf("scanned %d entries", n)
			}
		}
	})

	if *benchTreeOnly {
		return
	}

	b.Run("Bbolt", func(b *testing.B) {
		db := openBolt(b)
		_ = db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(bucketName)
			for i := 0; i < benchNumRecords; i++ {
				if err := bucket.Put(key(i), value); err != nil {
					return err
				}
			}
			return nil
		})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = db.View(func(tx *bolt.Tx) error {
				c := tx.Bucket(bucketName).Cursor()
				for k, _ := c.First(); k != nil; k, _ = c.Next() {
				}
				return nil
			})
		}
	})

	b.Run("Pebble", func(b *testing.B) {
		db := openPebble(b)
		for i := 0; i < benchNumRecords; i++ {
			_ = db.Set(key(i), value, pebble.NoSync)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			iter, err := db.NewIter(nil)
			if err != nil {
				b.Fatal(err)
			}
			for iter.First(); iter.Valid(); iter.Next() {
			}
			_ = iter.Close()
		}
	})

	b.Run("Badger", func(b *testing.B) {
		db := openBadger(b)
		_ = db.Update(func(txn *badger.Txn) error {
			for i := 0; i < benchNumRecords; i++ {
				if err := txn.Set(key(i), value); err != nil {
					return err
				}
			}
			return nil
		})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = db.View(func(txn *badger.Txn) error {
				it := txn.NewIterator(badger.DefaultIteratorOptions)
				defer it.Close()
				for it.Rewind(); it.Valid(); it.Next() {
				}
				return nil
			})
		}
	})
}
