package benchmark_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	litesync "github.com/litesync/litesync.go"
	"github.com/litesync/litesync.go/pkg/dispatch"
	"github.com/litesync/litesync.go/pkg/logger"
	"github.com/litesync/litesync.go/pkg/notify"
)

func setupDB(b *testing.B) *litesync.Collection {
	b.Helper()
	cfg := litesync.NewConfig()
	cfg.Logger = logger.Nop()
	db, err := litesync.Open("bench", cfg)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = db.Close() })

	coll, err := db.Collection("users")
	if err != nil {
		b.Fatal(err)
	}
	return coll
}

func BenchmarkSave(b *testing.B) {
	coll := setupDB(b)
	ctx := context.Background()
	body := map[string]any{"username": "tobi", "age": 30}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// error is ignored for benchmarking purposes.
		coll.Save(ctx, fmt.Sprintf("user-%d", i%100), body) //nolint:errcheck
	}
}

// BenchmarkSaveWithListener includes observer bookkeeping and delivery.
func BenchmarkSaveWithListener(b *testing.B) {
	coll := setupDB(b)
	ctx := context.Background()
	queue := dispatch.NewSerialQueue()
	defer queue.Close()

	tok, err := coll.AddChangeListener(queue, func(litesync.CollectionChange) {})
	if err != nil {
		b.Fatal(err)
	}
	defer tok.Remove()

	body := map[string]any{"username": "tobi"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		coll.Save(ctx, fmt.Sprintf("user-%d", i%100), body) //nolint:errcheck
	}
}

func BenchmarkPostChangeFanOut(b *testing.B) {
	for _, listeners := range []int{1, 16, 256} {
		b.Run(fmt.Sprintf("listeners=%d", listeners), func(b *testing.B) {
			n := notify.New[int]()
			pool := dispatch.NewPool(4)
			defer pool.Close()

			var wg sync.WaitGroup
			for i := 0; i < listeners; i++ {
				if _, err := n.AddListener(pool, func(int) { wg.Done() }); err != nil {
					b.Fatal(err)
				}
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				wg.Add(listeners)
				n.PostChange(i)
			}
			wg.Wait()
		})
	}
}

func BenchmarkAddRemoveListener(b *testing.B) {
	coll := setupDB(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tok, err := coll.AddDocumentChangeListener("hot", nil, func(litesync.DocumentChange) {})
		if err != nil {
			b.Fatal(err)
		}
		tok.Remove()
	}
}
