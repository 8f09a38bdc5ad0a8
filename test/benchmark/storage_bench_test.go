package benchmark

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/TheMichaelB/strongroom/internal/crypto"
	"github.com/TheMichaelB/strongroom/internal/events"
	"github.com/TheMichaelB/strongroom/internal/models"
	"github.com/TheMichaelB/strongroom/internal/storage"
	"github.com/TheMichaelB/strongroom/test/testutil"
)

var sizes = []int{
	1024,    // 1KB
	102400,  // 100KB
	1048576, // 1MB
}

func backends(b *testing.B) map[string]storage.ObjectStore {
	b.Helper()
	logger := events.NewNopLogger()

	local, err := storage.NewLocalStore(b.TempDir(), logger)
	if err != nil {
		b.Fatal(err)
	}
	sqlite, err := storage.NewSQLiteStore(b.TempDir()+"/bench.db", logger)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { sqlite.Close() })

	return map[string]storage.ObjectStore{
		"fs":     local,
		"sqlite": sqlite,
	}
}

func BenchmarkObjectStoreWrite(b *testing.B) {
	ctx := context.Background()

	for name, store := range backends(b) {
		for _, size := range sizes {
			b.Run(fmt.Sprintf("%s/%dKB", name, size/1024), func(b *testing.B) {
				data := make([]byte, size)
				rand.Read(data)

				b.ResetTimer()
				b.ReportAllocs()
				b.SetBytes(int64(size))

				for i := 0; i < b.N; i++ {
					if err := store.Write(ctx, data, "bench", fmt.Sprintf("item-%d", i), "data"); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkObjectStoreRead(b *testing.B) {
	ctx := context.Background()

	for name, store := range backends(b) {
		for _, size := range sizes {
			b.Run(fmt.Sprintf("%s/%dKB", name, size/1024), func(b *testing.B) {
				data := make([]byte, size)
				rand.Read(data)

				// Pre-create object
				if err := store.Write(ctx, data, "bench", "read", "data"); err != nil {
					b.Fatal(err)
				}

				b.ResetTimer()
				b.ReportAllocs()
				b.SetBytes(int64(size))

				for i := 0; i < b.N; i++ {
					if _, err := store.Read(ctx, "bench", "read", "data"); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkEncryptedRoundTrip(b *testing.B) {
	ctx := context.Background()
	key := testutil.TestVaultKey()
	enc := storage.NewEncryptedStore(storage.NewMemoryStore(), crypto.NewProvider())

	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dKB", size/1024), func(b *testing.B) {
			raw := make([]byte, size)
			rand.Read(raw)
			payload := models.EncodeDataURI("image/png", raw)

			b.ResetTimer()
			b.ReportAllocs()
			b.SetBytes(int64(size))

			for i := 0; i < b.N; i++ {
				if err := enc.WriteEncrypted(ctx, key, payload, "bench", "item", "data"); err != nil {
					b.Fatal(err)
				}
				if _, err := enc.ReadEncrypted(ctx, key, "bench", "item", "data"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
