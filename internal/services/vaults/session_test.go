package vaults_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/strongroom/internal/config"
	"github.com/TheMichaelB/strongroom/internal/crypto"
	"github.com/TheMichaelB/strongroom/internal/events"
	"github.com/TheMichaelB/strongroom/internal/models"
	"github.com/TheMichaelB/strongroom/internal/storage"
)

func maxCached(n int) func(*config.Config) {
	return func(c *config.Config) { c.Cache.MaxCached = n }
}

func TestLoadItem_MissThenHit(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "photos", "a")
	session := h.open(t, "photos", "p")
	ctx := context.Background()

	res, err := session.LoadItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "payload-a", res.Payload)
	assert.False(t, res.Hit)
	assert.False(t, res.Pending)

	res, err = session.LoadItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "payload-a", res.Payload)
	assert.True(t, res.Hit)

	assert.Equal(t, 1, h.mem.Reads("photos", "a", "data"))
	assert.Equal(t, int64(1), h.counter(t, "strongroom.cache.hits"))
	assert.Equal(t, int64(1), h.counter(t, "strongroom.cache.misses"))
}

func TestLoadItem_EvictsLeastRecentlyUsed(t *testing.T) {
	h := newHarness(t, maxCached(2))
	h.seed(t, "photos", "A", "B", "C")
	session := h.open(t, "photos", "p")
	ctx := context.Background()

	load := func(id string) {
		_, err := session.LoadItem(ctx, id)
		require.NoError(t, err)
	}

	load("A")
	load("B")
	load("C")
	assert.Equal(t, []string{"B", "C"}, session.Cached())

	// A was evicted so it decrypts again
	load("A")
	assert.Equal(t, []string{"C", "A"}, session.Cached())
	assert.Equal(t, 2, h.mem.Reads("photos", "A", "data"))

	// A hit promotes
	load("C")
	assert.Equal(t, []string{"A", "C"}, session.Cached())
	assert.Equal(t, 1, h.mem.Reads("photos", "C", "data"))

	assert.Equal(t, int64(2), h.counter(t, "strongroom.cache.evictions"))
}

func TestLoadItem_CacheNeverExceedsBound(t *testing.T) {
	h := newHarness(t, maxCached(3))
	ids := []string{"a", "b", "c", "d", "e", "f", "g"}
	h.seed(t, "photos", ids...)
	session := h.open(t, "photos", "p")

	for i := 0; i < 50; i++ {
		_, err := session.LoadItem(context.Background(), ids[(i*5)%len(ids)])
		require.NoError(t, err)
		assert.LessOrEqual(t, len(session.Cached()), 3)
	}
}

func TestLoadItem_SingleFlight(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "photos", "a", "b")
	session := h.open(t, "photos", "p")
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.mem.OnRead = func(path string) {
		if path == "photos/a/data" {
			once.Do(func() { close(entered) })
			<-release
		}
	}

	done := make(chan struct{})
	var firstPayload string
	var firstErr error
	go func() {
		defer close(done)
		res, err := session.LoadItem(ctx, "a")
		firstPayload, firstErr = res.Payload, err
	}()
	<-entered

	// Second load of the same id neither blocks nor decrypts
	res, err := session.LoadItem(ctx, "a")
	require.NoError(t, err)
	assert.True(t, res.Pending)
	assert.Empty(t, res.Payload)

	// Other ids proceed while a is in flight
	res, err = session.LoadItem(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "payload-b", res.Payload)

	close(release)
	<-done

	require.NoError(t, firstErr)
	assert.Equal(t, "payload-a", firstPayload)
	assert.Equal(t, 1, h.mem.Reads("photos", "a", "data"))
	assert.Equal(t, int64(1), h.counter(t, "strongroom.cache.pending"))

	res, err = session.LoadItem(ctx, "a")
	require.NoError(t, err)
	assert.True(t, res.Hit)
}

func TestLoadItem_UnknownID(t *testing.T) {
	h := newHarness(t)
	session := h.open(t, "photos", "p")

	_, err := session.LoadItem(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrItemNotFound)
}

func TestLoadItem_IntegrityFailureClearsInFlight(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "photos", "a")

	// Replace the payload with one sealed under a different key
	enc := storage.NewEncryptedStore(h.mem, crypto.NewProvider())
	other, err := crypto.NewProvider().DeriveKey("other", "device-0001")
	require.NoError(t, err)
	require.NoError(t, enc.WriteEncrypted(context.Background(), other, "x", "photos", "a", "data"))

	session := h.open(t, "photos", "p")

	for i := 0; i < 2; i++ {
		res, err := session.LoadItem(context.Background(), "a")
		assert.ErrorIs(t, err, crypto.ErrIntegrity)
		assert.False(t, res.Pending, "failed decrypt must not stay in flight")
	}

	assert.Equal(t, 2, h.mem.Reads("photos", "a", "data"))
	assert.Empty(t, session.Cached())
	assert.Equal(t, int64(2), h.counter(t, "strongroom.decrypt.failures"))
}

func TestLoadItem_LogsRequestID(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "photos", "a")
	h.mem.Put([]byte(`{"cipher":"AAAA","iv":"AAAA","hmac":"00"}`), "photos", "a", "data")
	session := h.open(t, "photos", "p")

	ctx := events.WithRequestID(context.Background(), "17")
	_, err := session.LoadItem(ctx, "a")
	require.ErrorIs(t, err, crypto.ErrIntegrity)

	var entry map[string]interface{}
	for _, e := range h.logs.Entries() {
		if e["msg"] == "Item decrypt failed" {
			entry = e
		}
	}
	require.NotNil(t, entry, h.logs.String())
	assert.Equal(t, "17", entry["request_id"])
	assert.Equal(t, "photos", entry["vault"])
	assert.Equal(t, models.ErrCodeIntegrity, entry["code"])
}

func TestLoadItem_StorageFailure(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "photos", "a")
	require.NoError(t, h.mem.Unlink(context.Background(), "photos", "a", "data"))
	session := h.open(t, "photos", "p")

	_, err := session.LoadItem(context.Background(), "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoadThumbnail(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "photos", "a")
	session := h.open(t, "photos", "p")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		thumb, err := session.LoadThumbnail(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "thumb-a", thumb)
	}

	// Thumbnails are read through every time and never cached
	assert.Equal(t, 2, h.mem.Reads("photos", "a", "thumbnail"))
	assert.Empty(t, session.Cached())

	_, err := session.LoadThumbnail(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrItemNotFound)
}

func TestLoadThumbnail_NoThumbnail(t *testing.T) {
	h := newHarness(t)
	session := h.open(t, "photos", "p")
	h.source.Add("/in/anim.gif", gifFixture(t))

	ids, err := session.ImportFiles(context.Background(), refs("/in/anim.gif"))
	require.NoError(t, err)

	_, err = session.LoadThumbnail(context.Background(), ids[0])
	assert.ErrorIs(t, err, models.ErrNoThumbnail)
}

func TestItems_PayloadOnlyWhenCached(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "photos", "a", "b")
	session := h.open(t, "photos", "p")

	_, err := session.LoadItem(context.Background(), "a")
	require.NoError(t, err)

	items := session.Items()
	require.True(t, items["a"].Cached())
	assert.Equal(t, "payload-a", *items["a"].Payload)
	assert.False(t, items["b"].Cached())

	// Snapshot does not promote
	_, err = session.LoadItem(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, session.Cached())
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "photos", "a")
	session := h.open(t, "photos", "p")
	ctx := context.Background()

	_, err := session.LoadItem(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	assert.Empty(t, session.Cached())

	_, err = session.LoadItem(ctx, "a")
	assert.ErrorIs(t, err, models.ErrSessionClosed)
	_, err = session.LoadThumbnail(ctx, "a")
	assert.ErrorIs(t, err, models.ErrSessionClosed)
	_, err = session.ImportFiles(ctx, nil)
	assert.ErrorIs(t, err, models.ErrSessionClosed)

	// Persisted data survives
	reopened := h.open(t, "photos", "p")
	assert.Len(t, reopened.Items(), 1)
}

func TestClose_AbandonsInFlight(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "photos", "a")
	session := h.open(t, "photos", "p")

	entered := make(chan struct{})
	release := make(chan struct{})
	h.mem.OnRead = func(path string) {
		if path == "photos/a/data" {
			close(entered)
			<-release
		}
	}

	loadErr := make(chan error, 1)
	go func() {
		_, err := session.LoadItem(context.Background(), "a")
		loadErr <- err
	}()
	<-entered

	closed := make(chan struct{})
	go func() {
		session.Close()
		close(closed)
	}()

	// Close waits for the abandoned decrypt before wiping the key
	select {
	case <-closed:
		t.Fatal("Close returned while a decrypt was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-closed

	assert.ErrorIs(t, <-loadErr, models.ErrSessionClosed)
	assert.Empty(t, session.Cached())
}

func TestLoadItem_ConcurrentDistinctIDs(t *testing.T) {
	h := newHarness(t, maxCached(4))
	ids := []string{"a", "b", "c", "d", "e", "f"}
	h.seed(t, "photos", ids...)
	session := h.open(t, "photos", "p")

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := ids[n%len(ids)]
			res, err := session.LoadItem(context.Background(), id)
			if assert.NoError(t, err) && !res.Pending {
				assert.Equal(t, "payload-"+id, res.Payload)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, len(session.Cached()), 4)
}
