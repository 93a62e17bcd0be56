package search_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/progres-go/internal/application/search"
	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/intelligence/common"
	"github.com/turtacn/progres-go/internal/testutil"
	"github.com/turtacn/progres-go/pkg/errors"
)

// countingStore serves a fixed database and counts loads.
type countingStore struct {
	loads atomic.Int32
	delay time.Duration
	fail  atomic.Bool
}

func (s *countingStore) Load(ctx context.Context, loc embedding.Location) (*embedding.Database, error) {
	s.loads.Add(1)
	time.Sleep(s.delay)
	if s.fail.Load() {
		return nil, errors.New(errors.ErrCodeDatabaseCorrupt, "broken").WithDetail(loc.String())
	}
	db := embedding.NewDatabase("", common.ModelIdentity{Name: "m", Version: "1"}, 2)
	if err := db.Add(&embedding.Embedding{ID: "a", NRes: 5, Vector: []float32{1, 0}}); err != nil {
		return nil, err
	}
	return db, nil
}

func (s *countingStore) Save(context.Context, embedding.Location, *embedding.Database) error {
	return nil
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	return testutil.WriteFile(t, dir, name, "placeholder")
}

func TestDatabaseCache_LoadsOnce(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "a.db")
	store := &countingStore{delay: 20 * time.Millisecond}
	cache := search.NewDatabaseCache(embedding.NewRegistry(dir), store, nil, nil)

	var wg sync.WaitGroup
	dbs := make([]*embedding.Database, 8)
	for i := range dbs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := cache.Get(context.Background(), path)
			assert.NoError(t, err)
			dbs[i] = db
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, store.loads.Load())
	for _, db := range dbs {
		assert.Same(t, dbs[0], db)
	}
	assert.Equal(t, path, dbs[0].Name)
}

func TestDatabaseCache_FailedLoadIsRetried(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "a.db")
	store := &countingStore{}
	store.fail.Store(true)
	cache := search.NewDatabaseCache(embedding.NewRegistry(dir), store, nil, nil)

	_, err := cache.Get(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseCorrupt))
	assert.Empty(t, cache.Loaded())

	store.fail.Store(false)
	db, err := cache.Get(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, db.Len())
	assert.EqualValues(t, 2, store.loads.Load())
}

func TestDatabaseCache_UnknownReference(t *testing.T) {
	store := &countingStore{}
	cache := search.NewDatabaseCache(embedding.NewRegistry(t.TempDir()), store, nil, nil)

	_, err := cache.Get(context.Background(), "scope95")
	require.Error(t, err)
	assert.True(t, errors.IsDatabaseNotFound(err))
	assert.Zero(t, store.loads.Load())
}

func TestDatabaseCache_Invalidate(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, dir, "a.db")
	b := touch(t, dir, "b.db")
	store := &countingStore{}
	log := testutil.NewRecordingLogger()
	cache := search.NewDatabaseCache(embedding.NewRegistry(dir), store, log, nil)

	for _, ref := range []string{a, b} {
		_, err := cache.Get(context.Background(), ref)
		require.NoError(t, err)
	}
	require.Len(t, cache.Loaded(), 2)

	assert.Equal(t, 1, cache.Invalidate(filepath.Join(dir, ".", "a.db")))
	assert.Equal(t, 0, cache.Invalidate(filepath.Join(dir, "c.db")))
	loaded := cache.Loaded()
	require.Len(t, loaded, 1)
	assert.Equal(t, b, loaded[0].Name)
	assert.NotEmpty(t, log.Find("info", "dropped from cache"))

	_, err := cache.Get(context.Background(), a)
	require.NoError(t, err)
	assert.EqualValues(t, 3, store.loads.Load())
}

func TestDatabaseCache_WatchInvalidatesChangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "a.db")
	store := &countingStore{}
	cache := search.NewDatabaseCache(embedding.NewRegistry(dir), store, nil, nil)
	_, err := cache.Get(context.Background(), path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cache.Watch(ctx, dir) }()

	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte("rewritten"), 0o644); err != nil {
			return false
		}
		return len(cache.Loaded()) == 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestStoreRouter(t *testing.T) {
	files := &countingStore{}
	router := &search.StoreRouter{File: files}

	loc, err := embedding.ParseLocation("some/file.db")
	require.NoError(t, err)
	_, err = router.Load(context.Background(), loc)
	require.NoError(t, err)
	assert.EqualValues(t, 1, files.loads.Load())

	for _, ref := range []string{"s3://bucket/db.db", "pg:scope"} {
		loc, err := embedding.ParseLocation(ref)
		require.NoError(t, err)
		_, err = router.Load(context.Background(), loc)
		require.Error(t, err)
		assert.True(t, errors.IsConfigurationError(err), ref)
		assert.Error(t, router.Save(context.Background(), loc, nil))
	}
}
