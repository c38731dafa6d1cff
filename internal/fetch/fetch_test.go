package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/cinder/internal/config"
	"goflare.io/cinder/internal/manager"
	"goflare.io/cinder/internal/registry"
	"goflare.io/cinder/internal/store"
	"goflare.io/cinder/pkg/value"
)

var testDomain = registry.DomainConfig{MaxAge: time.Hour, Source: "test", Version: "1.0"}

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewFileStore(ctx, memfs.New(), store.FileStoreConfig{Logger: zap.NewNop()})
	require.NoError(t, err)
	cfg, err := config.NewConfig(config.WithLogger(zap.NewNop()), config.WithCleanupInterval(0))
	require.NoError(t, err)

	m, err := manager.New(ctx, st, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Destroy(context.Background()) })
	return m
}

func newTestFetcher(t *testing.T, m *manager.Manager) *CachedDataFetcher {
	t.Helper()
	f, err := NewCachedDataFetcher(m, Config{Logger: zap.NewNop()})
	require.NoError(t, err)
	return f
}

func TestGetOrFetch_CachesResult(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	f := newTestFetcher(t, m)

	var calls atomic.Int64
	fetcher := func(context.Context) (any, error) {
		calls.Inc()
		return map[string]any{"posts": []string{"a", "b"}}, nil
	}

	v, err := f.GetOrFetch(ctx, "k", fetcher, testDomain, false)
	require.NoError(t, err)
	assert.Equal(t, `{"posts":["a","b"]}`, v.String())

	v, err = f.GetOrFetch(ctx, "k", fetcher, testDomain, false)
	require.NoError(t, err)
	assert.Equal(t, `{"posts":["a","b"]}`, v.String())
	assert.Equal(t, int64(1), calls.Load())

	_, err = f.GetOrFetch(ctx, "k", fetcher, testDomain, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetOrFetch_SingleFetchUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	f := newTestFetcher(t, newTestManager(t))

	var calls atomic.Int64
	fetcher := func(context.Context) (any, error) {
		calls.Inc()
		time.Sleep(100 * time.Millisecond)
		return 42, nil
	}

	const callers = 10
	results := make([]value.Value, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.GetOrFetch(ctx, "shared", fetcher, testDomain, false)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, v := range results {
		n, ok := v.AsInt()
		require.True(t, ok)
		assert.Equal(t, int64(42), n)
	}
}

func TestGetOrFetch_FailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	f := newTestFetcher(t, m)

	boom := errors.New("upstream down")
	_, err := f.GetOrFetch(ctx, "k", func(context.Context) (any, error) { return nil, boom }, testDomain, false)
	assert.ErrorIs(t, err, boom)

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)

	v, err := f.GetOrFetch(ctx, "k", func(context.Context) (any, error) { return "ok", nil }, testDomain, false)
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, v.String())
}

func TestGetOrFetch_CallerCancelDoesNotAbortFetch(t *testing.T) {
	m := newTestManager(t)
	f := newTestFetcher(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	finished := make(chan struct{})
	fetcher := func(fctx context.Context) (any, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		defer close(finished)
		if fctx.Err() != nil {
			return nil, fctx.Err()
		}
		return "late", nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := f.GetOrFetch(ctx, "k", fetcher, testDomain, false)
		errc <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	<-finished
	assert.Eventually(t, func() bool {
		_, ok := m.Get(context.Background(), "k")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestBatchFetch_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	f := newTestFetcher(t, m)

	results := f.BatchFetch(ctx, map[string]Fetcher{
		"a": func(context.Context) (any, error) { return []int{1, 2}, nil },
		"b": func(context.Context) (any, error) { return nil, errors.New("fail") },
	})

	require.Len(t, results, 2)
	require.NoError(t, results["a"].Err)
	assert.Equal(t, `[1,2]`, results["a"].Value.String())
	assert.Error(t, results["b"].Err)

	_, ok := m.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = m.Get(ctx, "b")
	assert.False(t, ok)
}

func TestBatchFetch_UsesRegistryKeys(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	f := newTestFetcher(t, m)

	results := f.BatchFetch(ctx, map[string]Fetcher{
		registry.Repositories: func(context.Context) (any, error) { return []map[string]any{{"id": 1}}, nil },
	})
	require.NoError(t, results[registry.Repositories].Err)

	e, ok := m.GetEntry(ctx, "github-repos")
	require.True(t, ok)
	assert.Equal(t, "github", e.Source)
	assert.Equal(t, "1.0", e.Version)
}

func TestInvalidateRelated(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	f := newTestFetcher(t, m)

	require.NoError(t, m.Set(ctx, "github-repos", value.Int(1), registry.DomainConfig{MaxAge: time.Hour, Source: "github"}))
	require.NoError(t, m.Set(ctx, "status-data", value.Int(1), registry.DomainConfig{MaxAge: time.Hour, Source: "status"}))

	n, err := f.InvalidateRelated(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.GetStats().TotalEntries)
}

func TestWarmAllCaches(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	w := NewCacheWarmer(newTestFetcher(t, m))

	report := w.WarmAllCaches(ctx, map[string]Fetcher{
		registry.Status: func(context.Context) (any, error) { return map[string]any{"up": true}, nil },
		registry.Blog:   func(context.Context) (any, error) { return nil, errors.New("wordpress down") },
		"unknown":       func(context.Context) (any, error) { return 1, nil },
	})

	assert.Equal(t, []string{registry.Status}, report.Warmed)
	assert.Contains(t, report.Failed, registry.Blog)
	assert.ElementsMatch(t, []string{registry.Repositories, registry.Summaries, registry.Metadata}, report.Skipped)

	_, ok := m.Get(ctx, "status-data")
	assert.True(t, ok)
	_, ok = m.Get(ctx, "unknown")
	assert.False(t, ok)
}
