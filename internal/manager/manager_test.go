package manager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/cinder/internal/config"
	"goflare.io/cinder/internal/health"
	"goflare.io/cinder/internal/merge"
	"goflare.io/cinder/internal/models"
	"goflare.io/cinder/internal/registry"
	"goflare.io/cinder/internal/store"
	"goflare.io/cinder/pkg/value"
)

var testDomain = registry.DomainConfig{MaxAge: time.Hour, Source: "test", Version: "1.0"}

func newTestManager(t *testing.T, fs billy.Filesystem, opts ...config.Option) *Manager {
	t.Helper()
	st, err := store.NewFileStore(context.Background(), fs, store.FileStoreConfig{Logger: zap.NewNop()})
	require.NoError(t, err)
	return newManagerOver(t, st, opts...)
}

func newManagerOver(t *testing.T, st store.Store, opts ...config.Option) *Manager {
	t.Helper()
	ctx := context.Background()

	opts = append([]config.Option{config.WithLogger(zap.NewNop()), config.WithCleanupInterval(0)}, opts...)
	cfg, err := config.NewConfig(opts...)
	require.NoError(t, err)

	m, err := New(ctx, st, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Destroy(context.Background()) })
	return m
}

func TestManager_SetGet(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New())

	want := value.MustParse(`{"id":1,"name":"cinder","tags":["cache","ttl"]}`)
	require.NoError(t, m.Set(ctx, "k", want, testDomain))

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.True(t, value.Equal(want, got))
	assert.Equal(t, want.String(), got.String())

	_, ok = m.Get(ctx, "missing")
	assert.False(t, ok)

	stats := m.GetStats()
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Equal(t, int64(3), stats.TotalOperations)
	assert.Zero(t, stats.FailedOperations)
}

func TestManager_SetRejectsEmptyKey(t *testing.T) {
	m := newTestManager(t, memfs.New())

	err := m.Set(context.Background(), "", value.Int(1), testDomain)
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.Equal(t, int64(1), m.GetStats().FailedOperations)
}

func TestManager_DefaultMaxAge(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New(), config.WithDefaultMaxAge(2*time.Hour))

	before := time.Now()
	require.NoError(t, m.Set(ctx, "k", value.Int(1), registry.DomainConfig{}))

	e, ok := m.GetEntry(ctx, "k")
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(2*time.Hour), e.ExpiresAt, time.Second)
}

func TestManager_DetectAfterSetHasNoChanges(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New())

	v := value.MustParse(`{"a":1,"b":{"c":[1,2]}}`)
	require.NoError(t, m.Set(ctx, "k", v, testDomain))

	res := m.DetectIncrementalChanges(ctx, "k", v)
	assert.False(t, res.HasChanges)
	assert.Empty(t, res.ChangedFields)
}

func TestManager_DetectAgainstMissingEntry(t *testing.T) {
	res := newTestManager(t, memfs.New()).DetectIncrementalChanges(context.Background(), "nope", value.MustParse(`{"a":1}`))

	assert.True(t, res.HasChanges)
	assert.Equal(t, []string{"a"}, res.AddedFields)
	assert.Empty(t, res.RemovedFields)
}

func TestManager_MergeData(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New())

	stored := value.MustParse(`{"users":[{"id":1,"name":"Alice"}],"total":1}`)
	require.NoError(t, m.Set(ctx, "demo", stored, testDomain))

	merged, err := m.MergeData(ctx, "demo",
		value.MustParse(`{"users":[{"id":2,"name":"Bob"}],"total":2}`),
		merge.Config{Type: merge.TypeMerge}, testDomain)
	require.NoError(t, err)

	want := value.MustParse(`{"users":[{"id":1,"name":"Alice"},{"id":2,"name":"Bob"}],"total":2}`)
	assert.True(t, value.Equal(want, merged), merged.String())

	got, ok := m.Get(ctx, "demo")
	require.True(t, ok)
	assert.True(t, value.Equal(want, got))

	ops := m.GetRecentOperations(1)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpMerge, ops[0].Type)
	assert.True(t, ops[0].Success)
}

func TestManager_MergeResolution(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New())

	require.NoError(t, m.Set(ctx, "k", value.MustParse(`{"v":"old"}`), testDomain))

	merged, err := m.MergeData(ctx, "k", value.MustParse(`{"v":"new"}`),
		merge.Config{Type: merge.TypeMerge, ConflictResolution: merge.Oldest}, testDomain)
	require.NoError(t, err)
	assert.Equal(t, `{"v":"old"}`, merged.String())

	merged, err = m.MergeData(ctx, "k", value.MustParse(`{"v":"new"}`), merge.Config{}, testDomain)
	require.NoError(t, err)
	assert.Equal(t, `{"v":"new"}`, merged.String())
}

func TestManager_MergeIntoMissingEntry(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New())

	merged, err := m.MergeData(ctx, "fresh", value.MustParse(`{"a":[1]}`), merge.Config{}, testDomain)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1]}`, merged.String())
}

func TestManager_MergeRejectsInvalidConfig(t *testing.T) {
	m := newTestManager(t, memfs.New())

	_, err := m.MergeData(context.Background(), "k", value.Int(1), merge.Config{Type: "splice"}, testDomain)
	assert.ErrorIs(t, err, merge.ErrInvalidConfig)
}

func TestManager_InvalidateCache(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New())

	for _, key := range []string{"github-repos", "github-users", "wordpress-posts"} {
		require.NoError(t, m.Set(ctx, key, value.Int(1), testDomain))
	}

	removed, err := m.InvalidateCache(ctx, "github-*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, ok := m.Get(ctx, "github-repos")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "github-users")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "wordpress-posts")
	assert.True(t, ok)

	removed, err = m.InvalidateCache(ctx, "re:^word")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, m.GetStats().TotalEntries)

	_, err = m.InvalidateCache(ctx, "a*b")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestManager_InvalidateSource(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New())

	require.NoError(t, m.Set(ctx, "a", value.Int(1), registry.DomainConfig{MaxAge: time.Hour, Source: "github"}))
	require.NoError(t, m.Set(ctx, "b", value.Int(2), registry.DomainConfig{MaxAge: time.Hour, Source: "wordpress"}))

	removed, err := m.InvalidateSource(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := m.Get(ctx, "b")
	assert.True(t, ok)
}

func TestManager_Expiry(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New())

	require.NoError(t, m.Set(ctx, "short", value.String("x"), registry.DomainConfig{MaxAge: 100 * time.Millisecond}))
	_, ok := m.Get(ctx, "short")
	require.True(t, ok)

	time.Sleep(150 * time.Millisecond)

	_, ok = m.Get(ctx, "short")
	assert.False(t, ok)

	stats := m.GetStats()
	assert.Equal(t, int64(1), stats.ExpiredEntries)
	assert.Zero(t, stats.TotalEntries)

	_, ok = m.GetEntry(ctx, "short")
	assert.False(t, ok, "expired entry should be removed from the store")
}

func TestManager_OptimizeCache(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New())

	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "stale-1", value.Int(1), registry.DomainConfig{MaxAge: time.Minute}))
	require.NoError(t, m.Set(ctx, "stale-2", value.Int(2), registry.DomainConfig{MaxAge: time.Minute}))
	require.NoError(t, m.Set(ctx, "fresh", value.Int(3), registry.DomainConfig{MaxAge: time.Hour}))
	_, ok := m.Get(ctx, "fresh")
	require.True(t, ok)

	m.now = func() time.Time { return now.Add(2 * time.Minute) }

	pm, err := m.OptimizeCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pm.EntriesRemoved)
	assert.Equal(t, 1, pm.TotalEntries)
	assert.Equal(t, 1.0, pm.CompressionRatio)
	assert.Positive(t, pm.DiskBytes)

	stats := m.GetStats()
	assert.Equal(t, int64(2), stats.ExpiredEntries)
	assert.Equal(t, now.Add(2*time.Minute), stats.LastCleanup)

	e, ok := m.GetEntry(ctx, "fresh")
	require.True(t, ok)
	assert.Equal(t, int64(1), e.HitCount)
}

func TestManager_HitCountSurvivesRewrite(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New())

	require.NoError(t, m.Set(ctx, "k", value.Int(1), testDomain))
	for range 3 {
		_, ok := m.Get(ctx, "k")
		require.True(t, ok)
	}
	require.NoError(t, m.Set(ctx, "k", value.Int(2), testDomain))

	infos := m.Entries()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(3), infos[0].HitCount)
}

func TestManager_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New()

	first := newTestManager(t, fs)
	require.NoError(t, first.Set(ctx, "k", value.MustParse(`{"b":1,"a":2}`), testDomain))
	_, ok := first.Get(ctx, "k")
	require.True(t, ok)
	require.NoError(t, first.Destroy(ctx))

	second := newTestManager(t, fs)
	got, ok := second.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, `{"b":1,"a":2}`, got.String())
	assert.Equal(t, 1, second.GetStats().TotalEntries)

	e, ok := second.GetEntry(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, int64(2), e.HitCount)
}

func TestManager_PurgeOnDestroy(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New()

	first := newTestManager(t, fs, config.WithPurgeOnDestroy(true))
	require.NoError(t, first.Set(ctx, "k", value.Int(1), testDomain))
	require.NoError(t, first.Destroy(ctx))

	second := newTestManager(t, fs)
	_, ok := second.Get(ctx, "k")
	assert.False(t, ok)
}

func TestManager_Destroy(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New(), config.WithCleanupInterval(10*time.Millisecond))

	require.NoError(t, m.Destroy(ctx))
	require.NoError(t, m.Destroy(ctx))

	assert.ErrorIs(t, m.Set(ctx, "k", value.Int(1), testDomain), ErrClosed)
	_, err := m.MergeData(ctx, "k", value.Int(1), merge.Config{}, testDomain)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.InvalidateCache(ctx, "*")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.OptimizeCache(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestManager_RecentOperations(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New(), config.WithOpLogCapacity(3))

	require.NoError(t, m.Set(ctx, "a", value.Int(1), testDomain))
	m.Get(ctx, "a")
	_, err := m.InvalidateCache(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, m.Set(ctx, "b", value.Int(1), testDomain))

	ops := m.GetRecentOperations(10)
	require.Len(t, ops, 3)
	assert.Equal(t, models.OpSet, ops[0].Type)
	assert.Equal(t, "b", ops[0].Key)
	assert.Equal(t, models.OpInvalidate, ops[1].Type)
	assert.Equal(t, models.OpGet, ops[2].Type)

	assert.Len(t, m.GetRecentOperations(1), 1)
}

func TestManager_HealthStatus(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, memfs.New())

	assert.Equal(t, health.StateHealthy, m.GetHealthStatus().Status)

	for range 20 {
		m.Get(ctx, "missing")
	}
	status := m.GetHealthStatus()
	assert.NotEqual(t, health.StateHealthy, status.Status)
	assert.NotEmpty(t, status.Recommendations)
}

type failingStore struct {
	store.Store
	failKey string
}

func (f *failingStore) Write(ctx context.Context, e *models.Entry) error {
	if e.Key == f.failKey {
		return fmt.Errorf("failed to write entry: disk full (%w)", store.ErrIO)
	}
	return f.Store.Write(ctx, e)
}

func TestManager_WriteFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	fs, err := store.NewFileStore(ctx, memfs.New(), store.FileStoreConfig{Logger: zap.NewNop()})
	require.NoError(t, err)
	m := newManagerOver(t, &failingStore{Store: fs, failKey: "bad"})

	err = m.Set(ctx, "bad", value.Int(1), testDomain)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrIO)

	ops := m.GetRecentOperations(1)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpSet, ops[0].Type)
	assert.Equal(t, "bad", ops[0].Key)
	assert.False(t, ops[0].Success)
	assert.Contains(t, ops[0].Error, "disk full")
	assert.Equal(t, int64(1), m.GetStats().FailedOperations)

	_, ok := m.Get(ctx, "bad")
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "good", value.Int(2), testDomain))
	v, ok := m.Get(ctx, "good")
	require.True(t, ok)
	assert.Equal(t, "2", v.String())

	stats := m.GetStats()
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, int64(1), stats.FailedOperations)
}

func TestManager_CorruptedRecordIsAMiss(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New()
	m := newTestManager(t, fs)

	require.NoError(t, m.Set(ctx, "status-data", value.Int(1), testDomain))

	f, err := fs.Create("status-data.entry")
	require.NoError(t, err)
	_, err = f.Write([]byte("cinder/1 json 00\n{not json"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, ok := m.Get(ctx, "status-data")
	assert.False(t, ok)
	stats := m.GetStats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.FailedOperations)

	require.NoError(t, m.Set(ctx, "status-data", value.Int(2), testDomain))
	v, ok := m.Get(ctx, "status-data")
	require.True(t, ok)
	assert.Equal(t, "2", v.String())
}

func TestManager_DiskUsageUsesStorageFootprint(t *testing.T) {
	ctx := context.Background()
	th := health.DefaultThresholds()
	th.MaxDiskBytes = 32
	m := newTestManager(t, memfs.New(), config.WithHealthThresholds(th))

	require.NoError(t, m.Set(ctx, "k", value.Int(1), testDomain))
	pm, err := m.OptimizeCache(ctx)
	require.NoError(t, err)

	stats := m.GetStats()
	assert.Less(t, stats.TotalSize, th.MaxDiskBytes)
	assert.Equal(t, pm.DiskBytes, stats.DiskBytes)
	assert.Greater(t, stats.DiskBytes, th.MaxDiskBytes)

	status := m.GetHealthStatus()
	require.NotEmpty(t, status.Issues)
	assert.Equal(t, health.IssueDiskUsage, status.Issues[0].Type)
}

func TestManager_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, osfs.New(t.TempDir()), config.WithShardCount(4))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := []string{"a", "b"}[i%2]
			for j := range 20 {
				_ = m.Set(ctx, key, value.Int(int64(j)), testDomain)
				m.Get(ctx, key)
				_, _ = m.MergeData(ctx, key, value.MustParse(`{"n":1}`), merge.Config{}, testDomain)
			}
		}()
	}
	wg.Wait()

	stats := m.GetStats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Zero(t, stats.FailedOperations)
}
