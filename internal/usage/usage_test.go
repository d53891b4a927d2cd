package usage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulmenhq/storyblok-assets-cleanup/internal/catalog"
	"github.com/fulmenhq/storyblok-assets-cleanup/internal/refs"
)

var created = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleAssets() []catalog.Asset {
	updated := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []catalog.Asset{
		{ID: 1, Filename: "banner.png", FolderPath: "/images", SizeBytes: 1024, ContentURL: "https://a.storyblok.com/f/606/aa/banner.png", LastUpdated: updated},
		{ID: 2, Filename: "old.pdf", FolderPath: "/docs", SizeBytes: 2048, ContentURL: "https://a.storyblok.com/f/606/bb/old.pdf", LastUpdated: updated},
		{ID: 3, Filename: "café.jpg", FolderPath: "/", SizeBytes: 0, ContentURL: "https://a.storyblok.com/f/606/cc/caf%C3%A9.jpg", LastUpdated: updated},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	ix := NewIndex("606", created, sampleAssets(), refs.NewSet("1", "3"))

	require.NoError(t, store.Save(ix))
	loaded, err := store.Load("606")
	require.NoError(t, err)
	assert.Equal(t, ix, loaded)
	assert.True(t, loaded.ReferenceSet().Has("3"))
}

func TestStoreRoundTripEmpty(t *testing.T) {
	store := NewStore(t.TempDir())
	ix := &Index{SpaceID: "606", CreatedAt: created, Fingerprint: catalog.Fingerprint(nil)}

	require.NoError(t, store.Save(ix))
	loaded, err := store.Load("606")
	require.NoError(t, err)
	assert.Empty(t, loaded.Assets)
	assert.Empty(t, loaded.References)
}

func TestStoreLoadMissing(t *testing.T) {
	_, err := NewStore(t.TempDir()).Load("606")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestStoreLoadCorrupt(t *testing.T) {
	tamper := map[string]func(string) string{
		"truncated":      func(s string) string { return s[:len(s)/2] },
		"empty object":   func(string) string { return "{}" },
		"not json":       func(string) string { return "garbage" },
		"edited refs":    func(s string) string { return strings.Replace(s, `"1"`, `"2"`, 1) },
		"edited asset":   func(s string) string { return strings.Replace(s, "old.pdf", "new.pdf", 1) },
		"version bumped": func(s string) string { return strings.Replace(s, `"schema_version": 1`, `"schema_version": 2`, 1) },
	}

	for name, fn := range tamper {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			store := NewStore(dir)
			require.NoError(t, store.Save(NewIndex("606", created, sampleAssets(), refs.NewSet("1"))))

			path, err := store.Path("606")
			require.NoError(t, err)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, []byte(fn(string(data))), 0o644))

			_, err = store.Load("606")
			require.Error(t, err)
			assert.True(t, IsInvalid(err), "want invalid, got %v", err)
		})
	}
}

func TestStoreLoadOtherSpace(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, store.Save(NewIndex("606", created, sampleAssets(), refs.NewSet())))
	require.NoError(t, os.Rename(filepath.Join(dir, "606_usage.json"), filepath.Join(dir, "707_usage.json")))

	_, err := store.Load("707")
	var ie *InvalidError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Reason, "space 606")
}

func TestStoreClear(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Save(NewIndex("606", created, sampleAssets(), refs.NewSet())))
	require.NoError(t, store.Clear("606"))
	_, err := store.Load("606")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, store.Clear("606"))
}

func TestStoreForget(t *testing.T) {
	store := NewStore(t.TempDir())
	assets := sampleAssets()
	require.NoError(t, store.Save(NewIndex("606", created, assets, refs.NewSet("1"))))

	require.NoError(t, store.Forget("606", []int64{2}))
	loaded, err := store.Load("606")
	require.NoError(t, err)

	remaining := []catalog.Asset{assets[0], assets[2]}
	assert.Equal(t, remaining, loaded.Assets)
	assert.Equal(t, catalog.Fingerprint(remaining), loaded.Fingerprint)
	assert.Equal(t, []string{"1"}, loaded.References)
	assert.Equal(t, created, loaded.CreatedAt)
}

func TestStoreForgetWithoutCache(t *testing.T) {
	assert.NoError(t, NewStore(t.TempDir()).Forget("606", []int64{1}))
}

type memStore struct {
	ix      *Index
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(string) (*Index, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.ix == nil {
		return nil, ErrCacheMiss
	}
	return m.ix, nil
}

func (m *memStore) Save(ix *Index) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.ix = ix
	return nil
}

type countingScan struct {
	calls int
	set   refs.Set
	err   error
}

func (c *countingScan) scan(context.Context, []catalog.Asset) (refs.Set, error) {
	c.calls++
	return c.set, c.err
}

func TestBuilderMissScansAndSaves(t *testing.T) {
	store := &memStore{}
	scan := &countingScan{set: refs.NewSet("1")}
	b := &Builder{Cache: store, MaxAge: time.Hour, Now: func() time.Time { return created }}

	res, err := b.Build(context.Background(), "606", sampleAssets(), scan.scan)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 1, scan.calls)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, []string{"1"}, store.ix.References)
}

func TestBuilderHitSkipsScan(t *testing.T) {
	assets := sampleAssets()
	store := &memStore{ix: NewIndex("606", created, assets, refs.NewSet("2"))}
	scan := &countingScan{set: refs.NewSet("1")}
	b := &Builder{Cache: store, MaxAge: time.Hour, Now: func() time.Time { return created.Add(30 * time.Minute) }}

	res, err := b.Build(context.Background(), "606", assets, scan.scan)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 0, scan.calls)
	assert.Equal(t, []string{"2"}, res.References.Sorted())
}

func TestBuilderStaleRebuilds(t *testing.T) {
	assets := sampleAssets()
	changed := sampleAssets()
	changed[1].LastUpdated = changed[1].LastUpdated.Add(time.Minute)

	cases := []struct {
		name   string
		assets []catalog.Asset
		now    time.Time
		maxAge time.Duration
		reason string
	}{
		{"asset replaced", changed, created.Add(time.Minute), time.Hour, "asset list changed"},
		{"asset added", append(sampleAssets(), catalog.Asset{ID: 9, FolderPath: "/"}), created, time.Hour, "asset list changed"},
		{"too old", assets, created.Add(2 * time.Hour), time.Hour, "older than 1h0m0s"},
		{"future", assets, created.Add(-time.Hour), time.Hour, "created in the future"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &memStore{ix: NewIndex("606", created, assets, refs.NewSet("2"))}
			scan := &countingScan{set: refs.NewSet("1")}
			b := &Builder{Cache: store, MaxAge: tc.maxAge, Now: func() time.Time { return tc.now }}

			res, err := b.Build(context.Background(), "606", tc.assets, scan.scan)
			require.NoError(t, err)
			assert.False(t, res.FromCache)
			assert.Equal(t, tc.reason, res.StaleReason)
			assert.Equal(t, 1, scan.calls)
			assert.Equal(t, []string{"1"}, res.References.Sorted())
		})
	}
}

func TestBuilderZeroMaxAgeNeverExpires(t *testing.T) {
	assets := sampleAssets()
	store := &memStore{ix: NewIndex("606", created, assets, refs.NewSet())}
	scan := &countingScan{}
	b := &Builder{Cache: store, Now: func() time.Time { return created.Add(365 * 24 * time.Hour) }}

	res, err := b.Build(context.Background(), "606", assets, scan.scan)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 0, scan.calls)
}

func TestBuilderInvalidCacheRebuilds(t *testing.T) {
	store := &memStore{loadErr: &InvalidError{Path: "x", Reason: "checksum mismatch"}}
	scan := &countingScan{set: refs.NewSet()}
	b := &Builder{Cache: store}

	res, err := b.Build(context.Background(), "606", sampleAssets(), scan.scan)
	require.NoError(t, err)
	assert.Equal(t, 1, scan.calls)
	assert.Contains(t, res.StaleReason, "checksum mismatch")
}

func TestBuilderSaveFailureIsNotFatal(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	scan := &countingScan{set: refs.NewSet("1")}
	b := &Builder{Cache: store}

	res, err := b.Build(context.Background(), "606", sampleAssets(), scan.scan)
	require.NoError(t, err)
	assert.True(t, res.References.Has("1"))
}

func TestBuilderWithoutCache(t *testing.T) {
	scan := &countingScan{set: refs.NewSet("1")}
	b := &Builder{}

	res, err := b.Build(context.Background(), "606", sampleAssets(), scan.scan)
	require.NoError(t, err)
	assert.Equal(t, 1, scan.calls)
	assert.False(t, res.FromCache)
}

func TestBuilderScanError(t *testing.T) {
	scan := &countingScan{err: errors.New("boom")}
	b := &Builder{Cache: &memStore{}}

	_, err := b.Build(context.Background(), "606", sampleAssets(), scan.scan)
	assert.ErrorContains(t, err, "boom")
}
