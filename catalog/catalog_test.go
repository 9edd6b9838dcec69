package catalog

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acaisupper/acaibot/core/logger"
	"github.com/acaisupper/acaibot/storage"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

// fakeStore implements just the reads the catalog performs; everything else
// is unreachable from this package.
type fakeStore struct {
	storage.Store

	mu       sync.Mutex
	groups   []storage.MenuGroup
	prices   map[string]float64
	branding storage.Branding
	err      error

	fetches atomic.Int32
}

func (f *fakeStore) MenuGroups(context.Context) ([]storage.MenuGroup, error) {
	f.fetches.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.groups, nil
}

func (f *fakeStore) Pricing(context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.prices, nil
}

func (f *fakeStore) Branding(context.Context) (storage.Branding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return storage.Branding{}, f.err
	}
	return f.branding, nil
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func configuredStore() *fakeStore {
	return &fakeStore{
		groups: []storage.MenuGroup{
			{ID: "flavor", Key: "flavor", Title: "Flavors", Options: []storage.MenuOption{
				{Name: "Classic Acai", Price: 8.0},
			}},
			{ID: "topping", Key: "topping", Title: "Toppings", Options: []storage.MenuOption{
				{Name: "Granola"},
			}},
		},
		prices:   map[string]float64{"Classic Acai": 8.0},
		branding: storage.Branding{Title: "Custom Title", Subtitle: "Custom Subtitle"},
	}
}

func TestSnapshotCachesWithinTTL(t *testing.T) {
	store := configuredStore()
	svc := New(store, time.Hour)
	ctx := context.Background()

	first := svc.Snapshot(ctx)
	second := svc.Snapshot(ctx)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), store.fetches.Load())
	assert.Equal(t, "Custom Title", first.Branding.Title)
}

func TestSnapshotRefreshesAfterTTL(t *testing.T) {
	store := configuredStore()
	svc := New(store, 10*time.Millisecond)
	ctx := context.Background()

	_ = svc.Snapshot(ctx)
	time.Sleep(20 * time.Millisecond)
	_ = svc.Snapshot(ctx)
	assert.Equal(t, int32(2), store.fetches.Load())
}

func TestSnapshotServesStaleOnError(t *testing.T) {
	store := configuredStore()
	svc := New(store, 10*time.Millisecond)
	ctx := context.Background()

	first := svc.Snapshot(ctx)
	require.NotNil(t, first)

	store.setErr(storage.Transient("menu groups", context.DeadlineExceeded))
	time.Sleep(20 * time.Millisecond)

	stale := svc.Snapshot(ctx)
	assert.Equal(t, first.Groups, stale.Groups, "previous snapshot survives a failed refresh")
}

func TestSnapshotDefaultsWhenStoreNeverAnswered(t *testing.T) {
	store := &fakeStore{}
	store.setErr(storage.Transient("menu groups", context.DeadlineExceeded))
	svc := New(store, time.Hour)

	snap := svc.Snapshot(context.Background())
	require.NotNil(t, snap)
	require.Len(t, snap.Groups, 2)
	assert.Equal(t, "Classic Acai", snap.Groups[0].Options[0].Name)
	assert.InDelta(t, 8.0, snap.Prices["Classic Acai"], 1e-9)
	assert.Equal(t, "🍧 Welcome to Acai Supper Bot!", snap.Branding.Title)
}

func TestBrandingFailureIsNonFatal(t *testing.T) {
	// Branding read fails but menu reads succeed.
	failing := &brandingFailStore{fakeStore: configuredStore()}
	svc := New(failing, time.Hour)

	snap := svc.Snapshot(context.Background())
	assert.Equal(t, "Flavors", snap.Groups[0].Title)
	assert.Equal(t, Defaults().Branding.Title, snap.Branding.Title)
}

type brandingFailStore struct {
	*fakeStore
}

func (b *brandingFailStore) Branding(context.Context) (storage.Branding, error) {
	return storage.Branding{}, storage.ErrNotFound
}

func TestInvalidateForcesRefetch(t *testing.T) {
	store := configuredStore()
	svc := New(store, time.Hour)
	ctx := context.Background()

	_ = svc.Snapshot(ctx)
	svc.Invalidate()
	_ = svc.Snapshot(ctx)
	assert.Equal(t, int32(2), store.fetches.Load())
}

func TestConcurrentSnapshotSingleFetch(t *testing.T) {
	store := configuredStore()
	svc := New(store, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := svc.Snapshot(context.Background())
			assert.NotNil(t, snap)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), store.fetches.Load(), "one refresh serves all concurrent readers")
}

func TestSnapshotGroupBounds(t *testing.T) {
	snap := Defaults()
	assert.NotNil(t, snap.Group(0))
	assert.NotNil(t, snap.Group(1))
	assert.Nil(t, snap.Group(2))
	assert.Nil(t, snap.Group(-1))
}
