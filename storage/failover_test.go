package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acaisupper/acaibot/core/logger"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

// flakyStore is an in-memory Store whose reads can be forced to fail.
type flakyStore struct {
	Store

	err     error
	users   map[int64]User
	groups  []MenuGroup
	orders  []*Order
	created []*DeliverySession
}

func newFlakyStore() *flakyStore {
	return &flakyStore{users: make(map[int64]User)}
}

func (f *flakyStore) GetUser(_ context.Context, id int64) (*User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (f *flakyStore) UpsertUser(_ context.Context, u User) error {
	if f.err != nil {
		return f.err
	}
	f.users[u.TelegramID] = u
	return nil
}

func (f *flakyStore) MenuGroups(_ context.Context) ([]MenuGroup, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.groups == nil {
		return nil, ErrNotFound
	}
	return f.groups, nil
}

func (f *flakyStore) SaveMenuGroups(_ context.Context, groups []MenuGroup) error {
	if f.err != nil {
		return f.err
	}
	f.groups = groups
	return nil
}

func (f *flakyStore) CreateOrder(_ context.Context, o *Order) error {
	if f.err != nil {
		return f.err
	}
	f.orders = append(f.orders, o)
	return nil
}

func (f *flakyStore) CreateDeliverySession(_ context.Context, s *DeliverySession) error {
	if f.err != nil {
		return f.err
	}
	s.ID = int64(len(f.created) + 1)
	f.created = append(f.created, s)
	return nil
}

func (f *flakyStore) Ping(_ context.Context) error { return f.err }

func transientErr() error {
	return Transient("get user", errors.New("connection refused"))
}

func TestFailoverPrefersPrimary(t *testing.T) {
	primary := newFlakyStore()
	fallback := newFlakyStore()
	primary.users[1] = User{TelegramID: 1, Name: "Alex"}

	f := NewFailover(primary, fallback, time.Second)
	u, err := f.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Alex", u.Name)
	assert.False(t, f.Degraded())
}

func TestFailoverFallsBackOnTransient(t *testing.T) {
	primary := newFlakyStore()
	primary.err = transientErr()
	fallback := newFlakyStore()
	fallback.users[1] = User{TelegramID: 1, Name: "Backup Alex"}

	f := NewFailover(primary, fallback, time.Second)
	u, err := f.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Backup Alex", u.Name)
	assert.True(t, f.Degraded())
}

func TestFailoverHardErrorsSurface(t *testing.T) {
	primary := newFlakyStore()
	fallback := newFlakyStore()
	fallback.users[1] = User{TelegramID: 1, Name: "Backup Alex"}

	f := NewFailover(primary, fallback, time.Second)
	_, err := f.GetUser(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound, "not-found is not a reason to fail over")
	assert.False(t, f.Degraded())
}

func TestFailoverBenchesPrimary(t *testing.T) {
	primary := newFlakyStore()
	primary.err = transientErr()
	fallback := newFlakyStore()
	fallback.users[1] = User{TelegramID: 1, Name: "Backup Alex"}

	f := NewFailover(primary, fallback, time.Second)
	_, _ = f.GetUser(context.Background(), 1)
	require.True(t, f.Degraded())

	// Primary recovers, but within the bench window calls still go local.
	primary.err = nil
	primary.users[1] = User{TelegramID: 1, Name: "Primary Alex"}
	u, err := f.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Backup Alex", u.Name)

	// Force the recheck window to elapse.
	f.downedAt.Store(time.Now().Add(-time.Minute).UnixNano())
	u, err = f.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Primary Alex", u.Name)
	assert.False(t, f.Degraded())
}

func TestFailoverUpsertWritesThrough(t *testing.T) {
	primary := newFlakyStore()
	fallback := newFlakyStore()

	f := NewFailover(primary, fallback, time.Second)
	require.NoError(t, f.UpsertUser(context.Background(), User{TelegramID: 9, Name: "Sam"}))

	assert.Contains(t, primary.users, int64(9))
	assert.Contains(t, fallback.users, int64(9), "fallback keeps a user copy for degraded periods")
}

func TestFailoverMirrorsMenuToFallback(t *testing.T) {
	primary := newFlakyStore()
	primary.groups = []MenuGroup{{ID: "flavor", Key: "flavor", Title: "Flavors",
		Options: []MenuOption{{Name: "Classic Acai", Price: 8}}}}
	fallback := newFlakyStore()

	f := NewFailover(primary, fallback, time.Second)
	groups, err := f.MenuGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, primary.groups, fallback.groups)
}

func TestFailoverCreateOrderDegraded(t *testing.T) {
	primary := newFlakyStore()
	primary.err = Transient("create order", errors.New("broken pipe"))
	fallback := newFlakyStore()

	f := NewFailover(primary, fallback, time.Second)
	o := &Order{OrderID: "x-1", UserID: 1}
	require.NoError(t, f.CreateOrder(context.Background(), o))
	assert.Len(t, fallback.orders, 1)
	assert.Empty(t, primary.orders)
}

func TestFailoverCreateDeliverySession(t *testing.T) {
	primary := newFlakyStore()
	fallback := newFlakyStore()

	f := NewFailover(primary, fallback, time.Second)
	ds := &DeliverySession{Location: "NUS UTown", Status: "open"}
	require.NoError(t, f.CreateDeliverySession(context.Background(), ds))
	assert.Equal(t, int64(1), ds.ID)
	assert.Len(t, primary.created, 1)
	assert.Empty(t, fallback.created)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(transientErr()))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(ErrNotFound))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("constraint violation")))
}
