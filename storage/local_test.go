package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestLocalUserRoundTrip(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	_, err := l.GetUser(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	u := User{TelegramID: 42, Name: "Alex", Handle: "alex_orders", Phone: "91234567"}
	require.NoError(t, l.UpsertUser(ctx, u))

	got, err := l.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Alex", got.Name)
	assert.Equal(t, "91234567", got.Phone)

	u.Phone = "98765432"
	require.NoError(t, l.UpsertUser(ctx, u))
	got, err = l.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "98765432", got.Phone)
}

func TestLocalMenuGroupsRoundTrip(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	_, err := l.MenuGroups(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	groups := []MenuGroup{{ID: "flavor", Key: "flavor", Title: "Flavors",
		Options: []MenuOption{{Name: "Classic Acai", Price: 8}}}}
	require.NoError(t, l.SaveMenuGroups(ctx, groups))

	got, err := l.MenuGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, groups, got)

	// Pricing derives from the first group when no explicit table exists.
	prices, err := l.Pricing(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, prices["Classic Acai"], 1e-9)
}

func TestLocalDeliverySessions(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	now := time.Now()

	open, err := l.OpenDeliverySessions(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, open)

	future := &DeliverySession{Location: "NUS UTown", Status: "open",
		DeliveryAt: now.Add(6 * time.Hour), CutoffAt: now.Add(2 * time.Hour)}
	past := &DeliverySession{Location: "Clementi", Status: "open",
		DeliveryAt: now.Add(-time.Hour), CutoffAt: now.Add(-2 * time.Hour)}
	closed := &DeliverySession{Location: "Jurong", Status: "closed",
		DeliveryAt: now.Add(6 * time.Hour), CutoffAt: now.Add(2 * time.Hour)}
	for _, ds := range []*DeliverySession{future, past, closed} {
		require.NoError(t, l.CreateDeliverySession(ctx, ds))
	}
	assert.Equal(t, int64(1), future.ID)
	assert.Equal(t, int64(3), closed.ID)

	open, err = l.OpenDeliverySessions(ctx, now)
	require.NoError(t, err)
	require.Len(t, open, 1, "past cutoffs and closed sessions are filtered")
	assert.Equal(t, "NUS UTown", open[0].Location)

	got, err := l.DeliverySession(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, "NUS UTown", got.Location)

	_, err = l.DeliverySession(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalOrders(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	sid := int64(7)
	orders := []*Order{
		{OrderID: "a-1", UserID: 1, DeliverySessionID: &sid, TotalPrice: 16, Status: StatusConfirmed},
		{OrderID: "a-2", UserID: 2, DeliverySessionID: &sid, TotalPrice: 9, Status: StatusConfirmed},
		{OrderID: "a-3", UserID: 3, DeliverySessionID: &sid, TotalPrice: 100, Status: StatusCancelled},
	}
	for _, o := range orders {
		require.NoError(t, l.CreateOrder(ctx, o))
	}

	total, err := l.SessionRevenue(ctx, sid)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, total, 1e-9, "cancelled orders do not count")

	require.NoError(t, l.UpdateOrderStatus(ctx, "a-1", StatusCompleted))
	assert.ErrorIs(t, l.UpdateOrderStatus(ctx, "nope", StatusCompleted), ErrNotFound)
}

func TestLocalPing(t *testing.T) {
	l := newTestLocal(t)
	assert.NoError(t, l.Ping(context.Background()))
}
