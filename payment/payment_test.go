package payment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acaisupper/acaibot/core/logger"
	"github.com/acaisupper/acaibot/session"
	"github.com/acaisupper/acaibot/storage"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

type fakeSink struct {
	err   error
	paths []string
}

func (f *fakeSink) Put(_ context.Context, path, _ string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.paths = append(f.paths, path)
	return "ref://" + path, nil
}

type commitStore struct {
	storage.Store

	failures int // transient failures before success
	calls    int
	hardErr  error
	orders   []*storage.Order
}

func (c *commitStore) CreateOrder(_ context.Context, o *storage.Order) error {
	c.calls++
	if c.hardErr != nil {
		return c.hardErr
	}
	if c.failures > 0 {
		c.failures--
		return storage.Transient("create order", errors.New("connection reset"))
	}
	cp := *o
	c.orders = append(c.orders, &cp)
	return nil
}

func paidSession() *session.Session {
	return &session.Session{
		UserID: 42,
		Stage:  session.StageAwaitReceipt,
		Kind:   storage.KindDelivery,
		Name:   "Alex",
		Phone:  "91234567",
		Handle: "alex_orders",
		Delivery: &storage.DeliverySession{
			ID: 7, Location: "NUS UTown", Status: "open",
			CutoffAt: time.Now().Add(time.Hour),
		},
		Cart: []storage.LineItem{
			{Flavor: "Classic Acai", Sauce: "Honey", Quantity: 2, UnitPrice: 8.0},
			{Flavor: "Protein Acai", Quantity: 1, UnitPrice: 9.0},
		},
		PaymentMethod: storage.PayNow,
	}
}

func TestNewOrderID(t *testing.T) {
	now := time.Date(2026, 9, 1, 15, 4, 5, 0, time.UTC)
	id := NewOrderID(now)
	assert.Regexp(t, regexp.MustCompile(`^20260901150405-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewOrderID(now), "uuid tail keeps ids unique")
}

func TestBuildOrder(t *testing.T) {
	p := NewProcessor(&commitStore{}, nil, &fakeSink{}, 1, "")
	sess := paidSession()
	now := time.Now()

	o := p.BuildOrder(sess, now)
	assert.Equal(t, int64(42), o.UserID)
	assert.Equal(t, storage.KindDelivery, o.Kind)
	assert.Equal(t, "Alex", o.CustomerName)
	assert.Equal(t, "91234567", o.CustomerPhone)
	assert.Equal(t, "alex_orders", o.CustomerHandle)
	require.NotNil(t, o.DeliverySessionID)
	assert.Equal(t, int64(7), *o.DeliverySessionID)
	assert.Nil(t, o.StoreID)
	assert.Equal(t, 3, o.TotalQuantity)
	assert.InDelta(t, 25.0, o.TotalPrice, 1e-9)
	assert.Equal(t, storage.StatusPending, o.Status)
	assert.Equal(t, storage.PaymentPending, o.PaymentStatus)

	// The order rides its own cart copy.
	sess.Cart[0].Quantity = 99
	assert.Equal(t, 2, o.Items[0].Quantity)
}

func TestBuildOrderPickup(t *testing.T) {
	p := NewProcessor(&commitStore{}, nil, &fakeSink{}, 1, "")
	sess := paidSession()
	sess.Kind = storage.KindPickup
	sess.Delivery = nil
	sess.Pickup = &storage.PickupStore{ID: "orchard", Name: "Orchard Central", Active: true}

	o := p.BuildOrder(sess, time.Date(2026, 9, 1, 15, 4, 5, 0, time.UTC))
	require.NotNil(t, o.StoreID)
	assert.Equal(t, "orchard", *o.StoreID)
	assert.Nil(t, o.DeliverySessionID)
	assert.Equal(t, "2026-09-01", o.PickupDate)
	assert.Equal(t, "15:04", o.PickupTime)
}

func TestStoreReceiptPrefersRemote(t *testing.T) {
	remote := &fakeSink{}
	local := &fakeSink{}
	p := NewProcessor(&commitStore{}, remote, local, 1, "")

	ref, err := p.StoreReceipt(context.Background(), "20260901-abc", []byte("jpeg"))
	require.NoError(t, err)
	assert.Contains(t, ref, "payment_20260901-abc.jpg")
	assert.Len(t, remote.paths, 1)
	assert.Empty(t, local.paths)
}

func TestStoreReceiptFallsBackToLocal(t *testing.T) {
	remote := &fakeSink{err: errors.New("bucket down")}
	local := &fakeSink{}
	p := NewProcessor(&commitStore{}, remote, local, 1, "")

	ref, err := p.StoreReceipt(context.Background(), "id-1", []byte("jpeg"))
	require.NoError(t, err)
	assert.Len(t, local.paths, 1)
	assert.Contains(t, ref, "receipts/")
}

func TestStoreReceiptNoRemoteConfigured(t *testing.T) {
	local := &fakeSink{}
	p := NewProcessor(&commitStore{}, nil, local, 1, "")

	_, err := p.StoreReceipt(context.Background(), "id-2", []byte("jpeg"))
	require.NoError(t, err)
	assert.Len(t, local.paths, 1)
}

func TestStoreReceiptBothSinksFail(t *testing.T) {
	remote := &fakeSink{err: errors.New("bucket down")}
	local := &fakeSink{err: errors.New("disk full")}
	p := NewProcessor(&commitStore{}, remote, local, 1, "")

	_, err := p.StoreReceipt(context.Background(), "id-3", []byte("jpeg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id-3")
}

func TestReceiptPathSanitizesOrderID(t *testing.T) {
	path := receiptPath("../../../etc/passwd", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "receipts/2026/09/01/payment__________etc_passwd.jpg", path)
}

func TestCommitClearsSessionOnSuccess(t *testing.T) {
	store := &commitStore{}
	p := NewProcessor(store, nil, &fakeSink{}, 1, "")
	sess := paidSession()
	sess.PendingOrder = p.BuildOrder(sess, time.Now())

	require.NoError(t, p.Commit(context.Background(), sess))
	require.Len(t, store.orders, 1)
	assert.Equal(t, storage.StatusConfirmed, store.orders[0].Status)
	assert.Equal(t, session.StageStart, sess.Stage)
	assert.Empty(t, sess.Cart)
	assert.Nil(t, sess.PendingOrder)
}

func TestCommitRetriesTransientFailures(t *testing.T) {
	store := &commitStore{failures: 1}
	p := NewProcessor(store, nil, &fakeSink{}, 1, "")
	sess := paidSession()
	sess.PendingOrder = p.BuildOrder(sess, time.Now())

	require.NoError(t, p.Commit(context.Background(), sess))
	assert.Equal(t, 2, store.calls)
}

func TestCommitFailureKeepsSession(t *testing.T) {
	store := &commitStore{failures: 5}
	p := NewProcessor(store, nil, &fakeSink{}, 1, "")
	sess := paidSession()
	sess.PendingOrder = p.BuildOrder(sess, time.Now())

	err := p.Commit(context.Background(), sess)
	require.Error(t, err)
	assert.Equal(t, 2, store.calls, "one attempt plus one retry")
	assert.NotNil(t, sess.PendingOrder, "pending order survives for a later retry")
	assert.Len(t, sess.Cart, 2)
}

func TestCommitDoesNotRetryHardErrors(t *testing.T) {
	store := &commitStore{hardErr: errors.New("constraint violation")}
	p := NewProcessor(store, nil, &fakeSink{}, 3, "")
	sess := paidSession()
	sess.PendingOrder = p.BuildOrder(sess, time.Now())

	require.Error(t, p.Commit(context.Background(), sess))
	assert.Equal(t, 1, store.calls)
}

func TestCommitWithoutPendingOrder(t *testing.T) {
	p := NewProcessor(&commitStore{}, nil, &fakeSink{}, 1, "")
	err := p.Commit(context.Background(), &session.Session{UserID: 1})
	require.Error(t, err)
}

func TestQRPath(t *testing.T) {
	p := NewProcessor(&commitStore{}, nil, &fakeSink{}, 1, "")
	assert.Empty(t, p.QRPath())

	missing := NewProcessor(&commitStore{}, nil, &fakeSink{}, 1, "/nonexistent/qr.jpg")
	assert.Empty(t, missing.QRPath())

	dir := t.TempDir()
	qr := filepath.Join(dir, "qr.jpg")
	require.NoError(t, os.WriteFile(qr, []byte("img"), 0o644))
	present := NewProcessor(&commitStore{}, nil, &fakeSink{}, 1, qr)
	assert.Equal(t, qr, present.QRPath())
}
