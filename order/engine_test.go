package order

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acaisupper/acaibot/catalog"
	"github.com/acaisupper/acaibot/core/logger"
	"github.com/acaisupper/acaibot/payment"
	"github.com/acaisupper/acaibot/session"
	"github.com/acaisupper/acaibot/storage"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

// fakeStore seeds targets and records writes. Menu reads return not-found so
// the catalog serves its built-in defaults (Classic/Protein/Vegan + sauces).
type fakeStore struct {
	storage.Store

	users      map[int64]storage.User
	deliveries []storage.DeliverySession
	stores     []storage.PickupStore

	listErr   error
	createErr error

	orders  []*storage.Order
	upserts int
}

func newFakeStore() *fakeStore {
	now := time.Now()
	return &fakeStore{
		users: make(map[int64]storage.User),
		deliveries: []storage.DeliverySession{{
			ID: 7, Location: "NUS UTown", Status: "open",
			DeliveryAt: now.Add(6 * time.Hour), CutoffAt: now.Add(2 * time.Hour),
		}},
		stores: []storage.PickupStore{{
			ID: "orchard", Name: "Orchard Central", Address: "181 Orchard Rd", Active: true,
		}},
	}
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (*storage.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (f *fakeStore) UpsertUser(_ context.Context, u storage.User) error {
	f.upserts++
	f.users[u.TelegramID] = u
	return nil
}

func (f *fakeStore) MenuGroups(context.Context) ([]storage.MenuGroup, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeStore) Pricing(context.Context) (map[string]float64, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeStore) Branding(context.Context) (storage.Branding, error) {
	return storage.Branding{}, storage.ErrNotFound
}

func (f *fakeStore) OpenDeliverySessions(_ context.Context, now time.Time) ([]storage.DeliverySession, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var open []storage.DeliverySession
	for _, d := range f.deliveries {
		if d.Open(now) {
			open = append(open, d)
		}
	}
	return open, nil
}

func (f *fakeStore) DeliverySession(_ context.Context, id int64) (*storage.DeliverySession, error) {
	for _, d := range f.deliveries {
		if d.ID == id {
			cp := d
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) ActivePickupStores(context.Context) ([]storage.PickupStore, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var active []storage.PickupStore
	for _, st := range f.stores {
		if st.Active {
			active = append(active, st)
		}
	}
	return active, nil
}

func (f *fakeStore) PickupStore(_ context.Context, id string) (*storage.PickupStore, error) {
	for _, st := range f.stores {
		if st.ID == id {
			cp := st
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) CreateOrder(_ context.Context, o *storage.Order) error {
	if f.createErr != nil {
		return f.createErr
	}
	cp := *o
	f.orders = append(f.orders, &cp)
	return nil
}

type nullSink struct{}

func (nullSink) Put(_ context.Context, path, _ string, _ []byte) (string, error) {
	return "file:///receipts/" + path, nil
}

type harness struct {
	eng      *Engine
	store    *fakeStore
	sessions *session.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newFakeStore()
	sessions := session.NewStore()
	eng := New(Deps{
		Sessions:    sessions,
		Store:       store,
		Catalog:     catalog.New(store, time.Hour),
		Payments:    payment.NewProcessor(store, nil, nullSink{}, 1, ""),
		MaxQuantity: 5,
		CallTimeout: time.Second,
		Currency:    "$",
	})
	return &harness{eng: eng, store: store, sessions: sessions}
}

func (h *harness) handle(t *testing.T, uid int64, in Input) []Reply {
	t.Helper()
	replies, err := h.eng.Handle(context.Background(), uid, in)
	require.NoError(t, err)
	return replies
}

func (h *harness) stage(t *testing.T, uid int64) session.Stage {
	t.Helper()
	sess, ok := h.sessions.Peek(uid)
	require.True(t, ok)
	return sess.Stage
}

func allText(replies []Reply) string {
	var b strings.Builder
	for _, r := range replies {
		b.WriteString(r.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func photoInput(data []byte, err error) Input {
	return PhotoInput(func(context.Context) ([]byte, error) {
		if err != nil {
			return nil, err
		}
		return data, nil
	})
}

const uid = int64(42)

func (h *harness) start(t *testing.T) {
	t.Helper()
	replies, err := h.eng.StartOrder(context.Background(), uid, "alex_orders")
	require.NoError(t, err)
	require.Contains(t, allText(replies), "How would you like your order?")
	require.Equal(t, session.StageSelectKind, h.stage(t, uid))
}

// walkToCart drives a fresh pickup order up to the add-more stage with one
// Classic Acai + Honey line.
func (h *harness) walkToCart(t *testing.T) {
	t.Helper()
	h.start(t)
	h.handle(t, uid, ButtonInput(CBKind, "pickup"))
	h.handle(t, uid, TextInput("Alex"))
	h.handle(t, uid, TextInput("91234567"))
	h.handle(t, uid, ButtonInput(CBTarget, "orchard"))
	h.handle(t, uid, ButtonInput(CBMenu, "0|0"))
	h.handle(t, uid, ButtonInput(CBMenu, "1|0"))
	h.handle(t, uid, ButtonInput(CBQty, "2"))
	require.Equal(t, session.StageAddMore, h.stage(t, uid))
}

func TestPickupPayAtCounterWalk(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	replies := h.handle(t, uid, ButtonInput(CBKind, "pickup"))
	assert.Contains(t, allText(replies), "User Registration")
	assert.Equal(t, session.StageRegisterName, h.stage(t, uid))

	replies = h.handle(t, uid, TextInput("A"))
	assert.Contains(t, allText(replies), "valid name")
	assert.Equal(t, session.StageRegisterName, h.stage(t, uid), "invalid name does not advance")

	replies = h.handle(t, uid, TextInput("Alex"))
	assert.Contains(t, allText(replies), "Phone Number")

	replies = h.handle(t, uid, TextInput("123"))
	assert.Contains(t, allText(replies), "valid phone")
	assert.Equal(t, session.StageRegisterPhone, h.stage(t, uid))

	replies = h.handle(t, uid, TextInput("91234567"))
	assert.Contains(t, allText(replies), "Registration complete")
	assert.Contains(t, allText(replies), "Select Pickup Store")
	assert.Equal(t, 1, h.store.upserts, "registration persists the user")

	replies = h.handle(t, uid, ButtonInput(CBTarget, "orchard"))
	assert.Contains(t, allText(replies), "Menu Flavors")

	replies = h.handle(t, uid, ButtonInput(CBMenu, "0|0"))
	assert.Contains(t, allText(replies), "Sauce Options")

	h.handle(t, uid, ButtonInput(CBMenu, "1|0"))
	replies = h.handle(t, uid, ButtonInput(CBQty, "2"))
	text := allText(replies)
	assert.Contains(t, text, "Your Cart")
	assert.Contains(t, text, "Classic Acai + Honey × 2 = $16.00")

	replies = h.handle(t, uid, ButtonInput(CBMore, "proceed"))
	text = allText(replies)
	assert.Contains(t, text, "Order Summary")
	assert.Contains(t, text, "Orchard Central")

	replies = h.handle(t, uid, ButtonInput(CBConfirm, ""))
	assert.Contains(t, allText(replies), "Payment Method")
	assert.Equal(t, session.StagePaymentMethod, h.stage(t, uid))

	replies = h.handle(t, uid, ButtonInput(CBPayment, "counter"))
	assert.Contains(t, allText(replies), "Pickup Order Confirmed")

	require.Len(t, h.store.orders, 1)
	o := h.store.orders[0]
	assert.Equal(t, storage.KindPickup, o.Kind)
	assert.Equal(t, "Alex", o.CustomerName)
	assert.Equal(t, "91234567", o.CustomerPhone)
	require.NotNil(t, o.StoreID)
	assert.Equal(t, "orchard", *o.StoreID)
	assert.NotEmpty(t, o.PickupDate)
	assert.NotEmpty(t, o.PickupTime)
	assert.Equal(t, storage.PayAtCounter, o.PaymentMethod)
	assert.Equal(t, storage.PaymentPending, o.PaymentStatus)
	assert.Equal(t, payment.PayAtCounterRef, o.ReceiptRef)
	assert.Equal(t, storage.StatusConfirmed, o.Status)
	assert.InDelta(t, 16.0, o.TotalPrice, 1e-9)

	assert.Equal(t, session.StageStart, h.stage(t, uid), "commit clears the session")
}

func TestDeliveryWalkWithReceipt(t *testing.T) {
	h := newHarness(t)
	h.store.users[uid] = storage.User{TelegramID: uid, Name: "Alex", Phone: "91234567", Handle: "alex_orders"}
	h.start(t)

	replies := h.handle(t, uid, ButtonInput(CBKind, "delivery"))
	text := allText(replies)
	assert.NotContains(t, text, "User Registration", "known users skip registration")
	assert.Contains(t, text, "Select Delivery Session")

	h.handle(t, uid, ButtonInput(CBTarget, "7"))
	h.handle(t, uid, ButtonInput(CBMenu, "0|1")) // Protein Acai
	h.handle(t, uid, ButtonInput(CBMenu, "1|3")) // No Sauce
	h.handle(t, uid, ButtonInput(CBQty, "1"))

	replies = h.handle(t, uid, ButtonInput(CBMore, "proceed"))
	assert.Contains(t, allText(replies), "NUS UTown")

	replies = h.handle(t, uid, ButtonInput(CBConfirm, ""))
	text = allText(replies)
	assert.Contains(t, text, "Order Confirmed")
	assert.Contains(t, text, "Payment Required")
	assert.Equal(t, session.StageAwaitReceipt, h.stage(t, uid), "delivery goes straight to payment capture")

	replies = h.handle(t, uid, photoInput([]byte("jpeg"), nil))
	text = allText(replies)
	assert.Contains(t, text, "Payment screenshot received")
	assert.Contains(t, text, "Order Complete")

	require.Len(t, h.store.orders, 1)
	o := h.store.orders[0]
	assert.Equal(t, storage.KindDelivery, o.Kind)
	require.NotNil(t, o.DeliverySessionID)
	assert.Equal(t, int64(7), *o.DeliverySessionID)
	assert.Equal(t, storage.PayNow, o.PaymentMethod)
	assert.Equal(t, storage.PaymentSubmitted, o.PaymentStatus)
	assert.Contains(t, o.ReceiptRef, "file://")
	assert.Equal(t, session.StageStart, h.stage(t, uid))
}

func TestNoOpenDeliveriesAbortsToIdle(t *testing.T) {
	h := newHarness(t)
	h.store.users[uid] = storage.User{TelegramID: uid, Name: "Alex", Phone: "91234567"}
	h.store.deliveries[0].CutoffAt = time.Now().Add(-time.Minute)
	h.start(t)

	replies := h.handle(t, uid, ButtonInput(CBKind, "delivery"))
	assert.Contains(t, allText(replies), "no active delivery sessions")
	assert.Equal(t, session.StageStart, h.stage(t, uid))
}

func TestTargetListErrorStaysOnStage(t *testing.T) {
	h := newHarness(t)
	h.store.users[uid] = storage.User{TelegramID: uid, Name: "Alex", Phone: "91234567"}
	h.store.listErr = storage.Transient("open delivery sessions", errors.New("connection refused"))
	h.start(t)

	replies := h.handle(t, uid, ButtonInput(CBKind, "delivery"))
	assert.Contains(t, allText(replies), "can't load the options")
	assert.Equal(t, session.StageSelectKind, h.stage(t, uid), "a fetch failure pauses instead of aborting")

	// The store recovers and the same step succeeds.
	h.store.listErr = nil
	replies = h.handle(t, uid, ButtonInput(CBKind, "delivery"))
	assert.Contains(t, allText(replies), "Select Delivery Session")
}

func TestTargetGoneRelists(t *testing.T) {
	h := newHarness(t)
	h.store.users[uid] = storage.User{TelegramID: uid, Name: "Alex", Phone: "91234567"}
	h.start(t)
	h.handle(t, uid, ButtonInput(CBKind, "delivery"))

	replies := h.handle(t, uid, ButtonInput(CBTarget, "99"))
	text := allText(replies)
	assert.Contains(t, text, "no longer available")
	assert.Contains(t, text, "Select Delivery Session")
	assert.Equal(t, session.StageChooseTarget, h.stage(t, uid))
}

func TestInvalidShapeDoesNotAdvance(t *testing.T) {
	h := newHarness(t)
	h.walkToCart(t)

	// Text where a button is expected.
	replies := h.handle(t, uid, TextInput("three please"))
	assert.Contains(t, allText(replies), "use the buttons")
	assert.Equal(t, session.StageAddMore, h.stage(t, uid))

	// Wrong callback key for the stage.
	replies = h.handle(t, uid, ButtonInput(CBQty, "3"))
	assert.Contains(t, allText(replies), "use the buttons")
	assert.Equal(t, session.StageAddMore, h.stage(t, uid))

	sess, _ := h.sessions.Peek(uid)
	assert.Len(t, sess.Cart, 1, "the cart is untouched by rejected input")
}

func TestQuantityOutOfRange(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.handle(t, uid, ButtonInput(CBKind, "pickup"))
	h.handle(t, uid, TextInput("Alex"))
	h.handle(t, uid, TextInput("91234567"))
	h.handle(t, uid, ButtonInput(CBTarget, "orchard"))
	h.handle(t, uid, ButtonInput(CBMenu, "0|0"))
	h.handle(t, uid, ButtonInput(CBMenu, "1|0"))

	replies := h.handle(t, uid, ButtonInput(CBQty, "9"))
	assert.Contains(t, allText(replies), "between 1 and 5")
	assert.Equal(t, session.StageQuantity, h.stage(t, uid))
}

func TestStaleMenuButtonRepresentsGroup(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.handle(t, uid, ButtonInput(CBKind, "pickup"))
	h.handle(t, uid, TextInput("Alex"))
	h.handle(t, uid, TextInput("91234567"))
	h.handle(t, uid, ButtonInput(CBTarget, "orchard"))
	h.handle(t, uid, ButtonInput(CBMenu, "0|0"))

	// A tap on the already-answered flavor group.
	replies := h.handle(t, uid, ButtonInput(CBMenu, "0|1"))
	text := allText(replies)
	assert.Contains(t, text, "menu just changed")
	assert.Contains(t, text, "Sauce Options", "the current group is shown again")
	assert.Equal(t, session.StageSelectItem, h.stage(t, uid))
}

func TestCancelKeepsIdentity(t *testing.T) {
	h := newHarness(t)
	h.walkToCart(t)

	replies := h.handle(t, uid, ButtonInput(CBCancel, ""))
	assert.Contains(t, allText(replies), "Order cancelled")

	sess, ok := h.sessions.Peek(uid)
	require.True(t, ok)
	assert.Equal(t, session.StageStart, sess.Stage)
	assert.Equal(t, "Alex", sess.Name, "identity survives a cancel")
	assert.Equal(t, "91234567", sess.Phone)
	assert.Empty(t, sess.Cart)
	assert.False(t, h.eng.InProgress(uid))
}

func TestCancelWorksFromEveryStage(t *testing.T) {
	steps := [][]Input{
		{},
		{ButtonInput(CBKind, "pickup")},
		{ButtonInput(CBKind, "pickup"), TextInput("Alex")},
		{ButtonInput(CBKind, "pickup"), TextInput("Alex"), TextInput("91234567")},
		{ButtonInput(CBKind, "pickup"), TextInput("Alex"), TextInput("91234567"),
			ButtonInput(CBTarget, "orchard")},
		{ButtonInput(CBKind, "pickup"), TextInput("Alex"), TextInput("91234567"),
			ButtonInput(CBTarget, "orchard"), ButtonInput(CBMenu, "0|0"), ButtonInput(CBMenu, "1|0")},
	}
	for i, prefix := range steps {
		h := newHarness(t)
		h.start(t)
		for _, in := range prefix {
			h.handle(t, uid, in)
		}
		replies := h.handle(t, uid, TextInput(BtnCancelOrder))
		assert.Contains(t, allText(replies), "Order cancelled", "step %d", i)
		assert.Equal(t, session.StageStart, h.stage(t, uid), "step %d", i)
	}
}

func TestRestartReturnsToKindChoice(t *testing.T) {
	h := newHarness(t)
	h.walkToCart(t)

	replies := h.handle(t, uid, TextInput(BtnRestartOrder))
	text := allText(replies)
	assert.Contains(t, text, "Order restarted")
	assert.Contains(t, text, "How would you like your order?")
	assert.Equal(t, session.StageSelectKind, h.stage(t, uid))

	sess, _ := h.sessions.Peek(uid)
	assert.Empty(t, sess.Cart)
	assert.Equal(t, "Alex", sess.Name)
}

func TestEmptyCartCannotProceed(t *testing.T) {
	h := newHarness(t)
	h.walkToCart(t)

	// Drop the cart behind the engine's back, as a stale-state guard.
	_ = h.sessions.Do(uid, func(s *session.Session) error {
		s.Cart = nil
		return nil
	})

	replies := h.handle(t, uid, ButtonInput(CBMore, "proceed"))
	text := allText(replies)
	assert.Contains(t, text, "cart is empty")
	assert.Contains(t, text, "Menu Flavors", "the flow restarts item selection")
}

func TestCommitFailureEntersRetryStage(t *testing.T) {
	h := newHarness(t)
	h.walkToCart(t)
	h.handle(t, uid, ButtonInput(CBMore, "proceed"))
	h.handle(t, uid, ButtonInput(CBConfirm, ""))

	h.store.createErr = storage.Transient("create order", errors.New("broken pipe"))
	replies := h.handle(t, uid, ButtonInput(CBPayment, "counter"))
	assert.Contains(t, allText(replies), "couldn't save your order")
	assert.Equal(t, session.StageCommitRetry, h.stage(t, uid))

	sess, _ := h.sessions.Peek(uid)
	assert.Len(t, sess.Cart, 1, "a failed commit keeps the cart")

	// Still failing: any message retries and reports again.
	replies = h.handle(t, uid, TextInput("did it work?"))
	assert.Contains(t, allText(replies), "Still couldn't save")
	assert.Equal(t, session.StageCommitRetry, h.stage(t, uid))

	// Store recovers: the next message lands the order.
	h.store.createErr = nil
	replies = h.handle(t, uid, TextInput("retry"))
	assert.Contains(t, allText(replies), "Pickup Order Complete")
	require.Len(t, h.store.orders, 1)
	assert.Equal(t, session.StageStart, h.stage(t, uid))
}

func TestReceiptPhotoRequired(t *testing.T) {
	h := newHarness(t)
	h.store.users[uid] = storage.User{TelegramID: uid, Name: "Alex", Phone: "91234567"}
	h.start(t)
	h.handle(t, uid, ButtonInput(CBKind, "delivery"))
	h.handle(t, uid, ButtonInput(CBTarget, "7"))
	h.handle(t, uid, ButtonInput(CBMenu, "0|0"))
	h.handle(t, uid, ButtonInput(CBMenu, "1|0"))
	h.handle(t, uid, ButtonInput(CBQty, "1"))
	h.handle(t, uid, ButtonInput(CBMore, "proceed"))
	h.handle(t, uid, ButtonInput(CBConfirm, ""))
	require.Equal(t, session.StageAwaitReceipt, h.stage(t, uid))

	replies := h.handle(t, uid, TextInput("here is my receipt"))
	assert.Contains(t, allText(replies), "upload your payment screenshot")
	assert.Equal(t, session.StageAwaitReceipt, h.stage(t, uid))

	// An unreadable photo re-prompts without committing.
	replies = h.handle(t, uid, photoInput(nil, errors.New("file gone")))
	assert.Contains(t, allText(replies), "couldn't read that image")
	assert.Empty(t, h.store.orders)
	assert.Equal(t, session.StageAwaitReceipt, h.stage(t, uid))

	// A good photo completes the order.
	replies = h.handle(t, uid, photoInput([]byte("jpeg"), nil))
	assert.Contains(t, allText(replies), "Order Complete")
	assert.Len(t, h.store.orders, 1)
}

func TestStaleGenerationInputDropped(t *testing.T) {
	h := newHarness(t)
	h.walkToCart(t)

	sess, _ := h.sessions.Peek(uid)
	stale := ButtonInput(CBMore, "proceed")
	stale.Generation = sess.Generation + 1

	replies := h.handle(t, uid, stale)
	assert.Empty(t, replies, "input from another generation is ignored")
	assert.Equal(t, session.StageAddMore, h.stage(t, uid))
}

func TestIdleUserGetsNudge(t *testing.T) {
	h := newHarness(t)
	replies := h.handle(t, uid, TextInput("hello"))
	assert.Contains(t, allText(replies), BtnOrderNow)
	assert.Equal(t, session.StageStart, h.stage(t, uid))
}

func TestStartOrderDiscardsExistingFlow(t *testing.T) {
	h := newHarness(t)
	h.walkToCart(t)

	replies, err := h.eng.StartOrder(context.Background(), uid, "alex_orders")
	require.NoError(t, err)
	assert.Contains(t, allText(replies), "How would you like your order?")

	sess, _ := h.sessions.Peek(uid)
	assert.Empty(t, sess.Cart)
	assert.Equal(t, "Alex", sess.Name, "identity survives a restart")
}
