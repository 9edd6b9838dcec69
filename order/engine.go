package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/acaisupper/acaibot/catalog"
	"github.com/acaisupper/acaibot/core/logger"
	"github.com/acaisupper/acaibot/payment"
	"github.com/acaisupper/acaibot/pricing"
	"github.com/acaisupper/acaibot/session"
	"github.com/acaisupper/acaibot/storage"
)

// Deps carries everything the flow engine needs.
type Deps struct {
	Sessions *session.Store
	Store    storage.Store
	Catalog  *catalog.Service
	Payments *payment.Processor

	MaxQuantity int
	CallTimeout time.Duration
	Currency    string
}

type handlerFunc func(ctx context.Context, s *session.Session, in Input) []Reply

// Engine drives the ordering conversation. Handle runs under the session
// store's per-user lock, so stage reads and writes never interleave for
// one user; different users proceed in parallel.
type Engine struct {
	sessions *session.Store
	store    storage.Store
	catalog  *catalog.Service
	payments *payment.Processor

	maxQty      int
	callTimeout time.Duration
	currency    string

	handlers map[session.Stage]handlerFunc
}

func New(deps Deps) *Engine {
	e := &Engine{
		sessions:    deps.Sessions,
		store:       deps.Store,
		catalog:     deps.Catalog,
		payments:    deps.Payments,
		maxQty:      deps.MaxQuantity,
		callTimeout: deps.CallTimeout,
		currency:    deps.Currency,
	}
	if e.maxQty <= 0 {
		e.maxQty = 5
	}
	if e.callTimeout <= 0 {
		e.callTimeout = 5 * time.Second
	}
	e.handlers = map[session.Stage]handlerFunc{
		session.StageSelectKind:    e.handleSelectKind,
		session.StageRegisterName:  e.handleRegisterName,
		session.StageRegisterPhone: e.handleRegisterPhone,
		session.StageChooseTarget:  e.handleChooseTarget,
		session.StageSelectItem:    e.handleSelectItem,
		session.StageQuantity:      e.handleQuantity,
		session.StageAddMore:       e.handleAddMore,
		session.StageConfirm:       e.handleConfirm,
		session.StagePaymentMethod: e.handlePaymentMethod,
		session.StageAwaitReceipt:  e.handleAwaitReceipt,
		session.StageCommitRetry:   e.handleCommitRetry,
	}
	return e
}

// bounded caps an external call so the per-user lock is never held on an
// unbounded network wait.
func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.callTimeout)
}

// InProgress satisfies the message router's FSM interface.
func (e *Engine) InProgress(userID int64) bool {
	return e.sessions.InProgress(userID)
}

// StartOrder begins a fresh order, discarding any flow already underway
// but keeping identity already known this conversation.
func (e *Engine) StartOrder(ctx context.Context, userID int64, handle string) ([]Reply, error) {
	var replies []Reply
	err := e.sessions.Do(userID, func(s *session.Session) error {
		s.Restart()
		if handle != "" {
			s.Handle = handle
		}
		replies = e.kindPrompt()
		return nil
	})
	return replies, err
}

// Cancel aborts the conversation from any stage. Identity collected this
// conversation is kept; everything else is dropped.
func (e *Engine) Cancel(ctx context.Context, userID int64) ([]Reply, error) {
	var replies []Reply
	err := e.sessions.Do(userID, func(s *session.Session) error {
		s.Reset()
		replies = []Reply{keyboardReply(msgCancelled, MainKeyboard())}
		return nil
	})
	return replies, err
}

// Handle processes one input against the user's current stage. Inputs whose
// shape does not fit the stage re-prompt the same stage; the stage never
// advances on malformed input.
func (e *Engine) Handle(ctx context.Context, userID int64, in Input) ([]Reply, error) {
	var replies []Reply
	err := e.sessions.Do(userID, func(s *session.Session) error {
		if in.Generation != 0 && in.Generation != s.Generation {
			logger.SVCFlow.Debug("stale input dropped",
				slog.Int64("user_id", userID),
				slog.String("stage", s.Stage.String()),
			)
			return nil
		}

		if r, handled := e.handleControls(s, in); handled {
			replies = r
			return nil
		}

		h, ok := e.handlers[s.Stage]
		if !ok {
			replies = []Reply{keyboardReply("Tap "+BtnOrderNow+" to start an order! 🍧", MainKeyboard())}
			return nil
		}

		before := s.Stage
		replies = h(ctx, s, in)
		logger.SVCFlow.Debug("flow step",
			slog.Int64("user_id", userID),
			slog.String("stage", before.String()),
			slog.String("next", s.Stage.String()),
			slog.Int("cart_lines", len(s.Cart)),
		)
		return nil
	})
	return replies, err
}

// handleControls intercepts cancel/restart regardless of stage.
func (e *Engine) handleControls(s *session.Session, in Input) ([]Reply, bool) {
	switch {
	case in.Kind == InputButton && in.Key == CBCancel,
		in.Kind == InputText && strings.TrimSpace(in.Text) == BtnCancelOrder,
		in.Kind == InputText && strings.TrimSpace(in.Text) == "/cancel":
		s.Reset()
		return []Reply{keyboardReply(msgCancelled, MainKeyboard())}, true

	case in.Kind == InputText && strings.TrimSpace(in.Text) == BtnRestartOrder:
		s.Restart()
		return append([]Reply{textReply(msgRestarted)}, e.kindPrompt()...), true
	}
	return nil, false
}

// rejectShape re-prompts the current stage for an input whose shape does
// not fit it. The stage never changes here.
func (e *Engine) rejectShape(s *session.Session, msg string) []Reply {
	logger.SVCFlow.Debug("input rejected",
		slog.Int64("user_id", s.UserID),
		slog.String("stage", s.Stage.String()),
		slog.String("err", errUserInput(msg).Error()),
	)
	return []Reply{textReply(msg)}
}

func (e *Engine) kindPrompt() []Reply {
	kb := &Keyboard{Inline: [][]Button{
		{{Label: "🚚 Delivery", Key: CBKind, Payload: string(storage.KindDelivery)}},
		{{Label: "🏪 Pickup", Key: CBKind, Payload: string(storage.KindPickup)}},
		cancelRow(),
	}}
	return []Reply{
		keyboardReply("🛍 **How would you like your order?**", kb),
		keyboardReply("Need to restart or cancel? Use the buttons below anytime.", OrderKeyboard()),
	}
}

func (e *Engine) handleSelectKind(ctx context.Context, s *session.Session, in Input) []Reply {
	if in.Kind != InputButton || in.Key != CBKind {
		return e.kindPrompt()
	}
	switch storage.OrderKind(in.Payload) {
	case storage.KindDelivery:
		s.Kind = storage.KindDelivery
	case storage.KindPickup:
		s.Kind = storage.KindPickup
	default:
		return e.kindPrompt()
	}

	// Known users skip registration: identity lives in the users table.
	if s.Name == "" {
		bctx, cancel := e.bounded(ctx)
		u, err := e.store.GetUser(bctx, s.UserID)
		cancel()
		if err == nil && u != nil {
			s.Name = u.Name
			s.Phone = u.Phone
			if s.Handle == "" {
				s.Handle = u.Handle
			}
		} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.SVCFlow.Warn("user lookup failed, asking registration",
				slog.Int64("user_id", s.UserID),
				slog.String("err", err.Error()),
			)
		}
	}

	if s.Name != "" && s.Phone != "" {
		return e.enterChooseTarget(ctx, s)
	}
	s.Stage = session.StageRegisterName
	return []Reply{textReply(msgRegistrationName)}
}

func (e *Engine) handleRegisterName(_ context.Context, s *session.Session, in Input) []Reply {
	if in.Kind != InputText {
		return e.rejectShape(s, msgRegistrationName)
	}
	name := strings.TrimSpace(in.Text)
	if len([]rune(name)) < 2 {
		return []Reply{textReply(msgInvalidName)}
	}
	s.Name = name
	s.Stage = session.StageRegisterPhone
	return []Reply{textReply(msgRegistrationPhone)}
}

func (e *Engine) handleRegisterPhone(ctx context.Context, s *session.Session, in Input) []Reply {
	if in.Kind != InputText {
		return e.rejectShape(s, msgRegistrationPhone)
	}
	phone := strings.TrimSpace(in.Text)
	if len(phone) < 8 {
		return []Reply{textReply(msgInvalidPhone)}
	}
	s.Phone = phone

	bctx, cancel := e.bounded(ctx)
	err := e.store.UpsertUser(bctx, storage.User{
		TelegramID: s.UserID,
		Name:       s.Name,
		Handle:     s.Handle,
		Phone:      s.Phone,
	})
	cancel()
	if err != nil {
		// Registration still proceeds; the session copy covers this order.
		logger.SVCFlow.Warn("user save failed",
			slog.Int64("user_id", s.UserID),
			slog.String("err", err.Error()),
		)
	}

	return append([]Reply{textReply(msgRegistrationComplete)}, e.enterChooseTarget(ctx, s)...)
}

// enterChooseTarget lists open delivery sessions or active pickup stores.
// An empty candidate set aborts back to idle; a fetch failure pauses at the
// current stage so the user can retry the same step.
func (e *Engine) enterChooseTarget(ctx context.Context, s *session.Session) []Reply {
	now := time.Now()
	bctx, cancel := e.bounded(ctx)
	defer cancel()

	var rows [][]Button
	switch s.Kind {
	case storage.KindPickup:
		stores, err := e.store.ActivePickupStores(bctx)
		if err != nil {
			logger.SVCFlow.Warn("pickup store list failed",
				slog.Int64("user_id", s.UserID),
				slog.String("err", errCatalogUnavailable(err).Error()),
			)
			return []Reply{textReply(msgTargetsUnavailable)}
		}
		for _, st := range stores {
			if !st.Active {
				continue
			}
			rows = append(rows, []Button{{Label: st.Name, Key: CBTarget, Payload: st.ID}})
		}
		if len(rows) == 0 {
			s.Stage = session.StageStart
			return []Reply{keyboardReply(msgNoStores, MainKeyboard())}
		}
		rows = append(rows, cancelRow())
		s.Stage = session.StageChooseTarget
		return []Reply{keyboardReply(
			"🏪 **Select Pickup Store:**\n\nChoose where you'd like to collect your order:",
			&Keyboard{Inline: rows},
		)}

	default:
		sessions, err := e.store.OpenDeliverySessions(bctx, now)
		if err != nil {
			logger.SVCFlow.Warn("delivery session list failed",
				slog.Int64("user_id", s.UserID),
				slog.String("err", errCatalogUnavailable(err).Error()),
			)
			return []Reply{textReply(msgTargetsUnavailable)}
		}
		for _, d := range sessions {
			if !d.Open(now) {
				continue
			}
			label := fmt.Sprintf("%s • %s", d.Location, FormatDateTimeLabel(d.DeliveryAt))
			rows = append(rows, []Button{{Label: label, Key: CBTarget, Payload: strconv.FormatInt(d.ID, 10)}})
		}
		if len(rows) == 0 {
			s.Stage = session.StageStart
			return []Reply{keyboardReply(msgNoDeliveries, MainKeyboard())}
		}
		rows = append(rows, cancelRow())
		s.Stage = session.StageChooseTarget
		return []Reply{keyboardReply(
			"🚚 **Select Delivery Session:**\n\nChoose when you'd like your order delivered:",
			&Keyboard{Inline: rows},
		)}
	}
}

func (e *Engine) handleChooseTarget(ctx context.Context, s *session.Session, in Input) []Reply {
	if in.Kind != InputButton || in.Key != CBTarget {
		return e.rejectShape(s, msgUseButtons)
	}
	bctx, cancel := e.bounded(ctx)
	defer cancel()

	switch s.Kind {
	case storage.KindPickup:
		st, err := e.store.PickupStore(bctx, in.Payload)
		if err != nil || !st.Active {
			return append([]Reply{textReply(msgTargetGone)}, e.enterChooseTarget(ctx, s)...)
		}
		s.Pickup = st

	default:
		id, err := strconv.ParseInt(in.Payload, 10, 64)
		if err != nil {
			return e.rejectShape(s, msgUseButtons)
		}
		d, derr := e.store.DeliverySession(bctx, id)
		if derr != nil || !d.Open(time.Now()) {
			return append([]Reply{textReply(msgTargetGone)}, e.enterChooseTarget(ctx, s)...)
		}
		s.Delivery = d
	}

	s.BeginItem()
	return e.presentGroup(ctx, s)
}

// presentGroup shows the next unresolved option group, or the quantity
// prompt once every group is answered.
func (e *Engine) presentGroup(ctx context.Context, s *session.Session) []Reply {
	snap := e.catalog.Snapshot(ctx)
	if s.GroupIndex >= len(snap.Groups) {
		return e.quantityPrompt(s)
	}
	group := snap.Groups[s.GroupIndex]

	var rows [][]Button
	for i, opt := range group.Options {
		label := opt.Name
		if opt.Price > 0 {
			label = fmt.Sprintf("%s — %s", opt.Name, pricing.FormatAmount(e.currency, opt.Price))
		}
		rows = append(rows, []Button{{
			Label:   label,
			Key:     CBMenu,
			Payload: fmt.Sprintf("%d|%d", s.GroupIndex, i),
		}})
	}
	rows = append(rows, cancelRow())

	s.Stage = session.StageSelectItem
	return []Reply{keyboardReply(
		fmt.Sprintf("🍧 **%s**\n\nPlease choose an option:", group.Title),
		&Keyboard{Inline: rows},
	)}
}

func (e *Engine) handleSelectItem(ctx context.Context, s *session.Session, in Input) []Reply {
	if in.Kind != InputButton || in.Key != CBMenu {
		return e.rejectShape(s, msgUseButtons)
	}
	parts := strings.SplitN(in.Payload, "|", 2)
	if len(parts) != 2 {
		return e.rejectShape(s, msgUseButtons)
	}
	g, err1 := strconv.Atoi(parts[0])
	o, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return e.rejectShape(s, msgUseButtons)
	}

	snap := e.catalog.Snapshot(ctx)
	if g != s.GroupIndex || g >= len(snap.Groups) || o < 0 || o >= len(snap.Groups[g].Options) {
		// Stale buttons: the catalog changed under the user, or they
		// tapped an old message. Re-present the current group.
		return append([]Reply{textReply(msgMenuMoved)}, e.presentGroup(ctx, s)...)
	}

	s.Choose(g, snap.Groups[g].Options[o].Name)
	s.GroupIndex = g + 1
	if s.GroupIndex < len(snap.Groups) {
		return e.presentGroup(ctx, s)
	}
	return []Reply{e.quantityReply(s)}
}

func (e *Engine) quantityPrompt(s *session.Session) []Reply {
	return []Reply{e.quantityReply(s)}
}

func (e *Engine) quantityReply(s *session.Session) Reply {
	row := make([]Button, 0, e.maxQty)
	for n := 1; n <= e.maxQty; n++ {
		row = append(row, Button{Label: strconv.Itoa(n), Key: CBQty, Payload: strconv.Itoa(n)})
	}
	s.Stage = session.StageQuantity
	return keyboardReply(
		"🔢 **Quantity**\n\nHow many bowls would you like?",
		&Keyboard{Inline: [][]Button{row, cancelRow()}},
	)
}

func (e *Engine) handleQuantity(ctx context.Context, s *session.Session, in Input) []Reply {
	if in.Kind != InputButton || in.Key != CBQty {
		return e.rejectShape(s, msgUseButtons)
	}
	qty, err := strconv.Atoi(in.Payload)
	if err != nil || qty < 1 || qty > e.maxQty {
		return []Reply{
			textReply(fmt.Sprintf("⚠️ Please choose a quantity between 1 and %d.", e.maxQty)),
			e.quantityReply(s),
		}
	}

	snap := e.catalog.Snapshot(ctx)
	price, perr := pricing.PriceFor(snap.Prices, s.Flavor)
	if perr != nil {
		// Stale flavor reference: force a refresh and rebuild the bowl
		// from the first group.
		logger.SVCFlow.Warn("cart line priced against stale menu",
			slog.Int64("user_id", s.UserID),
			slog.String("err", errCatalogUnavailable(perr).Error()),
		)
		e.catalog.Invalidate()
		s.BeginItem()
		return append([]Reply{textReply(msgMenuMoved)}, e.presentGroup(ctx, s)...)
	}

	s.Cart = append(s.Cart, storage.LineItem{
		Flavor:    s.Flavor,
		Sauce:     s.Sauce,
		Quantity:  qty,
		UnitPrice: price,
	})
	s.Stage = session.StageAddMore
	return []Reply{keyboardReply(cartSummary(s.Cart, e.currency), &Keyboard{Inline: [][]Button{
		{{Label: "➕ Add More Items", Key: CBMore, Payload: "add"}},
		{{Label: "✅ Proceed to Payment", Key: CBMore, Payload: "proceed"}},
		cancelRow(),
	}})}
}

func (e *Engine) handleAddMore(ctx context.Context, s *session.Session, in Input) []Reply {
	if in.Kind != InputButton || in.Key != CBMore {
		return e.rejectShape(s, msgUseButtons)
	}
	switch in.Payload {
	case "add":
		s.BeginItem()
		return e.presentGroup(ctx, s)
	case "proceed":
		if len(s.Cart) == 0 {
			s.BeginItem()
			return append([]Reply{textReply(msgEmptyCart)}, e.presentGroup(ctx, s)...)
		}
		s.Stage = session.StageConfirm
		return []Reply{keyboardReply(
			orderSummary(s.Kind, s.Delivery, s.Pickup, s.Cart, e.currency),
			&Keyboard{Inline: [][]Button{
				{{Label: "✅ Confirm Order", Key: CBConfirm}},
				cancelRow(),
			}},
		)}
	default:
		return e.rejectShape(s, msgUseButtons)
	}
}

func (e *Engine) handleConfirm(ctx context.Context, s *session.Session, in Input) []Reply {
	if in.Kind != InputButton || in.Key != CBConfirm {
		return e.rejectShape(s, msgUseButtons)
	}
	if len(s.Cart) == 0 {
		s.Stage = session.StageAddMore
		s.BeginItem()
		return append([]Reply{textReply(msgEmptyCart)}, e.presentGroup(ctx, s)...)
	}

	if s.Kind == storage.KindDelivery {
		s.PaymentMethod = storage.PayNow
	}
	s.PendingOrder = e.payments.BuildOrder(s, time.Now())

	confirmed := textReply(fmt.Sprintf(
		"✅ **Order Confirmed!**\n\nOrder ID: `%s`\n\nProceeding to payment...",
		s.PendingOrder.OrderID,
	))

	if s.Kind == storage.KindPickup {
		s.Stage = session.StagePaymentMethod
		return []Reply{confirmed, keyboardReply(
			"💳 **Payment Method**\n\nHow would you like to pay?",
			&Keyboard{Inline: [][]Button{
				{{Label: "💳 Pay Now", Key: CBPayment, Payload: "now"}},
				{{Label: "💵 Pay at Counter", Key: CBPayment, Payload: "counter"}},
				cancelRow(),
			}},
		)}
	}
	return append([]Reply{confirmed}, e.enterPaymentCapture(s)...)
}

// enterPaymentCapture emits the amount and QR reference, then waits for a
// screenshot.
func (e *Engine) enterPaymentCapture(s *session.Session) []Reply {
	o := s.PendingOrder
	msg := paymentRequired(o.TotalQuantity, o.TotalPrice, e.currency)

	s.Stage = session.StageAwaitReceipt
	if qr := e.payments.QRPath(); qr != "" {
		return []Reply{
			{Text: msg, ImagePath: qr},
			textReply(msgSendProof),
		}
	}
	return []Reply{
		textReply(msg + "\n\n" + msgQRMissing),
		textReply(msgSendProof),
	}
}

func (e *Engine) handlePaymentMethod(ctx context.Context, s *session.Session, in Input) []Reply {
	if in.Kind != InputButton || in.Key != CBPayment {
		return e.rejectShape(s, msgUseButtons)
	}
	switch in.Payload {
	case "now":
		s.PaymentMethod = storage.PayNow
		s.PendingOrder.PaymentMethod = storage.PayNow
		return append(
			[]Reply{textReply("💳 **Payment Method:** Pay Now\n\nProceeding to payment...")},
			e.enterPaymentCapture(s)...,
		)

	case "counter":
		s.PaymentMethod = storage.PayAtCounter
		o := s.PendingOrder
		o.PaymentMethod = storage.PayAtCounter
		o.PaymentStatus = storage.PaymentPending
		o.ReceiptRef = payment.PayAtCounterRef

		done := pickupCounterComplete(o.OrderID, s.Pickup.Name, s.Pickup.Address)
		return []Reply{
			textReply("💵 **Payment Method:** Pay at Counter\n\nProcessing your order..."),
			e.commit(ctx, s, done),
		}

	default:
		return e.rejectShape(s, msgUseButtons)
	}
}

func (e *Engine) handleAwaitReceipt(ctx context.Context, s *session.Session, in Input) []Reply {
	if in.Kind != InputPhoto || in.Photo == nil {
		return e.rejectShape(s, msgNeedPhoto)
	}

	received := []Reply{textReply(msgReceiptReceived), textReply(msgProcessing)}

	bctx, cancel := e.bounded(ctx)
	image, err := in.Photo(bctx)
	cancel()
	if err != nil {
		logger.SVCFlow.Warn("receipt download failed",
			slog.Int64("user_id", s.UserID),
			slog.String("err", errUploadFailure(err).Error()),
		)
		return append(received, textReply(msgPhotoUnreadable))
	}

	o := s.PendingOrder
	bctx, cancel = e.bounded(ctx)
	ref, err := e.payments.StoreReceipt(bctx, o.OrderID, image)
	cancel()
	if err != nil {
		logger.SVCFlow.Warn("receipt storage failed",
			slog.Int64("user_id", s.UserID),
			slog.String("order_id", o.OrderID),
			slog.String("err", errUploadFailure(err).Error()),
		)
		return append(received, textReply(msgUploadFailed))
	}

	// Last write wins: a repeated screenshot replaces the pending ref.
	o.ReceiptRef = ref
	o.PaymentStatus = storage.PaymentSubmitted

	return append(received, e.commit(ctx, s, e.completionMessage(s)))
}

func (e *Engine) handleCommitRetry(ctx context.Context, s *session.Session, _ Input) []Reply {
	return []Reply{e.commit(ctx, s, e.completionMessage(s))}
}

// commit performs the atomic order-write-then-session-clear. On failure the
// session, cart and pending order survive; the stage moves to commit retry
// so the next message tries again.
func (e *Engine) commit(ctx context.Context, s *session.Session, successText string) Reply {
	bctx, cancel := e.bounded(ctx)
	defer cancel()
	if err := e.payments.Commit(bctx, s); err != nil {
		ferr := errStoreTransient(err)
		logger.SVCFlow.Warn("order commit deferred",
			slog.Int64("user_id", s.UserID),
			slog.String("err", ferr.Error()),
		)
		if s.Stage == session.StageCommitRetry {
			return textReply(msgCommitRetry)
		}
		s.Stage = session.StageCommitRetry
		return textReply(msgCommitFailed)
	}
	return keyboardReply(successText, MainKeyboard())
}

func (e *Engine) completionMessage(s *session.Session) string {
	o := s.PendingOrder
	if s.Kind == storage.KindPickup && s.Pickup != nil {
		return pickupComplete(o.OrderID, s.Pickup.Name, s.Pickup.Address)
	}
	return deliveryComplete(o.OrderID)
}
