// Package payment handles receipt capture and the final order commit.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acaisupper/acaibot/core/logger"
	"github.com/acaisupper/acaibot/session"
	"github.com/acaisupper/acaibot/storage"
)

// PayAtCounterRef is stored in place of a screenshot reference for pickup
// orders settled at the counter.
const PayAtCounterRef = "Pay at Counter"

// Processor mints orders, stores payment receipts and performs the atomic
// commit. It owns no conversation state; callers hold the session lock.
type Processor struct {
	store   storage.Store
	remote  storage.BlobSink // nil when no remote bucket is configured
	local   storage.BlobSink
	retries int
	qrPath  string
}

// NewProcessor wires the commit path. retries bounds extra CreateOrder
// attempts after the first.
func NewProcessor(store storage.Store, remote, local storage.BlobSink, retries int, qrPath string) *Processor {
	if retries < 0 {
		retries = 0
	}
	return &Processor{store: store, remote: remote, local: local, retries: retries, qrPath: qrPath}
}

// QRPath returns the configured QR image path, empty when the file is
// missing so callers fall back to a text prompt.
func (p *Processor) QRPath() string {
	if p.qrPath == "" {
		return ""
	}
	if _, err := os.Stat(p.qrPath); err != nil {
		return ""
	}
	return p.qrPath
}

// NewOrderID mints an order id: order date for humans, a uuid tail for
// uniqueness.
func NewOrderID(now time.Time) string {
	return now.Format("20060102150405") + "-" + uuid.NewString()[:8]
}

// BuildOrder assembles a pending order from the session. The order is not
// persisted yet; it rides the session until commit.
func (p *Processor) BuildOrder(sess *session.Session, now time.Time) *storage.Order {
	o := &storage.Order{
		OrderID:        NewOrderID(now),
		UserID:         sess.UserID,
		Kind:           sess.Kind,
		CustomerName:   sess.Name,
		CustomerPhone:  sess.Phone,
		CustomerHandle: sess.Handle,
		Items:          append([]storage.LineItem(nil), sess.Cart...),
		TotalPrice:     sess.CartTotal(),
		Status:         storage.StatusPending,
		PaymentStatus:  storage.PaymentPending,
		PaymentMethod:  sess.PaymentMethod,
		CreatedAt:      now,
	}
	for _, it := range sess.Cart {
		o.TotalQuantity += it.Quantity
	}
	if sess.Delivery != nil {
		o.DeliverySessionID = &sess.Delivery.ID
	}
	if sess.Pickup != nil {
		o.StoreID = &sess.Pickup.ID
		o.PickupDate = now.Format("2006-01-02")
		o.PickupTime = now.Format("15:04")
	}
	return o
}

// StoreReceipt uploads the screenshot remotely, falling back to the local
// receipts directory when the remote store is unavailable or unconfigured.
// One attempt each; the error returns only when both sinks fail.
func (p *Processor) StoreReceipt(ctx context.Context, orderID string, image []byte) (string, error) {
	path := receiptPath(orderID, time.Now())

	if p.remote != nil {
		ref, err := p.remote.Put(ctx, path, "image/jpeg", image)
		if err == nil {
			return ref, nil
		}
		logger.SVCPayment.Warn("remote receipt upload failed, using local fallback",
			slog.String("event", "payment.upload"),
			slog.String("order_id", orderID),
			slog.String("err", err.Error()),
		)
	}

	ref, err := p.local.Put(ctx, path, "image/jpeg", image)
	if err != nil {
		return "", fmt.Errorf("store receipt for %s: %w", orderID, err)
	}
	return ref, nil
}

func receiptPath(orderID string, now time.Time) string {
	return fmt.Sprintf("receipts/%s/payment_%s.jpg", now.Format("2006/01/02"), sanitize(orderID))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// Commit writes the pending order with status confirmed and clears the
// session. The write and the clear happen together under the caller-held
// session lock: a failed write leaves the session (and its cart) intact so
// the next message retries without re-collecting anything.
func (p *Processor) Commit(ctx context.Context, sess *session.Session) error {
	o := sess.PendingOrder
	if o == nil {
		return fmt.Errorf("commit: no pending order for user %d", sess.UserID)
	}
	o.Status = storage.StatusConfirmed

	var err error
	for attempt := 0; attempt <= p.retries; attempt++ {
		err = p.store.CreateOrder(ctx, o)
		if err == nil {
			break
		}
		if !storage.IsTransient(err) {
			break
		}
	}
	if err != nil {
		logger.SVCPayment.Error("order commit failed",
			slog.String("event", "payment.commit"),
			slog.String("order_id", o.OrderID),
			slog.Int64("user_id", sess.UserID),
			slog.String("err", err.Error()),
		)
		return err
	}

	logger.SVCPayment.Info("order committed",
		slog.String("event", "payment.commit"),
		slog.String("order_id", o.OrderID),
		slog.Int64("user_id", sess.UserID),
		slog.Float64("total", o.TotalPrice),
		slog.Int("cart_lines", len(o.Items)),
	)
	sess.Clear()
	return nil
}
