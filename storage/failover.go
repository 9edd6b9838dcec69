package storage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/acaisupper/acaibot/core/logger"
)

// recheckInterval is how long a tripped primary stays benched before the
// next call probes it again.
const recheckInterval = 30 * time.Second

// Failover serves every Store operation from a health-checked primary
// (Postgres) and degrades to the file-backed fallback on transient failure.
// The flow engine only ever sees this wrapper; which backend answered is a
// logging concern, not business logic.
type Failover struct {
	primary  Store
	fallback Store
	timeout  time.Duration

	down     atomic.Bool
	downedAt atomic.Int64
}

// NewFailover combines a primary and a fallback store. Every call against
// the primary is bounded by timeout.
func NewFailover(primary, fallback Store, timeout time.Duration) *Failover {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Failover{primary: primary, fallback: fallback, timeout: timeout}
}

// Degraded reports whether calls are currently served by the fallback.
func (f *Failover) Degraded() bool {
	return f.down.Load() && !f.recheckDue()
}

func (f *Failover) recheckDue() bool {
	return time.Since(time.Unix(0, f.downedAt.Load())) >= recheckInterval
}

func (f *Failover) trip(op string, err error) {
	if f.down.CompareAndSwap(false, true) {
		logger.SVCStore.Warn("primary store degraded",
			slog.String("event", "store.failover"),
			slog.String("operation", op),
			slog.String("err", err.Error()),
		)
	}
	f.downedAt.Store(time.Now().UnixNano())
}

func (f *Failover) restore() {
	if f.down.CompareAndSwap(true, false) {
		logger.SVCStore.Info("primary store restored",
			slog.String("event", "store.failover"),
			slog.String("status", "ok"),
		)
	}
}

// call runs op against the primary unless it is benched, falling back to the
// local store on transient failure. Hard errors (not found, validation)
// surface as-is without failover.
func call[T any](ctx context.Context, f *Failover, op string, fn func(context.Context, Store) (T, error)) (T, error) {
	if !f.down.Load() || f.recheckDue() {
		pctx, cancel := context.WithTimeout(ctx, f.timeout)
		out, err := fn(pctx, f.primary)
		cancel()
		if err == nil {
			f.restore()
			return out, nil
		}
		if !IsTransient(err) {
			f.restore()
			return out, err
		}
		f.trip(op, err)
	}
	return fn(ctx, f.fallback)
}

func (f *Failover) GetUser(ctx context.Context, telegramID int64) (*User, error) {
	return call(ctx, f, "get user", func(ctx context.Context, s Store) (*User, error) {
		return s.GetUser(ctx, telegramID)
	})
}

// UpsertUser writes through to both stores: the fallback copy lets a later
// degraded session still recognise the customer.
func (f *Failover) UpsertUser(ctx context.Context, u User) error {
	_, err := call(ctx, f, "upsert user", func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.UpsertUser(ctx, u)
	})
	if err == nil && !f.down.Load() {
		_ = f.fallback.UpsertUser(ctx, u)
	}
	return err
}

// MenuGroups mirrors the configured menu into the fallback whenever the
// primary answers, so a later degraded period serves the real menu rather
// than the built-in defaults.
func (f *Failover) MenuGroups(ctx context.Context) ([]MenuGroup, error) {
	groups, err := call(ctx, f, "menu groups", func(ctx context.Context, s Store) ([]MenuGroup, error) {
		return s.MenuGroups(ctx)
	})
	if err == nil && !f.down.Load() {
		_ = f.fallback.SaveMenuGroups(ctx, groups)
	}
	return groups, err
}

func (f *Failover) SaveMenuGroups(ctx context.Context, groups []MenuGroup) error {
	_, err := call(ctx, f, "save menu groups", func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.SaveMenuGroups(ctx, groups)
	})
	return err
}

func (f *Failover) Pricing(ctx context.Context) (map[string]float64, error) {
	return call(ctx, f, "pricing", func(ctx context.Context, s Store) (map[string]float64, error) {
		return s.Pricing(ctx)
	})
}

func (f *Failover) Branding(ctx context.Context) (Branding, error) {
	return call(ctx, f, "branding", func(ctx context.Context, s Store) (Branding, error) {
		return s.Branding(ctx)
	})
}

func (f *Failover) OpenDeliverySessions(ctx context.Context, now time.Time) ([]DeliverySession, error) {
	return call(ctx, f, "open delivery sessions", func(ctx context.Context, s Store) ([]DeliverySession, error) {
		return s.OpenDeliverySessions(ctx, now)
	})
}

func (f *Failover) DeliverySession(ctx context.Context, id int64) (*DeliverySession, error) {
	return call(ctx, f, "delivery session", func(ctx context.Context, s Store) (*DeliverySession, error) {
		return s.DeliverySession(ctx, id)
	})
}

func (f *Failover) CreateDeliverySession(ctx context.Context, s *DeliverySession) error {
	_, err := call(ctx, f, "create delivery session", func(ctx context.Context, st Store) (struct{}, error) {
		return struct{}{}, st.CreateDeliverySession(ctx, s)
	})
	return err
}

func (f *Failover) ActivePickupStores(ctx context.Context) ([]PickupStore, error) {
	return call(ctx, f, "active pickup stores", func(ctx context.Context, s Store) ([]PickupStore, error) {
		return s.ActivePickupStores(ctx)
	})
}

func (f *Failover) PickupStore(ctx context.Context, id string) (*PickupStore, error) {
	return call(ctx, f, "pickup store", func(ctx context.Context, s Store) (*PickupStore, error) {
		return s.PickupStore(ctx, id)
	})
}

func (f *Failover) CreateOrder(ctx context.Context, o *Order) error {
	_, err := call(ctx, f, "create order", func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.CreateOrder(ctx, o)
	})
	return err
}

func (f *Failover) UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error {
	_, err := call(ctx, f, "update order status", func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.UpdateOrderStatus(ctx, orderID, status)
	})
	return err
}

func (f *Failover) SessionRevenue(ctx context.Context, sessionID int64) (float64, error) {
	return call(ctx, f, "session revenue", func(ctx context.Context, s Store) (float64, error) {
		return s.SessionRevenue(ctx, sessionID)
	})
}

func (f *Failover) Ping(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.primary.Ping(pctx); err != nil {
		f.trip("ping", err)
		return f.fallback.Ping(ctx)
	}
	f.restore()
	return nil
}
