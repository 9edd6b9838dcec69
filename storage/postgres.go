package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Postgres implements Store against the relational system of record.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an open sqlx handle.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) GetUser(ctx context.Context, telegramID int64) (*User, error) {
	var u User
	err := p.db.GetContext(ctx, &u,
		`SELECT telegram_user_id, name, telegram_handle, phone, created_at, updated_at
		 FROM users WHERE telegram_user_id = $1`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Transient("get user", err)
	}
	return &u, nil
}

func (p *Postgres) UpsertUser(ctx context.Context, u User) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (telegram_user_id, name, telegram_handle, phone, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT (telegram_user_id)
		 DO UPDATE SET name = EXCLUDED.name,
		               telegram_handle = EXCLUDED.telegram_handle,
		               phone = EXCLUDED.phone,
		               updated_at = now()`,
		u.TelegramID, u.Name, u.Handle, u.Phone)
	if err != nil {
		return Transient("upsert user", err)
	}
	return nil
}

func (p *Postgres) setting(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := p.db.GetContext(ctx, &raw, `SELECT value FROM settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Transient("get setting "+key, err)
	}
	return raw, nil
}

func (p *Postgres) MenuGroups(ctx context.Context) ([]MenuGroup, error) {
	raw, err := p.setting(ctx, SettingMenuGroups)
	if err != nil {
		return nil, err
	}
	return DecodeMenuGroups(raw)
}

func (p *Postgres) SaveMenuGroups(ctx context.Context, groups []MenuGroup) error {
	raw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode menu groups: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		SettingMenuGroups, raw)
	if err != nil {
		return Transient("save menu groups", err)
	}
	return nil
}

// Pricing returns the explicit price table when configured, otherwise the
// table derived from the first menu group.
func (p *Postgres) Pricing(ctx context.Context) (map[string]float64, error) {
	raw, err := p.setting(ctx, SettingPricing)
	if err == nil {
		return DecodePricing(raw)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	groups, err := p.MenuGroups(ctx)
	if err != nil {
		return nil, err
	}
	return DerivePricing(groups), nil
}

func (p *Postgres) Branding(ctx context.Context) (Branding, error) {
	raw, err := p.setting(ctx, SettingBranding)
	if err != nil {
		return Branding{}, err
	}
	return DecodeBranding(raw)
}

func (p *Postgres) OpenDeliverySessions(ctx context.Context, now time.Time) ([]DeliverySession, error) {
	var sessions []DeliverySession
	err := p.db.SelectContext(ctx, &sessions,
		`SELECT id, location, delivery_datetime, cutoff_time, status
		 FROM delivery_sessions
		 WHERE status = 'open' AND cutoff_time > $1
		 ORDER BY delivery_datetime`, now)
	if err != nil {
		return nil, Transient("open delivery sessions", err)
	}
	return sessions, nil
}

func (p *Postgres) DeliverySession(ctx context.Context, id int64) (*DeliverySession, error) {
	var s DeliverySession
	err := p.db.GetContext(ctx, &s,
		`SELECT id, location, delivery_datetime, cutoff_time, status
		 FROM delivery_sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Transient("get delivery session", err)
	}
	return &s, nil
}

func (p *Postgres) CreateDeliverySession(ctx context.Context, s *DeliverySession) error {
	err := p.db.GetContext(ctx, &s.ID,
		`INSERT INTO delivery_sessions (location, delivery_datetime, cutoff_time, status)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		s.Location, s.DeliveryAt, s.CutoffAt, s.Status)
	if err != nil {
		return Transient("create delivery session", err)
	}
	return nil
}

func (p *Postgres) ActivePickupStores(ctx context.Context) ([]PickupStore, error) {
	var stores []PickupStore
	err := p.db.SelectContext(ctx, &stores,
		`SELECT store_id, name, address, active, operating_hours
		 FROM pickup_stores WHERE active ORDER BY name`)
	if err != nil {
		return nil, Transient("active pickup stores", err)
	}
	return stores, nil
}

func (p *Postgres) PickupStore(ctx context.Context, id string) (*PickupStore, error) {
	var s PickupStore
	err := p.db.GetContext(ctx, &s,
		`SELECT store_id, name, address, active, operating_hours
		 FROM pickup_stores WHERE store_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Transient("get pickup store", err)
	}
	return &s, nil
}

func (p *Postgres) CreateOrder(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO orders (order_id, user_id, kind, customer_name, customer_phone,
		                     customer_handle, delivery_session_id, store_id, pickup_date,
		                     pickup_time, items, total_quantity, total_price,
		                     payment_method, payment_status, order_status,
		                     payment_screenshot_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())`,
		o.OrderID, o.UserID, o.Kind, o.CustomerName, o.CustomerPhone,
		o.CustomerHandle, o.DeliverySessionID, o.StoreID, o.PickupDate,
		o.PickupTime, items, o.TotalQuantity, o.TotalPrice,
		o.PaymentMethod, o.PaymentStatus, o.Status, o.ReceiptRef)
	if err != nil {
		return Transient("create order", err)
	}
	return nil
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE orders SET order_status = $2 WHERE order_id = $1`, orderID, status)
	if err != nil {
		return Transient("update order status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SessionRevenue(ctx context.Context, sessionID int64) (float64, error) {
	var total sql.NullFloat64
	err := p.db.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(total_price), 0) FROM orders
		 WHERE delivery_session_id = $1 AND order_status <> 'cancelled'`, sessionID)
	if err != nil {
		return 0, Transient("session revenue", err)
	}
	return total.Float64, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return Transient("ping", err)
	}
	return nil
}
