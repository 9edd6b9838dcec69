package storage

import (
	"time"
)

// OrderKind distinguishes delivery orders from pickup orders.
type OrderKind string

const (
	KindDelivery OrderKind = "delivery"
	KindPickup   OrderKind = "pickup"
)

// OrderStatus is the lifecycle state of a committed order. The bot only ever
// writes confirmed; verified/completed/cancelled are admin transitions.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusVerified  OrderStatus = "verified"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus tracks the payment proof state on a committed order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSubmitted PaymentStatus = "submitted"
)

// PaymentMethod is the pickup-only choice between paying up front and paying
// at the counter.
type PaymentMethod string

const (
	PayNow       PaymentMethod = "pay_now"
	PayAtCounter PaymentMethod = "pay_at_counter"
)

// User is a registered customer identified by their Telegram id.
type User struct {
	TelegramID int64     `db:"telegram_user_id" json:"telegram_user_id"`
	Name       string    `db:"name" json:"name"`
	Handle     string    `db:"telegram_handle" json:"handle"`
	Phone      string    `db:"phone" json:"phone"`
	CreatedAt  time.Time `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// MenuOption is a single purchasable option inside a group. Price is only
// meaningful for options of the first (priced) group.
type MenuOption struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price,omitempty"`
	Description string  `json:"description,omitempty"`
}

// MenuGroup is one configurable option group (flavors, sauces, ...).
// The set of groups is dynamic; nothing may assume a fixed count.
type MenuGroup struct {
	ID      string       `json:"id"`
	Key     string       `json:"key"`
	Title   string       `json:"title"`
	Options []MenuOption `json:"options"`
}

// Branding is the configurable welcome copy shown by /start.
type Branding struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	ImageURL string `json:"image_url,omitempty"`
}

// DeliverySession is a scheduled delivery slot users can order into.
type DeliverySession struct {
	ID         int64     `db:"id" json:"id"`
	Location   string    `db:"location" json:"location"`
	DeliveryAt time.Time `db:"delivery_datetime" json:"delivery_datetime"`
	CutoffAt   time.Time `db:"cutoff_time" json:"cutoff_time"`
	Status     string    `db:"status" json:"status"`
}

// Open reports whether the session still accepts orders at the given time.
func (s DeliverySession) Open(now time.Time) bool {
	return s.Status == "open" && now.Before(s.CutoffAt)
}

// PickupStore is a physical store location offering self-collection.
type PickupStore struct {
	ID             string `db:"store_id" json:"store_id"`
	Name           string `db:"name" json:"name"`
	Address        string `db:"address" json:"address"`
	Active         bool   `db:"active" json:"active"`
	OperatingHours string `db:"operating_hours" json:"operating_hours,omitempty"`
}

// LineItem is one cart line: a priced flavor with its extras and quantity.
type LineItem struct {
	Flavor    string  `json:"flavor"`
	Sauce     string  `json:"sauce,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Total returns quantity times unit price for the line.
func (l LineItem) Total() float64 {
	return float64(l.Quantity) * l.UnitPrice
}

// Order is a committed order record. Exactly one of DeliverySessionID and
// StoreID is set, matching Kind.
type Order struct {
	OrderID           string        `db:"order_id"`
	UserID            int64         `db:"user_id"`
	Kind              OrderKind     `db:"kind"`
	CustomerName      string        `db:"customer_name"`
	CustomerPhone     string        `db:"customer_phone"`
	CustomerHandle    string        `db:"customer_handle"`
	DeliverySessionID *int64        `db:"delivery_session_id"`
	StoreID           *string       `db:"store_id"`
	PickupDate        string        `db:"pickup_date"`
	PickupTime        string        `db:"pickup_time"`
	Items             []LineItem    `db:"-"`
	TotalQuantity     int           `db:"total_quantity"`
	TotalPrice        float64       `db:"total_price"`
	PaymentMethod     PaymentMethod `db:"payment_method"`
	PaymentStatus     PaymentStatus `db:"payment_status"`
	Status            OrderStatus   `db:"order_status"`
	ReceiptRef        string        `db:"payment_screenshot_url"`
	CreatedAt         time.Time     `db:"created_at"`
}
