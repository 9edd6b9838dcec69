package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNotFound marks lookups for entities that do not exist.
var ErrNotFound = errors.New("storage: not found")

// TransientError wraps failures worth retrying or failing over: network
// faults, timeouts, a database that is temporarily away.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Code satisfies the router's error-code derivation for logs.
func (e *TransientError) Code() string { return "STORE_TRANSIENT" }

// Transient wraps err as a TransientError unless it is nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err indicates a failure the failover layer
// should absorb rather than surface.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Store is the persistence contract consumed by the flow engine, the menu
// catalog, and payment capture. Implementations: Postgres (system of
// record), Local (file fallback), Failover (health-checked combination).
type Store interface {
	GetUser(ctx context.Context, telegramID int64) (*User, error)
	UpsertUser(ctx context.Context, u User) error

	MenuGroups(ctx context.Context) ([]MenuGroup, error)
	SaveMenuGroups(ctx context.Context, groups []MenuGroup) error
	Pricing(ctx context.Context) (map[string]float64, error)
	Branding(ctx context.Context) (Branding, error)

	OpenDeliverySessions(ctx context.Context, now time.Time) ([]DeliverySession, error)
	DeliverySession(ctx context.Context, id int64) (*DeliverySession, error)
	CreateDeliverySession(ctx context.Context, s *DeliverySession) error
	ActivePickupStores(ctx context.Context) ([]PickupStore, error)
	PickupStore(ctx context.Context, id string) (*PickupStore, error)

	CreateOrder(ctx context.Context, o *Order) error
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error
	SessionRevenue(ctx context.Context, sessionID int64) (float64, error)

	Ping(ctx context.Context) error
}

// DerivePricing builds a flavor price table from the first (priced) menu
// group. Used when no explicit pricing setting exists.
func DerivePricing(groups []MenuGroup) map[string]float64 {
	table := make(map[string]float64)
	if len(groups) == 0 {
		return table
	}
	for _, opt := range groups[0].Options {
		table[opt.Name] = opt.Price
	}
	return table
}
