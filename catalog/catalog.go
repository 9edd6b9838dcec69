// Package catalog serves the menu, price table and branding from a cached
// snapshot so the order flow never blocks on the store for display data.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acaisupper/acaibot/core/logger"
	"github.com/acaisupper/acaibot/storage"
)

// Snapshot is an immutable view of the catalog at one point in time.
// Handlers that read it mid-conversation keep a consistent menu even if a
// refresh lands underneath them.
type Snapshot struct {
	Groups    []storage.MenuGroup
	Prices    map[string]float64
	Branding  storage.Branding
	FetchedAt time.Time
}

// Group returns the option group at index, or nil when out of range.
func (s *Snapshot) Group(index int) *storage.MenuGroup {
	if index < 0 || index >= len(s.Groups) {
		return nil
	}
	return &s.Groups[index]
}

// Service caches catalog reads with a TTL. A stale snapshot is served when
// the store is unreachable; built-in defaults cover a cold start with no
// store at all.
type Service struct {
	store storage.Store
	ttl   time.Duration

	cur atomic.Pointer[Snapshot]
	mu  sync.Mutex
}

// New builds a catalog service over the store.
func New(store storage.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{store: store, ttl: ttl}
}

// Snapshot returns the current catalog view, refreshing it when the TTL has
// elapsed. It never fails: a refresh error falls back to the previous
// snapshot, or to defaults when there is none.
func (s *Service) Snapshot(ctx context.Context) *Snapshot {
	if snap := s.cur.Load(); snap != nil && time.Since(snap.FetchedAt) < s.ttl {
		return snap
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	if snap := s.cur.Load(); snap != nil && time.Since(snap.FetchedAt) < s.ttl {
		return snap
	}

	snap, err := s.fetch(ctx)
	if err != nil {
		if prev := s.cur.Load(); prev != nil {
			logger.SVCCatalog.Warn("catalog refresh failed, serving stale snapshot",
				slog.String("event", "catalog.refresh"),
				slog.String("err", err.Error()),
				slog.Time("fetched_at", prev.FetchedAt),
			)
			return prev
		}
		logger.SVCCatalog.Warn("catalog unavailable, serving defaults",
			slog.String("event", "catalog.refresh"),
			slog.String("err", err.Error()),
		)
		snap = Defaults()
	}
	s.cur.Store(snap)
	return snap
}

// Invalidate drops the cached snapshot so the next read hits the store.
func (s *Service) Invalidate() {
	s.cur.Store(nil)
}

func (s *Service) fetch(ctx context.Context) (*Snapshot, error) {
	groups, err := s.store.MenuGroups(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := s.store.Pricing(ctx)
	if err != nil {
		return nil, err
	}
	branding, err := s.store.Branding(ctx)
	if err != nil {
		// Branding is cosmetic; a missing row must not take the menu down.
		branding = Defaults().Branding
		logger.SVCCatalog.Debug("branding unavailable, using defaults",
			slog.String("err", err.Error()),
		)
	}
	return &Snapshot{
		Groups:    groups,
		Prices:    prices,
		Branding:  branding,
		FetchedAt: time.Now(),
	}, nil
}

// Defaults returns the built-in catalog used when no store data is
// reachable, so the bot can always take an order.
func Defaults() *Snapshot {
	groups := []storage.MenuGroup{
		{
			ID:    "flavor",
			Key:   "flavor",
			Title: "Menu Flavors",
			Options: []storage.MenuOption{
				{Name: "Classic Acai", Price: 8.0},
				{Name: "Protein Acai", Price: 9.0},
				{Name: "Vegan Acai", Price: 8.5},
			},
		},
		{
			ID:    "sauce",
			Key:   "sauce",
			Title: "Sauce Options",
			Options: []storage.MenuOption{
				{Name: "Honey"},
				{Name: "Peanut Butter"},
				{Name: "Nutella"},
				{Name: "No Sauce"},
			},
		},
	}
	return &Snapshot{
		Groups:   groups,
		Prices:   storage.DerivePricing(groups),
		Branding: storage.Branding{
			Title:    "🍧 Welcome to Acai Supper Bot!",
			Subtitle: "I help you order delicious acai bowls for delivery or pickup.",
		},
		FetchedAt: time.Now(),
	}
}
