package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Local is the file-backed Store used when the database is unreachable.
// Layout under the data dir mirrors the legacy JSON fallback files:
// users.json, deliveries.json, stores.json, settings.json and orders/.
type Local struct {
	dir string
	mu  sync.Mutex
}

// NewLocal creates the data dir if needed and returns a file-backed store.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(filepath.Join(dir, "orders"), 0o755); err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) path(name string) string { return filepath.Join(l.dir, name) }

func readJSONFile[T any](path string, out *T) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return Transient("read "+filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("local store: %s corrupt: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("local store: encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Transient("write "+filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Transient("rename "+filepath.Base(path), err)
	}
	return nil
}

func (l *Local) GetUser(_ context.Context, telegramID int64) (*User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	users := map[string]User{}
	if err := readJSONFile(l.path("users.json"), &users); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	u, ok := users[strconv.FormatInt(telegramID, 10)]
	if !ok {
		return nil, ErrNotFound
	}
	u.TelegramID = telegramID
	return &u, nil
}

func (l *Local) UpsertUser(_ context.Context, u User) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	users := map[string]User{}
	if err := readJSONFile(l.path("users.json"), &users); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	users[strconv.FormatInt(u.TelegramID, 10)] = u
	return writeJSONFile(l.path("users.json"), users)
}

func (l *Local) settings(load bool) (map[string]json.RawMessage, error) {
	set := map[string]json.RawMessage{}
	if !load {
		return set, nil
	}
	if err := readJSONFile(l.path("settings.json"), &set); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return set, nil
}

func (l *Local) MenuGroups(_ context.Context) ([]MenuGroup, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, err := l.settings(true)
	if err != nil {
		return nil, err
	}
	raw, ok := set[SettingMenuGroups]
	if !ok {
		return nil, ErrNotFound
	}
	return DecodeMenuGroups(raw)
}

func (l *Local) SaveMenuGroups(_ context.Context, groups []MenuGroup) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, err := l.settings(true)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("local store: encode menu groups: %w", err)
	}
	set[SettingMenuGroups] = raw
	return writeJSONFile(l.path("settings.json"), set)
}

func (l *Local) Pricing(ctx context.Context) (map[string]float64, error) {
	l.mu.Lock()
	set, err := l.settings(true)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if raw, ok := set[SettingPricing]; ok {
		return DecodePricing(raw)
	}
	groups, err := l.MenuGroups(ctx)
	if err != nil {
		return nil, err
	}
	return DerivePricing(groups), nil
}

func (l *Local) Branding(_ context.Context) (Branding, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, err := l.settings(true)
	if err != nil {
		return Branding{}, err
	}
	raw, ok := set[SettingBranding]
	if !ok {
		return Branding{}, ErrNotFound
	}
	return DecodeBranding(raw)
}

func (l *Local) OpenDeliverySessions(_ context.Context, now time.Time) ([]DeliverySession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var all []DeliverySession
	if err := readJSONFile(l.path("deliveries.json"), &all); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	open := make([]DeliverySession, 0, len(all))
	for _, s := range all {
		if s.Open(now) {
			open = append(open, s)
		}
	}
	return open, nil
}

func (l *Local) DeliverySession(_ context.Context, id int64) (*DeliverySession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var all []DeliverySession
	if err := readJSONFile(l.path("deliveries.json"), &all); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	for _, s := range all {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (l *Local) CreateDeliverySession(_ context.Context, s *DeliverySession) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var all []DeliverySession
	if err := readJSONFile(l.path("deliveries.json"), &all); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if s.ID == 0 {
		var max int64
		for _, d := range all {
			if d.ID > max {
				max = d.ID
			}
		}
		s.ID = max + 1
	}
	all = append(all, *s)
	return writeJSONFile(l.path("deliveries.json"), all)
}

func (l *Local) ActivePickupStores(_ context.Context) ([]PickupStore, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var all []PickupStore
	if err := readJSONFile(l.path("stores.json"), &all); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	active := make([]PickupStore, 0, len(all))
	for _, s := range all {
		if s.Active {
			active = append(active, s)
		}
	}
	return active, nil
}

func (l *Local) PickupStore(_ context.Context, id string) (*PickupStore, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var all []PickupStore
	if err := readJSONFile(l.path("stores.json"), &all); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	for _, s := range all {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (l *Local) orderPath(orderID string) string {
	return filepath.Join(l.dir, "orders", orderID+".json")
}

func (l *Local) CreateOrder(_ context.Context, o *Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	return writeJSONFile(l.orderPath(o.OrderID), o)
}

func (l *Local) UpdateOrderStatus(_ context.Context, orderID string, status OrderStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var stored Order
	if err := readJSONFile(l.orderPath(orderID), &stored); err != nil {
		return err
	}
	stored.Status = status
	return writeJSONFile(l.orderPath(orderID), stored)
}

func (l *Local) SessionRevenue(_ context.Context, sessionID int64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := os.ReadDir(filepath.Join(l.dir, "orders"))
	if err != nil {
		return 0, Transient("list orders", err)
	}
	var total float64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var stored Order
		if err := readJSONFile(filepath.Join(l.dir, "orders", e.Name()), &stored); err != nil {
			continue
		}
		if stored.DeliverySessionID != nil && *stored.DeliverySessionID == sessionID &&
			stored.Status != StatusCancelled {
			total += stored.TotalPrice
		}
	}
	return total, nil
}

func (l *Local) Ping(_ context.Context) error {
	_, err := os.Stat(l.dir)
	if err != nil {
		return Transient("ping", err)
	}
	return nil
}
