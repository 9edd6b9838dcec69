// Package session holds per-user conversation state for the order flow.
// Identity (name, phone) is persisted in the users table; everything here
// is in-memory and disposable.
package session

import (
	"time"

	"github.com/acaisupper/acaibot/storage"
)

// Stage identifies where a user is in the ordering conversation.
type Stage int

const (
	StageStart Stage = iota
	StageSelectKind
	StageRegisterName
	StageRegisterPhone
	StageChooseTarget
	StageSelectItem
	StageQuantity
	StageAddMore
	StageConfirm
	StagePaymentMethod
	StageAwaitReceipt
	StageCommitRetry
)

var stageNames = map[Stage]string{
	StageStart:         "start",
	StageSelectKind:    "select_kind",
	StageRegisterName:  "register_name",
	StageRegisterPhone: "register_phone",
	StageChooseTarget:  "choose_target",
	StageSelectItem:    "select_item",
	StageQuantity:      "quantity",
	StageAddMore:       "add_more",
	StageConfirm:       "confirm",
	StagePaymentMethod: "payment_method",
	StageAwaitReceipt:  "await_receipt",
	StageCommitRetry:   "commit_retry",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Active reports whether the user is mid-conversation.
func (s Stage) Active() bool { return s != StageStart }

// Session is one user's conversation state. All access goes through
// Store.Do, which serializes per user.
type Session struct {
	UserID int64
	Stage  Stage
	Kind   storage.OrderKind

	// Registration answers, copied into the users table on first order.
	// Handle comes from the Telegram sender, not a prompt.
	Name   string
	Phone  string
	Handle string

	// Target chosen for this order. Exactly one is set once past
	// StageChooseTarget, matching Kind.
	Delivery *storage.DeliverySession
	Pickup   *storage.PickupStore

	Cart []storage.LineItem

	// Working state for the bowl currently being built. Flavor is the
	// choice from the priced group; Sauce accumulates the rest.
	GroupIndex int
	Flavor     string
	Sauce      string

	PaymentMethod storage.PaymentMethod

	// PendingOrder survives a failed commit so the next message can retry
	// without re-collecting the cart.
	PendingOrder *storage.Order

	// Generation increments on every reset. In-flight work that finishes
	// against an older generation is dropped.
	Generation uint64

	UpdatedAt time.Time
}

// BeginItem clears the per-bowl working state ahead of the next item.
func (s *Session) BeginItem() {
	s.GroupIndex = 0
	s.Flavor = ""
	s.Sauce = ""
}

// Choose records a selected option. The first (priced) group sets the
// flavor; later groups accumulate into the sauce text.
func (s *Session) Choose(groupIndex int, option string) {
	if groupIndex == 0 {
		s.Flavor = option
		return
	}
	if s.Sauce == "" {
		s.Sauce = option
		return
	}
	s.Sauce += ", " + option
}

// CartTotal sums the stamped line prices.
func (s *Session) CartTotal() float64 {
	var total float64
	for _, it := range s.Cart {
		total += it.Total()
	}
	return total
}

// Clear wipes the session entirely and bumps the generation. Used after a
// committed order; the persisted user record keeps the identity.
func (s *Session) Clear() {
	gen := s.Generation + 1
	*s = Session{UserID: s.UserID, Generation: gen, UpdatedAt: time.Now()}
}

// Reset cancels the conversation: cart and selections are dropped, the
// stage returns to idle, but name and phone collected this conversation
// are kept so a retry does not re-ask them.
func (s *Session) Reset() {
	name, phone, handle := s.Name, s.Phone, s.Handle
	s.Clear()
	s.Name = name
	s.Phone = phone
	s.Handle = handle
}

// Restart returns to kind selection for a fresh order, keeping the
// registration answers already collected this conversation.
func (s *Session) Restart() {
	s.Reset()
	s.Stage = StageSelectKind
}
