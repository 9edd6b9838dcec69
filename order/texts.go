package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/acaisupper/acaibot/pricing"
	"github.com/acaisupper/acaibot/storage"
)

// Reply keyboard button labels. The text router matches these exactly, so
// they live in one place.
const (
	BtnOrderNow       = "🍧 Order Now"
	BtnShowMenu       = "📋 Show Menu"
	BtnShowDeliveries = "🚚 Show Deliveries"
	BtnHelp           = "❓ Help"
	BtnStartOver      = "🔄 Start Over"

	BtnRestartOrder = "🔄 Restart Order"
	BtnCancelOrder  = "❌ Cancel Order"
)

const cancelLabel = "❌ Cancel"

// MainKeyboard is the persistent menu shown outside an order.
func MainKeyboard() *Keyboard {
	return &Keyboard{Reply: [][]string{
		{BtnOrderNow, BtnShowMenu},
		{BtnShowDeliveries, BtnHelp},
		{BtnStartOver},
	}}
}

// OrderKeyboard is the persistent menu shown while ordering.
func OrderKeyboard() *Keyboard {
	return &Keyboard{Reply: [][]string{
		{BtnRestartOrder, BtnCancelOrder},
	}}
}

// FormatDateTimeLabel renders a timestamp the way order prompts show it,
// e.g. "Mon, 02 Jan 2006 • 03:04 PM".
func FormatDateTimeLabel(t time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}
	return t.Format("Mon, 02 Jan 2006 • 03:04 PM")
}

func cancelRow() []Button {
	return []Button{{Label: cancelLabel, Key: CBCancel}}
}

func formatLine(idx int, it storage.LineItem, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s", idx, it.Flavor)
	if it.Sauce != "" {
		fmt.Fprintf(&b, " + %s", it.Sauce)
	}
	fmt.Fprintf(&b, " × %d = %s", it.Quantity, pricing.FormatAmount(currency, it.Total()))
	return b.String()
}

func cartSummary(cart []storage.LineItem, currency string) string {
	var b strings.Builder
	b.WriteString("🛒 **Your Cart:**\n\n")
	var total float64
	for i, it := range cart {
		b.WriteString(formatLine(i+1, it, currency))
		b.WriteByte('\n')
		total += it.Total()
	}
	fmt.Fprintf(&b, "\n**Total: %s**", pricing.FormatAmount(currency, total))
	return b.String()
}

func orderSummary(kind storage.OrderKind, delivery *storage.DeliverySession, pickup *storage.PickupStore, cart []storage.LineItem, currency string) string {
	var b strings.Builder
	b.WriteString("✅ **Order Summary:**\n\n")
	switch {
	case kind == storage.KindDelivery && delivery != nil:
		fmt.Fprintf(&b, "📍 **Delivery:** %s\n", delivery.Location)
		fmt.Fprintf(&b, "🕐 **Time:** %s\n\n", FormatDateTimeLabel(delivery.DeliveryAt))
	case kind == storage.KindPickup && pickup != nil:
		fmt.Fprintf(&b, "🏪 **Pickup:** %s\n", pickup.Name)
		fmt.Fprintf(&b, "📍 **Address:** %s\n\n", pickup.Address)
	}
	b.WriteString("**Items:**\n")
	var total float64
	var qty int
	for i, it := range cart {
		b.WriteString(formatLine(i+1, it, currency))
		b.WriteByte('\n')
		total += it.Total()
		qty += it.Quantity
	}
	fmt.Fprintf(&b, "\n**Total Items:** %d\n", qty)
	fmt.Fprintf(&b, "**Total Price:** %s\n\n", pricing.FormatAmount(currency, total))
	b.WriteString("**Please confirm to proceed to payment:**")
	return b.String()
}

func paymentRequired(totalQty int, total float64, currency string) string {
	return fmt.Sprintf(
		"💳 **Payment Required**\n\n"+
			"Total Items: %d\n"+
			"Total Amount: **%s**\n\n"+
			"Please:\n"+
			"1️⃣ Scan the QR code below to make payment\n"+
			"2️⃣ Take a screenshot of your payment confirmation\n"+
			"3️⃣ Upload the screenshot here\n\n"+
			"⚠️ Your order will be confirmed once payment is received.",
		totalQty, pricing.FormatAmount(currency, total),
	)
}

func deliveryComplete(orderID string) string {
	return fmt.Sprintf(
		"🎉 **Order Complete!**\n\n"+
			"Your order has been logged successfully.\n"+
			"Order ID: `%s`\n\n"+
			"We'll verify your payment and confirm your order soon.\n"+
			"Thank you for ordering! 🍧\n\n"+
			"Use the buttons below to place another order or get help!",
		orderID,
	)
}

func pickupComplete(orderID, storeName, address string) string {
	return fmt.Sprintf(
		"🎉 **Pickup Order Complete!**\n\n"+
			"Your order has been logged successfully.\n"+
			"Order ID: `%s`\n\n"+
			"**Pickup Details:**\n"+
			"🏪 Store: %s\n"+
			"📍 Address: %s\n\n"+
			"We'll verify your payment and prepare your order.\n"+
			"Thank you! 🍧",
		orderID, storeName, address,
	)
}

func pickupCounterComplete(orderID, storeName, address string) string {
	return fmt.Sprintf(
		"🎉 **Pickup Order Confirmed!**\n\n"+
			"Order ID: `%s`\n\n"+
			"**Pickup Details:**\n"+
			"🏪 Store: %s\n"+
			"📍 Address: %s\n\n"+
			"💵 **Payment:** At Counter\n\n"+
			"Please pay when you pick up your order.\n"+
			"Thank you! 🍧",
		orderID, storeName, address,
	)
}

const (
	msgRegistrationName     = "👤 **User Registration**\n\nPlease enter your full name:"
	msgRegistrationPhone    = "📱 **Phone Number**\n\nPlease enter your phone number (for delivery contact):"
	msgRegistrationComplete = "✅ Registration complete!"
	msgInvalidName          = "⚠️ Please enter a valid name (at least 2 characters)."
	msgInvalidPhone         = "⚠️ Please enter a valid phone number."

	msgCancelled = "❌ Order cancelled. Tap **Order Now** whenever you're ready to try again!"
	msgRestarted = "🔄 Order restarted."

	msgNoDeliveries = "⚠️ Sorry, there are no active delivery sessions at the moment.\n" +
		"Please check back later or contact the admin team."
	msgNoStores = "⚠️ Sorry, no pickup stores are open for orders right now.\n" +
		"Please check back later or contact the admin team."
	msgTargetsUnavailable = "⚠️ Sorry, we can't load the options right now. Please try again in a moment."
	msgTargetGone         = "⚠️ That option is no longer available. Please pick another:"

	msgUseButtons = "Please use the buttons above to choose."
	msgMenuMoved  = "⚠️ The menu just changed. Let's pick that bowl again:"
	msgEmptyCart  = "⚠️ Your cart is empty. Please add at least one item first."

	msgQRMissing = "⚠️ QR code image not configured. Please contact admin for payment details."
	msgSendProof = "📸 Please upload your payment screenshot now, or use /cancel to abort."
	msgNeedPhoto = "⚠️ Please upload your payment screenshot as a photo so we can verify it.\n" +
		"You can also use /cancel to abort this order."
	msgPhotoUnreadable = "⚠️ We couldn't read that image. Please send it again."
	msgUploadFailed    = "⚠️ We couldn't save your screenshot. Please send it again."
	msgReceiptReceived = "✅ Payment screenshot received!"
	msgProcessing      = "⏳ Processing your order..."

	msgCommitFailed = "⚠️ We couldn't save your order just now. Send any message and we'll retry — your cart is safe."
	msgCommitRetry  = "⚠️ Still couldn't save your order. Please try again in a moment."
)
