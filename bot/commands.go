package bot

import (
	"fmt"
	"strings"
	"time"

	tg "github.com/acaisupper/acaibot/core/telegram"
	"github.com/acaisupper/acaibot/core/telegram/commands"
	"github.com/acaisupper/acaibot/core/telegram/format"
	tghelpers "github.com/acaisupper/acaibot/core/telegram/helpers"
	"github.com/acaisupper/acaibot/order"
	"github.com/acaisupper/acaibot/pricing"
	"github.com/acaisupper/acaibot/storage"

	tele "gopkg.in/telebot.v4"
)

const helpText = "❓ **Help**\n\n" +
	"Here's what I can do:\n" +
	"• /order — place a new acai order\n" +
	"• /menu — see the current menu\n" +
	"• /deliveries — upcoming delivery sessions\n" +
	"• /cancel — abort the order in progress\n\n" +
	"You can also use the buttons below at any time. 🍧"

func (s *Service) registerCommands(reg *tg.Registry) {
	reg.RegisterCommand("/start", commands.Command{
		Handler:     s.handleStart,
		Description: "Welcome and main menu",
	})
	reg.RegisterCommand("/help", commands.Command{
		Handler:     s.handleHelp,
		Description: "How to use the bot",
	})
	reg.RegisterCommand("/order", commands.Command{
		Handler:     s.handleOrder,
		Description: "Start a new order",
	})
	reg.RegisterCommand("/menu", commands.Command{
		Handler:     s.handleMenu,
		Description: "Show the menu",
	})
	reg.RegisterCommand("/deliveries", commands.Command{
		Handler:     s.handleDeliveries,
		Description: "Upcoming delivery sessions",
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     s.handleCancel,
		Description: "Cancel the current order",
	})
}

func (s *Service) handleStart(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	snap := s.catalog.Snapshot(ctx)

	var greeting string
	if u, err := tghelpers.CurrentUser[*storage.User](ctx, s.store, c.Sender().ID); err == nil && u != nil && u.Name != "" {
		greeting = fmt.Sprintf("\n\nWelcome back, %s! 👋", format.EscapeMarkdown(u.Name))
	}

	text := fmt.Sprintf("%s\n\n%s%s\n\nTap **%s** to get started!",
		snap.Branding.Title, snap.Branding.Subtitle, greeting, order.BtnOrderNow)

	reply := order.Reply{Text: text, Keyboard: order.MainKeyboard()}
	if snap.Branding.ImageURL != "" {
		reply.ImageURL = snap.Branding.ImageURL
	}
	return sendReply(c, reply)
}

func (s *Service) handleHelp(c tele.Context) error {
	return sendReply(c, order.Reply{Text: helpText, Keyboard: order.MainKeyboard()})
}

func (s *Service) handleOrder(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	replies, err := s.engine.StartOrder(ctx, c.Sender().ID, c.Sender().Username)
	if serr := sendReplies(c, replies); serr != nil && err == nil {
		err = serr
	}
	return err
}

func (s *Service) handleCancel(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	replies, err := s.engine.Cancel(ctx, c.Sender().ID)
	if serr := sendReplies(c, replies); serr != nil && err == nil {
		err = serr
	}
	return err
}

func (s *Service) handleMenu(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	snap := s.catalog.Snapshot(ctx)

	var b strings.Builder
	b.WriteString("📋 **Our Menu**\n")
	for _, group := range snap.Groups {
		fmt.Fprintf(&b, "\n**%s**\n", group.Title)
		for _, opt := range group.Options {
			if opt.Price > 0 {
				fmt.Fprintf(&b, "• %s — %s\n", opt.Name, pricing.FormatAmount(s.cfg.Orders.Currency, opt.Price))
			} else {
				fmt.Fprintf(&b, "• %s\n", opt.Name)
			}
		}
	}
	b.WriteString("\nTap **" + order.BtnOrderNow + "** to place an order! 🍧")
	return sendReply(c, order.Reply{Text: b.String(), Keyboard: order.MainKeyboard()})
}

func (s *Service) handleDeliveries(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	now := time.Now()
	sessions, err := s.store.OpenDeliverySessions(ctx, now)
	if err != nil {
		return sendReply(c, order.Reply{
			Text:     "⚠️ Sorry, we can't load the delivery schedule right now. Please try again later.",
			Keyboard: order.MainKeyboard(),
		})
	}

	var b strings.Builder
	b.WriteString("🚚 **Upcoming Deliveries**\n\n")
	count := 0
	for _, d := range sessions {
		if !d.Open(now) {
			continue
		}
		fmt.Fprintf(&b, "📍 %s\n🕐 %s\n⏳ Order by: %s\n\n",
			d.Location,
			order.FormatDateTimeLabel(d.DeliveryAt),
			order.FormatDateTimeLabel(d.CutoffAt),
		)
		count++
	}
	if count == 0 {
		return sendReply(c, order.Reply{
			Text: "⚠️ There are no active delivery sessions at the moment.\n" +
				"Please check back later!",
			Keyboard: order.MainKeyboard(),
		})
	}
	b.WriteString("Tap **" + order.BtnOrderNow + "** to order for one of these sessions! 🍧")
	return sendReply(c, order.Reply{Text: b.String(), Keyboard: order.MainKeyboard()})
}

// handleMenuButton maps main reply-keyboard buttons to their commands and
// catches any other stray text outside a conversation.
func (s *Service) handleMenuButton(c tele.Context) error {
	switch strings.TrimSpace(c.Text()) {
	case order.BtnOrderNow:
		return s.handleOrder(c)
	case order.BtnShowMenu:
		return s.handleMenu(c)
	case order.BtnShowDeliveries:
		return s.handleDeliveries(c)
	case order.BtnHelp:
		return s.handleHelp(c)
	case order.BtnStartOver:
		return s.handleStart(c)
	case order.BtnCancelOrder:
		return s.handleCancel(c)
	default:
		return sendReply(c, order.Reply{
			Text:     "🤔 I didn't catch that. Use the buttons below 👇",
			Keyboard: order.MainKeyboard(),
		})
	}
}
