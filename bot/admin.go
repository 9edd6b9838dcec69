package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tg "github.com/acaisupper/acaibot/core/telegram"
	"github.com/acaisupper/acaibot/core/telegram/commands"
	tghelpers "github.com/acaisupper/acaibot/core/telegram/helpers"
	"github.com/acaisupper/acaibot/order"
	"github.com/acaisupper/acaibot/pricing"
	"github.com/acaisupper/acaibot/storage"

	tele "gopkg.in/telebot.v4"
)

// Admin-only operator commands. They stay hidden from the command menu and
// are gated by the admin middleware on the command routes.
func (s *Service) registerAdminCommands(reg *tg.Registry) {
	reg.RegisterCommand("/newdelivery", commands.Command{
		Handler:     s.handleNewDelivery,
		Description: "Open a delivery session",
		AdminOnly:   true,
		Hidden:      true,
	})
	reg.RegisterCommand("/revenue", commands.Command{
		Handler:     s.handleRevenue,
		Description: "Revenue for a delivery session",
		AdminOnly:   true,
		Hidden:      true,
	})
	reg.RegisterCommand("/setstatus", commands.Command{
		Handler:     s.handleSetStatus,
		Description: "Update an order's status",
		AdminOnly:   true,
		Hidden:      true,
	})
}

const newDeliveryUsage = "Usage:\n`/newdelivery <location> | <delivery time> | <cutoff time>`\n\n" +
	"Example:\n`/newdelivery NUS UTown | 2026-09-05 18:30 | 2026-09-05 12:00`"

func (s *Service) handleNewDelivery(c tele.Context) error {
	parts := strings.Split(c.Message().Payload, "|")
	if len(parts) != 3 {
		return tghelpers.SendMD(c, newDeliveryUsage)
	}
	location := strings.TrimSpace(parts[0])
	deliveryAt, okDelivery := tghelpers.ParseFlexibleDate(parts[1])
	cutoffAt, okCutoff := tghelpers.ParseFlexibleDate(parts[2])
	if location == "" || !okDelivery || !okCutoff {
		return tghelpers.SendMD(c, newDeliveryUsage)
	}
	if !cutoffAt.Before(deliveryAt) {
		return tghelpers.SendMD(c, "⚠️ The cutoff must be before the delivery time.")
	}

	ds := &storage.DeliverySession{
		Location:   location,
		DeliveryAt: deliveryAt,
		CutoffAt:   cutoffAt,
		Status:     "open",
	}
	ctx := tghelpers.BuildContext(c)
	if err := s.store.CreateDeliverySession(ctx, ds); err != nil {
		return tghelpers.SendMD(c, "⚠️ Couldn't create the delivery session: "+err.Error())
	}
	return tghelpers.SendMD(c, fmt.Sprintf(
		"✅ Delivery session #%d created.\n📍 %s\n🕐 %s\n⏳ Order by: %s",
		ds.ID, ds.Location,
		order.FormatDateTimeLabel(ds.DeliveryAt),
		order.FormatDateTimeLabel(ds.CutoffAt),
	))
}

func (s *Service) handleRevenue(c tele.Context) error {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Message().Payload), 10, 64)
	if err != nil {
		return tghelpers.SendMD(c, "Usage: `/revenue <session id>`")
	}
	ctx := tghelpers.BuildContext(c)
	total, err := s.store.SessionRevenue(ctx, id)
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ Couldn't compute revenue: "+err.Error())
	}
	return tghelpers.SendMD(c, fmt.Sprintf("💰 Session #%d revenue: **%s**",
		id, pricing.FormatAmount(s.cfg.Orders.Currency, total)))
}

var adminStatuses = map[string]storage.OrderStatus{
	string(storage.StatusVerified):  storage.StatusVerified,
	string(storage.StatusCompleted): storage.StatusCompleted,
	string(storage.StatusCancelled): storage.StatusCancelled,
}

func (s *Service) handleSetStatus(c tele.Context) error {
	fields := strings.Fields(c.Message().Payload)
	if len(fields) != 2 {
		return tghelpers.SendMD(c, "Usage: `/setstatus <order id> <verified|completed|cancelled>`")
	}
	status, ok := adminStatuses[strings.ToLower(fields[1])]
	if !ok {
		return tghelpers.SendMD(c, "Usage: `/setstatus <order id> <verified|completed|cancelled>`")
	}
	ctx := tghelpers.BuildContext(c)
	if err := s.store.UpdateOrderStatus(ctx, fields[0], status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return tghelpers.SendMD(c, "⚠️ No order with that id.")
		}
		return tghelpers.SendMD(c, "⚠️ Couldn't update the order: "+err.Error())
	}
	return tghelpers.SendMD(c, fmt.Sprintf("✅ Order `%s` is now **%s**.", fields[0], status))
}
