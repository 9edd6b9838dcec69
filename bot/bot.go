// Package bot wires the ordering flow onto the Telegram transport:
// commands, callback routing and the conversation FSM.
package bot

import (
	"github.com/acaisupper/acaibot/catalog"
	"github.com/acaisupper/acaibot/core/config"
	tg "github.com/acaisupper/acaibot/core/telegram"
	"github.com/acaisupper/acaibot/core/telegram/callbacks"
	tghelpers "github.com/acaisupper/acaibot/core/telegram/helpers"
	"github.com/acaisupper/acaibot/core/telegram/router"
	"github.com/acaisupper/acaibot/order"
	"github.com/acaisupper/acaibot/session"
	"github.com/acaisupper/acaibot/storage"

	tele "gopkg.in/telebot.v4"
)

// Service owns the bot-facing surface of the application.
type Service struct {
	cfg      *config.Config
	engine   *order.Engine
	sessions *session.Store
	catalog  *catalog.Service
	store    storage.Store
}

func New(cfg *config.Config, engine *order.Engine, sessions *session.Store, cat *catalog.Service, store storage.Store) *Service {
	return &Service{cfg: cfg, engine: engine, sessions: sessions, catalog: cat, store: store}
}

// dispatch feeds one structured input to the engine and renders the replies.
func (s *Service) dispatch(c tele.Context, in order.Input) error {
	ctx := tghelpers.BuildContext(c)
	replies, err := s.engine.Handle(ctx, c.Sender().ID, in)
	if serr := sendReplies(c, replies); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Registry builds the command and callback registry.
func (s *Service) Registry() *tg.Registry {
	reg := tg.NewRegistry()
	s.registerCommands(reg)
	s.registerAdminCommands(reg)

	for _, key := range []string{
		order.CBKind,
		order.CBTarget,
		order.CBMenu,
		order.CBQty,
		order.CBMore,
		order.CBConfirm,
		order.CBPayment,
		order.CBCancel,
	} {
		key := key
		_ = reg.RegisterCallback(key, func(c tele.Context) error {
			return s.dispatch(c, order.ButtonInput(key, callbacks.CallbackPayload(c)))
		})
	}

	reg.SetTextFallback(s.handleMenuButton)
	return reg
}

// Routes wires text, callback and photo updates.
func (s *Service) Routes(reg *tg.Registry) []tg.Route {
	mgr := fsm{svc: s}
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: s.cfg.Telegram.AdminID,
	})
	routes = append(routes, router.TextRoutes(mgr, reg, router.TextOptions{
		UnknownText: s.handleMenuButton,
	})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.PhotoRoute(mgr, router.PhotoOptions{
		UnknownPhoto: func(c tele.Context) error {
			return tghelpers.SendMD(c, "🤔 I wasn't expecting a photo. Tap "+order.BtnOrderNow+" to start an order!")
		},
	}))
	return routes
}

// Middlewares returns the shared middleware chain.
func (s *Service) Middlewares() []tg.Middleware {
	return tg.DefaultMiddlewares(s.cfg, nil)
}
