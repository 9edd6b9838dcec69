// Acai Supper Bot: a Telegram bot taking acai bowl orders for scheduled
// deliveries and store pickup.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acaisupper/acaibot/bot"
	"github.com/acaisupper/acaibot/catalog"
	"github.com/acaisupper/acaibot/core/config"
	"github.com/acaisupper/acaibot/core/database"
	"github.com/acaisupper/acaibot/core/logger"
	coretelegram "github.com/acaisupper/acaibot/core/telegram"
	"github.com/acaisupper/acaibot/order"
	"github.com/acaisupper/acaibot/payment"
	"github.com/acaisupper/acaibot/session"
	"github.com/acaisupper/acaibot/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("acaibot: %v", err)
	}
}

func run() error {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if err := logger.InitLogger(cfg); err != nil {
		return err
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	startedAt := time.Now()
	appLog := logger.L.With("component", "app")

	local, err := storage.NewLocal(cfg.Storage.DataDir)
	if err != nil {
		return err
	}

	// Postgres is preferred but optional: when it is unreachable at boot the
	// bot still serves orders from the file-backed store.
	var store storage.Store = local
	if db, derr := database.Connect(cfg.Database); derr != nil {
		appLog.Warn("postgres unavailable, running on local store",
			slog.String("event", "store.init"),
			slog.String("err", derr.Error()),
		)
	} else {
		if merr := database.RunMigrations(cfg.Database); merr != nil {
			appLog.Warn("migrations failed",
				slog.String("event", "store.init"),
				slog.String("err", merr.Error()),
			)
		}
		store = storage.NewFailover(storage.NewPostgres(db), local, cfg.Orders.CallTimeout)
		defer db.Close()
	}

	sink, err := storage.NewLocalSink(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	var remote storage.BlobSink
	if c := storage.NewBlobClient(cfg.Storage); c != nil {
		remote = c
	}

	sessions := session.NewStore()
	cat := catalog.New(store, cfg.Orders.MenuCacheTTL)
	payments := payment.NewProcessor(store, remote, sink, cfg.Orders.CommitRetries, cfg.Orders.QRImagePath)
	engine := order.New(order.Deps{
		Sessions:    sessions,
		Store:       store,
		Catalog:     cat,
		Payments:    payments,
		MaxQuantity: cfg.Orders.MaxQuantity,
		CallTimeout: cfg.Orders.CallTimeout,
		Currency:    cfg.Orders.Currency,
	})

	svc := bot.New(cfg, engine, sessions, cat, store)
	reg := svc.Registry()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go sessions.RunJanitor(ctx, cfg.Orders.SessionIdleTimeout)

	return coretelegram.RunTelegram(ctx, coretelegram.RunOptions{
		Config:      cfg,
		Registry:    reg,
		Middlewares: svc.Middlewares(),
		Routes:      svc.Routes(reg),
		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			appLog.Info("app ready",
				slog.String("event", "ready"),
				slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
			)
			return nil
		},
		OnStop: func(ctx context.Context, rt coretelegram.Runtime) error {
			appLog.Info("shutting down...",
				slog.String("event", "shutdown"),
			)
			return nil
		},
	})
}
