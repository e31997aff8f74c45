package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cafe-orders/internal/api"
	"cafe-orders/internal/config"
	"cafe-orders/internal/database"
	"cafe-orders/internal/domain"
	"cafe-orders/internal/infrastructure/delivery"
	"cafe-orders/internal/logging"
	"cafe-orders/internal/notify"
	"cafe-orders/internal/repo"
	"cafe-orders/internal/service"
	"cafe-orders/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New("order-service", cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("order service stopped")
	}
}

func run(cfg *config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.DB.DSN())
	if err != nil {
		return err
	}
	health := database.New(db, log)
	defer health.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	tx := database.NewTransactor(db)
	orders := repo.NewOrderRepo(db)
	events := repo.NewEventRepo(db)
	quotes := repo.NewQuoteRepo(db)

	advisory := service.NewAdvisoryLimiter(time.Now)
	limiter := service.NewStoreLimiter(tx, repo.NewRateLimitRepo(db), time.Now)

	hub := notify.NewHub()
	var (
		publisher notify.Publisher = hub
		broker    *notify.Broker
	)
	if cfg.AMQPURL != "" {
		broker, err = notify.DialBroker(cfg.AMQPURL, log)
		if err != nil {
			return err
		}
		defer broker.Close()
		publisher = broker
	}
	relay := worker.NewRelay(events, publisher, cfg.OutboxPollInterval, log)

	courier := delivery.NewClient(cfg.ProxyURL, cfg.ProxyJWTSecret, cfg.Store, delivery.Options{
		Sandbox:        cfg.CourierSandbox,
		AttemptTimeout: cfg.BookingAttemptTimeout,
		MaxAttempts:    cfg.BookingMaxAttempts,
	}, log)

	orderSvc := service.NewOrderService(service.OrderDeps{
		DB:       tx,
		Orders:   orders,
		Events:   events,
		Advisory: advisory,
		Limiter:  limiter,
		Courier:  courier,
		Quotes:   quotes,
		Relay:    relay,
		Log:      log,
	}, service.OrderOptions{
		Cooldown:       cfg.OrderCooldown,
		QuoteCooldown:  cfg.QuoteCooldown,
		BookingTimeout: cfg.BookingTimeout,
		QuoteTimeout:   cfg.QuoteTimeout,
		Location:       cfg.Timezone,
	})
	statusSvc := service.NewStatusService(tx, orders, events, limiter, relay, log, cfg.AdminCooldown, time.Now)

	router, err := api.NewRouter(api.Deps{
		Orders:         orderSvc,
		Status:         statusSvc,
		Hub:            hub,
		Health:         health,
		Log:            log,
		StaffJWTSecret: cfg.StaffJWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(hub.Close)

	cleanup := worker.NewCleanup(map[string]worker.Purger{
		"postgres": limiter,
		"advisory": advisory,
		"quotes": worker.PurgerFunc(func(ctx context.Context, before time.Time) (int64, error) {
			return quotes.DeleteExpired(ctx, before.Add(-domain.QuoteRetention))
		}),
	}, cfg.CleanupInterval, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return cleanup.Run(gctx) })
	if broker != nil {
		g.Go(func() error { return broker.Consume(gctx, hub) })
	}
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("order service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
