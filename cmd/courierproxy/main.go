package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cafe-orders/internal/config"
	"cafe-orders/internal/infrastructure/courier"
	"cafe-orders/internal/logging"
	"cafe-orders/internal/proxy"
)

func main() {
	cfg, err := config.LoadProxy()
	if err != nil {
		logrus.WithError(err).Fatal("load proxy config")
	}
	log := logging.New("courier-proxy", cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("courier proxy stopped")
	}
}

func run(cfg *config.Proxy, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer := courier.NewSigner(cfg.APIKey, cfg.APISecret)
	production := courier.NewClient(cfg.BaseURL(false), signer, cfg.Language, cfg.UpstreamTimeout, log.WithField("upstream", "production"))
	sandbox := courier.NewClient(cfg.BaseURL(true), signer, cfg.Language, cfg.UpstreamTimeout, log.WithField("upstream", "sandbox"))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           proxy.NewServer(cfg, production, sandbox, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"addr":    cfg.HTTPAddr,
			"market":  cfg.Market,
			"sandbox": cfg.Sandbox,
		}).Info("courier proxy listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
