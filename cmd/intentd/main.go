// Package main runs the intent resolution engine: the REST API, the auction
// phase sweeper and the treasury provider registry, over an in-memory or
// PostgreSQL store.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/solvernet-labs/intent_layer/internal/app"
	"github.com/solvernet-labs/intent_layer/internal/app/httpapi"
	auctionsvc "github.com/solvernet-labs/intent_layer/internal/app/services/auction"
	treasurysvc "github.com/solvernet-labs/intent_layer/internal/app/services/treasury"
	"github.com/solvernet-labs/intent_layer/internal/app/storage/postgres"
	"github.com/solvernet-labs/intent_layer/internal/config"
	"github.com/solvernet-labs/intent_layer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("intentd").Fatalf("load config: %v", err)
	}
	log := logger.New(cfg.Logging).WithField("component", "intentd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatalf("migrate schema: %v", err)
		}
		store := postgres.New(db)
		stores = app.Stores{
			Intents:    store,
			Auctions:   store,
			Reputation: store,
			Identities: store,
			Treasury:   store,
		}
		log.Info("using postgres store")
	} else {
		log.Info("no database configured; using in-memory store")
	}

	application, err := app.New(stores, app.Options{
		Governors: cfg.Treasury.Governors,
		Sweep: auctionsvc.SweepConfig{
			Spec:         cfg.Auction.SweepSpec,
			BidWindow:    cfg.Auction.BidWindow,
			RevealWindow: cfg.Auction.RevealWindow,
		},
	}, log)
	if err != nil {
		log.Fatalf("assemble application: %v", err)
	}

	if cfg.Treasury.ProviderFile != "" {
		if err := registerProviders(application, cfg, log); err != nil {
			log.Fatalf("register flashloan providers: %v", err)
		}
	}

	if err := application.Start(ctx); err != nil {
		log.Fatalf("start application: %v", err)
	}

	handler := httpapi.NewHandler(application, httpapi.Config{
		RateLimit: cfg.HTTP.RateLimit,
		RateBurst: cfg.HTTP.RateBurst,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", cfg.HTTP.ListenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("application stop")
	}
}

// registerProviders wires the flashloan provider registry file into the
// treasury. Governance acts as the first configured governor.
func registerProviders(application *app.Application, cfg *config.Config, log *logger.Logger) error {
	reg, err := config.LoadProviderRegistry(cfg.Treasury.ProviderFile)
	if err != nil {
		return err
	}
	actor := cfg.Treasury.Governors[0]
	client := &http.Client{Timeout: 10 * time.Second}

	for _, spec := range reg.Providers {
		var provider treasurysvc.Provider
		switch spec.Kind {
		case "internal":
			provider = treasurysvc.NewPoolProvider(spec.Name, application.Treasury.Store())
		case "http":
			provider, err = treasurysvc.NewHTTPProvider(spec.Name, client, spec.Endpoint)
			if err != nil {
				return err
			}
		default:
			log.WithField("provider", spec.Name).Warnf("unknown provider kind %q, skipping", spec.Kind)
			continue
		}
		if err := application.Treasury.RegisterProvider(actor, provider); err != nil {
			return err
		}
	}
	return nil
}
