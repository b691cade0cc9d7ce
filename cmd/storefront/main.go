package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/cart"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/category"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/config"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/db"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/handler"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/liqpay"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/notification"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/order"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/payment"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/pending"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/transport"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "storefront").Logger()

	log.Info().Msg("Storefront starting...")

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx := context.Background()

	database, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	gateway, err := liqpay.NewClient(cfg.Payment.PublicKey, cfg.Payment.PrivateKey, cfg.SiteURL, cfg.Payment.SandboxMode)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure payment gateway")
	}

	emailClient, err := notification.NewClient(cfg.Email.APIKey, cfg.Email.APIBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure email client")
	}

	orderRepo := order.NewRepository(database.Pool)
	orderSvc := order.NewService(orderRepo)
	pendingRepo := pending.NewRepository(database.Pool)
	cartRepo := cart.NewEventRepository(database.Pool)
	categoryRepo := category.NewRepository(database.Pool)
	outboxRepo := notification.NewOutboxRepository(database.Pool)

	dispatcher := notification.NewDispatcher(emailClient, outboxRepo, categoryRepo,
		cfg.Email.FromAddress, cfg.Email.OwnerAddress)

	paymentSvc := payment.NewService(gateway, orderSvc, orderRepo, pendingRepo, cartRepo, dispatcher)

	router := transport.NewRouter(
		handler.NewPaymentHandler(paymentSvc, orderSvc, cartRepo),
		handler.NewAdminHandler(orderSvc, outboxRepo),
		handler.NewCategoryHandler(categoryRepo),
		cfg.Admin,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
