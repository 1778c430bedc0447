package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/shopspring/decimal"

	"github.com/craftcurio/marketplace/internal/api"
	"github.com/craftcurio/marketplace/internal/auth"
	"github.com/craftcurio/marketplace/internal/config"
	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/logger"
	"github.com/craftcurio/marketplace/internal/payment"
	"github.com/craftcurio/marketplace/internal/shutdown"
	"github.com/craftcurio/marketplace/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.Options{
		Service:   "craftcurio-api",
		Env:       cfg.AppEnv,
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})

	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("connected to database")

	st := store.New(db)

	if cfg.Payment.KeyID == "" || cfg.Payment.KeySecret == "" {
		log.Warn("razorpay credentials not set, payment calls will fail")
	}
	if cfg.Payment.WebhookSecret == "" {
		log.Warn("razorpay webhook secret not set, webhooks will be refused")
	}
	gateway := payment.NewRazorpayClient(cfg.Payment.BaseURL, cfg.Payment.KeyID, cfg.Payment.KeySecret, cfg.Payment.Timeout)
	payments := payment.NewService(gateway, st, payment.Options{
		KeyID:         cfg.Payment.KeyID,
		KeySecret:     cfg.Payment.KeySecret,
		WebhookSecret: cfg.Payment.WebhookSecret,
		Currency:      cfg.Payment.Currency,
		MinAmount:     cfg.Payment.MinAmount,
		Tolerance:     decimal.NewFromFloat(cfg.Payment.AmountTolerance),
	}, log)

	srv := api.NewServer(api.Deps{
		Users:         st,
		Orders:        st,
		Payments:      payments,
		Products:      st,
		Carts:         st,
		Verifications: st,
		Tokens:        auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		BcryptCost:    cfg.Auth.BcryptCost,
		RateRPS:       cfg.RateLimit.RPS,
		RateBurst:     cfg.RateLimit.Burst,
		Health:        db.PingContext,
		Log:           log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", slog.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
