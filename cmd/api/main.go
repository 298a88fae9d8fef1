package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/safar/promptpay-shop/internal/api"
	"github.com/safar/promptpay-shop/internal/cache"
	"github.com/safar/promptpay-shop/internal/config"
	"github.com/safar/promptpay-shop/internal/database"
	"github.com/safar/promptpay-shop/internal/promptpay"
	"github.com/safar/promptpay-shop/internal/store"
	"github.com/safar/promptpay-shop/internal/telemetry"
)

func main() {
	telemetry.InitLogger()

	shutdownTracer, err := telemetry.SetupTracer(context.Background(), "promptpay-shop")
	if err != nil {
		slog.Error("setup tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("shutdown tracer", "error", err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.PromptPay.Validate(); err != nil {
		slog.Error("invalid promptpay config", "error", err)
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		slog.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("connected to database")

	var cartCache cache.CartCache = cache.Noop{}
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		cartCache, err = cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.CartTTL)
		cancel()
		if err != nil {
			slog.Error("connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("cart cache enabled", "addr", cfg.Redis.Addr)
	}

	merchant := store.MerchantConfig{
		Target:        cfg.PromptPay.Target,
		ProxyType:     promptpay.ProxyType(cfg.PromptPay.ProxyType),
		BankCode:      cfg.PromptPay.BankCode,
		Name:          cfg.PromptPay.MerchantName,
		City:          cfg.PromptPay.MerchantCity,
		PaymentExpiry: cfg.PromptPay.PaymentExpiry,
	}

	handler := api.NewHandler(db, cartCache, merchant)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	slog.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
