// Command goldwatch is the stale-market watch daemon: it ingests scan
// cycles from the external scraper feed, maintains the market store, and
// dispatches cooldown-gated notifications to subscribed recipients.
//
// Usage:
//
//	goldwatch
//	SCAN_FEED_PATH=data/scan_feed.json API_PORT=8080 goldwatch
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/congenial-acorn/goldwatch/internal/api"
	"github.com/congenial-acorn/goldwatch/internal/config"
	"github.com/congenial-acorn/goldwatch/internal/delivery"
	"github.com/congenial-acorn/goldwatch/internal/dispatch"
	"github.com/congenial-acorn/goldwatch/internal/inara"
	"github.com/congenial-acorn/goldwatch/internal/monitor"
	"github.com/congenial-acorn/goldwatch/internal/prefs"
	"github.com/congenial-acorn/goldwatch/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Open the market store. Corrupt or missing state starts empty.
	st, err := store.Open(cfg.StorePath, cfg.Retention)
	if err != nil {
		logger.Error("Failed to open market store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	logger.Info("Market store opened", "path", cfg.StorePath, "stats", st.Summarize())

	// Recipient database is optional: without it there is nobody to
	// notify, but scanning and the status API still run.
	var prefService *prefs.Service
	if cfg.DatabaseURL != "" {
		prefService, err = prefs.New(ctx, cfg)
		if err != nil {
			logger.Error("Failed to connect to recipient database", "error", err)
			os.Exit(1)
		}
		defer prefService.Close()
		logger.Info("Recipient database connected",
			"min_conns", cfg.DBPoolMinConns, "max_conns", cfg.DBPoolMaxConns)
	} else {
		logger.Info("Recipient database disabled (no DATABASE_URL)")
	}

	sender := delivery.NewWebhookSender(cfg.WebhookTimeout, cfg.DeliveryPerMinute, logger)

	// Dispatch engine + serve loop (the delivery side of the handoff).
	requests := make(chan dispatch.CycleRequest)
	if prefService != nil {
		engine := dispatch.New(st, prefService, sender, dispatch.Options{
			MarketWindow: cfg.MarketCooldown,
			StatusWindow: cfg.StatusCooldown,
			DebugGuildID: cfg.DebugGuildID,
			DebugUserID:  cfg.DebugUserID,
		}, logger)
		go engine.Serve(ctx, requests)
	} else {
		go drainCycleRequests(ctx, requests)
	}

	// Monitor worker: scans on an interval and triggers dispatch.
	feedPath := os.Getenv("SCAN_FEED_PATH")
	if feedPath != "" {
		scanner := monitor.FileScanner{
			Path:     feedPath,
			MinPrice: cfg.PriceThreshold,
			MinStock: cfg.StockThreshold,
			Links: &monitor.LinkEnricher{
				Client:   inara.NewClient(cfg.SourceThrottle, logger),
				Metals:   cfg.Metals,
				Distance: cfg.LinkDistance,
			},
		}
		mon := monitor.New(scanner, st, requests, cfg.ScanInterval, cfg.DispatchTimeout, logger)
		runner := monitor.NewRunner(mon, logger)
		go runner.Run(ctx)
		logger.Info("Monitor worker started", "feed", feedPath, "interval", cfg.ScanInterval)
	} else {
		logger.Info("Monitor worker disabled (no SCAN_FEED_PATH)")
	}

	// Status API
	router := api.NewRouter(st, prefService, cfg)
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting goldwatch status API", "addr", addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}

// drainCycleRequests acknowledges dispatch triggers when no engine is
// configured, so the monitor loop never blocks on the handoff.
func drainCycleRequests(ctx context.Context, requests <-chan dispatch.CycleRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-requests:
			select {
			case req.Done <- nil:
			default:
			}
		}
	}
}
