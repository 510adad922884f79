// Command goldctl is the goldwatch operations CLI.
//
// Usage:
//
//	goldctl scan --feed data/scan_feed.json
//	goldctl dispatch
//	goldctl show
//	goldctl prune --keep Alpha --keep Beta
//	goldctl send --message "Maintenance tonight at 20:00 UTC"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/congenial-acorn/goldwatch/internal/config"
	"github.com/congenial-acorn/goldwatch/internal/delivery"
	"github.com/congenial-acorn/goldwatch/internal/dispatch"
	"github.com/congenial-acorn/goldwatch/internal/monitor"
	"github.com/congenial-acorn/goldwatch/internal/prefs"
	"github.com/congenial-acorn/goldwatch/internal/store"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "goldctl",
		Short: "goldwatch operations CLI",
	}

	root.AddCommand(scanCmd())
	root.AddCommand(dispatchCmd())
	root.AddCommand(showCmd())
	root.AddCommand(pruneCmd())
	root.AddCommand(sendCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// scan command
// --------------------------------------------------------------------------

func scanCmd() *cobra.Command {
	var feed string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Ingest one scan cycle from a feed file (no dispatch)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				if feed == "" {
					return fmt.Errorf("--feed is required")
				}
				scanner := monitor.FileScanner{
					Path:     feed,
					MinPrice: cfg.PriceThreshold,
					MinStock: cfg.StockThreshold,
				}
				mon := monitor.New(scanner, st, nil, cfg.ScanInterval, cfg.DispatchTimeout, logger)
				start := time.Now()
				stats, err := mon.RunOnce(ctx)
				if err != nil {
					return err
				}
				logger.Info("Scan finished",
					"duration", time.Since(start).Round(time.Millisecond), "summary", stats.Summary())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&feed, "feed", "", "Path to the scraper feed file")
	return cmd
}

// --------------------------------------------------------------------------
// dispatch command
// --------------------------------------------------------------------------

func dispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run a single dispatch cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				if cfg.DatabaseURL == "" {
					return fmt.Errorf("DATABASE_URL is required for dispatch")
				}
				prefService, err := prefs.New(ctx, cfg)
				if err != nil {
					return fmt.Errorf("connect to recipient database: %w", err)
				}
				defer prefService.Close()

				sender := delivery.NewWebhookSender(cfg.WebhookTimeout, cfg.DeliveryPerMinute, logger)
				engine := dispatch.New(st, prefService, sender, dispatch.Options{
					MarketWindow: cfg.MarketCooldown,
					StatusWindow: cfg.StatusCooldown,
					DebugGuildID: cfg.DebugGuildID,
					DebugUserID:  cfg.DebugUserID,
				}, logger)

				result, err := engine.RunCycle(ctx)
				if err != nil {
					return err
				}
				logger.Info("Dispatch finished", "summary", result.Summary())
				return nil
			})
		},
	}
	return cmd
}

// --------------------------------------------------------------------------
// show command
// --------------------------------------------------------------------------

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the market store as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st.Snapshot())
			})
		},
	}
	return cmd
}

// --------------------------------------------------------------------------
// prune command
// --------------------------------------------------------------------------

func pruneCmd() *cobra.Command {
	var keep []string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Run the end-of-scan prune rule manually",
		Long: "Prunes systems not named by --keep whose delivery history has " +
			"expired. With no --keep flags nothing is pruned (the empty-scan " +
			"fail-safe applies).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				observed := make(map[string]struct{}, len(keep))
				for _, name := range keep {
					observed[name] = struct{}{}
				}
				before := st.Summarize().Systems
				st.BeginScan()
				if err := st.EndScan(observed); err != nil {
					return err
				}
				after := st.Summarize().Systems
				logger.Info("Prune finished", "systems_before", before, "systems_after", after)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&keep, "keep", nil, "System to treat as observed (repeatable)")
	return cmd
}

// --------------------------------------------------------------------------
// send command
// --------------------------------------------------------------------------

func sendCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Broadcast a manual message to all recipients (no cooldown marks)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("--message is required")
			}
			return run(func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				if cfg.DatabaseURL == "" {
					return fmt.Errorf("DATABASE_URL is required for send")
				}
				prefService, err := prefs.New(ctx, cfg)
				if err != nil {
					return fmt.Errorf("connect to recipient database: %w", err)
				}
				defer prefService.Close()

				recipients, err := prefService.Recipients(ctx)
				if err != nil {
					return err
				}
				sender := delivery.NewWebhookSender(cfg.WebhookTimeout, cfg.DeliveryPerMinute, logger)

				sent, failed := 0, 0
				for _, r := range recipients {
					if err := sender.Deliver(ctx, r, message); err != nil {
						logger.Warn("send failed", "recipient_type", r.Type, "recipient_id", r.ID, "error", err)
						failed++
						continue
					}
					sent++
				}
				logger.Info("Broadcast finished", "sent", sent, "failed", failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "Message text to broadcast")
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// run handles config loading, store opening, and context cancellation.
func run(fn func(ctx context.Context, cfg *config.Config, st *store.Store) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.StorePath, cfg.Retention)
	if err != nil {
		return fmt.Errorf("open market store: %w", err)
	}

	return fn(ctx, cfg, st)
}
