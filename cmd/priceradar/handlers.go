package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/mwalczyk/priceradar/internal/config"
	"github.com/mwalczyk/priceradar/internal/store"
	"github.com/mwalczyk/priceradar/pkg/server"
)

func loadConfig() (*config.Config, error) {
	// Missing .env is fine; env vars may come from the environment proper.
	_ = godotenv.Load()

	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Logging.ParseLevel(),
	}))
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	log := newLogger(cfg)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	log.Info("store ready", "path", cfg.Database.Path)
	return server.New(db, cfg, log).ListenAndServe()
}

func runSummary(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := db.DatabaseSummary(ctx)
	if err != nil {
		return fmt.Errorf("database summary: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS")
	for _, table := range []string{"users", "products", "product_links", "prices", "shop_configs", "substitute_groups"} {
		fmt.Fprintf(w, "%s\t%d\n", table, summary.TableCounts[table])
	}
	w.Flush()

	fmt.Println()
	if summary.LatestProductDate != nil {
		fmt.Printf("latest product: %s\n", summary.LatestProductDate.Format(time.RFC3339))
	}
	if summary.LatestPriceDate != nil {
		fmt.Printf("latest price:   %s\n", summary.LatestPriceDate.Format(time.RFC3339))
	}
	fmt.Printf("active users (30d): %d\n", summary.ActiveUsers30d)

	if len(summary.ShopsData) > 0 {
		fmt.Println()
		sw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(sw, "SHOP\tPRODUCTS\tPRICES")
		for _, shop := range summary.ShopsData {
			name := shop.ShopID
			if shop.Name != nil && *shop.Name != "" {
				name = *shop.Name
			}
			fmt.Fprintf(sw, "%s\t%d\t%d\n", name, shop.ProductsCount, shop.PricesCount)
		}
		sw.Flush()
	}
	return nil
}
