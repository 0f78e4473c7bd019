// Command seed-catalog loads products from a JSON file into the catalog,
// replacing price, variants and stock of products that already exist.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	catalog "github.com/fjod/freshmilk/internal/catalog/repository"
	"github.com/fjod/freshmilk/internal/domain"
	"github.com/fjod/freshmilk/internal/platform/config"
	"github.com/fjod/freshmilk/internal/platform/logger"
	"github.com/fjod/freshmilk/internal/platform/postgres"
)

func main() {
	file := flag.String("file", "fixtures/products.json", "path to the product fixture")
	migrate := flag.Bool("migrate", true, "apply schema migrations before seeding")
	flag.Parse()

	cfg := config.Load()
	logger.New(logger.Options{Service: "seed-catalog", Env: cfg.AppEnv, Level: cfg.LogLevel})

	if err := run(*file, *migrate, cfg); err != nil {
		slog.Error("seeding failed", "error", err)
		os.Exit(1)
	}
}

func run(file string, migrate bool, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	products, err := loadProducts(file)
	if err != nil {
		return err
	}

	db, err := postgres.Open(ctx, postgres.Credentials{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		DBName:   cfg.Postgres.DBName,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		if err := postgres.RunMigrations(db, cfg.Postgres.MigrationsPath); err != nil {
			return err
		}
	}

	repo := catalog.NewRepository(db)
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return err
		}
		slog.Info("product seeded", "product_id", p.ID, "stock", p.Stock)
	}
	slog.Info("catalog seeded", "count", len(products), "file", file)
	return nil
}

func loadProducts(file string) ([]domain.Product, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var products []domain.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", file, err)
	}
	for _, p := range products {
		if p.ID == "" || p.Price <= 0 || p.Stock < 0 {
			return nil, fmt.Errorf("invalid product %q in %s", p.ID, file)
		}
	}
	return products, nil
}
