// Command setup prepares a store for the dispatch server: it creates the
// ORDERS, ROUTES and DRIVERS tables, optionally seeds drivers and mints
// tokens for dispatchers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"dmeRoutePlanner/internal/auth"
	"dmeRoutePlanner/internal/config"
	"dmeRoutePlanner/internal/db"
	"dmeRoutePlanner/internal/logger"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

var sampleDrivers = []models.Driver{
	{Name: "Maria Lopez", Phone: "9495550101", CitiesCovered: "Irvine, Tustin", ZipPrefixes: "926", VehicleType: "van", StartLocation: "Irvine warehouse"},
	{Name: "James Carter", Phone: "7145550102", CitiesCovered: "Anaheim, Orange", ZipPrefixes: "928", VehicleType: "van", StartLocation: "Irvine warehouse"},
	{Name: "Kim Nguyen", Phone: "5625550103", CitiesCovered: "Long Beach", ZipPrefixes: "908", VehicleType: "truck", StartLocation: "Long Beach depot"},
}

func main() {
	samples := flag.Bool("sample-drivers", false, "add sample drivers when the DRIVERS table is empty")
	token := flag.String("token", "", "print a JWT for name:kind (kind is dispatcher, manager or admin)")
	rollback := flag.Bool("rollback", false, "revert the last SQLite migration and exit")
	ttl := flag.Duration("token-ttl", 12*time.Hour, "lifetime of the printed token; 0 never expires")
	flag.Parse()

	cfg, err := config.LoadWithDefaults()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	if *token != "" {
		name, kind, ok := strings.Cut(*token, ":")
		if !ok {
			kind = auth.KindDispatcher
		}
		tok, err := auth.IssueToken(cfg.Auth.JWTSecret, name, kind, *ttl)
		if err != nil {
			log.Fatal("issue token", zap.Error(err))
		}
		fmt.Println(tok)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if *rollback {
		if err := rollbackLast(ctx, cfg, log); err != nil {
			log.Fatal("rollback failed", zap.Error(err))
		}
		return
	}
	if err := setup(ctx, cfg, *samples, log); err != nil {
		log.Fatal("setup failed", zap.Error(err))
	}
}

func rollbackLast(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.Store.Backend != "sqlite" {
		return fmt.Errorf("rollback only applies to the sqlite store, not %s", cfg.Store.Backend)
	}
	d, err := db.Open(ctx, cfg.Store.Path, log)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := db.RollbackLast(ctx, d); err != nil {
		return err
	}
	log.Info("last migration reverted", zap.String("path", cfg.Store.Path))
	return nil
}

func setup(ctx context.Context, cfg *config.Config, samples bool, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	store, closeStore, err := tablestore.Open(ctx, cfg.Store.Backend, cfg.Store.Path, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	orders := repository.NewOrderRepository(store, log)
	routes := repository.NewRouteRepository(store, log)
	drivers := repository.NewDriverRepository(store, log)
	for name, ensure := range map[string]func(context.Context) error{
		tablestore.Orders:  orders.EnsureTable,
		tablestore.Routes:  routes.EnsureTable,
		tablestore.Drivers: drivers.EnsureTable,
	} {
		if err := ensure(ctx); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		log.Info("table ready", zap.String("table", name))
	}

	if !samples {
		return nil
	}
	existing, err := drivers.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Info("drivers already present, skipping samples", zap.Int("drivers", len(existing)))
		return nil
	}
	for _, d := range sampleDrivers {
		created, err := drivers.Create(ctx, d)
		if err != nil {
			return err
		}
		log.Info("sample driver added", zap.String("driver_id", created.ID), zap.String("driver_name", created.Name))
	}
	return nil
}
