package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dmeRoutePlanner/internal/config"
	"dmeRoutePlanner/internal/dispatch"
	grpcserver "dmeRoutePlanner/internal/grpc"
	"dmeRoutePlanner/internal/intake"
	"dmeRoutePlanner/internal/logger"
	"dmeRoutePlanner/internal/metrics"
	"dmeRoutePlanner/internal/optimizer"
	"dmeRoutePlanner/internal/session"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/repository"
)

func main() {
	// Load configuration
	cfg, err := config.LoadWithDefaults()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(cfg.Env)
	defer func() { _ = log.Sync() }()
	log.Info("configuration loaded", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.Store.Backend == "memory" {
		log.Warn("using in-memory store; nothing survives a restart")
	}
	store, closeStore, err := tablestore.Open(ctx, cfg.Store.Backend, cfg.Store.Path, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()

	m := metrics.New()
	orders := repository.NewOrderRepository(store, log)
	drivers := repository.NewDriverRepository(store, log)
	routes := repository.NewRouteRepository(store, log)
	for _, ensure := range []func(context.Context) error{orders.EnsureTable, drivers.EnsureTable, routes.EnsureTable} {
		if err := ensure(ctx); err != nil {
			return fmt.Errorf("prepare tables: %w", err)
		}
	}

	cache, closeCache, err := openRecoveryCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	loc, err := cfg.Session.Location()
	if err != nil {
		return err
	}
	lifecycle := session.New(session.Config{Location: loc, Freshness: cfg.Recovery.Freshness}, cache, log, m)

	deps := dispatch.Deps{
		Orders:    orders,
		Drivers:   drivers,
		Routes:    routes,
		Lifecycle: lifecycle,
		Log:       log,
		Metrics:   m,
	}
	backends, err := optimizerModels(cfg)
	if err != nil {
		log.Warn("optimizer disabled", zap.Error(err))
	} else {
		deps.Optimizer = optimizer.NewGateway(optimizer.Config{
			Timeout:           cfg.Optimizer.Timeout,
			RequestsPerMinute: cfg.Optimizer.RequestsPerMinute,
			Temperature:       cfg.Optimizer.Temperature,
		}, backends, log, m)
		deps.Parser = intake.NewTextParser(backends[0], cfg.Optimizer.Timeout, log)
	}
	svc := dispatch.NewService(deps)

	// Start gRPC
	shutdown, err := grpcserver.StartGRPC(cfg, grpcserver.NewServer(svc, log), log)
	if err != nil {
		return fmt.Errorf("start grpc: %w", err)
	}
	log.Info("gRPC server listening", zap.String("addr", cfg.GRPC.Address))

	metricsErr := make(chan error, 1)
	if cfg.Metrics.Address != "" {
		ready := func() error {
			_, err := store.ReadAll(ctx, tablestore.Drivers)
			return err
		}
		go func() { metricsErr <- metrics.Serve(ctx, cfg.Metrics.Address, metrics.Router(m, ready), log) }()
	}

	select {
	case <-ctx.Done():
	case err := <-metricsErr:
		if err != nil {
			log.Error("metrics server", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

func openRecoveryCache(ctx context.Context, cfg *config.Config) (session.RecoveryCache, func(), error) {
	switch cfg.Recovery.Backend {
	case "none":
		return nil, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Recovery.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Recovery.RedisAddr, err)
		}
		return session.NewRedisCache(client), func() { _ = client.Close() }, nil
	default:
		cache, err := session.NewFileCache(cfg.Recovery.Dir)
		if err != nil {
			return nil, nil, err
		}
		return cache, func() {}, nil
	}
}

// optimizerModels returns the primary model followed by the fallback, if any.
func optimizerModels(cfg *config.Config) ([]optimizer.Model, error) {
	primary, err := optimizer.NewOpenAIModel(cfg.Optimizer.APIKey, cfg.Optimizer.Model, cfg.Optimizer.BaseURL)
	if err != nil {
		return nil, err
	}
	out := []optimizer.Model{primary}
	if cfg.Optimizer.FallbackModel != "" && cfg.Optimizer.FallbackModel != cfg.Optimizer.Model {
		fallback, err := optimizer.NewOpenAIModel(cfg.Optimizer.APIKey, cfg.Optimizer.FallbackModel, cfg.Optimizer.BaseURL)
		if err != nil {
			return nil, err
		}
		out = append(out, fallback)
	}
	return out, nil
}
