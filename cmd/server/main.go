// Package main - Entry point for the printshop pricing server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"printshop/adapters/hclcatalog"
	"printshop/api"
	"printshop/core/catalog"
	"printshop/core/engine"
	"printshop/db"
	"printshop/internal/config"
	"printshop/internal/logging"
	"printshop/internal/metrics"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "config file (JSON)")
	addr := flag.String("addr", "", "server address (overrides config)")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "printshop server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return err
	}
	defer logging.Sync()
	log := logging.Named("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader, release, err := openCatalog(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer release()

	m := metrics.New(metrics.DefaultConfig())
	eng := engine.New(reader, cfg.EngineConfig(),
		engine.WithLogger(logging.Named("engine")),
		engine.WithObserver(m),
	)
	srv := api.NewServer(eng, reader,
		api.WithLogger(logging.Named("api")),
		api.WithMetrics(m),
		api.WithVersion(version),
	)

	log.Info("listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("version", version),
		zap.String("currency", cfg.Pricing.Currency),
		zap.String("tier_basis", cfg.Pricing.TierBasis))

	err = srv.ListenAndServe(ctx, cfg.Server.Addr,
		time.Duration(cfg.Server.ReadTimeoutSeconds)*time.Second,
		time.Duration(cfg.Server.WriteTimeoutSeconds)*time.Second)
	log.Info("stopped")
	return err
}

// openCatalog serves from an HCL catalog when one is configured, otherwise
// from the migrated database.
func openCatalog(ctx context.Context, cfg *config.Config, log *zap.Logger) (catalog.Reader, func(), error) {
	if cfg.Database.Catalog != "" {
		mem, err := hclcatalog.Load(cfg.Database.Catalog)
		if err != nil {
			return nil, nil, err
		}
		issues := mem.Validate(catalog.DefaultValidationRules())
		for _, issue := range issues {
			log.Warn("catalog issue", zap.String("issue", issue.String()))
		}
		if catalog.HasErrors(issues) {
			return nil, nil, fmt.Errorf("catalog %s has errors", cfg.Database.Catalog)
		}
		log.Info("serving catalog file", zap.String("path", cfg.Database.Catalog))
		return mem, func() {}, nil
	}

	store, err := db.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	log.Info("serving catalog database", zap.String("driver", store.Driver()))
	return store, func() { store.Close() }, nil
}
