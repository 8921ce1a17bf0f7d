// Command catalogctl runs catalog maintenance jobs once and exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-catalog/internal/config"
	"shop-catalog/internal/database"
	"shop-catalog/internal/logger"
	"shop-catalog/internal/server"
	"shop-catalog/internal/trending"
	"shop-catalog/internal/vendorindex"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

const usage = `Usage: catalogctl <command> [flags]

Commands:
  rescore     recompute the trending score of every product
  relay       apply pending vendor index changes
  reconcile   rebuild vendor product sets from the products
  migrate     apply pending postgres migrations (or create mongo indexes)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	logLevel := flags.String("log-level", "", "log level (debug, info, warn, error)")
	timeout := flags.Duration("timeout", 30*time.Minute, "abort the job after this long")
	batchSize := flags.Int("batch-size", 0, "page size for rescore and relay (0 uses the configured size)")
	driver := flags.String("store", "", "store driver override (postgres or mongo)")
	status := flags.Bool("status", false, "migrate: print the migration status instead of migrating")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage, "\nFlags:\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	cfg := config.Load()
	if *driver != "" {
		cfg.Store.Driver = *driver
	}
	if *batchSize > 0 {
		cfg.Catalog.RescoreBatchSize = *batchSize
		cfg.Catalog.RelayBatchSize = *batchSize
	}

	log, err := logger.New(cfg.Server.Env, *logLevel, "catalogctl")
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, command, cfg, *status, log); err != nil {
		log.Error("Command failed", zap.String("command", command), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, cfg *config.Config, status bool, log *zap.Logger) error {
	switch command {
	case "rescore", "relay", "reconcile", "migrate":
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}

	stores, err := server.OpenStores(ctx, cfg, command == "migrate" && !status, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(context.Background()); err != nil {
			log.Error("Failed to close store", zap.Error(err))
		}
	}()

	started := time.Now()
	var stats any

	switch command {
	case "rescore":
		stats, err = trending.NewRescorer(stores.Products, trending.SystemClock, cfg.Catalog.RescoreBatchSize, log).Run(ctx)
	case "relay":
		maintainer := vendorindex.NewMaintainer(stores.Vendors, stores.Outbox, stores.Products, nil, log)
		stats, err = vendorindex.NewRelay(maintainer, stores.Outbox, cfg.Catalog.RelayBatchSize, nil, log).Run(ctx)
	case "reconcile":
		stats, err = vendorindex.NewReconciler(stores.Products, stores.Vendors, nil, log).Run(ctx)
	case "migrate":
		if status {
			if stores.Pool == nil {
				return fmt.Errorf("migration status is only available for the postgres store")
			}
			err = database.GetMigrationStatus(stores.Pool)
		}
	}
	if err != nil {
		return err
	}

	log.Info("Command completed",
		zap.String("command", command),
		zap.Duration("elapsed", time.Since(started)),
		zap.Any("stats", stats),
	)
	return nil
}
