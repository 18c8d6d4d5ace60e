// Streams every dataset of the local container stores into QuestDB over
// the line protocol, then optionally verifies per-series row counts.
//
// Usage:
//
//	tickvault-migrate [-workers 8] [-verify]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tickvault/internal/config"
	"tickvault/internal/migrate"
	"tickvault/internal/quest"
	"tickvault/internal/service"
	"tickvault/internal/util"
)

func main() {
	workers := flag.Int("workers", 0, "parallel migration workers (0 = config value)")
	batchSize := flag.Int("batch-size", 0, "rows per sink flush (0 = config value)")
	verify := flag.Bool("verify", false, "compare per-series row counts after migration")
	flag.Parse()

	cfgPath := "config/tickvault.yaml"
	if p := os.Getenv("TICKVAULT_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	stores, err := service.OpenStores(cfg.Storage.DataDir, logger)
	if err != nil {
		log.Fatalf("failed to open stores: %v", err)
	}

	if *workers == 0 {
		*workers = cfg.Migration.Workers
	}
	if *batchSize == 0 {
		*batchSize = cfg.Migration.BatchSize
	}
	sinks := func() (migrate.Sink, error) {
		return quest.DialILP(cfg.QuestDB.ILPAddr, 10*time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	started := time.Now()
	sum, err := migrate.New(stores, sinks, *workers, *batchSize, quest.SourceMigration, logger).Run(ctx)
	if err != nil {
		log.Fatalf("migration aborted: %v", err)
	}
	logger.Info("migration finished",
		"datasets", sum.Datasets,
		"migrated", sum.Migrated,
		"failed", sum.Failed,
		"rows_written", sum.RowsWritten,
		"rows_skipped", sum.RowsSkipped,
		"elapsed", time.Since(started).Round(time.Second).String())

	if *verify {
		client := quest.NewClient(cfg.QuestDB.HTTPURL)
		mismatches, err := migrate.Verify(ctx, stores, client)
		if err != nil {
			log.Fatalf("verification failed: %v", err)
		}
		for _, m := range mismatches {
			logger.Error("row count mismatch", "detail", m.String())
		}
		if len(mismatches) > 0 {
			os.Exit(1)
		}
		logger.Info("verification passed", "datasets", sum.Datasets)
	}

	if sum.Failed > 0 {
		os.Exit(1)
	}
}
