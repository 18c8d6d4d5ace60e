// One-shot tool: export local container datasets as Parquet files.
//
// Usage:
//
//	tickvault-export [-out dir] [-series NSE:RELIANCE:day]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"tickvault/internal/config"
	"tickvault/internal/domain"
	"tickvault/internal/export"
	"tickvault/internal/service"
	"tickvault/internal/util"
)

func main() {
	out := flag.String("out", "", "output directory (default: config export.out_dir)")
	series := flag.String("series", "", "comma-separated series keys (default: everything)")
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

	if *out == "" {
		*out = cfg.Export.OutDir
	}
	if *out == "" {
		log.Fatal("no output directory: set -out or export.out_dir")
	}

	stores, err := service.OpenStores(cfg.Storage.DataDir, logger)
	if err != nil {
		log.Fatalf("failed to open stores: %v", err)
	}
	exp := export.New(stores, *out, logger)

	ctx := context.Background()
	if *series == "" {
		n, err := exp.ExportAll(ctx)
		if err != nil {
			log.Fatalf("export error: %v", err)
		}
		logger.Info("export complete", "series", n, "out", *out)
		return
	}

	var keys []domain.SeriesKey
	for _, s := range strings.Split(*series, ",") {
		key, err := domain.ParseSeriesKey(strings.TrimSpace(s))
		if err != nil {
			log.Fatalf("bad series %q: %v", s, err)
		}
		keys = append(keys, key)
	}
	if err := exp.Export(ctx, keys...); err != nil {
		log.Fatalf("export error: %v", err)
	}
	logger.Info("export complete", "series", len(keys), "out", *out)
}
