// Syncs historical bars from the upstream API into the local container
// stores, fetching only the ranges each series is missing.
//
// Usage:
//
//	tickvault-sync -series NSE:RELIANCE:day,NSE:TCS:day -from 2020-01-01 -to 2024-12-31
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tickvault/internal/config"
	"tickvault/internal/domain"
	"tickvault/internal/gather"
	"tickvault/internal/registry"
	"tickvault/internal/service"
	"tickvault/internal/util"
)

func main() {
	series := flag.String("series", "", "comma-separated series keys (EXCHANGE:SYMBOL:interval)")
	from := flag.String("from", "", "range start (YYYY-MM-DD)")
	to := flag.String("to", "", "range end (YYYY-MM-DD), default today")
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

	if *series == "" || *from == "" {
		log.Fatal("both -series and -from are required")
	}
	reqs, err := parseRequests(*series, *from, *to)
	if err != nil {
		log.Fatalf("bad arguments: %v", err)
	}

	reg, err := registry.Open(cfg.Storage.RegistryPath, 0)
	if err != nil {
		log.Fatalf("failed to open instrument registry: %v", err)
	}
	defer reg.Close()

	stores, err := service.OpenStores(cfg.Storage.DataDir, logger)
	if err != nil {
		log.Fatalf("failed to open stores: %v", err)
	}

	svc := service.New(service.Options{
		Stores:  stores,
		Fetcher: gather.NewKiteClient(cfg.Kite.BaseURL, cfg.Kite.APIKey, cfg.Kite.AccessToken, reg),
		Limiter: util.NewRateLimiter(cfg.Kite.RateLimitPerMin, cfg.Kite.SafetyMargin),
		Retry: gather.RetryPolicy{
			MaxAttempts: cfg.Sync.MaxRetries,
			BaseDelay:   time.Duration(cfg.Sync.RetryBaseDelaySec) * time.Second,
			Factor:      1.3,
		},
		Concurrency: cfg.Sync.MaxConcurrentSeries,
		Log:         logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	results, err := svc.SyncMany(ctx, reqs)
	if err != nil {
		log.Fatalf("sync aborted: %v", err)
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil || len(res.Gaps) > 0 {
			failed++
			logger.Error("series incomplete",
				"series", res.Key.String(),
				"outcome", res.Outcome.String(),
				"gaps", len(res.Gaps),
				"error", res.Err)
		}
	}
	if failed > 0 {
		logger.Warn("sync finished with incomplete series", "failed", failed, "total", len(results))
		os.Exit(1)
	}
	logger.Info("sync complete", "series", len(results))
}

func parseRequests(series, from, to string) ([]service.SyncRequest, error) {
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return nil, err
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if to != "" {
		end, err = time.Parse("2006-01-02", to)
		if err != nil {
			return nil, err
		}
	}

	var reqs []service.SyncRequest
	for _, s := range strings.Split(series, ",") {
		key, err := domain.ParseSeriesKey(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, service.SyncRequest{Key: key, Start: start.Unix(), End: end.Unix()})
	}
	return reqs, nil
}
