package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tickvault/internal/domain"
	"tickvault/internal/gather"
	"tickvault/internal/migrate"
	"tickvault/internal/plan"
	"tickvault/internal/util"
)

// Service is the front door: one instance per process, sharing one rate
// limiter across every concurrent series sync.
type Service struct {
	stores      *Stores
	planner     *plan.Planner
	exec        *gather.Executor
	concurrency int
	log         *slog.Logger
}

// Options bundles the Service dependencies.
type Options struct {
	Stores      *Stores
	Fetcher     gather.Fetcher
	Limiter     util.Limiter
	Retry       gather.RetryPolicy
	Concurrency int
	Log         *slog.Logger
}

// New wires a Service. Concurrency < 1 syncs one series at a time.
func New(opts Options) *Service {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	if opts.Retry == (gather.RetryPolicy{}) {
		opts.Retry = gather.DefaultRetryPolicy()
	}
	return &Service{
		stores:      opts.Stores,
		planner:     plan.New(opts.Stores),
		exec:        gather.NewExecutor(opts.Fetcher, opts.Limiter, opts.Stores, opts.Retry, opts.Log),
		concurrency: opts.Concurrency,
		log:         opts.Log,
	}
}

// SyncRequest asks for one series to be complete over [Start, End]
// (Unix seconds, closed).
type SyncRequest struct {
	Key   domain.SeriesKey
	Start int64
	End   int64
}

// SyncResult reports one series sync.
type SyncResult struct {
	Key     domain.SeriesKey
	Outcome gather.Outcome
	// Planned is what the store was missing before the sync.
	Planned domain.CoverageList
	// Gaps are the sub-ranges that remain missing after the sync.
	Gaps []domain.CoverageRange
	Rows int
	Err  error
}

// SyncSeries plans and fetches the missing ranges for one series. A
// fully covered request returns immediately with a Full outcome.
func (s *Service) SyncSeries(ctx context.Context, req SyncRequest) SyncResult {
	res := SyncResult{Key: req.Key}
	started := time.Now()

	planned, err := s.planner.Plan(req.Key, req.Start, req.End)
	if err != nil {
		res.Outcome = gather.Failed
		res.Err = err
		return res
	}
	res.Planned = planned
	if len(planned) == 0 {
		res.Outcome = gather.Full
		s.log.Debug("series already covered", "series", req.Key.String())
		return res
	}

	run, err := s.exec.Run(ctx, req.Key, planned)
	res.Outcome = run.Outcome()
	res.Rows = run.Rows()
	res.Err = err
	for _, c := range run.Chunks {
		if c.Err != nil {
			res.Gaps = append(res.Gaps, c.Range)
		}
	}

	s.log.Info("series synced",
		"series", req.Key.String(),
		"outcome", res.Outcome.String(),
		"rows", res.Rows,
		"gaps", len(res.Gaps),
		"elapsed", time.Since(started).Round(time.Millisecond).String())
	return res
}

// SyncMany syncs several series concurrently, bounded by the configured
// concurrency. The shared limiter keeps the aggregate request rate
// under the upstream ceiling. Results are positionally aligned with
// reqs; per-series failures are recorded there, and only context
// cancellation aborts the whole batch.
func (s *Service) SyncMany(ctx context.Context, reqs []SyncRequest) ([]SyncResult, error) {
	results := make([]SyncResult, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = s.SyncSeries(ctx, req)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// Coverage exposes the store's coverage metadata for one series.
func (s *Service) Coverage(key domain.SeriesKey) (domain.CoverageList, bool, error) {
	return s.stores.Coverage(key)
}

// Migrate streams every local dataset into the analytical database,
// flushing each worker's sink every batchSize rows.
func (s *Service) Migrate(ctx context.Context, sinks migrate.SinkFactory, workers, batchSize int, source string) (migrate.Summary, error) {
	p := migrate.New(s.stores, sinks, workers, batchSize, source, s.log)
	return p.Run(ctx)
}

// VerifyMigration compares local and target row counts per series.
func (s *Service) VerifyMigration(ctx context.Context, counter migrate.Counter) ([]migrate.Mismatch, error) {
	return migrate.Verify(ctx, s.stores, counter)
}
