// Package migrate streams every dataset of a local store into the
// analytical database, deduplicating rows and isolating per-row
// failures so one bad record never aborts a dataset.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"tickvault/internal/domain"
	"tickvault/internal/store"
)

// Source is the read side of a local store.
type Source interface {
	ListSeries() []domain.SeriesKey
	Read(key domain.SeriesKey) (*store.Dataset, bool, error)
}

// Sink is one worker's private connection to the target database.
// Implementations are not required to be safe for concurrent use; the
// pipeline opens one per worker.
type Sink interface {
	WriteBar(key domain.SeriesKey, b domain.Bar, source string) error
	Flush() error
	Close() error
}

// SinkFactory opens a fresh sink for one worker.
type SinkFactory func() (Sink, error)

// SeriesReport records one dataset's migration.
type SeriesReport struct {
	Key         domain.SeriesKey
	RowsRead    int
	RowsWritten int
	RowsSkipped int
	RowErrors   []string
	Err         error
}

// Summary aggregates a whole run.
type Summary struct {
	Datasets    int
	Migrated    int
	Failed      int
	RowsWritten int64
	RowsSkipped int64
	Reports     []SeriesReport
}

// defaultBatchSize is the number of rows streamed between sink flushes.
// Oversized unflushed buffers are what break ILP connections mid-run.
const defaultBatchSize = 25_000

// Pipeline copies datasets from a local store into the target database
// with a fixed pool of workers, one dataset per worker at a time.
type Pipeline struct {
	src       Source
	sinks     SinkFactory
	workers   int
	batchSize int
	source    string
	log       *slog.Logger
}

// New wires a pipeline. workers < 1 runs a single worker, batchSize < 1
// uses the default; an empty source tag defaults to the migration tag.
func New(src Source, sinks SinkFactory, workers, batchSize int, source string, log *slog.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	if source == "" {
		source = "hdf5_migration"
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{src: src, sinks: sinks, workers: workers, batchSize: batchSize, source: source, log: log}
}

// Run migrates every series in the source. Dataset failures (integrity
// errors, sink write failures) are recorded in the summary and do not
// stop the run; only context cancellation or a sink that cannot be
// opened aborts it.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	keys := p.src.ListSeries()
	sum := Summary{Datasets: len(keys)}

	work := make(chan domain.SeriesKey)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			sink, err := p.sinks()
			if err != nil {
				return fmt.Errorf("open sink: %w", err)
			}
			defer sink.Close()

			for key := range work {
				rep := p.migrateSeries(key, sink)
				mu.Lock()
				sum.Reports = append(sum.Reports, rep)
				if rep.Err != nil {
					sum.Failed++
				} else {
					sum.Migrated++
				}
				sum.RowsWritten += int64(rep.RowsWritten)
				sum.RowsSkipped += int64(rep.RowsSkipped)
				mu.Unlock()
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for _, key := range keys {
			select {
			case work <- key:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	err := g.Wait()
	return sum, err
}

func (p *Pipeline) migrateSeries(key domain.SeriesKey, sink Sink) SeriesReport {
	rep := SeriesReport{Key: key}

	ds, ok, err := p.src.Read(key)
	if err != nil {
		rep.Err = fmt.Errorf("read %s: %w", key, err)
		return rep
	}
	if !ok {
		rep.Err = fmt.Errorf("read %s: dataset vanished", key)
		return rep
	}
	rep.RowsRead = len(ds.Bars)

	bars := dedupe(ds.Bars)
	rep.RowsSkipped = rep.RowsRead - len(bars)

	pending := 0
	for _, b := range bars {
		if err := checkRow(key, b); err != nil {
			rep.RowsSkipped++
			rep.RowErrors = append(rep.RowErrors, err.Error())
			continue
		}
		if err := sink.WriteBar(key, b, p.source); err != nil {
			rep.Err = fmt.Errorf("write %s: %w", key, err)
			return rep
		}
		rep.RowsWritten++
		pending++
		if pending >= p.batchSize {
			if err := sink.Flush(); err != nil {
				rep.Err = fmt.Errorf("flush %s: %w", key, err)
				return rep
			}
			pending = 0
		}
	}
	if err := sink.Flush(); err != nil {
		rep.Err = fmt.Errorf("flush %s: %w", key, err)
		return rep
	}

	p.log.Info("dataset migrated",
		"series", key.String(),
		"rows", rep.RowsWritten, "skipped", rep.RowsSkipped)
	return rep
}

// dedupe drops duplicate timestamps keeping the last occurrence, the
// same keep-last rule the local store applies on write.
func dedupe(bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, 0, len(bars))
	for i, b := range bars {
		if i+1 < len(bars) && bars[i+1].Timestamp == b.Timestamp {
			continue
		}
		out = append(out, b)
	}
	return out
}

// checkRow rejects rows the target database would store as garbage.
// Rejected rows are skipped, never fatal.
func checkRow(key domain.SeriesKey, b domain.Bar) error {
	if b.Timestamp <= 0 {
		return &domain.RowError{Series: key.String(), Timestamp: b.Timestamp,
			Err: fmt.Errorf("non-positive timestamp")}
	}
	if !b.OHLCConsistent() {
		return &domain.RowError{Series: key.String(), Timestamp: b.Timestamp,
			Err: fmt.Errorf("inconsistent OHLC")}
	}
	return nil
}
