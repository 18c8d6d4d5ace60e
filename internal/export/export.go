// Package export renders local store datasets as Parquet files for
// downstream analytical tooling that speaks Parquet rather than the
// container format.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"

	"tickvault/internal/domain"
	"tickvault/internal/store"
)

// BarRecord is the Parquet schema for exported bars. Equity rows carry
// a zero oi column rather than a separate schema per segment.
type BarRecord struct {
	Exchange  string  `parquet:"exchange"`
	Symbol    string  `parquet:"symbol"`
	Interval  string  `parquet:"interval"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
	OI        int64   `parquet:"oi"`
}

// Source is the read side of a local store.
type Source interface {
	ListSeries() []domain.SeriesKey
	Read(key domain.SeriesKey) (*store.Dataset, bool, error)
}

// Exporter writes one Parquet file per series under its output root.
type Exporter struct {
	src    Source
	outDir string
	log    *slog.Logger
}

// New creates an exporter rooted at outDir.
func New(src Source, outDir string, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Exporter{src: src, outDir: outDir, log: log}
}

// Path returns the output file for a series:
// <outDir>/<SEGMENT>/<EXCHANGE>/<SYMBOL>/<interval>.parquet
func (e *Exporter) Path(key domain.SeriesKey) string {
	return filepath.Join(e.outDir,
		string(key.Segment), string(key.Exchange), key.Symbol,
		string(key.Interval)+".parquet")
}

// Export writes the given series. Existing files are merged with the
// fresh rows, deduplicated by timestamp with new rows winning, and
// rewritten sorted.
func (e *Exporter) Export(ctx context.Context, keys ...domain.SeriesKey) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.exportSeries(key); err != nil {
			return err
		}
	}
	return nil
}

// ExportAll writes every series in the source.
func (e *Exporter) ExportAll(ctx context.Context) (int, error) {
	keys := e.src.ListSeries()
	if err := e.Export(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (e *Exporter) exportSeries(key domain.SeriesKey) error {
	ds, ok, err := e.src.Read(key)
	if err != nil {
		return fmt.Errorf("export %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("export %s: no such series", key)
	}

	records := make([]BarRecord, 0, len(ds.Bars))
	for _, b := range ds.Bars {
		records = append(records, BarRecord{
			Exchange:  string(key.Exchange),
			Symbol:    key.Symbol,
			Interval:  string(key.Interval),
			Timestamp: b.Timestamp * 1000,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			OI:        b.OpenInterest,
		})
	}

	path := e.Path(key)
	existing, _ := readParquetFile[BarRecord](path)
	merged := mergeRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("export %s: %w", key, err)
	}
	e.log.Info("series exported", "series", key.String(), "rows", len(merged), "path", path)
	return nil
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeRecords deduplicates by timestamp, preferring incoming rows, and
// returns the result sorted ascending.
func mergeRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
