// Package service orchestrates the sync workflow: gap planning,
// rate-limited fetching, storage, migration, and export, across the
// per-segment container files.
package service

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"tickvault/internal/domain"
	"tickvault/internal/store"
)

// storeExt is the container file extension.
const storeExt = ".tvs"

// segments lists every segment a Stores opens.
var segments = []domain.Segment{
	domain.SegmentEquity,
	domain.SegmentDerivatives,
	domain.SegmentCommodity,
	domain.SegmentCurrency,
}

// Stores owns one container store per segment and routes each series to
// its segment's store. It satisfies the planner's coverage source, the
// executor's sink, and the migration/export read side.
type Stores struct {
	bysegment map[domain.Segment]*store.Store
}

// OpenStores opens (or initializes) every segment container under
// dataDir.
func OpenStores(dataDir string, log *slog.Logger) (*Stores, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}
	s := &Stores{bysegment: make(map[domain.Segment]*store.Store, len(segments))}
	for _, seg := range segments {
		path := filepath.Join(dataDir, string(seg)+storeExt)
		st, err := store.Open(path, seg, log)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", seg, err)
		}
		s.bysegment[seg] = st
	}
	return s, nil
}

// For returns the store backing one segment.
func (s *Stores) For(seg domain.Segment) *store.Store { return s.bysegment[seg] }

// Coverage reads coverage metadata for key from its segment store.
func (s *Stores) Coverage(key domain.SeriesKey) (domain.CoverageList, bool, error) {
	return s.For(key.Segment).Coverage(key)
}

// Commit appends one validated chunk. This is the executor's sink.
func (s *Stores) Commit(key domain.SeriesKey, bars []domain.Bar, covered domain.CoverageRange) error {
	return s.For(key.Segment).Write(key, bars, covered, store.Append)
}

// Read decodes one dataset.
func (s *Stores) Read(key domain.SeriesKey) (*store.Dataset, bool, error) {
	return s.For(key.Segment).Read(key)
}

// ListSeries returns every series across all segments.
func (s *Stores) ListSeries() []domain.SeriesKey {
	var keys []domain.SeriesKey
	for _, seg := range segments {
		keys = append(keys, s.bysegment[seg].ListSeries()...)
	}
	return keys
}

// Stats aggregates per-segment store statistics.
func (s *Stores) Stats() map[domain.Segment]store.StoreStats {
	out := make(map[domain.Segment]store.StoreStats, len(segments))
	for _, seg := range segments {
		out[seg] = s.bysegment[seg].Stats()
	}
	return out
}
