package export

import (
	"context"
	"os"
	"testing"

	"github.com/parquet-go/parquet-go"

	"tickvault/internal/domain"
	"tickvault/internal/store"
)

var (
	relianceDay = domain.NewSeriesKey(domain.ExchangeNSE, "RELIANCE", domain.IntervalDay)
	niftyMinute = domain.NewSeriesKey(domain.ExchangeNFO, "NIFTY24JANFUT", domain.IntervalMinute)
)

type memSource map[string]*store.Dataset

func (m memSource) ListSeries() []domain.SeriesKey {
	var keys []domain.SeriesKey
	for _, ds := range m {
		keys = append(keys, ds.Meta.Key)
	}
	return keys
}

func (m memSource) Read(key domain.SeriesKey) (*store.Dataset, bool, error) {
	ds, ok := m[key.String()]
	return ds, ok, nil
}

func dataset(key domain.SeriesKey, start int64, n int) *store.Dataset {
	ds := &store.Dataset{Meta: store.DatasetMeta{Key: key}}
	for i := 0; i < n; i++ {
		ds.Bars = append(ds.Bars, domain.Bar{
			Timestamp: start + int64(i)*86400,
			Open:      100, High: 105, Low: 99, Close: 103,
			Volume:       1000,
			OpenInterest: int64(i) * 10,
		})
	}
	return ds
}

func TestExportWritesParquet(t *testing.T) {
	src := memSource{relianceDay.String(): dataset(relianceDay, 1704153600, 5)}
	e := New(src, t.TempDir(), nil)

	if err := e.Export(context.Background(), relianceDay); err != nil {
		t.Fatalf("Export: %v", err)
	}

	rows, err := parquet.ReadFile[BarRecord](e.Path(relianceDay))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %d, want 5", len(rows))
	}
	if rows[0].Exchange != "NSE" || rows[0].Symbol != "RELIANCE" || rows[0].Interval != "day" {
		t.Errorf("identity columns = %+v", rows[0])
	}
	if rows[0].Timestamp != 1704153600*1000 {
		t.Errorf("timestamp = %d, want ms", rows[0].Timestamp)
	}
}

func TestExportMergesWithExistingFile(t *testing.T) {
	src := memSource{relianceDay.String(): dataset(relianceDay, 1704153600, 5)}
	e := New(src, t.TempDir(), nil)
	ctx := context.Background()

	if err := e.Export(ctx, relianceDay); err != nil {
		t.Fatalf("first export: %v", err)
	}

	// Second export overlaps the first and extends it; re-exported rows
	// must not duplicate.
	src[relianceDay.String()] = dataset(relianceDay, 1704153600+3*86400, 5)
	if err := e.Export(ctx, relianceDay); err != nil {
		t.Fatalf("second export: %v", err)
	}

	rows, err := parquet.ReadFile[BarRecord](e.Path(relianceDay))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 8 {
		t.Fatalf("rows = %d, want 8 after merge", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Timestamp <= rows[i-1].Timestamp {
			t.Fatalf("rows not sorted/deduped at %d", i)
		}
	}
}

func TestExportAllLaysOutBySeries(t *testing.T) {
	src := memSource{
		relianceDay.String(): dataset(relianceDay, 1704153600, 3),
		niftyMinute.String(): dataset(niftyMinute, 1704153600, 3),
	}
	e := New(src, t.TempDir(), nil)

	n, err := e.ExportAll(context.Background())
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if n != 2 {
		t.Errorf("exported = %d", n)
	}
	for _, key := range src.ListSeries() {
		if _, err := os.Stat(e.Path(key)); err != nil {
			t.Errorf("missing output for %s: %v", key, err)
		}
	}
}

func TestExportUnknownSeriesFails(t *testing.T) {
	e := New(memSource{}, t.TempDir(), nil)
	if err := e.Export(context.Background(), relianceDay); err == nil {
		t.Error("Export should fail for a series the store does not hold")
	}
}
