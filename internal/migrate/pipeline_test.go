package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"tickvault/internal/domain"
	"tickvault/internal/store"
)

var (
	keyA = domain.NewSeriesKey(domain.ExchangeNSE, "RELIANCE", domain.IntervalDay)
	keyB = domain.NewSeriesKey(domain.ExchangeNFO, "NIFTY24JANFUT", domain.IntervalDay)
	keyC = domain.NewSeriesKey(domain.ExchangeNSE, "TCS", domain.IntervalDay)
)

func bars(start int64, n int) []domain.Bar {
	out := make([]domain.Bar, n)
	for i := range out {
		out[i] = domain.Bar{Timestamp: start + int64(i)*86400, Open: 100, High: 105, Low: 99, Close: 103, Volume: 1000}
	}
	return out
}

type memSource struct {
	data map[string]*store.Dataset
	errs map[string]error
	keys []domain.SeriesKey
}

func (m *memSource) ListSeries() []domain.SeriesKey { return m.keys }

func (m *memSource) Read(key domain.SeriesKey) (*store.Dataset, bool, error) {
	if err := m.errs[key.String()]; err != nil {
		return nil, true, err
	}
	ds, ok := m.data[key.String()]
	return ds, ok, nil
}

type memSink struct {
	mu      *sync.Mutex
	rows    map[string][]domain.Bar
	sources map[string]string
	failAt  int
	n       int
	flushes int
}

func (s *memSink) WriteBar(key domain.SeriesKey, b domain.Bar, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	if s.failAt > 0 && s.n >= s.failAt {
		return errors.New("broken pipe")
	}
	s.rows[key.String()] = append(s.rows[key.String()], b)
	s.sources[key.String()] = source
	return nil
}

func (s *memSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *memSink) Close() error { return nil }

func newMemSink() *memSink {
	return &memSink{mu: &sync.Mutex{}, rows: map[string][]domain.Bar{}, sources: map[string]string{}}
}

func sourceWith(keys ...domain.SeriesKey) *memSource {
	src := &memSource{data: map[string]*store.Dataset{}, errs: map[string]error{}, keys: keys}
	for i, k := range keys {
		src.data[k.String()] = &store.Dataset{
			Meta: store.DatasetMeta{Key: k},
			Bars: bars(1704153600+int64(i)*86400, 10),
		}
	}
	return src
}

func TestRunMigratesAllDatasets(t *testing.T) {
	src := sourceWith(keyA, keyB, keyC)
	sink := newMemSink()

	p := New(src, func() (Sink, error) { return sink, nil }, 3, 0, "", nil)
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Migrated != 3 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.RowsWritten != 30 {
		t.Errorf("rows written = %d, want 30", sum.RowsWritten)
	}
	for _, k := range []domain.SeriesKey{keyA, keyB, keyC} {
		if len(sink.rows[k.String()]) != 10 {
			t.Errorf("%s: %d rows", k, len(sink.rows[k.String()]))
		}
		if sink.sources[k.String()] != "hdf5_migration" {
			t.Errorf("%s: source = %q", k, sink.sources[k.String()])
		}
	}
}

func TestRunDeduplicatesKeepLast(t *testing.T) {
	src := sourceWith(keyA)
	ds := src.data[keyA.String()]
	dup := ds.Bars[3]
	dup.Close = 999 // later occurrence wins
	ds.Bars = append(ds.Bars[:4], append([]domain.Bar{dup}, ds.Bars[4:]...)...)

	sink := newMemSink()
	sum, err := New(src, func() (Sink, error) { return sink, nil }, 1, 0, "", nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.RowsWritten != 10 || sum.RowsSkipped != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	got := sink.rows[keyA.String()]
	if got[3].Close != 999 {
		t.Errorf("dedupe kept the earlier duplicate: %+v", got[3])
	}
}

func TestRunFlushesEveryBatch(t *testing.T) {
	// 10 rows at a batch size of 4: flushes after rows 4 and 8, plus the
	// final dataset flush.
	src := sourceWith(keyA)
	sink := newMemSink()

	sum, err := New(src, func() (Sink, error) { return sink, nil }, 1, 4, "", nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.RowsWritten != 10 {
		t.Fatalf("rows written = %d, want 10", sum.RowsWritten)
	}
	if sink.flushes != 3 {
		t.Errorf("flushes = %d, want 3", sink.flushes)
	}
}

func TestRunIsolatesRowErrors(t *testing.T) {
	src := sourceWith(keyA)
	src.data[keyA.String()].Bars[2].Low = 500 // low above high

	sink := newMemSink()
	sum, err := New(src, func() (Sink, error) { return sink, nil }, 1, 0, "", nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 0 || sum.RowsWritten != 9 || sum.RowsSkipped != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	rep := sum.Reports[0]
	if len(rep.RowErrors) != 1 {
		t.Errorf("row errors = %v", rep.RowErrors)
	}
}

func TestRunIsolatesDatasetFailure(t *testing.T) {
	src := sourceWith(keyA, keyB)
	src.errs[keyA.String()] = &domain.IntegrityError{Dataset: keyA.DatasetName(), Reason: "checksum mismatch"}

	sink := newMemSink()
	sum, err := New(src, func() (Sink, error) { return sink, nil }, 1, 0, "", nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Migrated != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sink.rows[keyB.String()]) != 10 {
		t.Errorf("healthy dataset not migrated")
	}
}

func TestRunRerunIsIdempotentAtSource(t *testing.T) {
	// Re-running produces exactly the same rows: dedup happens at read
	// time, and the target's dedup upsert keys absorb the replay.
	src := sourceWith(keyA)

	first := newMemSink()
	if _, err := New(src, func() (Sink, error) { return first, nil }, 1, 0, "", nil).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second := newMemSink()
	if _, err := New(src, func() (Sink, error) { return second, nil }, 1, 0, "", nil).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	a, b := first.rows[keyA.String()], second.rows[keyA.String()]
	if len(a) != len(b) {
		t.Fatalf("runs differ: %d vs %d rows", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("row %d differs between runs", i)
		}
	}
}

type staticCounter map[string]int64

func (c staticCounter) RowCount(_ context.Context, key domain.SeriesKey) (int64, error) {
	n, ok := c[key.String()]
	if !ok {
		return 0, fmt.Errorf("no table for %s", key)
	}
	return n, nil
}

func TestVerifyFlagsShortfall(t *testing.T) {
	src := sourceWith(keyA, keyB)

	counter := staticCounter{
		keyA.String(): 10, // exact
		keyB.String(): 7,  // short
	}
	mismatches, err := Verify(context.Background(), src, counter)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(mismatches) != 1 || mismatches[0].Key != keyB {
		t.Fatalf("mismatches = %v", mismatches)
	}
	if mismatches[0].SourceRows != 10 || mismatches[0].TargetRows != 7 {
		t.Errorf("mismatch = %+v", mismatches[0])
	}
}

func TestVerifyAcceptsSurplus(t *testing.T) {
	src := sourceWith(keyA)
	counter := staticCounter{keyA.String(): 25} // live sync added rows

	mismatches, err := Verify(context.Background(), src, counter)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(mismatches) != 0 {
		t.Errorf("mismatches = %v", mismatches)
	}
}
