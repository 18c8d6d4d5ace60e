// Package store implements the local container store: one compressed,
// checksummed file per market segment holding one dataset per series, with
// per-dataset coverage metadata and a global version stamp.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tickvault/internal/domain"
)

// WriteMode selects how new bars combine with an existing dataset.
type WriteMode int

const (
	// Append merges new bars into the dataset; the covered range must not
	// overlap existing coverage.
	Append WriteMode = iota
	// Overwrite replaces the dataset and its coverage entirely.
	Overwrite
)

// Dataset is the decoded form returned by Read.
type Dataset struct {
	Meta DatasetMeta
	Bars []domain.Bar
}

// Store owns one container file. Writers are serialized; readers proceed
// concurrently except during the atomic publish of a new container
// version.
type Store struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	c       *container
	blocked map[string]struct{} // datasets halted by an integrity error
}

// Open loads (or initializes) the container file for a segment. An older
// version stamp triggers the migration path with a pre-migration backup;
// an unreadable file is quarantined aside and an empty store initialized,
// so a later sync re-fetches from upstream.
func Open(path string, segment domain.Segment, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("store", string(segment))

	s := &Store{path: path, log: log, blocked: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.c = newContainer(segment)
		if err := s.publish(s.c); err != nil {
			return nil, fmt.Errorf("initializing store %s: %w", path, err)
		}
		log.Info("initialized empty store", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}

	c, err := decodeContainer(data)
	if errors.Is(err, errUnsupportedVersion) {
		// Written by newer code. The file is intact, so never quarantine
		// it; this build simply may not open it.
		return nil, fmt.Errorf("store %s: %w", path, err)
	}
	if err != nil {
		// Unreadable container: move it aside and start empty rather than
		// crash. The gap planner treats the reinitialized store as fully
		// empty and the next sync re-fetches.
		qpath := quarantinePath(path)
		if rerr := os.Rename(path, qpath); rerr != nil {
			return nil, fmt.Errorf("quarantining corrupt store %s: %v (decode error: %w)", path, rerr, err)
		}
		log.Warn("quarantined corrupt store file", "path", path, "quarantine", qpath, "error", err)
		s.c = newContainer(segment)
		if perr := s.publish(s.c); perr != nil {
			return nil, fmt.Errorf("reinitializing store %s: %w", path, perr)
		}
		return s, nil
	}

	if c.segment != segment {
		return nil, fmt.Errorf("store %s holds segment %s, want %s", path, c.segment, segment)
	}

	if c.version < CurrentStoreVersion {
		if err := migrateContainer(path, c, log); err != nil {
			return nil, err
		}
		if err := s.publishContainer(c); err != nil {
			return nil, fmt.Errorf("publishing migrated store %s: %w", path, err)
		}
	}

	s.c = c
	return s, nil
}

func newContainer(segment domain.Segment) *container {
	now := time.Now().Unix()
	return &container{
		version:   CurrentStoreVersion,
		segment:   segment,
		createdAt: now,
		updatedAt: now,
		datasets:  make(map[string]*dataset),
	}
}

func quarantinePath(path string) string {
	return fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
}

// Path returns the container file path.
func (s *Store) Path() string { return s.path }

// Segment returns the segment this store holds.
func (s *Store) Segment() domain.Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.segment
}

// Read returns the dataset for key, decoding and checksum-verifying its
// record blocks. The second return is false when the dataset is absent. A
// checksum mismatch returns an IntegrityError and blocks the dataset from
// further writes.
func (s *Store) Read(key domain.SeriesKey) (*Dataset, bool, error) {
	s.mu.RLock()
	ds, ok := s.c.datasets[key.DatasetName()]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	bars, err := ds.decode()
	if err != nil {
		if domain.IsIntegrityError(err) {
			s.block(key)
			s.log.Error("dataset failed integrity check", "series", key.String(), "error", err)
		}
		return nil, true, err
	}
	meta := ds.meta
	return &Dataset{Meta: meta, Bars: bars}, true, nil
}

// Coverage returns the coverage metadata for key without decoding record
// blocks. The second return is false when the dataset is absent.
func (s *Store) Coverage(key domain.SeriesKey) (domain.CoverageList, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, blocked := s.blocked[key.DatasetName()]; blocked {
		// A quarantined dataset plans as absent so upstream can refill it.
		return nil, false, nil
	}
	ds, ok := s.c.datasets[key.DatasetName()]
	if !ok {
		return nil, false, nil
	}
	if err := ds.meta.Coverage.Validate(); err != nil {
		return nil, true, &domain.IntegrityError{Dataset: key.DatasetName(), Reason: err.Error()}
	}
	cov := make(domain.CoverageList, len(ds.meta.Coverage))
	copy(cov, ds.meta.Coverage)
	return cov, true, nil
}

// Write merges bars into the dataset for key. covered is the date range
// the bars answer for; it may be wider than the bars' own span (holidays
// produce no bars but the range is still settled). The new container
// version is built, verified, written to a temp file, and atomically
// renamed into place before readers observe it.
func (s *Store) Write(key domain.SeriesKey, bars []domain.Bar, covered domain.CoverageRange, mode WriteMode) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if !domain.BarsAscending(bars) {
		return fmt.Errorf("write %s: bars not strictly ascending", key)
	}
	if covered.Empty() {
		return fmt.Errorf("write %s: empty covered range", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := key.DatasetName()
	if _, blocked := s.blocked[name]; blocked {
		return &domain.IntegrityError{Dataset: name, Reason: "dataset blocked pending operator remediation"}
	}

	unit := key.Interval.UnitSeconds()
	existing := s.c.datasets[name]

	var merged []domain.Bar
	var cov domain.CoverageList
	switch {
	case mode == Overwrite || existing == nil:
		merged = bars
		cov = domain.CoverageList{}.Merge(covered, unit)
	default:
		if err := existing.meta.Coverage.Validate(); err != nil {
			s.blocked[name] = struct{}{}
			return &domain.IntegrityError{Dataset: name, Reason: err.Error()}
		}
		if overlap := existing.meta.Coverage.Subtract(covered.Start, covered.End); rangeLen(overlap) != covered.End-covered.Start+1 {
			return fmt.Errorf("write %s: range %s overlaps existing coverage", key, covered)
		}
		old, err := existing.decode()
		if err != nil {
			if domain.IsIntegrityError(err) {
				s.blocked[name] = struct{}{}
			}
			return err
		}
		merged = mergeBars(old, bars)
		cov = existing.meta.Coverage.Merge(covered, unit)
	}

	source := DefaultSourceTag
	if existing != nil && existing.meta.Source != "" {
		source = existing.meta.Source
	}
	ds, err := buildDataset(key, merged, cov, source, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	// Build the next container version, publish to disk, then swap the
	// in-memory pointer. Readers block only for the swap.
	next := s.c.clone()
	next.datasets[name] = ds
	next.updatedAt = time.Now().Unix()
	if err := s.publish(next); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	s.c = next

	s.log.Debug("dataset written", "series", key.String(), "rows", len(merged), "coverage", len(cov))
	return nil
}

// Delete removes the dataset for key, if present.
func (s *Store) Delete(key domain.SeriesKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := key.DatasetName()
	if _, ok := s.c.datasets[name]; !ok {
		return nil
	}
	next := s.c.clone()
	delete(next.datasets, name)
	next.updatedAt = time.Now().Unix()
	if err := s.publish(next); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	s.c = next
	delete(s.blocked, name)
	return nil
}

// ListSeries returns the keys of all stored datasets, sorted by name.
func (s *Store) ListSeries() []domain.SeriesKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]domain.SeriesKey, 0, len(s.c.datasets))
	for _, name := range sortedNames(s.c.datasets) {
		keys = append(keys, s.c.datasets[name].meta.Key)
	}
	return keys
}

// Meta returns the metadata for key without decoding records.
func (s *Store) Meta(key domain.SeriesKey) (DatasetMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.c.datasets[key.DatasetName()]
	if !ok {
		return DatasetMeta{}, false
	}
	return ds.meta, true
}

// StoreStats summarizes a container file.
type StoreStats struct {
	Segment      domain.Segment
	StoreVersion uint32
	Datasets     int
	TotalRows    int
	FileBytes    int64
	CreatedAt    int64
	UpdatedAt    int64
}

// Stats reports container-level statistics.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := StoreStats{
		Segment:      s.c.segment,
		StoreVersion: s.c.version,
		Datasets:     len(s.c.datasets),
		CreatedAt:    s.c.createdAt,
		UpdatedAt:    s.c.updatedAt,
	}
	for _, ds := range s.c.datasets {
		st.TotalRows += ds.meta.RowCount
	}
	if fi, err := os.Stat(s.path); err == nil {
		st.FileBytes = fi.Size()
	}
	return st
}

// block marks a dataset as halted by an integrity failure.
func (s *Store) block(key domain.SeriesKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[key.DatasetName()] = struct{}{}
}

// publish writes the container to a temp file and renames it over the
// store path. Rename is atomic on POSIX filesystems, so a reader opening
// the path never observes a half-written container.
func (s *Store) publish(c *container) error {
	data := encodeContainer(c)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tvs-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// publishContainer is publish with the store's own lock held by the
// caller during Open.
func (s *Store) publishContainer(c *container) error { return s.publish(c) }

// clone makes a shallow copy of the container with a fresh dataset map.
// Dataset values are immutable once built, so sharing them is safe.
func (c *container) clone() *container {
	out := &container{
		version:   c.version,
		segment:   c.segment,
		createdAt: c.createdAt,
		updatedAt: c.updatedAt,
		datasets:  make(map[string]*dataset, len(c.datasets)),
	}
	for k, v := range c.datasets {
		out.datasets[k] = v
	}
	return out
}

// mergeBars combines two ascending runs into one ascending slice. Equal
// timestamps prefer the new bar, matching upstream corrections.
func mergeBars(old, new []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, 0, len(old)+len(new))
	i, j := 0, 0
	for i < len(old) && j < len(new) {
		switch {
		case old[i].Timestamp < new[j].Timestamp:
			out = append(out, old[i])
			i++
		case old[i].Timestamp > new[j].Timestamp:
			out = append(out, new[j])
			j++
		default:
			out = append(out, new[j])
			i++
			j++
		}
	}
	out = append(out, old[i:]...)
	out = append(out, new[j:]...)
	return out
}

// rangeLen sums the lengths of closed ranges in seconds.
func rangeLen(list domain.CoverageList) int64 {
	var n int64
	for _, r := range list {
		n += r.End - r.Start + 1
	}
	return n
}
