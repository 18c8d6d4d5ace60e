package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pierrec/lz4/v4"

	"tickvault/internal/domain"
)

// Container file layout (little-endian):
//
//	magic "TVST" | uint32 storeVersion | header frame | dataset frames...
//
// Every frame is uint32 payloadLen | payload | uint64 xxhash64(payload), so
// truncation and bit rot are detected before any payload is interpreted.
// Dataset record blocks are lz4-compressed; the content checksum is an
// xxhash64 over the full uncompressed record bytes and is verified on
// every read.

var magic = [4]byte{'T', 'V', 'S', 'T'}

// errUnsupportedVersion marks a container stamped with a version this
// build does not declare compatibility with. Unlike corruption, the file
// is left untouched.
var errUnsupportedVersion = errors.New("unsupported store version")

const (
	// CurrentStoreVersion stamps new container files. Older stamps are
	// migrated on open; newer stamps refuse to open.
	CurrentStoreVersion uint32 = 2

	// datasetSchemaVersion tags the record schema inside each dataset.
	datasetSchemaVersion uint16 = 1

	// DefaultSourceTag records provenance for datasets written by this
	// process.
	DefaultSourceTag = "kite_connect_api"
)

// blockRows returns the logical block size in rows for an interval.
// Coarser intervals use larger blocks: better compression at the cost of
// random-access granularity, which daily data never needs.
func blockRows(iv domain.Interval) int {
	switch iv {
	case domain.IntervalMinute:
		return 2048
	case domain.Interval5Minute, domain.Interval15Minute:
		return 4096
	case domain.Interval60Minute:
		return 8192
	default:
		return 16384
	}
}

// DatasetMeta is the per-dataset metadata carried in the container.
type DatasetMeta struct {
	Key           domain.SeriesKey
	Layout        domain.Layout
	SchemaVersion uint16
	Source        string
	StartTS       int64
	EndTS         int64
	RowCount      int
	UpdatedAt     int64
	Coverage      domain.CoverageList
	Checksum      uint64
}

// dataset is the in-memory form of one stored dataset. Record blocks stay
// compressed until a read decodes them.
type dataset struct {
	meta      DatasetMeta
	blockSize int
	blocks    [][]byte // lz4-compressed record blocks
	rawSizes  []int    // uncompressed byte size per block
}

// container is the decoded form of one store file.
type container struct {
	version   uint32
	segment   domain.Segment
	createdAt int64
	updatedAt int64
	datasets  map[string]*dataset // keyed by SeriesKey.DatasetName()
}

// ---------------------------------------------------------------------------
// Record encoding
// ---------------------------------------------------------------------------

func encodeRecords(bars []domain.Bar, layout domain.Layout) []byte {
	buf := make([]byte, 0, len(bars)*layout.RecordSize())
	var scratch [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		buf = append(buf, scratch[:]...)
	}
	for _, b := range bars {
		put(uint64(b.Timestamp))
		put(math.Float64bits(b.Open))
		put(math.Float64bits(b.High))
		put(math.Float64bits(b.Low))
		put(math.Float64bits(b.Close))
		put(uint64(b.Volume))
		if layout.HasOpenInterest() {
			put(uint64(b.OpenInterest))
		}
	}
	return buf
}

func decodeRecords(raw []byte, layout domain.Layout) ([]domain.Bar, error) {
	size := layout.RecordSize()
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("record bytes not a multiple of record size %d", size)
	}
	bars := make([]domain.Bar, 0, len(raw)/size)
	for off := 0; off < len(raw); off += size {
		get := func(i int) uint64 { return binary.LittleEndian.Uint64(raw[off+i*8:]) }
		b := domain.Bar{
			Timestamp: int64(get(0)),
			Open:      math.Float64frombits(get(1)),
			High:      math.Float64frombits(get(2)),
			Low:       math.Float64frombits(get(3)),
			Close:     math.Float64frombits(get(4)),
			Volume:    int64(get(5)),
		}
		if layout.HasOpenInterest() {
			b.OpenInterest = int64(get(6))
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// buildDataset encodes bars into compressed blocks and fills in metadata.
// Coverage is supplied by the caller; bars must already be sorted.
func buildDataset(key domain.SeriesKey, bars []domain.Bar, cov domain.CoverageList, source string, now int64) (*dataset, error) {
	layout := key.Layout()
	raw := encodeRecords(bars, layout)
	rows := blockRows(key.Interval)
	recSize := layout.RecordSize()
	blockBytes := rows * recSize

	ds := &dataset{
		meta: DatasetMeta{
			Key:           key,
			Layout:        layout,
			SchemaVersion: datasetSchemaVersion,
			Source:        source,
			RowCount:      len(bars),
			UpdatedAt:     now,
			Coverage:      cov,
			Checksum:      xxhash.Sum64(raw),
		},
		blockSize: rows,
	}
	if len(bars) > 0 {
		ds.meta.StartTS = bars[0].Timestamp
		ds.meta.EndTS = bars[len(bars)-1].Timestamp
	}

	for off := 0; off < len(raw); off += blockBytes {
		end := off + blockBytes
		if end > len(raw) {
			end = len(raw)
		}
		chunk := raw[off:end]
		comp := make([]byte, lz4.CompressBlockBound(len(chunk)))
		n, err := lz4.CompressBlock(chunk, comp, nil)
		if err != nil {
			return nil, fmt.Errorf("compressing block: %w", err)
		}
		if n == 0 {
			// Incompressible block, store it raw with a zero marker handled
			// by rawSizes == compressed size.
			comp = append(comp[:0], chunk...)
			n = len(chunk)
		}
		ds.blocks = append(ds.blocks, comp[:n])
		ds.rawSizes = append(ds.rawSizes, len(chunk))
	}
	return ds, nil
}

// decode decompresses all record blocks, verifies the content checksum,
// and returns the bars. A checksum mismatch is a fatal integrity error.
func (ds *dataset) decode() ([]domain.Bar, error) {
	raw := make([]byte, 0, ds.meta.RowCount*ds.meta.Layout.RecordSize())
	for i, comp := range ds.blocks {
		rawSize := ds.rawSizes[i]
		if len(comp) == rawSize {
			// Stored uncompressed.
			raw = append(raw, comp...)
			continue
		}
		dst := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(comp, dst)
		if err != nil {
			return nil, &domain.IntegrityError{Dataset: ds.meta.Key.DatasetName(), Reason: fmt.Sprintf("block %d: %v", i, err)}
		}
		raw = append(raw, dst[:n]...)
	}
	if sum := xxhash.Sum64(raw); sum != ds.meta.Checksum {
		return nil, &domain.IntegrityError{
			Dataset: ds.meta.Key.DatasetName(),
			Reason:  fmt.Sprintf("content checksum mismatch: stored %016x, computed %016x", ds.meta.Checksum, sum),
		}
	}
	return decodeRecords(raw, ds.meta.Layout)
}

// ---------------------------------------------------------------------------
// Frame and container encoding
// ---------------------------------------------------------------------------

type writer struct {
	buf bytes.Buffer
}

func (w *writer) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *writer) u16(v uint16) { var b [2]byte; binary.LittleEndian.PutUint16(b[:], v); w.buf.Write(b[:]) }
func (w *writer) u32(v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); w.buf.Write(b[:]) }
func (w *writer) u64(v uint64) { var b [8]byte; binary.LittleEndian.PutUint64(b[:], v); w.buf.Write(b[:]) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }
func (w *writer) str(s string) { w.u16(uint16(len(s))); w.buf.WriteString(s) }
func (w *writer) raw(b []byte) { w.u32(uint32(len(b))); w.buf.Write(b) }

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) need(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.b) {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() uint8 {
	if b := r.need(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.need(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.need(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.need(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) str() string {
	n := int(r.u16())
	if b := r.need(n); b != nil {
		return string(b)
	}
	return ""
}

func (r *reader) raw() []byte {
	n := int(r.u32())
	if b := r.need(n); b != nil {
		out := make([]byte, n)
		copy(out, b)
		return out
	}
	return nil
}

// writeFrame emits payload as a length-prefixed, hash-suffixed frame.
func writeFrame(out *bytes.Buffer, payload []byte) {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[:4], uint32(len(payload)))
	out.Write(b[:4])
	out.Write(payload)
	binary.LittleEndian.PutUint64(b[:], xxhash.Sum64(payload))
	out.Write(b[:])
}

// readFrame consumes one frame from b, verifying its hash.
func readFrame(b []byte) (payload, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	n := int(binary.LittleEndian.Uint32(b))
	if len(b) < 4+n+8 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	payload = b[4 : 4+n]
	stored := binary.LittleEndian.Uint64(b[4+n:])
	if xxhash.Sum64(payload) != stored {
		return nil, nil, fmt.Errorf("frame hash mismatch")
	}
	return payload, b[4+n+8:], nil
}

// encodeContainer serializes the full container to bytes.
func encodeContainer(c *container) []byte {
	var hdr writer
	hdr.str(string(c.segment))
	hdr.i64(c.createdAt)
	hdr.i64(c.updatedAt)
	hdr.u32(uint32(len(c.datasets)))

	var out bytes.Buffer
	out.Write(magic[:])
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], c.version)
	out.Write(v[:])
	writeFrame(&out, hdr.buf.Bytes())

	for _, name := range sortedNames(c.datasets) {
		writeFrame(&out, encodeDataset(c.datasets[name]))
	}
	return out.Bytes()
}

func encodeDataset(ds *dataset) []byte {
	var w writer
	m := ds.meta
	w.str(string(m.Key.Exchange))
	w.str(m.Key.Symbol)
	w.str(string(m.Key.Interval))
	w.u8(uint8(m.Layout))
	w.u16(m.SchemaVersion)
	w.str(m.Source)
	w.i64(m.StartTS)
	w.i64(m.EndTS)
	w.u32(uint32(m.RowCount))
	w.i64(m.UpdatedAt)
	w.u32(uint32(len(m.Coverage)))
	for _, r := range m.Coverage {
		w.i64(r.Start)
		w.i64(r.End)
	}
	w.u64(m.Checksum)
	w.u32(uint32(ds.blockSize))
	w.u32(uint32(len(ds.blocks)))
	for i, blk := range ds.blocks {
		w.u32(uint32(ds.rawSizes[i]))
		w.raw(blk)
	}
	return w.buf.Bytes()
}

// decodeContainer parses a container file body. version-aware: v1 dataset
// payloads carry no source tag.
func decodeContainer(b []byte) (*container, error) {
	if len(b) < 8 || !bytes.Equal(b[:4], magic[:]) {
		return nil, fmt.Errorf("bad magic")
	}
	version := binary.LittleEndian.Uint32(b[4:8])
	if version == 0 || version > CurrentStoreVersion {
		return nil, fmt.Errorf("%w: stamped %d, current %d", errUnsupportedVersion, version, CurrentStoreVersion)
	}

	payload, rest, err := readFrame(b[8:])
	if err != nil {
		return nil, fmt.Errorf("header frame: %w", err)
	}
	hr := &reader{b: payload}
	c := &container{
		version:   version,
		segment:   domain.Segment(hr.str()),
		createdAt: hr.i64(),
		updatedAt: hr.i64(),
		datasets:  make(map[string]*dataset),
	}
	count := int(hr.u32())
	if hr.err != nil {
		return nil, fmt.Errorf("header frame: %w", hr.err)
	}

	for i := 0; i < count; i++ {
		payload, rest, err = readFrame(rest)
		if err != nil {
			return nil, fmt.Errorf("dataset frame %d: %w", i, err)
		}
		ds, err := decodeDataset(payload, version, c.segment)
		if err != nil {
			return nil, fmt.Errorf("dataset frame %d: %w", i, err)
		}
		c.datasets[ds.meta.Key.DatasetName()] = ds
	}
	return c, nil
}

func decodeDataset(payload []byte, version uint32, seg domain.Segment) (*dataset, error) {
	r := &reader{b: payload}
	var m DatasetMeta
	m.Key.Exchange = domain.Exchange(r.str())
	m.Key.Symbol = r.str()
	m.Key.Interval = domain.Interval(r.str())
	m.Key.Segment = seg
	m.Layout = domain.Layout(r.u8())
	m.SchemaVersion = r.u16()
	if version >= 2 {
		m.Source = r.str()
	}
	m.StartTS = r.i64()
	m.EndTS = r.i64()
	m.RowCount = int(r.u32())
	m.UpdatedAt = r.i64()
	ncov := int(r.u32())
	for i := 0; i < ncov; i++ {
		m.Coverage = append(m.Coverage, domain.CoverageRange{Start: r.i64(), End: r.i64()})
	}
	m.Checksum = r.u64()

	ds := &dataset{meta: m, blockSize: int(r.u32())}
	nblocks := int(r.u32())
	for i := 0; i < nblocks; i++ {
		ds.rawSizes = append(ds.rawSizes, int(r.u32()))
		ds.blocks = append(ds.blocks, r.raw())
	}
	if r.err != nil {
		return nil, r.err
	}
	return ds, nil
}

func sortedNames(m map[string]*dataset) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	// Stable file layout keeps diffs and checksums reproducible.
	sort.Strings(names)
	return names
}
