// Package domain defines the core market-data types shared by every
// component: series identity, bar records, coverage metadata, and the
// error taxonomy.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Segment is a logical market segment. Each segment is stored in its own
// container file and selects the record layout for its datasets.
type Segment string

const (
	SegmentEquity      Segment = "EQUITY"
	SegmentDerivatives Segment = "DERIVATIVES"
	SegmentCommodity   Segment = "COMMODITY"
	SegmentCurrency    Segment = "CURRENCY"
)

// Layout identifies the fixed-width record layout used by a dataset.
// Derivative-like segments carry an open-interest column; equity-like
// segments do not.
type Layout uint8

const (
	LayoutEquity     Layout = 1 // timestamp, OHLC, volume
	LayoutDerivative Layout = 2 // timestamp, OHLC, volume, open interest
)

// RecordSize returns the on-disk size in bytes of one record.
func (l Layout) RecordSize() int {
	switch l {
	case LayoutDerivative:
		return 64
	default:
		return 56
	}
}

// HasOpenInterest reports whether records under this layout carry an
// open-interest column.
func (l Layout) HasOpenInterest() bool { return l == LayoutDerivative }

// LayoutForSegment returns the record layout used by a segment.
func LayoutForSegment(seg Segment) Layout {
	if seg == SegmentEquity {
		return LayoutEquity
	}
	return LayoutDerivative
}

// Exchange is an upstream exchange identifier.
type Exchange string

const (
	ExchangeNSE Exchange = "NSE"
	ExchangeBSE Exchange = "BSE"
	ExchangeNFO Exchange = "NFO"
	ExchangeBFO Exchange = "BFO"
	ExchangeMCX Exchange = "MCX"
	ExchangeCDS Exchange = "CDS"
)

// SegmentForExchange maps an exchange to the segment its data is stored in.
func SegmentForExchange(ex Exchange) Segment {
	switch ex {
	case ExchangeNSE, ExchangeBSE:
		return SegmentEquity
	case ExchangeNFO, ExchangeBFO:
		return SegmentDerivatives
	case ExchangeMCX:
		return SegmentCommodity
	case ExchangeCDS:
		return SegmentCurrency
	default:
		return SegmentEquity
	}
}

// Interval is the sampling interval of a series.
type Interval string

const (
	IntervalMinute   Interval = "minute"
	Interval5Minute  Interval = "5minute"
	Interval15Minute Interval = "15minute"
	Interval60Minute Interval = "60minute"
	IntervalDay      Interval = "day"
)

// Unit returns one sampling unit as a duration. Two timestamps within one
// unit of each other are considered contiguous for coverage purposes.
func (iv Interval) Unit() time.Duration {
	switch iv {
	case IntervalMinute:
		return time.Minute
	case Interval5Minute:
		return 5 * time.Minute
	case Interval15Minute:
		return 15 * time.Minute
	case Interval60Minute:
		return time.Hour
	case IntervalDay:
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// UnitSeconds returns one sampling unit in seconds.
func (iv Interval) UnitSeconds() int64 { return int64(iv.Unit() / time.Second) }

// MaxSpanDays returns the upstream per-request date span limit for this
// interval. Finer intervals have stricter limits.
func (iv Interval) MaxSpanDays() int {
	switch iv {
	case IntervalMinute:
		return 60
	case Interval5Minute:
		return 100
	case Interval15Minute:
		return 200
	case Interval60Minute:
		return 400
	case IntervalDay:
		return 2000
	default:
		return 60
	}
}

// Valid reports whether iv is a known interval.
func (iv Interval) Valid() bool {
	switch iv {
	case IntervalMinute, Interval5Minute, Interval15Minute, Interval60Minute, IntervalDay:
		return true
	}
	return false
}

// SeriesKey is the immutable identity of one logical time series. At most
// one dataset exists per SeriesKey per store.
type SeriesKey struct {
	Segment  Segment
	Exchange Exchange
	Symbol   string
	Interval Interval
}

// NewSeriesKey builds a key for an exchange-listed symbol, deriving the
// segment from the exchange.
func NewSeriesKey(ex Exchange, symbol string, iv Interval) SeriesKey {
	return SeriesKey{
		Segment:  SegmentForExchange(ex),
		Exchange: ex,
		Symbol:   SanitizeSymbol(symbol),
		Interval: iv,
	}
}

// String returns the canonical form, e.g. "NSE:RELIANCE:day".
func (k SeriesKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Exchange, k.Symbol, k.Interval)
}

// DatasetName returns the name of the dataset inside a container file,
// e.g. "NSE/RELIANCE/day".
func (k SeriesKey) DatasetName() string {
	return fmt.Sprintf("%s/%s/%s", k.Exchange, k.Symbol, k.Interval)
}

// Layout returns the record layout for this series.
func (k SeriesKey) Layout() Layout { return LayoutForSegment(k.Segment) }

// Validate checks that the key identifies a storable series.
func (k SeriesKey) Validate() error {
	if k.Symbol == "" {
		return fmt.Errorf("series key: empty symbol")
	}
	if !k.Interval.Valid() {
		return fmt.Errorf("series key %s: unknown interval %q", k.Symbol, k.Interval)
	}
	if k.Segment != SegmentForExchange(k.Exchange) {
		return fmt.Errorf("series key %s: exchange %s does not belong to segment %s", k.Symbol, k.Exchange, k.Segment)
	}
	return nil
}

// SanitizeSymbol normalizes a trading symbol for use in dataset names.
func SanitizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	r := strings.NewReplacer("&", "_", "-", "_", " ", "_")
	return r.Replace(s)
}

// ParseSeriesKey parses the canonical "EXCHANGE:SYMBOL:interval" form.
func ParseSeriesKey(s string) (SeriesKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return SeriesKey{}, fmt.Errorf("series key %q: want EXCHANGE:SYMBOL:interval", s)
	}
	key := NewSeriesKey(Exchange(strings.ToUpper(parts[0])), parts[1], Interval(parts[2]))
	if err := key.Validate(); err != nil {
		return SeriesKey{}, err
	}
	return key, nil
}
