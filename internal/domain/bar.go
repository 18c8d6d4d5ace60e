package domain

import "time"

// Bar is one OHLCV record. Timestamp is the exchange-local trading instant
// stored as Unix seconds. OpenInterest is meaningful only for datasets
// using LayoutDerivative; under LayoutEquity it is neither stored nor read.
type Bar struct {
	Timestamp    int64
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	OpenInterest int64
}

// Time returns the bar timestamp as a time.Time in UTC.
func (b Bar) Time() time.Time { return time.Unix(b.Timestamp, 0).UTC() }

// OHLCConsistent reports whether low <= min(open, close) and
// max(open, close) <= high.
func (b Bar) OHLCConsistent() bool {
	lo, hi := b.Open, b.Open
	if b.Close < lo {
		lo = b.Close
	}
	if b.Close > hi {
		hi = b.Close
	}
	return b.Low <= lo && hi <= b.High
}

// BarsAscending reports whether timestamps are strictly increasing with no
// duplicates.
func BarsAscending(bars []Bar) bool {
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp <= bars[i-1].Timestamp {
			return false
		}
	}
	return true
}
