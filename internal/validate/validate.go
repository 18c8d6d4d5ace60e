// Package validate applies segment-aware record and batch checks to
// fetched bars before they reach storage.
package validate

import (
	"fmt"
	"time"

	"tickvault/internal/domain"
)

// Verdict is the outcome of validating one batch. Fail blocks storage;
// Warn stores the batch but its messages are retained for audit.
type Verdict int

const (
	Pass Verdict = iota
	Warn
	Fail
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Warn:
		return "warn"
	default:
		return "fail"
	}
}

// Date bounds for sane timestamps; anything outside is corrupt input.
var (
	minDate = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxDate = time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC).Unix()
)

// Rules holds the segment-specific bounds applied to each record.
type Rules struct {
	Segment         domain.Segment
	MinPrice        float64 // 0 permits worthless expiring instruments
	MaxPrice        float64
	MaxVolume       int64
	MaxOpenInterest int64
	// ExpectOpenInterest warns (not fails) when a derivative batch
	// carries no open interest at all; the upstream omits it for some
	// contracts.
	ExpectOpenInterest bool
}

// RulesForSegment returns the standard rules for a segment.
func RulesForSegment(seg domain.Segment) Rules {
	switch seg {
	case domain.SegmentEquity:
		return Rules{
			Segment:   seg,
			MinPrice:  0.01, // a zero equity price is corrupt data
			MaxPrice:  1_000_000,
			MaxVolume: 10_000_000_000,
		}
	default:
		return Rules{
			Segment:            seg,
			MinPrice:           0, // options expire worthless
			MaxPrice:           100_000,
			MaxVolume:          10_000_000_000,
			MaxOpenInterest:    100_000_000,
			ExpectOpenInterest: true,
		}
	}
}

// Stats summarizes one validated batch.
type Stats struct {
	Rows     int
	ErrRows  int
	WarnRows int
	FirstTS  int64
	LastTS   int64
}

// Result carries the verdict, per-batch statistics, and diagnostics. For
// a Warn verdict the Warnings list travels with the batch provenance.
type Result struct {
	Verdict  Verdict
	Stats    Stats
	Errors   []string
	Warnings []string
}

// warnFailRatio escalates a Warn verdict to Fail when more than this
// fraction of rows carry warnings: a batch that is mostly suspect is not
// worth storing.
const warnFailRatio = 0.5

// Batch validates bars under the given rules. Structural problems
// (ordering, duplicates), OHLC inconsistency, and out-of-bounds values
// are errors; missing open interest on derivative segments is a warning.
func Batch(bars []domain.Bar, rules Rules) Result {
	res := Result{}
	res.Stats.Rows = len(bars)

	if len(bars) == 0 {
		res.Verdict = Fail
		res.Errors = append(res.Errors, "empty batch")
		return res
	}
	res.Stats.FirstTS = bars[0].Timestamp
	res.Stats.LastTS = bars[len(bars)-1].Timestamp

	oiSeen := false
	for i, b := range bars {
		errs, warns := checkRecord(i, b, rules)
		if len(errs) > 0 {
			res.Stats.ErrRows++
			res.Errors = append(res.Errors, errs...)
		}
		if len(warns) > 0 {
			res.Stats.WarnRows++
			res.Warnings = append(res.Warnings, warns...)
		}
		if i > 0 && b.Timestamp <= bars[i-1].Timestamp {
			res.Stats.ErrRows++
			if b.Timestamp == bars[i-1].Timestamp {
				res.Errors = append(res.Errors, fmt.Sprintf("row %d: duplicate timestamp %d", i, b.Timestamp))
			} else {
				res.Errors = append(res.Errors, fmt.Sprintf("row %d: timestamps not ascending", i))
			}
		}
		if b.OpenInterest > 0 {
			oiSeen = true
		}
	}

	if rules.ExpectOpenInterest && !oiSeen {
		res.Warnings = append(res.Warnings, "open interest absent for entire batch")
	}

	switch {
	case len(res.Errors) > 0:
		res.Verdict = Fail
	case float64(res.Stats.WarnRows) > warnFailRatio*float64(res.Stats.Rows):
		res.Verdict = Fail
		res.Errors = append(res.Errors,
			fmt.Sprintf("%d of %d rows carry warnings, over the %.0f%% batch threshold",
				res.Stats.WarnRows, res.Stats.Rows, warnFailRatio*100))
	case len(res.Warnings) > 0:
		res.Verdict = Warn
	default:
		res.Verdict = Pass
	}
	return res
}

func checkRecord(i int, b domain.Bar, rules Rules) (errs, warns []string) {
	if !b.OHLCConsistent() {
		errs = append(errs, fmt.Sprintf("row %d: OHLC inconsistent (o=%g h=%g l=%g c=%g)", i, b.Open, b.High, b.Low, b.Close))
	}
	for _, p := range [...]struct {
		name string
		v    float64
	}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}} {
		if p.v < rules.MinPrice {
			errs = append(errs, fmt.Sprintf("row %d: %s price %g below minimum %g", i, p.name, p.v, rules.MinPrice))
		}
		if p.v > rules.MaxPrice {
			errs = append(errs, fmt.Sprintf("row %d: %s price %g above maximum %g", i, p.name, p.v, rules.MaxPrice))
		}
	}
	if b.Volume < 0 {
		errs = append(errs, fmt.Sprintf("row %d: negative volume %d", i, b.Volume))
	}
	if rules.MaxVolume > 0 && b.Volume > rules.MaxVolume {
		errs = append(errs, fmt.Sprintf("row %d: volume %d above maximum %d", i, b.Volume, rules.MaxVolume))
	}
	if b.Timestamp < minDate || b.Timestamp > maxDate {
		errs = append(errs, fmt.Sprintf("row %d: timestamp %d outside sane date bounds", i, b.Timestamp))
	}

	if rules.ExpectOpenInterest {
		if b.OpenInterest < 0 {
			errs = append(errs, fmt.Sprintf("row %d: negative open interest %d", i, b.OpenInterest))
		}
		if rules.MaxOpenInterest > 0 && b.OpenInterest > rules.MaxOpenInterest {
			errs = append(errs, fmt.Sprintf("row %d: open interest %d above maximum %d", i, b.OpenInterest, rules.MaxOpenInterest))
		}
		if b.Volume > 0 && b.OpenInterest == 0 {
			warns = append(warns, fmt.Sprintf("row %d: traded volume with zero open interest", i))
		}
	} else if b.OpenInterest != 0 {
		warns = append(warns, fmt.Sprintf("row %d: open interest present on a segment that does not store it", i))
	}
	return errs, warns
}
