// Package plan computes the missing date ranges for a series: the set
// difference between a requested span and the coverage the local store
// already holds.
package plan

import (
	"fmt"

	"tickvault/internal/domain"
)

// CoverageSource is the slice of the store the planner depends on.
type CoverageSource interface {
	// Coverage returns the coverage metadata for key; the second return
	// is false when no dataset exists.
	Coverage(key domain.SeriesKey) (domain.CoverageList, bool, error)
}

// Planner computes fetch plans against one store.
type Planner struct {
	src CoverageSource
}

// New creates a Planner reading coverage from src.
func New(src CoverageSource) *Planner { return &Planner{src: src} }

// Plan returns the ordered, disjoint sub-ranges of [start, end] (Unix
// seconds, closed) not yet covered for key. An absent dataset yields the
// full request; full coverage yields nil. Inconsistent coverage metadata
// is surfaced as a fatal integrity error, never repaired here.
func (p *Planner) Plan(key domain.SeriesKey, start, end int64) (domain.CoverageList, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if end < start {
		return nil, fmt.Errorf("plan %s: end %d before start %d", key, end, start)
	}

	cov, ok, err := p.src.Coverage(key)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", key, err)
	}
	if !ok {
		return domain.CoverageList{{Start: start, End: end}}, nil
	}
	if err := cov.Validate(); err != nil {
		return nil, &domain.IntegrityError{Dataset: key.DatasetName(), Reason: err.Error()}
	}
	return cov.Subtract(start, end), nil
}
