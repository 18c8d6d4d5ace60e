package gather

import "tickvault/internal/domain"

// Chunks splits a missing range into consecutive sub-ranges no longer
// than the upstream's per-request span limit for the interval. The
// returned chunks are ascending, disjoint, and abutting; their union is
// exactly r.
func Chunks(r domain.CoverageRange, iv domain.Interval) []domain.CoverageRange {
	span := int64(iv.MaxSpanDays()) * 86400
	var out []domain.CoverageRange
	for start := r.Start; start <= r.End; start += span {
		end := start + span - 1
		if end > r.End {
			end = r.End
		}
		out = append(out, domain.CoverageRange{Start: start, End: end})
	}
	return out
}

// ChunkPlan expands every range of a fetch plan into chunks, preserving
// ascending order across ranges.
func ChunkPlan(plan domain.CoverageList, iv domain.Interval) []domain.CoverageRange {
	var out []domain.CoverageRange
	for _, r := range plan {
		out = append(out, Chunks(r, iv)...)
	}
	return out
}
