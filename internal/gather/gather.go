// Package gather fetches historical bars from the upstream API: it
// splits missing ranges into API-sized chunks, paces requests through a
// shared rate limiter, retries transient failures with backoff, and
// hands validated batches to the store.
package gather

import (
	"context"

	"tickvault/internal/domain"
)

// Fetcher retrieves the bars for one series over one closed time range
// (Unix seconds). Failures are classified via domain.FetchError:
// transient ones are retried by the executor, permanent ones are not.
type Fetcher interface {
	Fetch(ctx context.Context, key domain.SeriesKey, start, end int64) ([]domain.Bar, error)
}

// Sink receives one validated chunk. The covered range records the span
// that was requested and answered, which may be wider than the bars it
// yielded (holidays and halts produce no bars but are still covered).
type Sink interface {
	Commit(key domain.SeriesKey, bars []domain.Bar, covered domain.CoverageRange) error
}
