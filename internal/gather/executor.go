package gather

import (
	"context"
	"fmt"
	"log/slog"

	"tickvault/internal/domain"
	"tickvault/internal/util"
	"tickvault/internal/validate"
)

// Outcome summarizes one series sync.
type Outcome int

const (
	// Full means every chunk of the plan was fetched and stored.
	Full Outcome = iota
	// Partial means some chunks succeeded and some failed; the store
	// gained the successful spans.
	Partial
	// Failed means no chunk succeeded.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Full:
		return "full"
	case Partial:
		return "partial"
	default:
		return "failed"
	}
}

// ChunkResult records one chunk's fate.
type ChunkResult struct {
	Range    domain.CoverageRange
	Rows     int
	Attempts int
	Warnings []string
	Err      error
}

// SeriesResult collects the chunk results for one series.
type SeriesResult struct {
	Key    domain.SeriesKey
	Chunks []ChunkResult
}

// Outcome derives the series verdict from its chunks. An empty plan
// (nothing was missing) counts as Full.
func (r SeriesResult) Outcome() Outcome {
	ok, bad := 0, 0
	for _, c := range r.Chunks {
		if c.Err != nil {
			bad++
		} else {
			ok++
		}
	}
	switch {
	case bad == 0:
		return Full
	case ok == 0:
		return Failed
	default:
		return Partial
	}
}

// Rows returns the total rows stored across all chunks.
func (r SeriesResult) Rows() int {
	n := 0
	for _, c := range r.Chunks {
		n += c.Rows
	}
	return n
}

// Executor runs fetch plans chunk by chunk. One Executor (and one
// limiter) is shared across all concurrent series so the upstream rate
// ceiling is respected process-wide.
type Executor struct {
	fetcher Fetcher
	limiter util.Limiter
	sink    Sink
	policy  RetryPolicy
	clock   Clock
	log     *slog.Logger
}

// NewExecutor wires an executor. A nil limiter disables pacing and a
// nil logger discards output.
func NewExecutor(fetcher Fetcher, limiter util.Limiter, sink Sink, policy RetryPolicy, log *slog.Logger) *Executor {
	if limiter == nil {
		limiter = util.NopLimiter{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		fetcher: fetcher,
		limiter: limiter,
		sink:    sink,
		policy:  policy,
		clock:   realClock{},
		log:     log,
	}
}

// Run fetches every chunk of the plan for key, in ascending order. A
// failed chunk is recorded and the remaining chunks still run, except
// when the context is cancelled or the store reports an integrity
// error, both of which abort the series.
func (e *Executor) Run(ctx context.Context, key domain.SeriesKey, plan domain.CoverageList) (SeriesResult, error) {
	res := SeriesResult{Key: key}
	rules := validate.RulesForSegment(key.Segment)

	for _, chunk := range ChunkPlan(plan, key.Interval) {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		cr := e.runChunk(ctx, key, chunk, rules)
		res.Chunks = append(res.Chunks, cr)

		if cr.Err != nil {
			e.log.Warn("chunk failed",
				"series", key.String(),
				"start", chunk.Start, "end", chunk.End,
				"attempts", cr.Attempts, "error", cr.Err)
			if domain.IsIntegrityError(cr.Err) {
				return res, cr.Err
			}
			continue
		}
		e.log.Debug("chunk stored",
			"series", key.String(),
			"start", chunk.Start, "end", chunk.End,
			"rows", cr.Rows, "attempts", cr.Attempts)
	}
	return res, nil
}

func (e *Executor) runChunk(ctx context.Context, key domain.SeriesKey, chunk domain.CoverageRange, rules validate.Rules) ChunkResult {
	cr := ChunkResult{Range: chunk}

	var bars []domain.Bar
	r := newRetrier(e.policy, e.clock)
	err := r.do(ctx, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		var ferr error
		bars, ferr = e.fetcher.Fetch(ctx, key, chunk.Start, chunk.End)
		return ferr
	})
	cr.Attempts = r.attempt
	if err != nil {
		cr.Err = fmt.Errorf("fetch %s [%d,%d]: %w", key, chunk.Start, chunk.End, err)
		return cr
	}

	// An empty answer is a holiday span, not a failure: the chunk is
	// committed so its range counts as covered.
	if len(bars) > 0 {
		v := validate.Batch(bars, rules)
		cr.Warnings = v.Warnings
		if v.Verdict == validate.Fail {
			cr.Err = fmt.Errorf("chunk %s [%d,%d]: %w: %v",
				key, chunk.Start, chunk.End, domain.ErrValidationFailed, v.Errors)
			return cr
		}
		for _, w := range v.Warnings {
			e.log.Warn("validation warning", "series", key.String(), "warning", w)
		}
	}

	if err := e.sink.Commit(key, bars, chunk); err != nil {
		cr.Err = fmt.Errorf("store %s [%d,%d]: %w", key, chunk.Start, chunk.End, err)
		return cr
	}
	cr.Rows = len(bars)
	return cr
}
