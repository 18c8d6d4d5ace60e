package domain

import (
	"errors"
	"fmt"
)

// FetchError classifies an upstream fetch failure. Transient failures
// (timeouts, rate-limit rejections, 5xx responses) are retried with
// backoff; permanent failures (bad symbol, malformed request) are reported
// immediately without retry.
type FetchError struct {
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s fetch error: %v", kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TransientFetch wraps err as a retryable fetch failure.
func TransientFetch(err error) error { return &FetchError{Transient: true, Err: err} }

// PermanentFetch wraps err as a non-retryable fetch failure.
func PermanentFetch(err error) error { return &FetchError{Transient: false, Err: err} }

// IsTransientFetch reports whether err is a retryable fetch failure.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

// IsPermanentFetch reports whether err is a non-retryable fetch failure.
func IsPermanentFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && !fe.Transient
}

// ErrValidationFailed marks a batch rejected by the validator; the batch is
// not stored and its diagnostics travel with the wrapping error.
var ErrValidationFailed = errors.New("validation failed")

// IntegrityError is a fatal storage condition: a checksum mismatch or
// inconsistent coverage metadata. It blocks further use of the affected
// dataset until operator remediation; it is never retried or repaired
// silently.
type IntegrityError struct {
	Dataset string
	Reason  string
}

func (e *IntegrityError) Error() string {
	if e.Dataset == "" {
		return fmt.Sprintf("storage integrity error: %s", e.Reason)
	}
	return fmt.Sprintf("storage integrity error in %s: %s", e.Dataset, e.Reason)
}

// IsIntegrityError reports whether err is a fatal storage integrity error.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// RowError records a single row that failed to convert or write during
// migration. It is recorded and skipped; it never aborts the dataset or
// the run.
type RowError struct {
	Series    string
	Timestamp int64
	Err       error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %s@%d: %v", e.Series, e.Timestamp, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
