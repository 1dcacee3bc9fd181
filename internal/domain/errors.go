package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared across the usecase layer. The HTTP surface maps
// these to status codes.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("operation not allowed")
	ErrConflict        = errors.New("already exists")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrStoreConflict   = errors.New("concurrent modification")
)

// ValidationError carries a caller-facing message for malformed input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// UpstreamError wraps a failed call to the bibliographic index after the
// client exhausted its retries. Status is the last upstream HTTP status
// (0 for transport errors), RetryAfter the hint parsed from upstream
// headers when rate limited.
type UpstreamError struct {
	Status     int
	RetryAfter int // seconds, 0 if unknown
	Summary    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream: %s: %v", e.Summary, e.Err)
	}
	return fmt.Sprintf("upstream: %s: status %d", e.Summary, e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RateLimited reports whether the upstream rejected us with 429.
func (e *UpstreamError) RateLimited() bool { return e.Status == 429 }

// Timeout reports whether the call exceeded its deadline.
func (e *UpstreamError) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }
