package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound means no archive, snapshot, or live copy exists for the
// request. Terminal for the tier that reports it.
var ErrNotFound = errors.New("not found")

// NetworkError is a transient transport failure, retryable within the
// owning tier's retry budget.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError marks a malformed container record. The digest is kept so the
// bad capture can be audited later.
type ParseError struct {
	Digest string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Digest != "" {
		return fmt.Sprintf("parse error (digest %s): %s", e.Digest, e.Reason)
	}
	return "parse error: " + e.Reason
}

// DecompressionError marks a container segment whose compression layer could
// not be read. Terminal for the tier.
type DecompressionError struct {
	Err error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("decompression error: %v", e.Err)
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// ExtractionError marks a payload the extractor could not turn into text.
// It degrades to ExtractionResult.Success=false rather than aborting.
type ExtractionError struct {
	MediaType string
	Reason    string
	Err       error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed for %s: %s: %v", e.MediaType, e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed for %s: %s", e.MediaType, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RateLimitError is returned by paid or throttled endpoints. RetryAfter is
// zero when the server gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// StorageError wraps a link-graph store failure. Never silently dropped;
// callers see the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
