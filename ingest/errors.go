package ingest

import (
	"context"
	"errors"
	"fmt"
)

// Reason identifies which guard or stage rejected a request. Reasons are
// stable strings exposed to API callers; internal errors that carry no
// reason are normalized to ReasonInternal at the edge.
type Reason string

const (
	// ReasonInputTooLarge is returned when the raw input or an archive's
	// compressed size exceeds its configured limit.
	ReasonInputTooLarge Reason = "input_too_large"

	// ReasonTypeMismatch is returned when a file's extension claims one
	// extractor family but its content sniffs as another.
	ReasonTypeMismatch Reason = "type_mismatch"

	// ReasonResourceExceeded is returned when cumulative decompressed
	// bytes exceed the expansion limit (zip-bomb guard).
	ReasonResourceExceeded Reason = "resource_exceeded"

	// ReasonNestingTooDeep is returned when archive nesting exceeds the
	// configured depth and recursion is refused.
	ReasonNestingTooDeep Reason = "nesting_too_deep"

	// ReasonPathTraversal is returned when an entry path cannot be
	// confined to the working directory.
	ReasonPathTraversal Reason = "path_traversal_attempt"

	// ReasonSSRFBlocked is returned when a URL or its resolved address
	// falls in a blocked range or hostname list.
	ReasonSSRFBlocked Reason = "ssrf_blocked"

	// ReasonTimeout is returned when processing exceeds the request's
	// wall-clock budget.
	ReasonTimeout Reason = "timeout"

	// ReasonMalformedArchive is returned when an archive cannot be read.
	ReasonMalformedArchive Reason = "malformed_archive"

	// ReasonUpstreamFetchFailed is returned when a remote fetch fails for
	// a non-security reason (connect error, bad status, missing size).
	ReasonUpstreamFetchFailed Reason = "upstream_fetch_failed"

	// ReasonExtractionFailed marks a per-unit extraction failure. It is
	// recorded per unit and never aborts sibling units.
	ReasonExtractionFailed Reason = "extraction_failed"

	// ReasonUnsupportedFormat is returned for inputs no extractor family
	// claims.
	ReasonUnsupportedFormat Reason = "unsupported_format"

	// ReasonEmptyInput is returned for zero-byte top-level inputs.
	ReasonEmptyInput Reason = "empty_input"

	// ReasonInvalidEncoding is returned when a base64 payload cannot be
	// decoded.
	ReasonInvalidEncoding Reason = "invalid_encoding"

	// ReasonInternal covers everything outside the taxonomy.
	ReasonInternal Reason = "internal_error"
)

// Error is a guard or stage failure with a stable reason. The Message is
// safe to show to callers; wrapped errors are for logs only.
type Error struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error with a formatted caller-safe message.
func Errorf(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a reason and message to an underlying error.
func Wrap(reason Reason, err error, message string) *Error {
	return &Error{Reason: reason, Message: message, Err: err}
}

// ReasonOf extracts the taxonomy reason from an error. Context deadline
// errors map to ReasonTimeout; anything unrecognized is ReasonInternal.
func ReasonOf(err error) Reason {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonInternal
}

// MessageOf returns the caller-safe message for an error. Errors outside
// the taxonomy get a generic message so internals never leak.
func MessageOf(err error) string {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "processing exceeded the configured time limit"
	}
	return "internal error while processing the request"
}
