package ingest

import "time"

// Budget is the immutable set of resource limits for one ingestion
// request. It is built from process-wide configuration at request start
// and never mutated afterwards; all expansion work shares the same value.
type Budget struct {
	// MaxInputBytes caps the raw top-level input (upload, decoded base64,
	// or remote body).
	MaxInputBytes int64

	// MaxArchiveBytes caps an archive's compressed size before any entry
	// is touched.
	MaxArchiveBytes int64

	// MaxExpandedBytes caps cumulative decompressed bytes across the
	// whole request, checked incrementally during unpacking.
	MaxExpandedBytes int64

	// MaxNestingDepth caps archive-within-archive recursion.
	MaxNestingDepth int

	// ProcessingTimeout is the wall-clock limit for the whole request.
	ProcessingTimeout time.Duration

	// MaxImagesPerPage caps embedded images collected from a web page.
	MaxImagesPerPage int

	// MaxScrollAttempts caps the lazy-load scroll loop during rendering.
	MaxScrollAttempts int
}
