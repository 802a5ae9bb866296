// Package ingest defines the shared types for the secure ingestion
// pipeline: the per-request resource budget, expansion state, content
// units, ingestion sources, and the error taxonomy used by every guard.
package ingest

// ContentUnit is one leaf piece of extractable content after
// sanitization: an uploaded file, an archive entry, a fetched page, or
// an embedded image. SniffedType is always computed before the unit is
// handed to extraction.
type ContentUnit struct {
	// SanitizedPath is the root-confined name, unique within a request.
	SanitizedPath string

	// OriginalName is the untrusted name as supplied by the input.
	OriginalName string

	// Bytes is the unit's content, owned by the unit.
	Bytes []byte

	// DeclaredType is the MIME type derived from the name/extension.
	DeclaredType string

	// SniffedType is the MIME type detected from the content.
	SniffedType string

	// SizeBytes is len(Bytes), recorded for reporting.
	SizeBytes int64
}

// UnitResult is the per-unit outcome after format extraction. Extraction
// failures are recorded here instead of aborting sibling units.
type UnitResult struct {
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
	SniffedType  string `json:"sniffed_type"`
	Text         string `json:"text"`
	Error        string `json:"error,omitempty"`
}
