// Package extractor converts content units into plain text. Each
// extractor handles one family of content types; the registry maps
// sniffed MIME types to extractors, so routing follows what the bytes
// actually are rather than what the filename claims.
package extractor

import (
	"context"
	"sort"
	"sync"

	"github.com/softonit/textract/ingest"
)

// Extractor produces the text content of a single unit.
type Extractor interface {
	Extract(ctx context.Context, unit ingest.ContentUnit) (string, error)
}

// Registry maps MIME types to extractors. The first registration for a
// type wins. Thread-safe for concurrent access.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register maps the given MIME types to an extractor. Types already
// registered keep their existing extractor.
func (r *Registry) Register(e Extractor, mimeTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mt := range mimeTypes {
		if _, exists := r.extractors[mt]; !exists {
			r.extractors[mt] = e
		}
	}
}

// ForType returns the extractor registered for a MIME type.
func (r *Registry) ForType(mimeType string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[mimeType]
	return e, ok
}

// SupportedTypes returns all registered MIME types, sorted.
func (r *Registry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.extractors))
	for mt := range r.extractors {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types
}

// NewDefaultRegistry wires up the built-in extractors. Plain-text-like
// formats share a single extractor; structured formats get their own.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	plain := NewPlainText()
	r.Register(plain,
		"text/plain",
		"text/markdown",
		"text/csv",
		"text/tab-separated-values",
		"text/xml",
		"application/xml",
		"application/x-yaml",
		"text/yaml",
		"text/x-log",
	)

	r.Register(NewHTML(), "text/html", "application/xhtml+xml")
	r.Register(NewJSON(), "application/json", "application/x-ndjson")
	r.Register(NewPDF(), "application/pdf")

	return r
}
