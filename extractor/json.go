package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/softonit/textract/ingest"
)

// JSON pulls the human-readable content out of JSON documents: every
// string value, in a stable order, one per line. Keys, numbers, and
// booleans carry structure rather than prose and are dropped.
type JSON struct{}

// NewJSON creates the JSON extractor.
func NewJSON() *JSON {
	return &JSON{}
}

// Extract decodes the unit as a stream of JSON values (a plain document
// or newline-delimited records) and returns the collected strings.
func (j *JSON) Extract(_ context.Context, unit ingest.ContentUnit) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(unit.Bytes))

	var lines []string
	for {
		var value any
		if err := dec.Decode(&value); err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("decode json: %w", err)
		}
		collectStrings(value, &lines)
	}
	return strings.Join(lines, "\n"), nil
}

// collectStrings walks a decoded JSON value depth-first. Object keys
// are visited in sorted order so output is deterministic.
func collectStrings(value any, lines *[]string) {
	switch v := value.(type) {
	case string:
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			*lines = append(*lines, trimmed)
		}
	case []any:
		for _, item := range v {
			collectStrings(item, lines)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(v[k], lines)
		}
	}
}
