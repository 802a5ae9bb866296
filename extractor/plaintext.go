package extractor

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/softonit/textract/ingest"
)

// PlainText decodes text content. Input that is not valid UTF-8 falls
// back to Windows-1251 and then Latin-1, which covers the bulk of
// legacy documents seen in practice.
type PlainText struct{}

// NewPlainText creates the plain text extractor.
func NewPlainText() *PlainText {
	return &PlainText{}
}

// Extract returns the unit's bytes decoded to UTF-8 text.
func (p *PlainText) Extract(_ context.Context, unit ingest.ContentUnit) (string, error) {
	return decodeText(unit.Bytes), nil
}

// decodeText converts raw bytes to a UTF-8 string, trying UTF-8 first
// and then the legacy single-byte fallbacks. Latin-1 maps every byte,
// so decoding always succeeds.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return strings.TrimSpace(string(data))
	}
	if decoded, err := charmap.Windows1251.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
		return strings.TrimSpace(string(decoded))
	}
	decoded, _ := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return strings.TrimSpace(string(decoded))
}
