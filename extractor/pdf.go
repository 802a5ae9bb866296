package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/softonit/textract/ingest"
)

// PDF extracts the text layer of PDF documents. Scanned PDFs without a
// text layer yield empty output rather than an error.
type PDF struct{}

// NewPDF creates the PDF extractor.
func NewPDF() *PDF {
	return &PDF{}
}

// Extract reads the document's plain text across all pages.
func (p *PDF) Extract(_ context.Context, unit ingest.ContentUnit) (text string, err error) {
	// The underlying reader panics on some malformed documents instead
	// of returning an error.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(unit.Bytes), int64(len(unit.Bytes)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
