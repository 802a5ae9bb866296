package extractor

import (
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"

	"github.com/softonit/textract/ingest"
)

// HTML converts documents to GitHub-flavored markdown, which keeps
// headings, lists, links, and tables readable as plain text.
type HTML struct {
	converter *md.Converter
}

// NewHTML creates the HTML extractor.
func NewHTML() *HTML {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &HTML{converter: converter}
}

// Extract converts the unit's HTML to markdown.
func (h *HTML) Extract(_ context.Context, unit ingest.ContentUnit) (string, error) {
	markdown, err := h.converter.ConvertString(decodeText(unit.Bytes))
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}
