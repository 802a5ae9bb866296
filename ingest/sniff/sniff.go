// Package sniff determines a file's true content type from its bytes,
// independent of its claimed name, and classifies types into extractor
// families so forged extensions can be detected.
package sniff

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// OctetStream is the fallback type for unrecognized content.
const OctetStream = "application/octet-stream"

// Family groups MIME types by the extractor that would handle them.
// A declared/sniffed disagreement across families is a forgery signal;
// disagreement within a family (e.g. .md sniffed as text/plain) is not.
type Family string

const (
	FamilyText         Family = "text"
	FamilyDocument     Family = "document"
	FamilySpreadsheet  Family = "spreadsheet"
	FamilyPresentation Family = "presentation"
	FamilyImage        Family = "image"
	FamilyArchive      Family = "archive"
	FamilyExecutable   Family = "executable"
	FamilyUnknown      Family = "unknown"
)

// Detect sniffs the MIME type from content. It never fails: unrecognized
// bytes report as application/octet-stream.
func Detect(data []byte) string {
	if len(data) == 0 {
		return OctetStream
	}
	return strings.Split(mimetype.Detect(data).String(), ";")[0]
}

// Ext returns the lowercase extension without the leading dot, resolving
// compound tar extensions (.tar.gz, .tgz, .tar.bz2, .tbz2, .tar.xz,
// .txz) as a unit.
func Ext(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return "tar.gz"
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return "tar.bz2"
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return "tar.xz"
	}
	ext := filepath.Ext(lower)
	if ext == "" {
		return ""
	}
	return ext[1:]
}

// DeclaredType maps a file name's extension to its claimed MIME type.
// Unknown extensions report as application/octet-stream.
func DeclaredType(filename string) string {
	switch Ext(filename) {
	case "txt", "log":
		return "text/plain"
	case "md", "markdown":
		return "text/markdown"
	case "html", "htm":
		return "text/html"
	case "csv":
		return "text/csv"
	case "json":
		return "application/json"
	case "xml":
		return "text/xml"
	case "yaml", "yml":
		return "application/yaml"
	case "rtf":
		return "application/rtf"
	case "pdf":
		return "application/pdf"
	case "doc":
		return "application/msword"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "odt":
		return "application/vnd.oasis.opendocument.text"
	case "xls":
		return "application/vnd.ms-excel"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "ods":
		return "application/vnd.oasis.opendocument.spreadsheet"
	case "ppt":
		return "application/vnd.ms-powerpoint"
	case "pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "tif", "tiff":
		return "image/tiff"
	case "webp":
		return "image/webp"
	case "zip":
		return "application/zip"
	case "tar":
		return "application/x-tar"
	case "gz", "tar.gz":
		return "application/gzip"
	case "bz2", "tar.bz2":
		return "application/x-bzip2"
	case "xz", "tar.xz":
		return "application/x-xz"
	case "7z":
		return "application/x-7z-compressed"
	case "rar":
		return "application/x-rar-compressed"
	case "eml":
		return "message/rfc822"
	case "epub":
		return "application/epub+zip"
	default:
		return OctetStream
	}
}

// FamilyOf classifies a MIME type into an extractor family.
func FamilyOf(mime string) Family {
	mime = strings.ToLower(strings.Split(mime, ";")[0])
	switch {
	case mime == "", mime == OctetStream:
		return FamilyUnknown
	case strings.HasPrefix(mime, "image/"):
		return FamilyImage
	case IsArchive(mime):
		return FamilyArchive
	case mime == "application/x-executable",
		mime == "application/x-elf",
		mime == "application/x-sharedlib",
		mime == "application/x-mach-binary",
		mime == "application/vnd.microsoft.portable-executable":
		return FamilyExecutable
	case mime == "application/pdf",
		mime == "application/msword",
		mime == "application/rtf", mime == "text/rtf",
		mime == "application/vnd.oasis.opendocument.text",
		mime == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return FamilyDocument
	case mime == "text/csv",
		mime == "application/vnd.ms-excel",
		mime == "application/vnd.oasis.opendocument.spreadsheet",
		mime == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FamilySpreadsheet
	case mime == "application/vnd.ms-powerpoint",
		mime == "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return FamilyPresentation
	case strings.HasPrefix(mime, "text/"),
		mime == "application/json",
		mime == "application/yaml",
		mime == "application/xml",
		mime == "message/rfc822":
		return FamilyText
	default:
		return FamilyUnknown
	}
}

// IsArchive reports whether a MIME type is an archive container the
// unpacker may expand (or a proprietary one it passes through whole).
func IsArchive(mime string) bool {
	switch strings.ToLower(strings.Split(mime, ";")[0]) {
	case "application/zip",
		"application/x-tar",
		"application/gzip", "application/x-gzip",
		"application/x-bzip2",
		"application/x-xz",
		"application/x-7z-compressed",
		"application/x-rar-compressed", "application/vnd.rar":
		return true
	}
	return false
}

// Mismatch reports whether declared and sniffed types disagree strongly
// enough to signal type forgery: both sides resolve to a known family
// and the families differ. Unknown on either side is tolerated — plenty
// of honest files carry unhelpful extensions.
//
// OOXML containers (docx/xlsx/pptx) are ZIP files; a declared document
// family with a sniffed zip is therefore not a forgery on its own when
// the sniffer could not see past the container.
func Mismatch(declared, sniffed string) bool {
	df, sf := FamilyOf(declared), FamilyOf(sniffed)
	if df == FamilyUnknown || sf == FamilyUnknown {
		return false
	}
	if df == sf {
		return false
	}
	if sf == FamilyArchive && ooxmlFamily(df) {
		return false
	}
	return true
}

func ooxmlFamily(f Family) bool {
	return f == FamilyDocument || f == FamilySpreadsheet || f == FamilyPresentation
}
