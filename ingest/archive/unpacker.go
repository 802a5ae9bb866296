// Package archive recursively expands archive containers under strict
// resource limits. Entries are walked lazily and pushed to a caller
// callback so the expanded-size guard can abort mid-stream; the whole
// archive is never materialized at once.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/softonit/textract/ingest"
	"github.com/softonit/textract/ingest/sanitize"
	"github.com/softonit/textract/ingest/sniff"
)

// EmitFunc receives content units as they are produced. Returning an
// error aborts the unpack immediately.
type EmitFunc func(ingest.ContentUnit) error

// Unpacker expands one archive into sanitized content units.
type Unpacker struct {
	logger *slog.Logger
}

// New creates an unpacker. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Unpacker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Unpacker{logger: logger}
}

// Unpack expands data of the given sniffed archive type, emitting one
// unit per usable entry in traversal order. The budget is enforced at
// every step: compressed size up front, cumulative decompressed size
// after every entry, nesting depth before every recursion, and the
// request deadline between entries. Leaf entries are spooled into
// workdir under their sanitized names; the pipeline owns workdir
// cleanup on every exit path.
func (u *Unpacker) Unpack(ctx context.Context, data []byte, archiveType string,
	budget ingest.Budget, state *ingest.ExpansionState, workdir string,
	used map[string]struct{}, emit EmitFunc) error {

	if int64(len(data)) > budget.MaxArchiveBytes {
		return ingest.Errorf(ingest.ReasonInputTooLarge,
			"archive size %d exceeds the %d byte limit", len(data), budget.MaxArchiveBytes)
	}

	switch strings.ToLower(archiveType) {
	case "application/zip":
		return u.unpackZip(ctx, data, budget, state, workdir, used, emit)
	case "application/x-tar":
		return u.unpackTar(ctx, bytes.NewReader(data), budget, state, workdir, used, emit)
	case "application/gzip", "application/x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return ingest.Wrap(ingest.ReasonMalformedArchive, err, "gzip stream could not be read")
		}
		defer gz.Close()
		// The gzip header may carry the original file name.
		return u.unpackCompressed(ctx, gz, gz.Name, budget, state, workdir, used, emit)
	case "application/x-bzip2":
		return u.unpackCompressed(ctx, bzip2.NewReader(bytes.NewReader(data)), "", budget, state, workdir, used, emit)
	case "application/x-xz":
		xr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return ingest.Wrap(ingest.ReasonMalformedArchive, err, "xz stream could not be read")
		}
		return u.unpackCompressed(ctx, xr, "", budget, state, workdir, used, emit)
	default:
		// Proprietary containers (7z, rar) are not expanded here; the
		// pipeline passes them through whole to the extractor registry.
		return ingest.Errorf(ingest.ReasonUnsupportedFormat,
			"archive type %s cannot be expanded", archiveType)
	}
}

// unpackZip walks zip entries lazily via each entry's reader.
func (u *Unpacker) unpackZip(ctx context.Context, data []byte, budget ingest.Budget,
	state *ingest.ExpansionState, workdir string, used map[string]struct{}, emit EmitFunc) error {

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ingest.Wrap(ingest.ReasonMalformedArchive, err, "archive could not be read")
	}

	for _, f := range zr.File {
		if err := u.checkInterrupts(ctx, state); err != nil {
			return err
		}
		if f.FileInfo().IsDir() || isJunkEntry(f.Name) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return ingest.Wrap(ingest.ReasonMalformedArchive, err, "archive entry could not be opened")
		}
		entryData, err := u.readBounded(rc, budget, state)
		rc.Close()
		if err != nil {
			return err
		}

		if err := u.handleEntry(ctx, f.Name, entryData, budget, state, workdir, used, emit); err != nil {
			return err
		}
	}
	return nil
}

// unpackTar walks a tar stream forward-only.
func (u *Unpacker) unpackTar(ctx context.Context, r io.Reader, budget ingest.Budget,
	state *ingest.ExpansionState, workdir string, used map[string]struct{}, emit EmitFunc) error {

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return ingest.Wrap(ingest.ReasonMalformedArchive, err, "archive could not be read")
		}
		if err := u.checkInterrupts(ctx, state); err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg || isJunkEntry(hdr.Name) {
			continue
		}

		entryData, err := u.readBounded(tr, budget, state)
		if err != nil {
			return err
		}
		if err := u.handleEntry(ctx, hdr.Name, entryData, budget, state, workdir, used, emit); err != nil {
			return err
		}
	}
}

// unpackCompressed handles single-stream compression (gzip, bzip2, xz).
// If the decompressed payload is a tar, its entries are walked at the
// same nesting depth — .tar.gz is one container, not two.
func (u *Unpacker) unpackCompressed(ctx context.Context, r io.Reader, entryName string,
	budget ingest.Budget, state *ingest.ExpansionState, workdir string,
	used map[string]struct{}, emit EmitFunc) error {

	decompressed, err := u.readBounded(r, budget, state)
	if err != nil {
		return err
	}

	if sniff.Detect(decompressed) == "application/x-tar" {
		// The decompressed stream was charged as a whole to bound the
		// compression layer; walking its entries re-reads the same
		// bytes, so refund the container before per-entry accounting.
		state.BytesExpanded -= int64(len(decompressed))
		if state.BytesExpanded < 0 {
			state.BytesExpanded = 0
		}
		return u.unpackTar(ctx, bytes.NewReader(decompressed), budget, state, workdir, used, emit)
	}

	if entryName == "" {
		entryName = "decompressed"
	}
	return u.handleEntry(ctx, entryName, decompressed, budget, state, workdir, used, emit)
}

// handleEntry routes one decompressed entry: recurse into nested
// archives while depth allows, emit over-depth archives and ordinary
// files as leaves.
func (u *Unpacker) handleEntry(ctx context.Context, rawName string, data []byte,
	budget ingest.Budget, state *ingest.ExpansionState, workdir string,
	used map[string]struct{}, emit EmitFunc) error {

	entryType := sniff.Detect(data)

	if declared := sniff.DeclaredType(rawName); sniff.Mismatch(declared, entryType) {
		u.logger.Warn("archive entry content does not match its extension",
			slog.String("entry", path.Base(rawName)),
			slog.String("declared_type", declared),
			slog.String("sniffed_type", entryType))
		return ingest.Errorf(ingest.ReasonTypeMismatch,
			"entry %s claims to be %s but contains %s, possible type forgery",
			path.Base(rawName), declared, entryType)
	}

	if sniff.IsArchive(entryType) && Expandable(entryType) {
		if state.Depth < budget.MaxNestingDepth {
			state.Depth++
			err := u.Unpack(ctx, data, entryType, budget, state, workdir, used, emit)
			state.Depth--
			return err
		}
		// Over-depth archives surface as unexpanded leaves rather than
		// disappearing silently.
		u.logger.Warn("nested archive beyond depth limit left unexpanded",
			slog.String("entry", path.Base(rawName)),
			slog.Int("depth", state.Depth),
			slog.Int("max_depth", budget.MaxNestingDepth))
	}

	return u.emitLeaf(ctx, rawName, data, entryType, state, workdir, used, emit)
}

// emitLeaf sanitizes the entry name, spools the bytes into workdir, and
// hands the unit to the caller. Zero-byte entries are valid leaves.
func (u *Unpacker) emitLeaf(_ context.Context, rawName string, data []byte,
	sniffedType string, state *ingest.ExpansionState, workdir string,
	used map[string]struct{}, emit EmitFunc) error {

	name := sanitize.Sanitize(rawName, used)
	used[name] = struct{}{}

	if workdir != "" {
		if !sanitize.Contained(workdir, name) {
			return ingest.Errorf(ingest.ReasonPathTraversal,
				"entry path could not be confined to the working directory")
		}
		if err := os.WriteFile(filepath.Join(workdir, name), data, 0o600); err != nil {
			return ingest.Wrap(ingest.ReasonInternal, err, "internal error while processing the request")
		}
	}

	state.UnitsProduced++
	return emit(ingest.ContentUnit{
		SanitizedPath: name,
		OriginalName:  rawName,
		Bytes:         data,
		DeclaredType:  sniff.DeclaredType(rawName),
		SniffedType:   sniffedType,
		SizeBytes:     int64(len(data)),
	})
}

// readBounded reads a whole entry while charging decompressed bytes to
// the expansion budget. The read itself is capped at the remaining
// allowance plus one byte so a bomb cannot buffer more than the limit
// before being caught.
func (u *Unpacker) readBounded(r io.Reader, budget ingest.Budget, state *ingest.ExpansionState) ([]byte, error) {
	remaining := budget.MaxExpandedBytes - state.BytesExpanded
	if remaining < 0 {
		remaining = 0
	}

	data, err := io.ReadAll(io.LimitReader(r, remaining+1))
	if err != nil {
		return nil, ingest.Wrap(ingest.ReasonMalformedArchive, err, "archive entry could not be decompressed")
	}
	if addErr := state.AddExpanded(int64(len(data)), budget); addErr != nil {
		u.logger.Warn("expansion budget exceeded during unpack",
			slog.Int64("bytes_expanded", state.BytesExpanded),
			slog.Int64("limit", budget.MaxExpandedBytes))
		return nil, addErr
	}
	return data, nil
}

// checkInterrupts enforces cancellation and the request deadline between
// entries.
func (u *Unpacker) checkInterrupts(ctx context.Context, state *ingest.ExpansionState) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ingest.Errorf(ingest.ReasonTimeout, "processing exceeded the configured time limit")
		}
		return ctx.Err()
	default:
	}
	return state.CheckDeadline()
}

// Expandable reports whether the unpacker itself can open the container.
func Expandable(mime string) bool {
	switch strings.ToLower(mime) {
	case "application/zip", "application/x-tar",
		"application/gzip", "application/x-gzip",
		"application/x-bzip2", "application/x-xz":
		return true
	}
	return false
}

// isJunkEntry filters OS metadata that carries no user content.
func isJunkEntry(name string) bool {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	switch base {
	case ".DS_Store", "Thumbs.db", "desktop.ini":
		return true
	}
	return strings.HasPrefix(name, "__MACOSX/") ||
		strings.Contains(name, "/__MACOSX/") ||
		strings.HasPrefix(base, "._")
}
