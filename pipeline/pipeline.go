// Package pipeline orchestrates one ingestion request end to end:
// decode the source, apply the fail-fast guards, pick the expansion
// strategy, and produce the sanitized content units. All guard
// violations abort the whole request; partial output is never returned
// alongside an error.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/softonit/textract/ingest"
	"github.com/softonit/textract/ingest/archive"
	"github.com/softonit/textract/ingest/sanitize"
	"github.com/softonit/textract/ingest/sniff"
)

// Pipeline routes sources to the unpacker, the web client, or direct
// passthrough. One instance serves all requests; per-request state
// lives in the ExpansionState created inside Ingest.
type Pipeline struct {
	unpacker *archive.Unpacker
	web      WebClient
	logger   *slog.Logger
}

// WebClient is the URL ingestion strategy. It matches
// webfetch.Client.FetchUnits and exists so tests can substitute a
// local implementation.
type WebClient interface {
	FetchUnits(ctx context.Context, rawURL string, opts ingest.FetchOptions,
		budget ingest.Budget, state *ingest.ExpansionState, used map[string]struct{},
		emit func(ingest.ContentUnit) error) error
}

// New creates a pipeline. web may be nil, which rejects URL sources.
func New(unpacker *archive.Unpacker, web WebClient, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{unpacker: unpacker, web: web, logger: logger}
}

// Ingest runs one request under the budget's watchdog deadline and
// returns the content units in stable order. Exactly one
// ExpansionState exists per call and is threaded through all recursive
// work. The per-request working directory is reclaimed on every exit
// path, including timeout and cancellation.
func (p *Pipeline) Ingest(ctx context.Context, src ingest.Source, budget ingest.Budget) ([]ingest.ContentUnit, error) {
	ctx, cancel := context.WithTimeout(ctx, budget.ProcessingTimeout)
	defer cancel()

	workdir, err := os.MkdirTemp("", "textract-*")
	if err != nil {
		return nil, ingest.Wrap(ingest.ReasonInternal, err, "working directory could not be created")
	}
	defer os.RemoveAll(workdir)

	state := ingest.NewExpansionState(budget)
	used := make(map[string]struct{})

	var units []ingest.ContentUnit
	emit := func(u ingest.ContentUnit) error {
		units = append(units, u)
		return nil
	}

	switch src.Kind {
	case ingest.SourceURL:
		err = p.ingestURL(ctx, src, budget, state, used, emit)
	default:
		err = p.ingestBytes(ctx, src, budget, state, workdir, used, emit)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ingest.Errorf(ingest.ReasonTimeout, "processing exceeded the configured time limit")
		}
		p.logger.Warn("ingestion aborted",
			slog.String("reason", string(ingest.ReasonOf(err))),
			slog.Int("units_before_abort", state.UnitsProduced))
		return nil, err
	}

	p.logger.Debug("ingestion complete",
		slog.Int("units", len(units)),
		slog.Int64("bytes_expanded", state.BytesExpanded))
	return units, nil
}

// ingestBytes handles file and base64 sources: decode, guard, then
// expand archives or pass single files through.
func (p *Pipeline) ingestBytes(ctx context.Context, src ingest.Source, budget ingest.Budget,
	state *ingest.ExpansionState, workdir string, used map[string]struct{},
	emit archive.EmitFunc) error {

	data := src.Data
	if src.Kind == ingest.SourceBase64 {
		decoded, err := base64.StdEncoding.DecodeString(src.Base64)
		if err != nil {
			return ingest.Wrap(ingest.ReasonInvalidEncoding, err, "payload is not valid base64")
		}
		data = decoded
	}

	if len(data) == 0 {
		return ingest.Errorf(ingest.ReasonEmptyInput, "input is empty")
	}
	if int64(len(data)) > budget.MaxInputBytes {
		return ingest.Errorf(ingest.ReasonInputTooLarge,
			"input size %d exceeds the %d byte limit", len(data), budget.MaxInputBytes)
	}

	sniffed := sniff.Detect(data)
	declared := sniff.DeclaredType(src.Name)
	if sniff.Mismatch(declared, sniffed) {
		p.logger.Warn("declared type disagrees with content",
			slog.String("name", src.Name),
			slog.String("declared", declared),
			slog.String("sniffed", sniffed))
		return ingest.Errorf(ingest.ReasonTypeMismatch,
			"file claims to be %s but contains %s, possible type forgery", declared, sniffed)
	}

	if sniff.IsArchive(sniffed) && archive.Expandable(sniffed) {
		return p.unpacker.Unpack(ctx, data, sniffed, budget, state, workdir, used, emit)
	}
	return p.passthrough(src.Name, data, declared, sniffed, budget, state, workdir, used, emit)
}

// ingestURL hands the request to the web client.
func (p *Pipeline) ingestURL(ctx context.Context, src ingest.Source, budget ingest.Budget,
	state *ingest.ExpansionState, used map[string]struct{}, emit archive.EmitFunc) error {

	if p.web == nil {
		return ingest.Errorf(ingest.ReasonUnsupportedFormat, "URL ingestion is not enabled")
	}
	return p.web.FetchUnits(ctx, src.URL, src.Fetch, budget, state, used, emit)
}

// passthrough emits a single file as one content unit, spooled under
// its sanitized name like any archive entry would be.
func (p *Pipeline) passthrough(rawName string, data []byte, declared, sniffed string,
	budget ingest.Budget, state *ingest.ExpansionState, workdir string,
	used map[string]struct{}, emit archive.EmitFunc) error {

	if err := state.AddExpanded(int64(len(data)), budget); err != nil {
		return err
	}

	safeName := sanitize.Sanitize(rawName, used)
	used[safeName] = struct{}{}
	if !sanitize.Contained(workdir, safeName) {
		return ingest.Errorf(ingest.ReasonPathTraversal,
			"sanitized name escapes the working root")
	}
	if err := os.WriteFile(filepath.Join(workdir, safeName), data, 0o600); err != nil {
		return ingest.Wrap(ingest.ReasonInternal, err, "content could not be spooled")
	}

	state.UnitsProduced++
	return emit(ingest.ContentUnit{
		SanitizedPath: safeName,
		OriginalName:  rawName,
		Bytes:         data,
		DeclaredType:  declared,
		SniffedType:   sniffed,
		SizeBytes:     int64(len(data)),
	})
}
