package extractor

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/softonit/textract/ingest"
)

// ExtractAll runs extraction over all units with bounded concurrency
// and returns results in input order. A unit whose extraction fails
// gets an error message in its result; one bad file never poisons its
// siblings. Only context cancellation aborts the batch.
func ExtractAll(ctx context.Context, registry *Registry, units []ingest.ContentUnit,
	concurrency int, logger *slog.Logger) ([]ingest.UnitResult, error) {

	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]ingest.UnitResult, len(units))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, unit := range units {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = extractOne(ctx, registry, unit, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, ingest.Wrap(ingest.ReasonTimeout, err, "extraction interrupted")
	}
	return results, nil
}

// extractOne produces the result for a single unit, converting any
// failure into a per-unit error message.
func extractOne(ctx context.Context, registry *Registry, unit ingest.ContentUnit,
	logger *slog.Logger) ingest.UnitResult {

	result := ingest.UnitResult{
		Path:         unit.SanitizedPath,
		OriginalName: unit.OriginalName,
		SizeBytes:    unit.SizeBytes,
		SniffedType:  unit.SniffedType,
	}

	e, ok := registry.ForType(unit.SniffedType)
	if !ok {
		result.Error = ingest.Errorf(ingest.ReasonUnsupportedFormat,
			"no extractor for content type %q", unit.SniffedType).Error()
		return result
	}

	text, err := e.Extract(ctx, unit)
	if err != nil {
		logger.Debug("extraction failed",
			slog.String("path", unit.SanitizedPath),
			slog.String("type", unit.SniffedType),
			slog.String("error", err.Error()))
		result.Error = ingest.Wrap(ingest.ReasonExtractionFailed, err,
			"content could not be extracted").Error()
		return result
	}

	if text == "" {
		result.Error = ingest.Errorf(ingest.ReasonExtractionFailed,
			"document contains no extractable text").Error()
		return result
	}

	result.Text = text
	return result
}
