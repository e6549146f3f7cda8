package scanning

import (
	"context"
	"fmt"
	"log/slog"
)

// Pipeline runs text recognition followed by structured extraction for a
// single receipt.
type Pipeline struct {
	text       TextExtractor
	structured StructuredExtractor
	timeSource TimeSource
}

// NewPipeline creates a Pipeline from its two stages
func NewPipeline(text TextExtractor, structured StructuredExtractor) *Pipeline {
	return NewPipelineWithTimeSource(text, structured, defaultTimeSource{})
}

// NewPipelineWithTimeSource creates a Pipeline with a custom clock for testing
func NewPipelineWithTimeSource(text TextExtractor, structured StructuredExtractor, ts TimeSource) *Pipeline {
	return &Pipeline{
		text:       text,
		structured: structured,
		timeSource: ts,
	}
}

// Process extracts the structured fields of one receipt. Recognition and
// inference failures are absorbed by the stages; the returned error is only
// set for a malformed image reference or a cancelled context.
func (p *Pipeline) Process(ctx context.Context, img Image, categories []string) (Extraction, error) {
	if err := img.validate(); err != nil {
		return Extraction{}, fmt.Errorf("processing receipt: %w", err)
	}
	ref := img.Reference()

	rawText := p.text.ExtractText(ctx, img)
	if err := ctx.Err(); err != nil {
		return Extraction{}, fmt.Errorf("processing receipt: %w", err)
	}
	if rawText == "" {
		slog.Warn("No text extracted from image", "reference", truncateRef(ref))
		return noTextExtraction(ref, p.timeSource.Now()), nil
	}

	slog.Info("Extracted receipt text", "characters", len(rawText), "categories", len(categories))

	result := p.structured.Infer(ctx, rawText, categories, ref)
	result.ImageReference = ref
	return result, nil
}
