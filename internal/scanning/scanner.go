package scanning

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultCurrency is used when the model does not report a currency
	DefaultCurrency = "EUR"
	// DefaultDescription replaces an empty description
	DefaultDescription = "Purchase receipt"
	// NoTextDescription is returned when recognition produced nothing
	NoTextDescription = "No text found in receipt"
	// FallbackCategory is the category used when nothing better is known
	FallbackCategory = "Miscellaneous"
	// DateLayout is the DD-MM-YYYY layout used for every extracted date
	DateLayout = "02-01-2006"

	maxDescriptionLength = 200
)

// Source records which path produced an Extraction
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
	SourceNoText   Source = "no_text"
)

// Extraction contains the structured fields read from one receipt
type Extraction struct {
	Amount         decimal.NullDecimal `json:"amount"`
	Currency       string              `json:"currency,omitempty"`
	Description    string              `json:"description"`
	Date           string              `json:"date"` // DD-MM-YYYY
	RawText        string              `json:"rawText,omitempty"`
	CategoryName   string              `json:"categoryName,omitempty"`
	ImageReference string              `json:"receiptImageUrl,omitempty"`
	Source         Source              `json:"source"`
}

// TextExtractor turns an image into plain text. An empty string means nothing
// was recognized; implementations never return errors.
type TextExtractor interface {
	ExtractText(ctx context.Context, img Image) string
}

// StructuredExtractor turns recognized text into an Extraction. Failures
// resolve to the fallback Extraction.
type StructuredExtractor interface {
	Infer(ctx context.Context, rawText string, categories []string, imageRef string) Extraction
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// fallbackExtraction is the fixed result for any inference failure
func fallbackExtraction(rawText, imageRef string, now time.Time) Extraction {
	return Extraction{
		Currency:       DefaultCurrency,
		Description:    DefaultDescription,
		Date:           now.Format(DateLayout),
		RawText:        rawText,
		CategoryName:   FallbackCategory,
		ImageReference: imageRef,
		Source:         SourceFallback,
	}
}

// noTextExtraction is returned by the pipeline when recognition came back empty
func noTextExtraction(imageRef string, now time.Time) Extraction {
	return Extraction{
		Description:    NoTextDescription,
		Date:           now.Format(DateLayout),
		CategoryName:   FallbackCategory,
		ImageReference: imageRef,
		Source:         SourceNoText,
	}
}
