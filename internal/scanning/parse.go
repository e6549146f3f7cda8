package scanning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var errNotObject = errors.New("payload is not a JSON object")

// receiptFields is the decoded model payload. Every field is optional; a
// field that is missing, null, or of the wrong JSON type stays nil.
type receiptFields struct {
	Amount       *decimal.Decimal
	Currency     *string
	Description  *string
	Date         *string
	CategoryName *string
}

// cleanPayload removes code fences and one extra layer of string quoting
func cleanPayload(payload string) (string, error) {
	text := stripFences(payload)
	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		var unquoted string
		if err := json.Unmarshal([]byte(text), &unquoted); err != nil {
			return "", fmt.Errorf("unquoting payload: %w", err)
		}
		text = stripFences(unquoted)
	}
	return text, nil
}

func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// decodeReceiptPayload parses the model's JSON answer field by field
func decodeReceiptPayload(payload string) (receiptFields, error) {
	text, err := cleanPayload(payload)
	if err != nil {
		return receiptFields{}, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return receiptFields{}, fmt.Errorf("unmarshaling json: %w", err)
	}
	if obj == nil {
		return receiptFields{}, errNotObject
	}

	return receiptFields{
		Amount:       decodeAmount(obj["amount"]),
		Currency:     decodeString(obj["currency"]),
		Description:  decodeString(obj["description"]),
		Date:         decodeString(obj["date"]),
		CategoryName: decodeString(obj["categoryName"]),
	}, nil
}

// decodeAmount accepts a JSON number, or a string using a dot or a comma as
// the decimal separator
func decodeAmount(raw json.RawMessage) *decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var text string
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil
		}
		text = strings.TrimSpace(strings.ReplaceAll(text, ",", "."))
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		text = string(raw)
	default:
		return nil
	}

	if text == "" {
		return nil
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil
	}
	return &d
}

func decodeString(raw json.RawMessage) *string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return nil
	}
	return &s
}

// decideExtraction turns a decoding outcome into the Extraction handed back to
// callers: the coerced model answer, or the fixed fallback when decodeErr is
// set.
func decideExtraction(fields receiptFields, decodeErr error, rawText, imageRef string, now time.Time) Extraction {
	if decodeErr != nil {
		return fallbackExtraction(rawText, imageRef, now)
	}

	result := Extraction{
		RawText:        rawText,
		ImageReference: imageRef,
		Source:         SourceModel,
	}

	if fields.Amount != nil {
		result.Amount = decimal.NewNullDecimal(*fields.Amount)
	}

	if fields.Currency != nil {
		result.Currency = strings.ToUpper(strings.TrimSpace(*fields.Currency))
	}
	if result.Currency == "" {
		result.Currency = DefaultCurrency
	}

	if fields.Description != nil {
		result.Description = truncateRunes(strings.TrimSpace(*fields.Description), maxDescriptionLength)
	}
	if result.Description == "" {
		result.Description = DefaultDescription
	}

	if fields.Date != nil {
		result.Date = normalizeModelDate(*fields.Date)
	}
	if result.Date == "" {
		result.Date = dateFromText(rawText)
	}
	if result.Date == "" {
		result.Date = now.Format(DateLayout)
	}

	if fields.CategoryName != nil {
		result.CategoryName = strings.TrimSpace(*fields.CategoryName)
	}

	return result
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
