package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// DefaultOCRURL is the OCR.space parse endpoint
const DefaultOCRURL = "https://api.ocr.space/parse/image"

// OCRSpace implements TextExtractor against an OCR.space compatible API
type OCRSpace struct {
	endpoint string
	apiKey   string
	language string
	client   *http.Client
}

// NewOCRSpace creates a new OCRSpace TextExtractor
func NewOCRSpace(endpoint, apiKey, language string, timeout time.Duration) (*OCRSpace, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ocr api key is required")
	}
	if endpoint == "" {
		endpoint = DefaultOCRURL
	}
	if language == "" {
		language = "eng"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OCRSpace{
		endpoint: endpoint,
		apiKey:   apiKey,
		language: language,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// ocrSpaceResponse is the provider envelope. ErrorMessage is a string or an
// array of strings depending on the failure, so it is kept raw.
type ocrSpaceResponse struct {
	ParsedResults         []ocrParsedResult `json:"ParsedResults"`
	OCRExitCode           int               `json:"OCRExitCode"`
	IsErroredOnProcessing bool              `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage   `json:"ErrorMessage"`
}

type ocrParsedResult struct {
	ParsedText        *string         `json:"ParsedText"`
	FileParseExitCode int             `json:"FileParseExitCode"`
	ErrorMessage      json.RawMessage `json:"ErrorMessage"`
}

// ExtractText recognizes the text in img. Every failure is logged and
// reported as an empty string.
func (o *OCRSpace) ExtractText(ctx context.Context, img Image) string {
	text, err := o.extract(ctx, img)
	if err != nil {
		slog.Error("Failed to extract receipt text",
			"reference", truncateRef(img.Reference()),
			"error", err,
		)
		return ""
	}
	if text == "" {
		slog.Warn("No text found in OCR result", "reference", truncateRef(img.Reference()))
		return ""
	}
	slog.Info("OCR extracted text", "length", len(text))
	return text
}

func (o *OCRSpace) extract(ctx context.Context, img Image) (string, error) {
	if err := img.validate(); err != nil {
		return "", err
	}

	body, contentType, err := o.buildForm(img)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ocr API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr API error (status %d)", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return parseOCRResponse(raw)
}

func (o *OCRSpace) buildForm(img Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"apikey", o.apiKey},
		{"language", o.language},
		{"isOverlayRequired", "true"},
		{"OCREngine", "2"},
	}
	switch {
	case img.isDataURI():
		fields = append(fields, [2]string{"base64Image", img.URL})
	case img.URL != "":
		fields = append(fields, [2]string{"url", img.URL})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("writing form field %s: %w", f[0], err)
		}
	}

	if len(img.Data) > 0 {
		if err := checkUpload(img.Data, img.ContentType); err != nil {
			return nil, "", err
		}
		filename := img.Filename
		if filename == "" {
			filename = "receipt"
		}
		part, err := w.CreatePart(filePartHeader(filename, normalizeContentType(img.ContentType)))
		if err != nil {
			return nil, "", fmt.Errorf("creating file part: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", fmt.Errorf("writing file part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func filePartHeader(filename, contentType string) textproto.MIMEHeader {
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)},
		"Content-Type":        {contentType},
	}
}

// parseOCRResponse decodes the envelope and joins the text of every page
func parseOCRResponse(raw []byte) (string, error) {
	var env ocrSpaceResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("decoding ocr response: %w", err)
	}
	if env.IsErroredOnProcessing {
		return "", fmt.Errorf("ocr processing error: %s", errorText(env.ErrorMessage))
	}

	pages := make([]string, 0, len(env.ParsedResults))
	for _, r := range env.ParsedResults {
		if r.ParsedText == nil || strings.TrimSpace(*r.ParsedText) == "" {
			continue
		}
		pages = append(pages, *r.ParsedText)
	}
	return strings.Join(pages, "\n"), nil
}

// errorText flattens a string-or-array error message
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return string(raw)
}

// truncateRef keeps base64 data URIs out of the logs
func truncateRef(ref string) string {
	if len(ref) > 80 {
		return ref[:80] + "..."
	}
	return ref
}
