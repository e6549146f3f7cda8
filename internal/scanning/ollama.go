package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Ollama implements StructuredExtractor using Ollama's generate API
type Ollama struct {
	baseURL    string
	model      string
	client     *http.Client
	timeSource TimeSource
}

// NewOllama creates a new Ollama StructuredExtractor.
// Any instruction-following text model works; larger models pick categories
// more reliably.
func NewOllama(baseURL string, modelName string, timeout time.Duration) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "gpt-oss:120b-cloud"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second // Ollama can be slow on large models
	}

	return &Ollama{
		baseURL:    baseURL,
		model:      modelName,
		client:     &http.Client{Timeout: timeout},
		timeSource: defaultTimeSource{},
	}, nil
}

// WithTimeSource overrides the clock used for default dates
func (o *Ollama) WithTimeSource(ts TimeSource) *Ollama {
	o.timeSource = ts
	return o
}

// ollamaGenerateRequest represents the request body for Ollama's generate API
type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

// ollamaGenerateResponse is the envelope; Response is required
type ollamaGenerateResponse struct {
	Model    string  `json:"model"`
	Response *string `json:"response"`
	Done     bool    `json:"done"`
}

// Infer asks the model for the structured receipt fields
func (o *Ollama) Infer(ctx context.Context, rawText string, categories []string, imageRef string) Extraction {
	fields, err := o.generate(ctx, buildReceiptPrompt(rawText, categories))
	if err != nil {
		slog.Error("Failed to infer receipt fields", "model", o.model, "error", err)
	}
	result := decideExtraction(fields, err, rawText, imageRef, o.timeSource.Now())
	slog.Info("Parsed receipt",
		"source", result.Source,
		"amount", result.Amount.Decimal.String(),
		"currency", result.Currency,
		"date", result.Date,
		"category", result.CategoryName,
	)
	return result
}

func (o *Ollama) generate(ctx context.Context, prompt string) (receiptFields, error) {
	reqBody := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  false,
		Options: ollamaOptions{Temperature: 0.1},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return receiptFields{}, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return receiptFields{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return receiptFields{}, fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return receiptFields{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return receiptFields{}, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	payload, err := decodeGenerateResponse(body)
	if err != nil {
		return receiptFields{}, err
	}

	fields, err := decodeReceiptPayload(payload)
	if err != nil {
		return receiptFields{}, fmt.Errorf("parsing receipt data: %w", err)
	}
	return fields, nil
}

// decodeGenerateResponse extracts the payload string from the envelope
func decodeGenerateResponse(body []byte) (string, error) {
	var env ollamaGenerateResponse
	if err := json.Unmarshal(bytes.TrimSpace(body), &env); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if env.Response == nil {
		return "", errors.New("response field missing from ollama envelope")
	}
	return *env.Response, nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
