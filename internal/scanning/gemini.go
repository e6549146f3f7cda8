package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements StructuredExtractor using Google Gemini
type Gemini struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	modelName  string
	timeout    time.Duration
	timeSource TimeSource
}

// NewGemini creates a new Gemini StructuredExtractor
func NewGemini(apiKey string, modelName string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.1)

	return &Gemini{
		client:     client,
		model:      model,
		modelName:  modelName,
		timeout:    timeout,
		timeSource: defaultTimeSource{},
	}, nil
}

// Infer asks Gemini for the structured receipt fields
func (g *Gemini) Infer(ctx context.Context, rawText string, categories []string, imageRef string) Extraction {
	fields, err := g.generate(ctx, buildReceiptPrompt(rawText, categories))
	if err != nil {
		slog.Error("Failed to infer receipt fields", "model", g.modelName, "error", err)
	}
	return decideExtraction(fields, err, rawText, imageRef, g.timeSource.Now())
}

func (g *Gemini) generate(ctx context.Context, prompt string) (receiptFields, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return receiptFields{}, fmt.Errorf("generating content: %w", err)
	}

	payload, err := candidateText(resp)
	if err != nil {
		return receiptFields{}, err
	}

	fields, err := decodeReceiptPayload(payload)
	if err != nil {
		return receiptFields{}, fmt.Errorf("parsing receipt data: %w", err)
	}
	return fields, nil
}

// candidateText concatenates the text parts of the first candidate
func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if text.Len() == 0 {
		return "", errors.New("no text in gemini response")
	}
	return text.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
