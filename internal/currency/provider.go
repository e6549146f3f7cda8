package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultRatesURL is the public exchangerate-api endpoint
const DefaultRatesURL = "https://api.exchangerate-api.com"

// Provider fetches the latest rates for one base currency
type Provider interface {
	Latest(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}

// ExchangeRateAPI implements Provider against the exchangerate-api v4 API
type ExchangeRateAPI struct {
	baseURL string
	client  *http.Client
}

type latestRatesResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]json.RawMessage `json:"rates"`
}

// NewExchangeRateAPI creates a provider client; timeout bounds each request
func NewExchangeRateAPI(baseURL string, timeout time.Duration) *ExchangeRateAPI {
	if baseURL == "" {
		baseURL = DefaultRatesURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExchangeRateAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Latest fetches every rate quoted against base
func (e *ExchangeRateAPI) Latest(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	url := fmt.Sprintf("%s/v4/latest/%s", e.baseURL, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching rates for %s: %w", base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed latestRatesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshaling rates: %w", err)
	}
	if parsed.Rates == nil {
		return nil, fmt.Errorf("rate provider response for %s has no rates", base)
	}

	rates := make(map[string]decimal.Decimal, len(parsed.Rates))
	for code, raw := range parsed.Rates {
		rate, err := decimal.NewFromString(string(raw))
		if err != nil {
			slog.Warn("Skipping unreadable rate", "base", base, "code", code, "error", err)
			continue
		}
		rates[Normalize(code)] = rate
	}
	return rates, nil
}
