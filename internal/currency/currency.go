package currency

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RateTTL is how long a rate stays fresh in every tier
const RateTTL = time.Hour

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrRateNotFound        = errors.New("exchange rate not found")
	ErrRateUnavailable     = errors.New("exchange rate unavailable")
)

// Supported is the closed set of currency codes the system accepts
var Supported = []string{"PHP", "EUR", "USD", "GBP", "CAD", "CHF", "JPY", "AUD"}

// Normalize upper-cases and trims a currency code
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsSupported reports whether code (in any case) is in the supported set
func IsSupported(code string) bool {
	code = Normalize(code)
	for _, c := range Supported {
		if c == code {
			return true
		}
	}
	return false
}

// RateEntry is the persisted rate of one directed currency pair
type RateEntry struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	Rate        decimal.Decimal `json:"rate"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// Fresh reports whether the entry was updated less than RateTTL before now
func (e *RateEntry) Fresh(now time.Time) bool {
	return now.Sub(e.LastUpdated) < RateTTL
}

func pairKey(from, to string) string {
	return from + "_" + to
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}
