package currency

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// RateSource supplies directed exchange rates
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Anomaly describes a conversion that returned the amount unchanged
type Anomaly struct {
	Amount decimal.Decimal
	From   string
	To     string
	Err    error
}

// AnomalyRecorder receives conversion anomalies
type AnomalyRecorder interface {
	RecordAnomaly(a Anomaly)
}

type logAnomalyRecorder struct{}

func (logAnomalyRecorder) RecordAnomaly(a Anomaly) {
	slog.Warn("Currency conversion skipped", "amount", a.Amount.String(), "from", a.From, "to", a.To, "error", a.Err)
}

// Converter converts amounts between currencies. It never fails: invalid
// codes and unavailable rates return the amount unchanged and are recorded.
type Converter struct {
	rates     RateSource
	anomalies AnomalyRecorder
}

// NewConverter creates a Converter that logs anomalies
func NewConverter(rates RateSource) *Converter {
	return NewConverterWithRecorder(rates, logAnomalyRecorder{})
}

// NewConverterWithRecorder creates a Converter with a custom anomaly recorder
func NewConverterWithRecorder(rates RateSource, recorder AnomalyRecorder) *Converter {
	return &Converter{rates: rates, anomalies: recorder}
}

// Convert returns amount expressed in to
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	from, to = Normalize(from), Normalize(to)
	if from == to {
		return amount
	}

	if !IsSupported(from) || !IsSupported(to) {
		c.anomalies.RecordAnomaly(Anomaly{Amount: amount, From: from, To: to, Err: ErrUnsupportedCurrency})
		return amount
	}

	rate, err := c.rates.Rate(ctx, from, to)
	if err != nil {
		c.anomalies.RecordAnomaly(Anomaly{Amount: amount, From: from, To: to, Err: err})
		return amount
	}
	return amount.Mul(rate)
}
