package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type memoryEntry struct {
	rate    decimal.Decimal
	expires time.Time
}

// Rates is the tiered rate cache: memory, then the durable store, then the
// external provider. Concurrent misses for the same pair share one fetch.
type Rates struct {
	store      Store
	provider   Provider
	timeSource TimeSource

	memory sync.Map // pair key -> memoryEntry
	flight singleflight.Group
}

// RefreshSummary reports the outcome of a bulk refresh
type RefreshSummary struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// NewRates creates a rate cache over a durable store and a provider
func NewRates(store Store, provider Provider) *Rates {
	return NewRatesWithTimeSource(store, provider, defaultTimeSource{})
}

// NewRatesWithTimeSource creates a rate cache with a custom clock for testing
func NewRatesWithTimeSource(store Store, provider Provider, ts TimeSource) *Rates {
	return &Rates{
		store:      store,
		provider:   provider,
		timeSource: ts,
	}
}

// Rate returns the rate that converts an amount in from into to
func (r *Rates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = Normalize(from), Normalize(to)
	if !IsSupported(from) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, from)
	}
	if !IsSupported(to) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, to)
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	key := pairKey(from, to)
	if rate, ok := r.fromMemory(key); ok {
		return rate, nil
	}

	v, err, _ := r.flight.Do(key, func() (any, error) {
		// a flight that finished just before this one may have filled memory
		if rate, ok := r.fromMemory(key); ok {
			return rate, nil
		}
		if rate, ok := r.fromStore(from, to); ok {
			r.remember(key, rate)
			return rate, nil
		}
		// the flight outlives the caller that started it; the provider
		// timeout still bounds it
		return r.fetch(context.WithoutCancel(ctx), from, to)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (r *Rates) fromMemory(key string) (decimal.Decimal, bool) {
	v, ok := r.memory.Load(key)
	if !ok {
		return decimal.Zero, false
	}
	entry := v.(memoryEntry)
	if !entry.expires.After(r.timeSource.Now()) {
		return decimal.Zero, false
	}
	return entry.rate, true
}

func (r *Rates) remember(key string, rate decimal.Decimal) {
	r.memory.Store(key, memoryEntry{rate: rate, expires: r.timeSource.Now().Add(RateTTL)})
}

func (r *Rates) fromStore(from, to string) (decimal.Decimal, bool) {
	entry, err := r.store.GetRate(from, to)
	if err != nil {
		if !errors.Is(err, ErrRateNotFound) {
			slog.Warn("Failed to read stored exchange rate", "pair", pairKey(from, to), "error", err)
		}
		return decimal.Zero, false
	}
	if !entry.Fresh(r.timeSource.Now()) {
		return decimal.Zero, false
	}
	return entry.Rate, true
}

func (r *Rates) fetch(ctx context.Context, from, to string) (decimal.Decimal, error) {
	rates, err := r.provider.Latest(ctx, from)
	if err != nil {
		slog.Error("Failed to fetch exchange rate", "pair", pairKey(from, to), "error", err)
		return decimal.Zero, fmt.Errorf("%w: %w", ErrRateUnavailable, err)
	}
	rate, ok := rates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateNotFound, pairKey(from, to))
	}
	r.persist(from, to, rate)
	return rate, nil
}

// persist upserts the durable entry and refreshes memory. Write failures are
// logged only.
func (r *Rates) persist(from, to string, rate decimal.Decimal) {
	entry := &RateEntry{From: from, To: to, Rate: rate, LastUpdated: r.timeSource.Now()}
	if err := r.store.SaveRate(entry); err != nil {
		slog.Error("Failed to save exchange rate", "pair", pairKey(from, to), "error", err)
	}
	r.remember(pairKey(from, to), rate)
}

// RefreshAll re-fetches and upserts every ordered pair of distinct supported
// currencies. Each base currency is fetched once; failures are logged per
// pair and never stop the remaining pairs.
func (r *Rates) RefreshAll(ctx context.Context) RefreshSummary {
	var summary RefreshSummary
	for _, from := range Supported {
		rates, err := r.provider.Latest(ctx, from)
		for _, to := range Supported {
			if to == from {
				continue
			}
			if err != nil {
				slog.Error("Failed to update exchange rate", "pair", pairKey(from, to), "error", err)
				summary.Failed++
				continue
			}
			rate, ok := rates[to]
			if !ok {
				slog.Error("Failed to update exchange rate", "pair", pairKey(from, to), "error", ErrRateNotFound)
				summary.Failed++
				continue
			}
			r.persist(from, to, rate)
			summary.Updated++
		}
	}
	slog.Info("Refreshed exchange rates", "updated", summary.Updated, "failed", summary.Failed)
	return summary
}

// Run refreshes every rate each interval until ctx is done. A non-positive
// interval disables the refresher.
func (r *Rates) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshAll(ctx)
		}
	}
}

// Close releases the durable store
func (r *Rates) Close() error {
	return r.store.Close()
}
