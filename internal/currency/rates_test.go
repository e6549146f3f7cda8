package currency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("Rates", func() {
	var (
		store    *mockStore
		provider *mockProvider
		clock    *mockTimeSource
		rates    *Rates
		ctx      context.Context
	)

	BeforeEach(func() {
		store = newMockStore()
		provider = &mockProvider{rates: map[string]map[string]decimal.Decimal{
			"USD": {"EUR": decimal.RequireFromString("0.92"), "PHP": decimal.RequireFromString("58.6")},
		}}
		clock = &mockTimeSource{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
		rates = NewRatesWithTimeSource(store, provider, clock)
		ctx = context.Background()
	})

	Describe("Rate", func() {
		It("returns 1 for identical codes without consulting any tier", func() {
			rate, err := rates.Rate(ctx, "usd", "USD")
			Expect(err).NotTo(HaveOccurred())
			Expect(rate.Equal(decimal.NewFromInt(1))).To(BeTrue())
			Expect(store.gets).To(BeZero())
			Expect(provider.calls.Load()).To(BeZero())
		})

		DescribeTable("rejecting unsupported codes",
			func(from, to string) {
				_, err := rates.Rate(ctx, from, to)
				Expect(errors.Is(err, ErrUnsupportedCurrency)).To(BeTrue())
				Expect(provider.calls.Load()).To(BeZero())
			},
			Entry("unknown source", "XXX", "EUR"),
			Entry("unknown target", "USD", "BTC"),
		)

		When("no tier has the pair", func() {
			var (
				rate decimal.Decimal
				err  error
			)

			JustBeforeEach(func() {
				rate, err = rates.Rate(ctx, "USD", "EUR")
			})

			It("fetches it from the provider", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rate.Equal(decimal.RequireFromString("0.92"))).To(BeTrue())
				Expect(provider.calls.Load()).To(BeEquivalentTo(1))
			})

			It("persists the entry stamped with the current time", func() {
				entry := store.entry("USD", "EUR")
				Expect(entry).NotTo(BeNil())
				Expect(entry.Rate.Equal(decimal.RequireFromString("0.92"))).To(BeTrue())
				Expect(entry.LastUpdated).To(Equal(clock.Now()))
			})

			It("serves the next lookup from memory", func() {
				gets := store.gets
				_, err := rates.Rate(ctx, "USD", "EUR")
				Expect(err).NotTo(HaveOccurred())
				Expect(provider.calls.Load()).To(BeEquivalentTo(1))
				Expect(store.gets).To(Equal(gets))
			})

			It("does not treat the reverse pair as cached", func() {
				provider.rates["EUR"] = map[string]decimal.Decimal{"USD": decimal.RequireFromString("1.08")}
				rate, err := rates.Rate(ctx, "EUR", "USD")
				Expect(err).NotTo(HaveOccurred())
				Expect(rate.Equal(decimal.RequireFromString("1.08"))).To(BeTrue())
				Expect(provider.calls.Load()).To(BeEquivalentTo(2))
			})
		})

		When("the memory entry expires", func() {
			BeforeEach(func() {
				_, err := rates.Rate(ctx, "USD", "EUR")
				Expect(err).NotTo(HaveOccurred())
				clock.Advance(RateTTL + time.Minute)
			})

			It("fetches again", func() {
				_, err := rates.Rate(ctx, "USD", "EUR")
				Expect(err).NotTo(HaveOccurred())
				Expect(provider.calls.Load()).To(BeEquivalentTo(2))
			})
		})

		When("the durable entry is 59 minutes old", func() {
			BeforeEach(func() {
				store.entries["USD_EUR"] = &RateEntry{
					From: "USD", To: "EUR",
					Rate:        decimal.RequireFromString("0.90"),
					LastUpdated: clock.Now().Add(-59 * time.Minute),
				}
			})

			It("serves it without an external call", func() {
				rate, err := rates.Rate(ctx, "USD", "EUR")
				Expect(err).NotTo(HaveOccurred())
				Expect(rate.Equal(decimal.RequireFromString("0.90"))).To(BeTrue())
				Expect(provider.calls.Load()).To(BeZero())
			})

			It("populates the memory tier", func() {
				_, err := rates.Rate(ctx, "USD", "EUR")
				Expect(err).NotTo(HaveOccurred())
				gets := store.gets
				_, err = rates.Rate(ctx, "USD", "EUR")
				Expect(err).NotTo(HaveOccurred())
				Expect(store.gets).To(Equal(gets))
			})
		})

		When("the durable entry is 61 minutes old", func() {
			BeforeEach(func() {
				store.entries["USD_EUR"] = &RateEntry{
					From: "USD", To: "EUR",
					Rate:        decimal.RequireFromString("0.90"),
					LastUpdated: clock.Now().Add(-61 * time.Minute),
				}
			})

			It("treats it as stale and fetches", func() {
				rate, err := rates.Rate(ctx, "USD", "EUR")
				Expect(err).NotTo(HaveOccurred())
				Expect(rate.Equal(decimal.RequireFromString("0.92"))).To(BeTrue())
				Expect(provider.calls.Load()).To(BeEquivalentTo(1))
				Expect(store.entry("USD", "EUR").LastUpdated).To(Equal(clock.Now()))
			})
		})

		When("the durable store cannot be read", func() {
			BeforeEach(func() {
				store.getErr = errors.New("disk on fire")
			})

			It("falls through to the provider", func() {
				rate, err := rates.Rate(ctx, "USD", "EUR")
				Expect(err).NotTo(HaveOccurred())
				Expect(rate.Equal(decimal.RequireFromString("0.92"))).To(BeTrue())
			})
		})

		When("the durable store cannot be written", func() {
			BeforeEach(func() {
				store.saveErr = errors.New("read-only")
			})

			It("still returns and remembers the fetched rate", func() {
				_, err := rates.Rate(ctx, "USD", "EUR")
				Expect(err).NotTo(HaveOccurred())
				_, err = rates.Rate(ctx, "USD", "EUR")
				Expect(err).NotTo(HaveOccurred())
				Expect(provider.calls.Load()).To(BeEquivalentTo(1))
			})
		})

		When("the provider fails", func() {
			BeforeEach(func() {
				provider.err = errors.New("connection refused")
			})

			It("returns ErrRateUnavailable", func() {
				_, err := rates.Rate(ctx, "USD", "EUR")
				Expect(errors.Is(err, ErrRateUnavailable)).To(BeTrue())
			})
		})

		When("the provider does not quote the target", func() {
			It("returns ErrRateNotFound", func() {
				_, err := rates.Rate(ctx, "USD", "JPY")
				Expect(errors.Is(err, ErrRateNotFound)).To(BeTrue())
			})
		})

		When("many callers miss at once", func() {
			const callers = 20

			BeforeEach(func() {
				provider.release = make(chan struct{})
			})

			It("issues exactly one external fetch and shares its rate", func() {
				results := make([]decimal.Decimal, callers)
				errs := make([]error, callers)
				var (
					wg       sync.WaitGroup
					started  atomic.Int32
					finished atomic.Int32
				)
				for i := 0; i < callers; i++ {
					wg.Add(1)
					go func(i int) {
						defer GinkgoRecover()
						defer wg.Done()
						started.Add(1)
						results[i], errs[i] = rates.Rate(ctx, "USD", "EUR")
						finished.Add(1)
					}(i)
				}

				// memory stays empty until release, so every started caller
				// is parked on the single outstanding fetch
				Eventually(started.Load).Should(BeEquivalentTo(callers))
				Consistently(func() int32 {
					if finished.Load() != 0 {
						return -1
					}
					return provider.calls.Load()
				}, 200*time.Millisecond, 10*time.Millisecond).Should(BeEquivalentTo(1))
				close(provider.release)
				wg.Wait()

				Expect(provider.calls.Load()).To(BeEquivalentTo(1))
				for i := 0; i < callers; i++ {
					Expect(errs[i]).NotTo(HaveOccurred())
					Expect(results[i].Equal(decimal.RequireFromString("0.92"))).To(BeTrue())
				}
			})
		})

		When("the caller that started the fetch goes away", func() {
			BeforeEach(func() {
				provider.release = make(chan struct{})
			})

			It("still completes and stores the fetch", func() {
				callerCtx, cancel := context.WithCancel(ctx)
				var (
					rate decimal.Decimal
					err  error
				)
				done := make(chan struct{})
				go func() {
					defer GinkgoRecover()
					defer close(done)
					rate, err = rates.Rate(callerCtx, "USD", "EUR")
				}()

				Eventually(provider.calls.Load).Should(BeEquivalentTo(1))
				cancel()
				close(provider.release)
				Eventually(done).Should(BeClosed())

				Expect(err).NotTo(HaveOccurred())
				Expect(rate.Equal(decimal.RequireFromString("0.92"))).To(BeTrue())
				Expect(store.entry("USD", "EUR")).NotTo(BeNil())
			})
		})
	})

	Describe("RefreshAll", func() {
		var summary RefreshSummary

		BeforeEach(func() {
			provider.rates = make(map[string]map[string]decimal.Decimal)
			for i, from := range Supported {
				quotes := make(map[string]decimal.Decimal)
				for j, to := range Supported {
					quotes[to] = decimal.NewFromInt(int64(i*10 + j + 1))
				}
				provider.rates[from] = quotes
			}
			provider.errs = map[string]error{"JPY": errors.New("rate limited")}
			delete(provider.rates["USD"], "CHF")
		})

		JustBeforeEach(func() {
			summary = rates.RefreshAll(ctx)
		})

		It("fetches each base currency once", func() {
			Expect(provider.calls.Load()).To(BeEquivalentTo(len(Supported)))
		})

		It("upserts every reachable ordered pair and counts failures", func() {
			pairs := len(Supported) * (len(Supported) - 1)
			failed := (len(Supported) - 1) + 1
			Expect(summary.Failed).To(Equal(failed))
			Expect(summary.Updated).To(Equal(pairs - failed))
			Expect(store.entry("EUR", "PHP")).NotTo(BeNil())
			Expect(store.entry("JPY", "EUR")).To(BeNil())
			Expect(store.entry("USD", "CHF")).To(BeNil())
			Expect(store.entry("EUR", "EUR")).To(BeNil())
		})

		It("refreshes the memory tier", func() {
			calls := provider.calls.Load()
			_, err := rates.Rate(ctx, "GBP", "AUD")
			Expect(err).NotTo(HaveOccurred())
			Expect(provider.calls.Load()).To(Equal(calls))
		})
	})

	Describe("Run", func() {
		It("returns immediately when disabled", func() {
			done := make(chan struct{})
			go func() {
				rates.Run(ctx, 0)
				close(done)
			}()
			Eventually(done).Should(BeClosed())
		})

		It("refreshes periodically until cancelled", func() {
			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				rates.Run(runCtx, 10*time.Millisecond)
				close(done)
			}()

			Eventually(provider.calls.Load).Should(BeNumerically(">=", 2*len(Supported)))
			cancel()
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("Close", func() {
		It("closes the durable store", func() {
			Expect(rates.Close()).To(Succeed())
			Expect(store.closed).To(BeTrue())
		})
	})
})
