package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteTotal counts price quote computations by channel and result.
	QuoteTotal *prometheus.CounterVec
	// QuoteOverrideHits counts quotes resolved by a pricing override.
	QuoteOverrideHits *prometheus.CounterVec
	// BulkAdjustTotal counts sync-rule bulk adjustments by rule type and result.
	BulkAdjustTotal *prometheus.CounterVec
	// PricePushTotal tracks channel price push outcomes.
	PricePushTotal *prometheus.CounterVec
	// PricePushLatency records push attempt latency in milliseconds.
	PricePushLatency *prometheus.HistogramVec
	// PricePushFailedJobs counts jobs that exhausted their attempts.
	PricePushFailedJobs prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_quote_total",
			Help:      "Count of price quote computations by outcome.",
		}, []string{"channel", "result"})
		QuoteOverrideHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_quote_override_hits_total",
			Help:      "Count of quotes whose final price came from an override.",
		}, []string{"channel"})
		BulkAdjustTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncrule_bulk_adjust_total",
			Help:      "Count of sync-rule bulk adjustments by rule type and outcome.",
		}, []string{"rule_type", "result"})
		PricePushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_push_total",
			Help:      "Count of channel price push outcomes.",
		}, []string{"channel", "result"})
		PricePushLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "price_push_duration_ms",
			Help:      "Latency for channel price push attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		PricePushFailedJobs = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_push_failed_jobs_total",
			Help:      "Number of price push jobs that exhausted their retry budget.",
		})

		mustRegisterCollector(reg, QuoteTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteTotal = v
			}
		})
		mustRegisterCollector(reg, QuoteOverrideHits, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteOverrideHits = v
			}
		})
		mustRegisterCollector(reg, BulkAdjustTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BulkAdjustTotal = v
			}
		})
		mustRegisterCollector(reg, PricePushTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PricePushTotal = v
			}
		})
		mustRegisterCollector(reg, PricePushLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				PricePushLatency = v
			}
		})
		mustRegisterCollector(reg, PricePushFailedJobs, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				PricePushFailedJobs = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
