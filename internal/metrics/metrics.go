package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the content pipeline.
type Metrics struct {
	// Generation metrics
	GenerationAttempts *prometheus.CounterVec // account, result: pass|fail|transport|prohibited
	GenerationRuns     *prometheus.CounterVec // account, outcome: pass|degraded
	GenerationScore    *prometheus.HistogramVec
	GenerationDuration *prometheus.HistogramVec

	// Stock metrics
	StockUnused   *prometheus.GaugeVec
	StockConsumed *prometheus.CounterVec
	StockRefilled *prometheus.CounterVec
	StockEvicted  *prometheus.CounterVec

	// Pattern metrics
	PatternsRecorded *prometheus.CounterVec // kind: success|bad

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// A/B test metrics
	TestsStarted   prometheus.Counter
	TestsCompleted *prometheus.CounterVec // winner: A|B|tie

	// System metrics
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	EventsPublished *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// New creates and registers all Prometheus metrics. The instance is shared:
// repeated calls return the same registration.
func New() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			GenerationAttempts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "postmint_generation_attempts_total",
					Help: "Generation attempts by account and result",
				},
				[]string{"account", "result"},
			),
			GenerationRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "postmint_generation_runs_total",
					Help: "Completed generator invocations by account and outcome",
				},
				[]string{"account", "outcome"},
			),
			GenerationScore: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "postmint_generation_score",
					Help:    "Quality score of returned candidates",
					Buckets: prometheus.LinearBuckets(0, 1, 16),
				},
				[]string{"account"},
			),
			GenerationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "postmint_generation_duration_seconds",
					Help:    "Wall time of generator invocations",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"account"},
			),
			StockUnused: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "postmint_stock_unused",
					Help: "Unused stocked posts per account",
				},
				[]string{"account"},
			),
			StockConsumed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "postmint_stock_consumed_total",
					Help: "Stocked posts consumed per account",
				},
				[]string{"account"},
			),
			StockRefilled: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "postmint_stock_refilled_total",
					Help: "Stocked posts added by refill per account",
				},
				[]string{"account"},
			),
			StockEvicted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "postmint_stock_evicted_total",
					Help: "Stocked posts evicted by capacity per account",
				},
				[]string{"account"},
			),
			PatternsRecorded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "postmint_patterns_recorded_total",
					Help: "Pattern records written by kind",
				},
				[]string{"kind"},
			),
			ProviderRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "postmint_provider_requests_total",
					Help: "Text-generation requests per provider",
				},
				[]string{"provider"},
			),
			ProviderErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "postmint_provider_errors_total",
					Help: "Text-generation transport failures per provider",
				},
				[]string{"provider"},
			),
			ProviderLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "postmint_provider_latency_seconds",
					Help:    "Text-generation call latency",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			TestsStarted: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "postmint_abtests_started_total",
					Help: "A/B tests started",
				},
			),
			TestsCompleted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "postmint_abtests_completed_total",
					Help: "A/B tests completed by winner",
				},
				[]string{"winner"},
			),
			CacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "postmint_cache_hits_total",
					Help: "Completion cache hits",
				},
			),
			CacheMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "postmint_cache_misses_total",
					Help: "Completion cache misses",
				},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "postmint_events_published_total",
					Help: "Pipeline events published by type",
				},
				[]string{"type"},
			),
		}
	})
	return sharedMetrics
}
