package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the aggregation engine.
type Metrics struct {
	Registry          *prometheus.Registry
	FetchesTotal      *prometheus.CounterVec
	FetchDuration     prometheus.Histogram
	ListingsTotal     *prometheus.CounterVec
	RetriesTotal      *prometheus.CounterVec
	BlocksTotal       *prometheus.CounterVec
	SchemaErrorsTotal *prometheus.CounterVec
	AbandonedTotal    *prometheus.CounterVec
	FieldDropsTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_fetches_total",
			Help: "Total fetch attempts by platform and result.",
		},
		[]string{"platform", "result"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregator_fetch_duration_seconds",
			Help:    "Fetch latency across all platforms.",
			Buckets: prometheus.DefBuckets,
		},
	)
	listings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_listings_total",
			Help: "Normalized listings produced by platform.",
		},
		[]string{"platform"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_retries_total",
			Help: "Retry attempts scheduled by platform.",
		},
		[]string{"platform"},
	)
	blocks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_blocks_total",
			Help: "Block detections by platform.",
		},
		[]string{"platform"},
	)
	schemaErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_schema_errors_total",
			Help: "Markup schema mismatches by platform; a rise means a site layout changed.",
		},
		[]string{"platform"},
	)
	abandoned := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_abandoned_targets_total",
			Help: "Targets marked dormant after exhausting retries or blocks.",
		},
		[]string{"platform", "reason"},
	)
	fieldDrops := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_normalize_field_drops_total",
			Help: "Fields dropped during normalization, for data-quality review.",
		},
		[]string{"platform"},
	)

	registry.MustRegister(fetches, fetchDuration, listings, retries, blocks, schemaErrors, abandoned, fieldDrops)

	return &Metrics{
		Registry:          registry,
		FetchesTotal:      fetches,
		FetchDuration:     fetchDuration,
		ListingsTotal:     listings,
		RetriesTotal:      retries,
		BlocksTotal:       blocks,
		SchemaErrorsTotal: schemaErrors,
		AbandonedTotal:    abandoned,
		FieldDropsTotal:   fieldDrops,
	}
}

// IncFetch increments the fetch counter for a platform and result label.
func (m *Metrics) IncFetch(platform, result string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(platform, result).Inc()
}

// ObserveFetchDuration records one fetch latency.
func (m *Metrics) ObserveFetchDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncListings increments the normalized listings counter.
func (m *Metrics) IncListings(platform string) {
	if m == nil {
		return
	}
	m.ListingsTotal.WithLabelValues(platform).Inc()
}

// IncRetry increments the retry counter.
func (m *Metrics) IncRetry(platform string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(platform).Inc()
}

// IncBlock increments the block detection counter.
func (m *Metrics) IncBlock(platform string) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(platform).Inc()
}

// IncSchemaError increments the schema mismatch counter.
func (m *Metrics) IncSchemaError(platform string) {
	if m == nil {
		return
	}
	m.SchemaErrorsTotal.WithLabelValues(platform).Inc()
}

// IncAbandoned increments the abandoned targets counter.
func (m *Metrics) IncAbandoned(platform, reason string) {
	if m == nil {
		return
	}
	m.AbandonedTotal.WithLabelValues(platform, reason).Inc()
}

// IncFieldDrops adds dropped-field observations for a platform.
func (m *Metrics) IncFieldDrops(platform string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FieldDropsTotal.WithLabelValues(platform).Add(float64(n))
}
