package observability

// -----------------------------------------------------------------------------
// Prometheus metrics
// -----------------------------------------------------------------------------
//
// Engine components keep their own atomic counters and expose them through
// Stats() snapshots; this package bridges those snapshots into a Prometheus
// registry with CounterFunc/GaugeFunc collectors instead of threading metric
// handles through every constructor.

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/potwatch/potwatch/internal/analyze"
	"github.com/potwatch/potwatch/internal/enrich"
	"github.com/potwatch/potwatch/internal/pot"
	"github.com/potwatch/potwatch/internal/scheduler"
)

// ProviderStats is the common shape every provider client reports.
type ProviderStats struct {
	RequestCount int64 `json:"request_count"`
	ErrorCount   int64 `json:"error_count"`
}

// DiscoveryStats aggregates the ingestors' counters.
type DiscoveryStats struct {
	Observed   int64 `json:"observed"`
	Emitted    int64 `json:"emitted"`
	Duplicates int64 `json:"duplicates"`
	Malformed  int64 `json:"malformed"`
	Dropped    int64 `json:"dropped"`
	Reconnects int64 `json:"reconnects"`
}

// Probes are the stat sources the metrics bridge polls on scrape.
// Nil members are skipped, so partial wiring (stub mode) still works.
type Probes struct {
	Pot       func() pot.Stats
	Enrich    func() enrich.Stats
	Runner    func() analyze.Stats
	Scheduler func() scheduler.Stats
	Discovery func() DiscoveryStats
	Providers map[string]func() ProviderStats
}

// NewRegistry builds a Prometheus registry exposing all wired probes.
func NewRegistry(p Probes) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	counter := func(name, help string, fn func() float64) {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "potwatch", Name: name, Help: help,
		}, fn))
	}
	gauge := func(name, help string, fn func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "potwatch", Name: name, Help: help,
		}, fn))
	}

	if p.Pot != nil {
		gauge("pot_size", "Tracked tokens in the working set", func() float64 { return float64(p.Pot().Size) })
		counter("pot_admitted_total", "Candidates admitted to the pot", func() float64 { return float64(p.Pot().Admitted) })
		counter("pot_rejected_duplicate_total", "Candidates rejected as duplicates", func() float64 { return float64(p.Pot().RejectedDuplicate) })
		counter("pot_rejected_floor_total", "Candidates rejected below the liquidity floor", func() float64 { return float64(p.Pot().RejectedFloor) })
		counter("pot_rejected_full_total", "Candidates dropped with the pot full and nothing evictable", func() float64 { return float64(p.Pot().RejectedFull) })
		counter("pot_evictions_total", "Capacity evictions", func() float64 { return float64(p.Pot().Evictions) })
	}

	if p.Enrich != nil {
		counter("enrich_snapshots_total", "Completed enrichment passes", func() float64 { return float64(p.Enrich().Enrichments) })
		counter("enrich_category_misses_total", "Categories absent after the full fallback chain", func() float64 { return float64(p.Enrich().CategoryMisses) })
		counter("enrich_route_clamps_total", "Snapshots clamped for failing route sanity", func() float64 { return float64(p.Enrich().RouteClamps) })
	}

	if p.Runner != nil {
		counter("analysis_passes_total", "Successful analysis passes", func() float64 { return float64(p.Runner().Passes) })
		counter("analysis_failures_total", "Failed analysis passes", func() float64 { return float64(p.Runner().Failures) })
		counter("analysis_skipped_total", "Passes dropped with one already in flight", func() float64 { return float64(p.Runner().Skipped) })
		counter("bucket_transitions_total", "Bucket label changes", func() float64 { return float64(p.Runner().Transitions) })
	}

	if p.Scheduler != nil {
		counter("scheduler_cycles_total", "Completed cadence cycles", func() float64 { return float64(p.Scheduler().Cycles) })
		gauge("scheduler_batch_size", "Current adaptive batch size", func() float64 { return float64(p.Scheduler().Sizer.Current) })
		gauge("scheduler_per_item_seconds", "Learned per-token analysis cost", func() float64 { return p.Scheduler().Sizer.PerItemSecs })
	}

	if p.Discovery != nil {
		counter("discovery_observed_total", "Raw discovery events observed", func() float64 { return float64(p.Discovery().Observed) })
		counter("discovery_emitted_total", "Candidates emitted after dedup and sanitization", func() float64 { return float64(p.Discovery().Emitted) })
		counter("discovery_duplicates_total", "Events suppressed by signature dedup", func() float64 { return float64(p.Discovery().Duplicates) })
		counter("discovery_malformed_total", "Events discarded as malformed", func() float64 { return float64(p.Discovery().Malformed) })
		counter("discovery_dropped_total", "Candidates dropped on a full channel", func() float64 { return float64(p.Discovery().Dropped) })
		counter("discovery_reconnects_total", "Stream reconnect attempts", func() float64 { return float64(p.Discovery().Reconnects) })
	}

	for name, fn := range p.Providers {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "potwatch",
			Name:        "provider_requests_total",
			Help:        "Provider API requests",
			ConstLabels: prometheus.Labels{"provider": name},
		}, func() float64 { return float64(fn().RequestCount) }))
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "potwatch",
			Name:        "provider_errors_total",
			Help:        "Provider API errors",
			ConstLabels: prometheus.Labels{"provider": name},
		}, func() float64 { return float64(fn().ErrorCount) }))
	}

	return reg
}
