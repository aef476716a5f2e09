// Package prom exports pyramid and query metrics to Prometheus.
package prom

import (
	"github.com/IvanBrykalov/tilecache/pyramid"
	"github.com/IvanBrykalov/tilecache/query"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements pyramid.Metrics and query.Metrics.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evicts    *prometheus.CounterVec
	loads     *prometheus.CounterVec
	inflight  prometheus.Gauge
	stale     prometheus.Counter
	tiles     prometheus.Gauge
	retained  prometheus.Gauge
	queries   *prometheus.CounterVec
	queryFail *prometheus.CounterVec
	fanout    *prometheus.HistogramVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics, e.g. the source id (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		}, labels)
	}

	a := &Adapter{
		hits:      counter("tile_hits_total", "Tile lookups served from the pyramid"),
		misses:    counter("tile_misses_total", "Tile lookups with no cached tile"),
		evicts:    counterVec("tile_evictions_total", "Tiles removed from the pyramid by reason", "reason"),
		loads:     counterVec("tile_loads_total", "Finished tile loads by outcome", "outcome"),
		inflight:  gauge("tile_loads_inflight", "Tile loads started and not yet finished or aborted"),
		stale:     counter("tile_stale_completions_total", "Load completions discarded because their tile was gone"),
		tiles:     gauge("tiles", "Tiles held by the pyramid"),
		retained:  gauge("tiles_retained", "Tiles in the retained set"),
		queries:   counterVec("queries_total", "Feature queries by kind", "kind"),
		queryFail: counterVec("query_errors_total", "Feature queries that failed, by kind", "kind"),
		fanout: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "query_tiles", Help: "Tiles queried per feature query",
			ConstLabels: constLabels, Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}, []string{"kind"}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.loads, a.inflight, a.stale,
		a.tiles, a.retained, a.queries, a.queryFail, a.fanout)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

func (a *Adapter) LoadStarted() { a.inflight.Inc() }

func (a *Adapter) LoadFinished(err error) {
	a.inflight.Dec()
	if err != nil {
		a.loads.WithLabelValues("error").Inc()
		return
	}
	a.loads.WithLabelValues("ok").Inc()
}

func (a *Adapter) StaleCompletion() { a.stale.Inc() }

// Evict increments the eviction counter with a reason label. Aborted loads
// also leave the in-flight gauge.
func (a *Adapter) Evict(r pyramid.EvictReason) {
	if r == pyramid.EvictAbort {
		a.inflight.Dec()
	}
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Size updates the tile gauges.
func (a *Adapter) Size(tiles, retained int) {
	a.tiles.Set(float64(tiles))
	a.retained.Set(float64(retained))
}

func (a *Adapter) QueryStarted(kind query.Kind) { a.queries.WithLabelValues(string(kind)).Inc() }

func (a *Adapter) QueryFinished(kind query.Kind, tiles int, err error) {
	a.fanout.WithLabelValues(string(kind)).Observe(float64(tiles))
	if err != nil {
		a.queryFail.WithLabelValues(string(kind)).Inc()
	}
}

// Compile-time checks.
var (
	_ pyramid.Metrics = (*Adapter)(nil)
	_ query.Metrics   = (*Adapter)(nil)
)
