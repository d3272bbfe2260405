package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Requests       *prometheus.CounterVec
	CacheLookups   *prometheus.CounterVec
	Revalidations  *prometheus.CounterVec
	Evictions      prometheus.Counter
	Prepopulated   *prometheus.CounterVec
	SyncRuns       *prometheus.CounterVec
	Broadcasts     prometheus.Counter
	ConnectedPages prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offlineboard",
			Name:      "requests_total",
			Help:      "Intercepted requests by class and outcome.",
		}, []string{"class", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offlineboard",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by store and result.",
		}, []string{"store", "result"}),
		Revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offlineboard",
			Name:      "revalidations_total",
			Help:      "Background revalidations of cache-first entries.",
		}, []string{"result"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "offlineboard",
			Name:      "generation_evictions_total",
			Help:      "Stale cache generations deleted on activation.",
		}),
		Prepopulated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offlineboard",
			Name:      "install_entries_total",
			Help:      "Manifest entries processed during install.",
		}, []string{"result"}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offlineboard",
			Name:      "sync_files_total",
			Help:      "Data files processed by background sync.",
		}, []string{"result"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "offlineboard",
			Name:      "broadcasts_total",
			Help:      "DATA_UPDATED notifications broadcast to pages.",
		}),
		ConnectedPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "offlineboard",
			Name:      "connected_pages",
			Help:      "Pages holding a notification channel.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Requests, m.CacheLookups, m.Revalidations, m.Evictions,
			m.Prepopulated, m.SyncRuns, m.Broadcasts, m.ConnectedPages)
	}
	return m
}

func (m *Metrics) Request(class, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) Lookup(store string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(store, result).Inc()
}

func (m *Metrics) Revalidated(result string) {
	if m == nil {
		return
	}
	m.Revalidations.WithLabelValues(result).Inc()
}

func (m *Metrics) Evicted(n int) {
	if m == nil {
		return
	}
	m.Evictions.Add(float64(n))
}

func (m *Metrics) Installed(result string) {
	if m == nil {
		return
	}
	m.Prepopulated.WithLabelValues(result).Inc()
}

func (m *Metrics) Synced(result string) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) Broadcast() {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
}

func (m *Metrics) Pages(n int) {
	if m == nil {
		return
	}
	m.ConnectedPages.Set(float64(n))
}
