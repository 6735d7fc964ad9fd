package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics exposes counters/histograms for collection cache activity.
type CacheMetrics struct {
	displayTotal  *prometheus.CounterVec
	fetchTotal    *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	reconcileHits *prometheus.CounterVec
	patchedTotal  *prometheus.CounterVec
	evictedTotal  *prometheus.CounterVec
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		displayTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "querycache",
			Name:      "display_total",
			Help:      "Display reads by resulting state",
		}, []string{"entity", "state"}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "querycache",
			Name:      "fetch_total",
			Help:      "Completed page fetches",
		}, []string{"entity", "outcome"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "querycache",
			Name:      "fetch_latency_seconds",
			Help:      "Latency of page fetches including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity"}),
		reconcileHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "querycache",
			Name:      "desync_total",
			Help:      "Reconcile calls that found the displayed key out of date",
		}, []string{"entity"}),
		patchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "querycache",
			Name:      "patched_results_total",
			Help:      "Cached results replaced by optimistic patches",
		}, []string{"entity"}),
		evictedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "querycache",
			Name:      "evicted_total",
			Help:      "Cached results evicted by the retention sweep",
		}, []string{"entity"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.displayTotal, m.fetchTotal, m.fetchLatency, m.reconcileHits, m.patchedTotal, m.evictedTotal)
	return m
}

func (m *CacheMetrics) ObserveDisplay(entity, state string) {
	if m == nil {
		return
	}
	m.displayTotal.WithLabelValues(entity, state).Inc()
}

func (m *CacheMetrics) ObserveFetch(entity, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(entity, outcome).Inc()
	m.fetchLatency.WithLabelValues(entity).Observe(seconds)
}

func (m *CacheMetrics) ObserveDesync(entity string) {
	if m == nil {
		return
	}
	m.reconcileHits.WithLabelValues(entity).Inc()
}

func (m *CacheMetrics) ObservePatched(entity string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.patchedTotal.WithLabelValues(entity).Add(float64(n))
}

func (m *CacheMetrics) ObserveEvicted(entity string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictedTotal.WithLabelValues(entity).Add(float64(n))
}

// BackendMetrics tracks requests made to the external clinic backend.
type BackendMetrics struct {
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	sharedTotal    *prometheus.CounterVec
}

func NewBackendMetrics(reg prometheus.Registerer) *BackendMetrics {
	m := &BackendMetrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "backend",
			Name:      "request_total",
			Help:      "Requests sent to the clinic backend",
		}, []string{"entity", "method", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "backend",
			Name:      "request_latency_seconds",
			Help:      "Latency of clinic backend requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity", "method"}),
		sharedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "backend",
			Name:      "deduplicated_total",
			Help:      "Page requests answered by an identical in-flight request",
		}, []string{"entity"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestTotal, m.requestLatency, m.sharedTotal)
	return m
}

func (m *BackendMetrics) ObserveRequest(entity, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(entity, method, status).Inc()
	m.requestLatency.WithLabelValues(entity, method).Observe(seconds)
}

func (m *BackendMetrics) ObserveShared(entity string) {
	if m == nil {
		return
	}
	m.sharedTotal.WithLabelValues(entity).Inc()
}
