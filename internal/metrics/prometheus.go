// Package metrics wraps a Prometheus registry for the dispatcher's
// operational counters: outbox/inbox claims, acknowledgements, retries,
// dead-letters, lease lifecycle, and cleanup sweeps. The registry/handler
// wrapper shape is grounded on the teacher's internal/metrics/prometheus.go;
// the collectors themselves are new, scoped to relay's domain instead of
// VM/invocation metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the prometheus collectors relay exposes.
type Metrics struct {
	registry *prometheus.Registry

	started time.Time

	// Outbox/inbox dispatch
	claimsTotal       *prometheus.CounterVec
	claimedRows       *prometheus.HistogramVec
	acksTotal         *prometheus.CounterVec
	reschedulesTotal  *prometheus.CounterVec
	deadLettersTotal  *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	handlerErrorTotal *prometheus.CounterVec

	// Lease lifecycle
	leaseAcquiresTotal *prometheus.CounterVec
	leaseRenewsTotal   *prometheus.CounterVec
	leaseLostTotal     *prometheus.CounterVec
	leaseHeld          *prometheus.GaugeVec

	// Cleanup
	cleanupDeletedTotal *prometheus.CounterVec
	cleanupErrorsTotal  *prometheus.CounterVec
	cleanupDuration     prometheus.Histogram

	// Store discovery / dispatcher topology
	storesActive prometheus.Gauge
	queueDepth   *prometheus.GaugeVec

	uptime prometheus.GaugeFunc
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var current *Metrics

// Init builds and registers the relay metric set under namespace, along
// with the standard Go and process collectors. Calling Init again replaces
// the previously registered collector set.
func Init(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		started:  time.Now(),

		claimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claims_total",
				Help:      "Total number of ClaimDue/Claim calls, by store and result",
			},
			[]string{"store", "kind", "result"},
		),

		claimedRows: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "claimed_rows",
				Help:      "Number of rows returned per ClaimDue/Claim call",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"store", "kind"},
		),

		acksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acks_total",
				Help:      "Total number of messages acknowledged as delivered",
			},
			[]string{"store", "kind", "topic"},
		),

		reschedulesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reschedules_total",
				Help:      "Total number of messages rescheduled for retry",
			},
			[]string{"store", "kind", "topic"},
		),

		deadLettersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_letters_total",
				Help:      "Total number of messages moved to the dead-letter state",
			},
			[]string{"store", "kind", "topic"},
		),

		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_milliseconds",
				Help:      "Duration of a single claim-resolve-handle cycle",
				Buckets:   defaultBuckets,
			},
			[]string{"store", "kind", "topic"},
		),

		handlerErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_errors_total",
				Help:      "Total number of handler invocations that returned an error",
			},
			[]string{"topic"},
		),

		leaseAcquiresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lease_acquires_total",
				Help:      "Total lease acquisition attempts, by lease name and result",
			},
			[]string{"lease", "result"},
		),

		leaseRenewsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lease_renews_total",
				Help:      "Total lease renewal attempts, by lease name and result",
			},
			[]string{"lease", "result"},
		),

		leaseLostTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lease_lost_total",
				Help:      "Total number of leases lost to fencing or expiry",
			},
			[]string{"lease"},
		),

		leaseHeld: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lease_held",
				Help:      "1 if this process currently holds the named lease, else 0",
			},
			[]string{"lease"},
		),

		cleanupDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_deleted_total",
				Help:      "Total rows removed by cleanup sweeps, by store and table",
			},
			[]string{"store", "table"},
		),

		cleanupErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_errors_total",
				Help:      "Total cleanup sweep errors, by store",
			},
			[]string{"store"},
		),

		cleanupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cleanup_duration_milliseconds",
				Help:      "Duration of a full cleanup sweep across all stores",
				Buckets:   defaultBuckets,
			},
		),

		storesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stores_active",
				Help:      "Number of stores currently known to the store provider",
			},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Last observed due-row count per store, where available",
			},
			[]string{"store"},
		),
	}

	m.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the relay metrics subsystem was initialized",
		},
		func() float64 { return time.Since(m.started).Seconds() },
	)

	registry.MustRegister(
		m.claimsTotal,
		m.claimedRows,
		m.acksTotal,
		m.reschedulesTotal,
		m.deadLettersTotal,
		m.dispatchDuration,
		m.handlerErrorTotal,
		m.leaseAcquiresTotal,
		m.leaseRenewsTotal,
		m.leaseLostTotal,
		m.leaseHeld,
		m.cleanupDeletedTotal,
		m.cleanupErrorsTotal,
		m.cleanupDuration,
		m.storesActive,
		m.queueDepth,
		m.uptime,
	)

	current = m
	return m
}

// Current returns the process-wide metrics set, or nil if Init has not
// been called yet (observers are expected to no-op in that case).
func Current() *Metrics {
	return current
}

func (m *Metrics) RecordClaim(store, kind, result string, rows int) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(store, kind, result).Inc()
	m.claimedRows.WithLabelValues(store, kind).Observe(float64(rows))
}

func (m *Metrics) RecordAck(store, kind, topic string) {
	if m == nil {
		return
	}
	m.acksTotal.WithLabelValues(store, kind, topic).Inc()
}

func (m *Metrics) RecordReschedule(store, kind, topic string) {
	if m == nil {
		return
	}
	m.reschedulesTotal.WithLabelValues(store, kind, topic).Inc()
}

func (m *Metrics) RecordDeadLetter(store, kind, topic string) {
	if m == nil {
		return
	}
	m.deadLettersTotal.WithLabelValues(store, kind, topic).Inc()
}

func (m *Metrics) ObserveDispatchDuration(store, kind, topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(store, kind, topic).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) RecordHandlerError(topic string) {
	if m == nil {
		return
	}
	m.handlerErrorTotal.WithLabelValues(topic).Inc()
}

func (m *Metrics) RecordLeaseAcquire(lease, result string) {
	if m == nil {
		return
	}
	m.leaseAcquiresTotal.WithLabelValues(lease, result).Inc()
	if result == "acquired" {
		m.leaseHeld.WithLabelValues(lease).Set(1)
	}
}

func (m *Metrics) RecordLeaseRenew(lease, result string) {
	if m == nil {
		return
	}
	m.leaseRenewsTotal.WithLabelValues(lease, result).Inc()
}

func (m *Metrics) RecordLeaseLost(lease string) {
	if m == nil {
		return
	}
	m.leaseLostTotal.WithLabelValues(lease).Inc()
	m.leaseHeld.WithLabelValues(lease).Set(0)
}

func (m *Metrics) RecordCleanupDeleted(store, table string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupDeletedTotal.WithLabelValues(store, table).Add(float64(n))
}

func (m *Metrics) RecordCleanupError(store string) {
	if m == nil {
		return
	}
	m.cleanupErrorsTotal.WithLabelValues(store).Inc()
}

func (m *Metrics) ObserveCleanupDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.cleanupDuration.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) SetStoresActive(n int) {
	if m == nil {
		return
	}
	m.storesActive.Set(float64(n))
}

func (m *Metrics) SetQueueDepth(store string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(store).Set(float64(depth))
}

// Handler returns an HTTP handler serving this metric set in the
// Prometheus exposition format. A nil receiver serves 503, matching how
// the rest of this package no-ops before Init.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests or additional
// collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
