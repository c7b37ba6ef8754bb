// Package metrics provides Prometheus metrics for node updates.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nammalakes/nodeup/pkg/model"
)

// Registry holds the update metrics. Each orchestrator owns its own
// Registry so independently configured instances do not collide.
type Registry struct {
	reg *prometheus.Registry

	updates        *prometheus.CounterVec
	updateDuration *prometheus.HistogramVec
	rollbacks      *prometheus.CounterVec
	backupBytes    prometheus.Histogram
	remoteErrors   prometheus.Counter
	inFlight       prometheus.Gauge
}

// NewRegistry creates a new metrics registry with Go runtime collectors attached.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodeup",
			Name:      "updates_total",
			Help:      "Node update attempts by terminal outcome.",
		}, []string{"outcome"}),
		updateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nodeup",
			Name:      "update_duration_seconds",
			Help:      "Wall time of node update attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		}, []string{"outcome"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodeup",
			Name:      "rollbacks_total",
			Help:      "Rollbacks after a failed pull, by result.",
		}, []string{"result"}),
		backupBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nodeup",
			Name:      "backup_bytes",
			Help:      "Size of verified backups.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 8), // 1MiB to 16GiB
		}),
		remoteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nodeup",
			Name:      "remote_lookup_failures_total",
			Help:      "Remote revision lookups that ended in remote unavailable.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodeup",
			Name:      "updates_in_flight",
			Help:      "Node updates currently running.",
		}),
	}
	r.reg.MustRegister(
		r.updates, r.updateDuration, r.rollbacks, r.backupBytes, r.remoteErrors, r.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RecordUpdate records a finished node update.
func (r *Registry) RecordUpdate(outcome model.Outcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.updates.WithLabelValues(string(outcome)).Inc()
	r.updateDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

// RecordRollback records a rollback attempt.
func (r *Registry) RecordRollback(success bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !success {
		result = "failed"
	}
	r.rollbacks.WithLabelValues(result).Inc()
}

// RecordBackup records the size of a verified backup.
func (r *Registry) RecordBackup(sizeBytes int64) {
	if r == nil {
		return
	}
	r.backupBytes.Observe(float64(sizeBytes))
}

// RecordRemoteFailure counts a remote lookup that gave up.
func (r *Registry) RecordRemoteFailure() {
	if r == nil {
		return
	}
	r.remoteErrors.Inc()
}

// TrackInFlight increments the in-flight gauge and returns a func that decrements it.
func (r *Registry) TrackInFlight() func() {
	if r == nil {
		return func() {}
	}
	r.inFlight.Inc()
	return r.inFlight.Dec
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
