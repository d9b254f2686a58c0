// Package metrics is Graft's ambient metrics producer: counters and
// gauges for commit throughput, sync actions, and segment cache hit rate.
// It is producer-only (spec.md's Non-goals exclude a dashboard/alerting
// layer) but still uses the teacher's real metrics library rather than
// hand-rolled counters, per this module's ambient-stack rule.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric Graft emits. One Registry is created per
// process and threaded into whichever components need to observe it.
type Registry struct {
	reg *prometheus.Registry

	CommitsAccepted  *prometheus.CounterVec // labels: result=accepted|rejected
	SyncActions      *prometheus.CounterVec // labels: action=FetchLog|FetchSegment|...
	SegmentCacheHits *prometheus.CounterVec // labels: outcome=hit|miss
	PendingVolumes   prometheus.Gauge
	CommitLatency    prometheus.Histogram
}

// NewRegistry builds a fresh, isolated metrics registry (not the global
// prometheus default registry, so multiple Graft instances in one test
// binary don't collide on metric names).
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		CommitsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graft",
			Subsystem: "metastore",
			Name:      "commits_total",
			Help:      "Commits processed by the metastore, by result.",
		}, []string{"result"}),
		SyncActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graft",
			Subsystem: "sync",
			Name:      "actions_total",
			Help:      "Sync engine actions executed, by action name.",
		}, []string{"action"}),
		SegmentCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graft",
			Subsystem: "segcache",
			Name:      "lookups_total",
			Help:      "Segment cache lookups, by outcome.",
		}, []string{"outcome"}),
		PendingVolumes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graft",
			Subsystem: "client",
			Name:      "pending_volumes",
			Help:      "Volumes currently holding an unresolved PendingCommit.",
		}),
		CommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "graft",
			Subsystem: "metastore",
			Name:      "commit_latency_seconds",
			Help:      "Latency of accepted Commit RPCs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(r.CommitsAccepted, r.SyncActions, r.SegmentCacheHits, r.PendingVolumes, r.CommitLatency)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP
// /metrics endpoint handler to scrape.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
