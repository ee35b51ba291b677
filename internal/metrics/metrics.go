// Package metrics holds the gateway's Prometheus instruments on a private
// registry so tests can create sets freely without collisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mutagraph"

// Set contains all gateway-level metrics.
type Set struct {
	registry *prometheus.Registry

	MutationsExtracted *prometheus.CounterVec
	OperationsRejected *prometheus.CounterVec
	SinkAppends        *prometheus.CounterVec
	SinkAppendDuration *prometheus.HistogramVec
	DispatchDropped    prometheus.Counter
	DispatchQueueDepth *prometheus.GaugeVec
}

// New creates a Set with every instrument registered.
func New() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),

		MutationsExtracted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graphql",
				Name:      "mutations_extracted_total",
				Help:      "Mutation calls extracted, by mutation field",
			},
			[]string{"field"},
		),

		OperationsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graphql",
				Name:      "operations_rejected_total",
				Help:      "Operations rejected before dispatch, by reason",
			},
			[]string{"reason"},
		),

		SinkAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "appends_total",
				Help:      "Append attempts against the event store",
			},
			[]string{"backend", "outcome"},
		),

		SinkAppendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "append_duration_seconds",
				Help:      "Append latency against the event store",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),

		DispatchDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "dropped_total",
				Help:      "Calls dropped because a stream queue was full or closed",
			},
		),

		DispatchQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "queue_depth",
				Help:      "Calls waiting in per-stream dispatch queues",
			},
			[]string{"stream"},
		),
	}

	s.registry.MustRegister(
		s.MutationsExtracted,
		s.OperationsRejected,
		s.SinkAppends,
		s.SinkAppendDuration,
		s.DispatchDropped,
		s.DispatchQueueDepth,
	)
	return s
}

// Handler serves the set in Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
