// Package metrics holds the Prometheus collectors of the memory subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elysia_memory_turns_processed_total",
			Help: "Conversation turns handled by the memory manager, by outcome",
		},
		[]string{"outcome"},
	)

	FragmentsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elysia_memory_fragments_extracted_total",
			Help: "Candidate fragments extracted from utterances",
		},
		[]string{"type"},
	)

	FragmentsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elysia_memory_fragments_persisted_total",
			Help: "Fragments written to the persistent store",
		},
		[]string{"type"},
	)

	PersistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "elysia_memory_persistence_failures_total",
			Help: "Fragments that could not be persisted after retry",
		},
	)

	FragmentsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "elysia_memory_fragments_evicted_total",
			Help: "Fragments removed by capacity enforcement",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elysia_memory_cache_lookups_total",
			Help: "Tier lookups by tier and result (hit, miss, error)",
		},
		[]string{"tier", "result"},
	)

	PropagationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elysia_memory_propagation_failures_total",
			Help: "Best-effort cache writes that failed",
		},
		[]string{"tier"},
	)

	RetrievalLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "elysia_memory_retrieval_latency_seconds",
			Help:    "GetContextual latency by serving source",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"source"},
	)

	FragmentsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "elysia_memory_fragments_returned",
			Help:    "Fragments returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 10},
		},
	)
)
