// Package metrics holds the process-wide prometheus collectors for the
// ingestion pipeline. They register on the default registry and are
// served by promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeApplied        = "applied"
	OutcomeDuplicate      = "duplicate"
	OutcomeTargetNotFound = "target-not-found"
	OutcomeError          = "error"
)

var payloadsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "inbox_payloads_total",
	Help: "Payloads received, by source kind and detected shape",
}, []string{"source", "shape"})

var intentsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "inbox_intents_total",
	Help: "Intents applied by the upsert engine, by kind and outcome",
}, []string{"kind", "outcome"})

var fanoutDroppedMetric = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inbox_fanout_dropped_total",
	Help: "Realtime events dropped because the dispatch queue was full or publishing failed",
})

var fanoutPublishedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "inbox_fanout_published_total",
	Help: "Realtime events handed to a publisher, by event kind",
}, []string{"kind"})

func PayloadReceived(source, shape string) {
	payloadsMetric.WithLabelValues(source, shape).Inc()
}

func IntentApplied(kind, outcome string) {
	intentsMetric.WithLabelValues(kind, outcome).Inc()
}

func FanoutDropped() {
	fanoutDroppedMetric.Inc()
}

func FanoutPublished(kind string) {
	fanoutPublishedMetric.WithLabelValues(kind).Inc()
}
